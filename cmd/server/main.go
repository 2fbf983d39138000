package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "contactrelay/backend/internal/auth/jwt"
	"contactrelay/backend/internal/config"
	"contactrelay/backend/internal/health"
	"contactrelay/backend/internal/logger"
	"contactrelay/backend/internal/mailer"
	"contactrelay/backend/internal/monitoring"
	"contactrelay/backend/internal/service"
	"contactrelay/backend/internal/storage"
	"contactrelay/backend/internal/storage/memory"
	sqlstore "contactrelay/backend/internal/storage/sql"
	httptransport "contactrelay/backend/internal/transport/http"
)

// 访客令牌有效期，与联系链接的生命周期无关，仅约束预填身份。
const visitorTokenExpiry = 24 * time.Hour

// main 启动联系转发 HTTP 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.LogFile,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAge,
		Compress:    cfg.Log.Compress,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting contact relay server",
		zap.String("site", cfg.Contact.SiteName),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store

	// 根据配置选择存储类型
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		// 使用内存存储（开发环境）
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 初始化健康检查
	healthChecker := health.NewHealthChecker(store, log)

	// 初始化服务层
	smtpMailer := mailer.NewSMTPMailer(cfg.SMTP)
	contactService := service.NewContactService(store, cfg)
	relayService := service.NewRelayService(contactService, store, smtpMailer, cfg, log, metrics)
	logService := service.NewDeliveryLogService(store, cfg)

	// 访客身份识别仅在配置了签名密钥时启用
	var jwtManager *jwtpkg.Manager
	if cfg.Auth.JWTSecret != "" {
		jwtManager = jwtpkg.NewManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, visitorTokenExpiry)
		log.Info("visitor identification enabled",
			zap.String("issuer", cfg.Auth.JWTIssuer),
			zap.Duration("token_expiry", visitorTokenExpiry),
		)
	}

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		ContactService: contactService,
		RelayService:   relayService,
		LogService:     logService,
		JWTManager:     jwtManager,
		HealthChecker:  healthChecker,
		Metrics:        metrics,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时清理过期联系实例与投递日志 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Contact.SweepInterval)
		defer ticker.Stop()

		log.Info("starting stale contact sweep task", zap.Duration("interval", cfg.Contact.SweepInterval))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("sweep task stopped")
				return nil
			case <-ticker.C:
				count, err := contactService.PurgeStale()
				if err != nil {
					log.Error("failed to purge stale contacts", zap.Error(err))
				} else if count > 0 {
					metrics.ContactsPurged.Add(float64(count))
					log.Info("stale contacts purged", zap.Int("count", count))
				}

				count, err = logService.PurgeExpired()
				if err != nil {
					log.Error("failed to purge expired delivery log entries", zap.Error(err))
				} else if count > 0 {
					metrics.LogEntriesPurged.Add(float64(count))
					log.Info("expired delivery log entries purged", zap.Int("count", count))
				}
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		if err := store.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}

		log.Info("server stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
