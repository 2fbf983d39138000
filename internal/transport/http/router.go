package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "contactrelay/backend/internal/auth/jwt"
	"contactrelay/backend/internal/config"
	"contactrelay/backend/internal/health"
	"contactrelay/backend/internal/middleware"
	"contactrelay/backend/internal/monitoring"
	"contactrelay/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	ContactService *service.ContactService
	RelayService   *service.RelayService
	LogService     *service.DeliveryLogService
	JWTManager     *jwtpkg.Manager // 访客身份未启用时为 nil
	HealthChecker  *health.HealthChecker
	Metrics        *monitoring.Metrics
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	// 表单与 JSON 请求都很小，1MB 足够
	router.Use(middleware.RequestSizeLimit(1 * 1024 * 1024))
	if deps.Metrics != nil {
		router.Use(middleware.HTTPMetrics(deps.Metrics))
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	relayHandler := NewRelayHandler(deps.RelayService, deps.Config, deps.Logger)
	referenceHandler := NewReferenceHandler(deps.ContactService, deps.Logger)
	adminHandler := NewAdminHandler(deps.LogService, deps.JWTManager, deps.Logger)

	visitor := middleware.OptionalVisitor(deps.JWTManager)

	// 联系表单页面
	formPath := "/" + deps.Config.Contact.PageSlug
	router.GET(formPath, visitor, relayHandler.Show)
	router.POST(formPath, visitor, relayHandler.Submit)

	// JSON API
	v1 := router.Group("/v1")
	{
		v1.POST("/references", referenceHandler.Render)

		admin := v1.Group("/admin", middleware.AdminKey(deps.Config.Auth.AdminKey))
		{
			admin.GET("/log", adminHandler.ListLog)
			admin.GET("/log/summary", adminHandler.LogSummary)
			admin.POST("/visitor-tokens", adminHandler.IssueVisitorToken)
		}
	}

	// 运维端点
	if deps.HealthChecker != nil {
		router.GET("/healthz/live", gin.WrapF(deps.HealthChecker.LiveHandler()))
		router.GET("/healthz/ready", gin.WrapF(deps.HealthChecker.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return router
}
