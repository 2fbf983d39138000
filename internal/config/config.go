package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// ContactConfig 定义联系转发服务的核心业务配置
type ContactConfig struct {
	SiteName        string        // 站点名称，拼接进转发邮件的说明文字
	BaseURL         string        // 站点根地址，用于生成联系链接
	PageSlug        string        // 承载联系表单页面的路径段，默认 "contact"
	LinkMaxAge      time.Duration // 联系链接的新鲜度窗口，超过后要求重新获取链接，默认 90 分钟
	StaleAfterDays  int           // 联系实例的过期天数，超过后由定时清理删除，默认 1 天
	LogRetainDays   int           // 投递日志保留天数，默认 90 天
	SweepInterval   time.Duration // 定时清理的执行间隔，默认 24 小时
	DedupReferences bool          // 引用渲染是否按三元组去重复用实例，默认 true
}

// SMTPConfig 定义外发邮件服务器的配置
type SMTPConfig struct {
	Host      string // SMTP 服务器地址
	Port      int    // SMTP 服务器端口，默认 587
	Username  string // 认证用户名，留空表示无认证
	Password  string // 认证密码
	FromEmail string // 信封发件地址
	UseSSL    bool   // 使用隐式 TLS（通常 465 端口）
	UseTLS    bool   // 使用 STARTTLS（通常 587 端口），默认 true
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	LogFile     string // 日志文件路径，留空时仅输出到控制台
	MaxSize     int    // 单个日志文件的最大体积（MB），默认 100
	MaxBackups  int    // 保留的轮转文件数量，默认 3
	MaxAge      int    // 轮转文件保留天数，默认 28
	Compress    bool   // 是否压缩轮转文件，默认 true
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// AuthConfig 定义访客身份与管理接口的认证配置
type AuthConfig struct {
	JWTSecret string // 访客身份令牌的签名密钥，留空时禁用访客身份识别
	JWTIssuer string // 访客身份令牌的签发者标识
	AdminKey  string // 审计接口的访问密钥，必须设置
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig   // HTTP 服务器配置
	Contact  ContactConfig  // 联系转发业务配置
	SMTP     SMTPConfig     // 外发邮件配置
	CORS     CORSConfig     // 跨域配置
	Log      LogConfig      // 日志配置
	Database DatabaseConfig // 数据库配置
	Auth     AuthConfig     // 认证配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: CONTACTRELAY_
// 例如: CONTACTRELAY_SERVER_HOST, CONTACTRELAY_SMTP_HOST
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("contactrelay")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("contact.site_name", "Contact Relay")
	viper.SetDefault("contact.base_url", "http://localhost:8080")
	viper.SetDefault("contact.page_slug", "contact")
	viper.SetDefault("contact.link_max_age", "90m")
	viper.SetDefault("contact.stale_after_days", 1)
	viper.SetDefault("contact.log_retain_days", 90)
	viper.SetDefault("contact.sweep_interval", "24h")
	viper.SetDefault("contact.dedup_references", true)
	viper.SetDefault("smtp.host", "localhost")
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.username", "")
	viper.SetDefault("smtp.password", "")
	viper.SetDefault("smtp.from_email", "")
	viper.SetDefault("smtp.use_ssl", false)
	viper.SetDefault("smtp.use_tls", true)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.log_file", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.jwt_issuer", "contactrelay")
	viper.SetDefault("auth.admin_key", "")

	linkMaxAge, err := time.ParseDuration(viper.GetString("contact.link_max_age"))
	if err != nil {
		return nil, fmt.Errorf("invalid contact.link_max_age: %w", err)
	}

	sweepInterval, err := time.ParseDuration(viper.GetString("contact.sweep_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid contact.sweep_interval: %w", err)
	}

	staleAfterDays := viper.GetInt("contact.stale_after_days")
	if staleAfterDays <= 0 {
		staleAfterDays = 1
	}

	logRetainDays := viper.GetInt("contact.log_retain_days")
	if logRetainDays <= 0 {
		logRetainDays = 90
	}

	baseURL := strings.TrimRight(viper.GetString("contact.base_url"), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("contact.base_url must not be empty")
	}

	pageSlug := strings.Trim(viper.GetString("contact.page_slug"), "/")
	if pageSlug == "" {
		return nil, fmt.Errorf("contact.page_slug must not be empty")
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	fromEmail := viper.GetString("smtp.from_email")
	if fromEmail == "" {
		return nil, fmt.Errorf("smtp.from_email must not be empty")
	}

	adminKey := viper.GetString("auth.admin_key")
	if adminKey == "" {
		return nil, fmt.Errorf("auth.admin_key must not be empty")
	}

	// 访客身份令牌密钥可以留空（禁用访客识别），但设置时必须足够长
	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret != "" && len(jwtSecret) < 32 {
		return nil, fmt.Errorf("auth.jwt_secret must be at least 32 characters long")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Contact: ContactConfig{
			SiteName:        viper.GetString("contact.site_name"),
			BaseURL:         baseURL,
			PageSlug:        pageSlug,
			LinkMaxAge:      linkMaxAge,
			StaleAfterDays:  staleAfterDays,
			LogRetainDays:   logRetainDays,
			SweepInterval:   sweepInterval,
			DedupReferences: viper.GetBool("contact.dedup_references"),
		},
		SMTP: SMTPConfig{
			Host:      viper.GetString("smtp.host"),
			Port:      viper.GetInt("smtp.port"),
			Username:  viper.GetString("smtp.username"),
			Password:  viper.GetString("smtp.password"),
			FromEmail: fromEmail,
			UseSSL:    viper.GetBool("smtp.use_ssl"),
			UseTLS:    viper.GetBool("smtp.use_tls"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			LogFile:     viper.GetString("log.log_file"),
			MaxSize:     viper.GetInt("log.max_size"),
			MaxBackups:  viper.GetInt("log.max_backups"),
			MaxAge:      viper.GetInt("log.max_age"),
			Compress:    viper.GetBool("log.compress"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
			JWTIssuer: viper.GetString("auth.jwt_issuer"),
			AdminKey:  adminKey,
		},
	}

	return cfg, nil
}

// FormPageURL 返回承载联系表单页面的完整地址
func (c *Config) FormPageURL() string {
	return c.Contact.BaseURL + "/" + c.Contact.PageSlug
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（从子目录运行时）
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
