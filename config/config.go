package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置结构体
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Presence  PresenceConfig  `yaml:"presence"`
	Recaptcha RecaptchaConfig `yaml:"recaptcha"`
	Email     EmailConfig     `yaml:"email"`
	Chatbot   ChatbotConfig   `yaml:"chatbot"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port         string        `yaml:"port"`         // 服务器监听端口
	ReadTimeout  time.Duration `yaml:"readTimeout"`  // 读取超时时间
	WriteTimeout time.Duration `yaml:"writeTimeout"` // 写入超时时间
	IdleTimeout  time.Duration `yaml:"idleTimeout"`  // 空闲超时时间
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`     // 数据库主机地址
	Port     int    `yaml:"port"`     // 数据库端口
	Username string `yaml:"username"` // 数据库用户名
	Password string `yaml:"password"` // 数据库密码
	Database string `yaml:"database"` // 数据库名称
	Charset  string `yaml:"charset"`  // 字符集
	MaxIdle  int    `yaml:"maxIdle"`  // 最大空闲连接数
	MaxOpen  int    `yaml:"maxOpen"`  // 最大打开连接数
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string `yaml:"host"`     // Redis主机地址
	Port     int    `yaml:"port"`     // Redis端口
	Password string `yaml:"password"` // Redis密码
	DB       int    `yaml:"db"`       // Redis数据库编号
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret     string        `yaml:"secret"`     // JWT密钥
	ExpireTime time.Duration `yaml:"expireTime"` // JWT过期时间
	Issuer     string        `yaml:"issuer"`     // JWT签发者
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`      // 日志级别
	Filename   string `yaml:"filename"`   // 日志文件名
	MaxSize    int    `yaml:"maxSize"`    // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"maxBackups"` // 最大备份文件数
	MaxAge     int    `yaml:"maxAge"`     // 最大保存天数
	Compress   bool   `yaml:"compress"`   // 是否压缩
}

// WebSocketConfig WebSocket 心跳配置
type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"pingInterval"` // 发送ping的间隔
	ReadTimeout  time.Duration `yaml:"readTimeout"`  // 读超时时间（未收到任何数据则断开）
}

// PresenceConfig 在线状态引擎配置
type PresenceConfig struct {
	RetentionHorizon time.Duration `yaml:"retentionHorizon"` // 不活跃账号保留期限，超过则清除
	SweepInterval    time.Duration `yaml:"sweepInterval"`    // 定时对账间隔
	AdmissionTimeout time.Duration `yaml:"admissionTimeout"` // 准入校验超时（token校验+存储读取）
	AdmissionPolicy  string        `yaml:"admissionPolicy"`  // token无效时的策略：reject/anonymous
}

// RecaptchaConfig 人机验证配置
type RecaptchaConfig struct {
	SecretV2  string        `yaml:"secretV2"`  // reCAPTCHA v2 checkbox密钥
	SecretV3  string        `yaml:"secretV3"`  // reCAPTCHA v3密钥
	Threshold float64       `yaml:"threshold"` // v3分数阈值，低于则判为机器人
	Timeout   time.Duration `yaml:"timeout"`   // 校验请求超时
}

// EmailConfig 邮件发送配置（Mailjet）
type EmailConfig struct {
	APIKey     string `yaml:"apiKey"`     // Mailjet API Key
	SecretKey  string `yaml:"secretKey"`  // Mailjet Secret Key
	SenderName string `yaml:"senderName"` // 发件人名称
	SenderAddr string `yaml:"senderAddr"` // 发件人邮箱
}

// ChatbotConfig 问答机器人配置
type ChatbotConfig struct {
	CorpusFile string  `yaml:"corpusFile"` // 语料文件路径
	Threshold  float64 `yaml:"threshold"`  // 意图匹配置信度阈值
}

// LoadConfig 加载配置（混合方式：YAML文件 + 环境变量）
func LoadConfig() *Config {
	// 1. 首先从YAML文件加载默认配置
	config := loadFromYAML("config/config.yaml")

	// 2. 用环境变量覆盖配置（环境变量优先级更高）
	overrideWithEnvVars(config)

	return config
}

// loadFromYAML 从YAML文件加载配置
func loadFromYAML(filePath string) *Config {
	data, err := os.ReadFile(filePath)
	if err != nil {
		// 如果文件不存在，返回默认配置
		return getDefaultConfig()
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		// 如果解析失败，返回默认配置
		return getDefaultConfig()
	}

	return &config
}

// overrideWithEnvVars 用环境变量覆盖配置
func overrideWithEnvVars(config *Config) {
	// 服务器配置
	if port := getEnv("SERVER_PORT", ""); port != "" {
		config.Server.Port = port
	}
	if timeout := getEnvDuration("SERVER_READ_TIMEOUT", 0); timeout > 0 {
		config.Server.ReadTimeout = timeout
	}
	if timeout := getEnvDuration("SERVER_WRITE_TIMEOUT", 0); timeout > 0 {
		config.Server.WriteTimeout = timeout
	}
	if timeout := getEnvDuration("SERVER_IDLE_TIMEOUT", 0); timeout > 0 {
		config.Server.IdleTimeout = timeout
	}

	// 数据库配置
	if host := getEnv("DB_HOST", ""); host != "" {
		config.Database.Host = host
	}
	if port := getEnvInt("DB_PORT", 0); port > 0 {
		config.Database.Port = port
	}
	if username := getEnv("DB_USERNAME", ""); username != "" {
		config.Database.Username = username
	}
	if password := getEnv("DB_PASSWORD", ""); password != "" {
		config.Database.Password = password
	}
	if database := getEnv("DB_DATABASE", ""); database != "" {
		config.Database.Database = database
	}
	if charset := getEnv("DB_CHARSET", ""); charset != "" {
		config.Database.Charset = charset
	}
	if maxIdle := getEnvInt("DB_MAX_IDLE", 0); maxIdle > 0 {
		config.Database.MaxIdle = maxIdle
	}
	if maxOpen := getEnvInt("DB_MAX_OPEN", 0); maxOpen > 0 {
		config.Database.MaxOpen = maxOpen
	}

	// Redis配置
	if host := getEnv("REDIS_HOST", ""); host != "" {
		config.Redis.Host = host
	}
	if port := getEnvInt("REDIS_PORT", 0); port > 0 {
		config.Redis.Port = port
	}
	if password := getEnv("REDIS_PASSWORD", ""); password != "" {
		config.Redis.Password = password
	}
	if db := getEnvInt("REDIS_DB", -1); db >= 0 {
		config.Redis.DB = db
	}

	// JWT配置
	if secret := getEnv("JWT_SECRET", ""); secret != "" {
		config.JWT.Secret = secret
	}
	if expireTime := getEnvDuration("JWT_EXPIRE_TIME", 0); expireTime > 0 {
		config.JWT.ExpireTime = expireTime
	}
	if issuer := getEnv("JWT_ISSUER", ""); issuer != "" {
		config.JWT.Issuer = issuer
	}

	// 日志配置
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		config.Log.Level = level
	}
	if filename := getEnv("LOG_FILENAME", ""); filename != "" {
		config.Log.Filename = filename
	}
	if maxSize := getEnvInt("LOG_MAX_SIZE", 0); maxSize > 0 {
		config.Log.MaxSize = maxSize
	}
	if maxBackups := getEnvInt("LOG_MAX_BACKUPS", 0); maxBackups > 0 {
		config.Log.MaxBackups = maxBackups
	}
	if maxAge := getEnvInt("LOG_MAX_AGE", 0); maxAge > 0 {
		config.Log.MaxAge = maxAge
	}

	// WebSocket配置
	if d := getEnvDuration("WS_PING_INTERVAL", 0); d > 0 {
		config.WebSocket.PingInterval = d
	}
	if d := getEnvDuration("WS_READ_TIMEOUT", 0); d > 0 {
		config.WebSocket.ReadTimeout = d
	}

	// 在线状态配置
	if d := getEnvDuration("PRESENCE_RETENTION_HORIZON", 0); d > 0 {
		config.Presence.RetentionHorizon = d
	}
	if d := getEnvDuration("PRESENCE_SWEEP_INTERVAL", 0); d > 0 {
		config.Presence.SweepInterval = d
	}
	if d := getEnvDuration("PRESENCE_ADMISSION_TIMEOUT", 0); d > 0 {
		config.Presence.AdmissionTimeout = d
	}
	if policy := getEnv("PRESENCE_ADMISSION_POLICY", ""); policy != "" {
		config.Presence.AdmissionPolicy = policy
	}

	// 人机验证配置
	if secret := getEnv("RECAPTCHA_SECRET_V2", ""); secret != "" {
		config.Recaptcha.SecretV2 = secret
	}
	if secret := getEnv("RECAPTCHA_SECRET_V3", ""); secret != "" {
		config.Recaptcha.SecretV3 = secret
	}

	// 邮件配置
	if key := getEnv("MAILJET_KEY_API", ""); key != "" {
		config.Email.APIKey = key
	}
	if key := getEnv("MAILJET_KEY_SECRET", ""); key != "" {
		config.Email.SecretKey = key
	}
	if name := getEnv("MAILJET_USER_NAME", ""); name != "" {
		config.Email.SenderName = name
	}
	if addr := getEnv("MAILJET_USER_EMAIL", ""); addr != "" {
		config.Email.SenderAddr = addr
	}

	// 机器人配置
	if file := getEnv("CHATBOT_CORPUS_FILE", ""); file != "" {
		config.Chatbot.CorpusFile = file
	}
}

// getDefaultConfig 获取默认配置
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			Username: "breezy",
			Password: "",
			Database: "breezy",
			Charset:  "utf8mb4",
			MaxIdle:  10,
			MaxOpen:  100,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			Password: "",
			DB:       0,
		},
		JWT: JWTConfig{
			Secret:     "your-secret-key",
			ExpireTime: 24 * time.Hour,
			Issuer:     "breezy",
		},
		Log: LogConfig{
			Level:      "info",
			Filename:   "logs/app.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  90 * time.Second,
		},
		Presence: PresenceConfig{
			RetentionHorizon: 14 * 24 * time.Hour,
			SweepInterval:    5 * time.Minute,
			AdmissionTimeout: 5 * time.Second,
			AdmissionPolicy:  "reject",
		},
		Recaptcha: RecaptchaConfig{
			Threshold: 0.5,
			Timeout:   10 * time.Second,
		},
		Email: EmailConfig{
			SenderName: "breezy",
		},
		Chatbot: ChatbotConfig{
			CorpusFile: "config/corpus.yaml",
			Threshold:  0.3,
		},
	}
}

// 辅助函数：获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 辅助函数：获取整数环境变量
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 辅助函数：获取时间环境变量
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
