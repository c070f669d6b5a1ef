package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"` // gin 运行模式: debug / release / test
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // mysql 或 sqlite
	DSN    string `mapstructure:"dsn"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

type WebSocketConfig struct {
	SendBufferSize int `mapstructure:"send_buffer_size"`

	WriteWaitSeconds int `mapstructure:"write_wait_seconds"`
	PongWaitSeconds  int `mapstructure:"pong_wait_seconds"`
	MaxMessageSize   int `mapstructure:"max_message_size"`
	// 重试相关配置
	MessageRetryCount      int `mapstructure:"message_retry_count"`
	MessageRetryIntervalMs int `mapstructure:"message_retry_interval_ms"`
	// 允许的跨域来源, 为空时只允许同源, "*" 表示全部允许
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type MessagingConfig struct {
	Provider string      `mapstructure:"provider"` // local 或 kafka
	Kafka    KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	UnreadTTL time.Duration `mapstructure:"unread_ttl"`
}

type ChatConfig struct {
	Store            string `mapstructure:"store"` // gorm 或 memory
	MaxContentLength int    `mapstructure:"max_content_length"`
	DefaultPageSize  int    `mapstructure:"default_page_size"`
	MaxPageSize      int    `mapstructure:"max_page_size"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Production bool   `mapstructure:"production"`
}

var GlobalConfig Config

func Init() error {
	return load("config")
}

// 测试用的配置文件
func InitTest() error {
	return load("config.test")
}

func load(name string) error {
	// 获取项目根目录
	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(filepath.Dir(filepath.Dir(b)))

	// .env 不存在时忽略
	_ = godotenv.Load(filepath.Join(basepath, ".env"))

	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(basepath, "config"))
	v.AddConfigPath("./config")

	// 环境变量覆盖, 例如 CHAT_DATABASE_DSN
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	GlobalConfig = cfg
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("jwt.expiration", 24*time.Hour)
	v.SetDefault("messaging.provider", "local")
	v.SetDefault("redis.unread_ttl", 5*time.Minute)
	v.SetDefault("chat.store", "gorm")
	v.SetDefault("chat.max_content_length", 5000)
	v.SetDefault("chat.default_page_size", 50)
	v.SetDefault("chat.max_page_size", 200)
	v.SetDefault("log.level", "info")
}

// Validate 检查配置组合是否可用
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret must be set")
	}
	switch c.Chat.Store {
	case "memory":
	case "gorm":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when chat.store is gorm")
		}
	default:
		return fmt.Errorf("unsupported chat.store %q", c.Chat.Store)
	}
	switch c.Messaging.Provider {
	case "local":
	case "kafka":
		if len(c.Messaging.Kafka.Brokers) == 0 {
			return fmt.Errorf("messaging.kafka.brokers must be set when provider is kafka")
		}
	default:
		return fmt.Errorf("unsupported messaging.provider %q", c.Messaging.Provider)
	}
	return nil
}
