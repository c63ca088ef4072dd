package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	MySQL        MySQLConfig        `mapstructure:"mysql"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Verification VerificationConfig `mapstructure:"verification"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Business     BusinessConfig     `mapstructure:"business"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PayResult  string `mapstructure:"pay_result"`
	VerifyCode string `mapstructure:"verify_code"`
}

type JWTConfig struct {
	Secret        string `mapstructure:"secret"`
	Issuer        string `mapstructure:"issuer"`
	ExpireMinutes int    `mapstructure:"expire_minutes"`
}

func (c JWTConfig) Expiration() time.Duration {
	return time.Duration(c.ExpireMinutes) * time.Minute
}

// VerificationConfig 验证码相关配置
type VerificationConfig struct {
	CodeTTLSeconds         int    `mapstructure:"code_ttl_seconds"`
	CooldownSeconds        int    `mapstructure:"cooldown_seconds"`
	DeliveryTimeoutSeconds int    `mapstructure:"delivery_timeout_seconds"`
	Dispatcher             string `mapstructure:"dispatcher"` // kafka | log
}

func (c VerificationConfig) CodeTTL() time.Duration {
	return time.Duration(c.CodeTTLSeconds) * time.Second
}

func (c VerificationConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c VerificationConfig) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSeconds) * time.Second
}

type PaymentConfig struct {
	AppURL              string `mapstructure:"app_url"`
	WorkerID            int64  `mapstructure:"worker_id"`
	PendingAuditMinutes int    `mapstructure:"pending_audit_minutes"`
}

type BusinessConfig struct {
	MaxRetryCount int `mapstructure:"max_retry_count"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json | text
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("kafka.topic.pay_result", "pay_result")
	v.SetDefault("kafka.topic.verify_code", "verify_code")
	v.SetDefault("jwt.issuer", "walletauth")
	v.SetDefault("jwt.expire_minutes", 60*24)
	v.SetDefault("verification.code_ttl_seconds", 300)
	v.SetDefault("verification.cooldown_seconds", 60)
	v.SetDefault("verification.delivery_timeout_seconds", 5)
	v.SetDefault("verification.dispatcher", "kafka")
	v.SetDefault("payment.app_url", "http://localhost:8080")
	v.SetDefault("payment.worker_id", 1)
	v.SetDefault("payment.pending_audit_minutes", 30)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.max_size", 512)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 14)
}

// LoadConfig 加载配置文件，环境变量 WALLETAUTH_* 可覆盖文件中的值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("walletauth")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret 未配置")
	}
	// TTL 为 0 时 Redis 中的验证码永不过期
	if c.Verification.CodeTTLSeconds <= 0 {
		return fmt.Errorf("verification.code_ttl_seconds 必须大于 0，当前为 %d", c.Verification.CodeTTLSeconds)
	}
	if c.Verification.DeliveryTimeoutSeconds <= 0 {
		return fmt.Errorf("verification.delivery_timeout_seconds 必须大于 0，当前为 %d", c.Verification.DeliveryTimeoutSeconds)
	}
	if c.Verification.CooldownSeconds < 0 {
		return fmt.Errorf("verification.cooldown_seconds 不能为负数")
	}
	return nil
}
