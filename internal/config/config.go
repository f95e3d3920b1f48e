package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MQ       MQConfig       `mapstructure:"mq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Nats     NatsConfig     `mapstructure:"nats"`
	Lock     LockConfig     `mapstructure:"lock"`
	Business BusinessConfig `mapstructure:"business"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
}

type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	NodeID int64  `mapstructure:"node_id"` // 雪花算法节点号
	Mode   string `mapstructure:"mode"`    // debug / release
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
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

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MQConfig 账务事件投递通道
type MQConfig struct {
	Provider string `mapstructure:"provider"` // kafka / nats
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvent string `mapstructure:"ledger_event"`
}

type NatsConfig struct {
	URL string `mapstructure:"url"`
}

// LockConfig 账户锁配置
type LockConfig struct {
	Provider      string        `mapstructure:"provider"`       // local / redis
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`   // 获取锁最长等待
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`      // redis 锁租期
	RetryInterval time.Duration `mapstructure:"retry_interval"` // redis 锁重试间隔
}

type BusinessConfig struct {
	StorageTimeout   time.Duration `mapstructure:"storage_timeout"`
	PricingTimeout   time.Duration `mapstructure:"pricing_timeout"`
	MaxRetryCount    int           `mapstructure:"max_retry_count"`
	ClaimStaleAfter  time.Duration `mapstructure:"claim_stale_after"`
	OutboxInterval   time.Duration `mapstructure:"outbox_interval"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
}

// PricingConfig 内置定价策略配置
type PricingConfig struct {
	Policy     string            `mapstructure:"policy"` // passthrough / rate / fixed
	ModeRates  map[string]string `mapstructure:"mode_rates"`
	FixedPrice map[string]string `mapstructure:"fixed_price"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.node_id", 1)
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mq.provider", "kafka")
	v.SetDefault("kafka.topic.ledger_event", "ledger_event")
	v.SetDefault("lock.provider", "redis")
	v.SetDefault("lock.wait_timeout", 3*time.Second)
	v.SetDefault("lock.lease_ttl", 30*time.Second)
	v.SetDefault("lock.retry_interval", 50*time.Millisecond)
	v.SetDefault("business.storage_timeout", 5*time.Second)
	v.SetDefault("business.pricing_timeout", time.Second)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.claim_stale_after", 5*time.Minute)
	v.SetDefault("business.outbox_interval", 100*time.Millisecond)
	v.SetDefault("business.recovery_interval", 30*time.Second)
	v.SetDefault("pricing.policy", "passthrough")
}

// LoadConfig 加载配置文件，环境变量 LEDGER_XXX_YYY 可覆盖 xxx.yyy
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = cfg
	return cfg, nil
}

// Validate 校验必填项
func (c *Config) Validate() error {
	switch c.MQ.Provider {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("mq.provider=kafka 时 kafka.brokers 不能为空")
		}
	case "nats":
		if c.Nats.URL == "" {
			return fmt.Errorf("mq.provider=nats 时 nats.url 不能为空")
		}
	default:
		return fmt.Errorf("不支持的 mq.provider: %q", c.MQ.Provider)
	}

	if c.Lock.Provider != "local" && c.Lock.Provider != "redis" {
		return fmt.Errorf("不支持的 lock.provider: %q", c.Lock.Provider)
	}
	if c.Lock.WaitTimeout <= 0 {
		return fmt.Errorf("lock.wait_timeout 必须大于0")
	}
	return nil
}
