package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig             `mapstructure:"server"`
	Database DatabaseConfig           `mapstructure:"database"`
	Redis    RedisConfig              `mapstructure:"redis"`
	JWT      JWTConfig                `mapstructure:"jwt"`
	Lock     LockConfig               `mapstructure:"lock"`
	Sweep    SweepConfig              `mapstructure:"sweep"`
	Events   EventsConfig             `mapstructure:"events"`
	Rate     RateLimitConfig          `mapstructure:"rate_limit"`
	Gateways map[string]GatewayConfig `mapstructure:"gateways"`
	Log      LogConfig                `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// LockConfig tunes the per-order exclusive lock.
type LockConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// SweepConfig tunes the expiry sweep loop.
type SweepConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// EventsConfig configures the domain event sink.
type EventsConfig struct {
	Sink    string   `mapstructure:"sink"` // kafka, log
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// RateLimitConfig throttles the public HTTP surface per client, using a
// fixed-window counter in Redis.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int64         `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// GatewayConfig holds per-rail gateway credentials and endpoints.
// Keyed in the Gateways map by lowercase method code (e.g. "alipay", "btc").
type GatewayConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	MerchantID string        `mapstructure:"merchant_id"`
	Secret     string        `mapstructure:"secret"` // HMAC key for signing/verifying
	NotifyURL  string        `mapstructure:"notify_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RPCURL     string        `mapstructure:"rpc_url"` // Crypto rails: confirmation source endpoint
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PSC_ (Payment Settlement Core).
// Nested keys use underscore: PSC_DATABASE_HOST, PSC_JWT_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "settlement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "payment-settlement-core")
	v.SetDefault("lock.ttl", "10s")
	v.SetDefault("lock.max_retries", 5)
	v.SetDefault("lock.retry_delay", "50ms")
	v.SetDefault("sweep.interval", "1m")
	v.SetDefault("sweep.batch_size", 100)
	v.SetDefault("events.sink", "log")
	v.SetDefault("events.brokers", []string{"localhost:9092"})
	v.SetDefault("events.topic", "payment-events")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.limit", 100)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: PSC_DATABASE_HOST -> database.host
	v.SetEnvPrefix("PSC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required; env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
