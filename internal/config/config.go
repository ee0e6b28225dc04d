// Package config loads the payout service configuration. Values are injected
// into services at construction; nothing here is read through a global after
// startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres or sqlite
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// JWTConfig represents token verification configuration
type JWTConfig struct {
	Secret          string `mapstructure:"secret"`
	ExpirationHours int    `mapstructure:"expiration_hours"`
}

// WithdrawalConfig carries the payout policy enforced by the state machine.
type WithdrawalConfig struct {
	// MinimumAmount is the smallest withdrawal an owner may request,
	// in major currency units.
	MinimumAmount decimal.Decimal `mapstructure:"-"`
	// MonthlyLimit is the default number of requests an owner may create
	// per calendar month; per-owner overrides live on the ledger row.
	MonthlyLimit int `mapstructure:"monthly_limit"`
}

// RedisConfig represents the redis connection used for rate limiting. The
// limiter is disabled when Addr is empty.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// RateLimitCapacity is the token bucket size per caller.
	RateLimitCapacity int `mapstructure:"rate_limit_capacity"`
	// RateLimitRefill is the refill rate in tokens per second.
	RateLimitRefill float64 `mapstructure:"rate_limit_refill"`
}

// WSConfig represents WebSocket hub configuration
type WSConfig struct {
	ReadBufferSize  int `mapstructure:"read_buffer_size"`
	WriteBufferSize int `mapstructure:"write_buffer_size"`
	ReplaySize      int `mapstructure:"replay_size"`
}

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Withdrawal WithdrawalConfig `mapstructure:"withdrawal"`
	Redis      RedisConfig      `mapstructure:"redis"`
	WS         WSConfig         `mapstructure:"websocket"`
	LogLevel   string           `mapstructure:"log_level"`
}

// LoadConfig loads the application configuration from payouts.yaml (when
// present) with PAYOUTS_* environment overrides.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiration_hours", 24)
	v.SetDefault("withdrawal.minimum_amount", "100")
	v.SetDefault("withdrawal.monthly_limit", 4)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.rate_limit_capacity", 30)
	v.SetDefault("redis.rate_limit_refill", 0.5)
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.replay_size", 256)
	v.SetDefault("log_level", "info")

	v.SetConfigName("payouts")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("PAYOUTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Monetary values go through decimal, never float
	min, err := decimal.NewFromString(v.GetString("withdrawal.minimum_amount"))
	if err != nil {
		return nil, fmt.Errorf("invalid withdrawal.minimum_amount: %w", err)
	}
	if !min.IsPositive() {
		return nil, fmt.Errorf("withdrawal.minimum_amount must be positive, got %s", min)
	}
	cfg.Withdrawal.MinimumAmount = min

	if cfg.Withdrawal.MonthlyLimit <= 0 {
		return nil, fmt.Errorf("withdrawal.monthly_limit must be positive, got %d", cfg.Withdrawal.MonthlyLimit)
	}

	return &cfg, nil
}
