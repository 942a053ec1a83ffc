package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Log         LogConfig         `mapstructure:"log"`
	Settlement  SettlementConfig  `mapstructure:"settlement"`
	Reconciler  ReconcilerConfig  `mapstructure:"reconciler"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
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

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// SettlementConfig controls the settlement queue and worker pool.
type SettlementConfig struct {
	Stream           string        `mapstructure:"stream"`
	Group            string        `mapstructure:"group"`
	DeadLetterStream string        `mapstructure:"dead_letter_stream"`
	Workers          int           `mapstructure:"workers"`
	Block            time.Duration `mapstructure:"block"`
	Batch            int64         `mapstructure:"batch"`
	ClaimMinIdle     time.Duration `mapstructure:"claim_min_idle"`
	ClaimInterval    time.Duration `mapstructure:"claim_interval"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BackoffStart     time.Duration `mapstructure:"backoff_start"`
	BackoffStep      time.Duration `mapstructure:"backoff_step"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
}

// ReconcilerConfig controls re-enqueueing of transactions stuck in PROCESSING.
// An Interval of zero disables the reconciler.
type ReconcilerConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Batch      int           `mapstructure:"batch"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: WLG_ (Wallet LedGer).
// Nested keys use underscore: WLG_DATABASE_HOST, WLG_SETTLEMENT_WORKERS, etc.
// A .env file in the working directory is loaded first if present; it never
// overrides variables already set in the process environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "wallet_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "wallet-ledger")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("settlement.stream", "settlement:jobs")
	v.SetDefault("settlement.group", "settlement_workers")
	v.SetDefault("settlement.dead_letter_stream", "settlement:dead")
	v.SetDefault("settlement.workers", 4)
	v.SetDefault("settlement.block", "5s")
	v.SetDefault("settlement.batch", 10)
	v.SetDefault("settlement.claim_min_idle", "60s")
	v.SetDefault("settlement.claim_interval", "30s")
	v.SetDefault("settlement.max_retries", 3)
	v.SetDefault("settlement.backoff_start", "3s")
	v.SetDefault("settlement.backoff_step", "1s")
	v.SetDefault("settlement.backoff_max", "6s")
	v.SetDefault("reconciler.interval", "5m")
	v.SetDefault("reconciler.stale_after", "10m")
	v.SetDefault("reconciler.batch", 100)
	v.SetDefault("idempotency.ttl", "24h")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: WLG_DATABASE_HOST -> database.host
	v.SetEnvPrefix("WLG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the worker or store cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Settlement.Workers < 1 {
		return fmt.Errorf("settlement.workers must be at least 1")
	}
	if c.Settlement.MaxRetries < 0 {
		return fmt.Errorf("settlement.max_retries must not be negative")
	}
	if c.Settlement.BackoffMax < c.Settlement.BackoffStart {
		return fmt.Errorf("settlement.backoff_max must be >= settlement.backoff_start")
	}
	return nil
}
