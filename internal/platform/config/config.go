package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix     = "CONFIRMGATE_"
	envConfigFile = "CONFIRMGATE_CONFIG"
)

// Config is the static process configuration. Rules that may change at
// runtime live in the rules file and are loaded by LoadRules.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Log          LogConfig          `koanf:"log"`
	Auth         AuthConfig         `koanf:"auth"`
	Storage      StorageConfig      `koanf:"storage"`
	Redis        RedisConfig        `koanf:"redis"`
	Idempotency  IdempotencyConfig  `koanf:"idempotency"`
	Registration RegistrationConfig `koanf:"registration"`
	Verification VerificationConfig `koanf:"verification"`
	Notification NotificationConfig `koanf:"notification"`
	Core         CoreConfig         `koanf:"core"`
	Deferred     DeferredConfig     `koanf:"deferred"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	RulesFile    string             `koanf:"rules_file"`
}

type ServerConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or text
}

// AuthConfig selects how core-issued bearer tokens are verified. Exactly one
// of HMACSecret or PublicKeyFile is expected unless Disabled is set.
type AuthConfig struct {
	Disabled      bool   `koanf:"disabled"`
	HMACSecret    string `koanf:"hmac_secret"`
	PublicKeyFile string `koanf:"public_key_file"`
	Issuer        string `koanf:"issuer"`
	Audience      string `koanf:"audience"`
}

// StorageConfig picks the durable backend. Backend is memory or postgres;
// Ledger additionally allows redis.
type StorageConfig struct {
	Backend  string         `koanf:"backend"`
	Ledger   string         `koanf:"ledger"`
	Postgres PostgresConfig `koanf:"postgres"`
}

type PostgresConfig struct {
	Driver       string        `koanf:"driver"` // postgres (lib/pq) or pgx
	DSN          string        `koanf:"dsn"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	MaxIdleConns int           `koanf:"max_idle_conns"`
	ConnMaxLife  time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// IdempotencyConfig sets how long replay protection is kept.
type IdempotencyConfig struct {
	Retention     time.Duration `koanf:"retention"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	ClaimTTL      time.Duration `koanf:"claim_ttl"`
	ClaimWait     time.Duration `koanf:"claim_wait"`
}

type RegistrationConfig struct {
	Format string `koanf:"format"` // random or tracking
	Length int    `koanf:"length"`
}

type VerificationConfig struct {
	BaseURL          string        `koanf:"base_url"`
	Timeout          time.Duration `koanf:"timeout"`
	RateLimit        float64       `koanf:"rate_limit"`
	RateBurst        int           `koanf:"rate_burst"`
	FailureThreshold int           `koanf:"failure_threshold"`
	Cooldown         time.Duration `koanf:"cooldown"`
	ForwardRetries   uint64        `koanf:"forward_retries"`
}

type NotificationConfig struct {
	Transport  string        `koanf:"transport"` // none, http or kafka
	URL        string        `koanf:"url"`
	Brokers    []string      `koanf:"brokers"`
	Topic      string        `koanf:"topic"`
	QueueSize  int           `koanf:"queue_size"`
	Workers    int           `koanf:"workers"`
	MaxRetries uint64        `koanf:"max_retries"`
	Timeout    time.Duration `koanf:"timeout"`
}

type CoreConfig struct {
	BaseURL    string        `koanf:"base_url"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries uint64        `koanf:"max_retries"`
}

type DeferredConfig struct {
	ScanInterval time.Duration `koanf:"scan_interval"`
}

type TelemetryConfig struct {
	ServiceName string `koanf:"service_name"`
	Stdout      bool   `koanf:"stdout"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			RequestTimeout:    10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{
			Backend: "memory",
			Ledger:  "memory",
			Postgres: PostgresConfig{
				Driver:       "postgres",
				MaxOpenConns: 20,
				MaxIdleConns: 5,
				ConnMaxLife:  30 * time.Minute,
			},
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Idempotency: IdempotencyConfig{
			Retention:     72 * time.Hour,
			SweepInterval: time.Hour,
			ClaimTTL:      30 * time.Second,
			ClaimWait:     5 * time.Second,
		},
		Registration: RegistrationConfig{Format: "random", Length: 12},
		Verification: VerificationConfig{
			Timeout:          3 * time.Second,
			RateLimit:        50,
			RateBurst:        10,
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
			ForwardRetries:   3,
		},
		Notification: NotificationConfig{
			Transport:  "none",
			Topic:      "confirmgate.notifications",
			QueueSize:  1024,
			Workers:    2,
			MaxRetries: 5,
			Timeout:    5 * time.Second,
		},
		Core: CoreConfig{
			Timeout:    5 * time.Second,
			MaxRetries: 3,
		},
		Deferred:  DeferredConfig{ScanInterval: 30 * time.Second},
		Telemetry: TelemetryConfig{ServiceName: "confirmgate"},
	}
}

// Load layers defaults, an optional YAML file named by CONFIRMGATE_CONFIG
// and CONFIRMGATE_* environment variables. A .env file in the working
// directory is read first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	if path := os.Getenv(envConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps CONFIRMGATE_STORAGE__POSTGRES__DSN to storage.postgres.dsn.
func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	switch c.Storage.Ledger {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("storage.ledger must be memory, postgres or redis, got %q", c.Storage.Ledger)
	}
	if (c.Storage.Backend == "postgres" || c.Storage.Ledger == "postgres") && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
	}
	if c.Storage.Ledger == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required for the redis ledger")
	}
	if c.Idempotency.Retention <= 0 {
		return fmt.Errorf("idempotency.retention must be positive")
	}
	switch c.Notification.Transport {
	case "none":
	case "http":
		if c.Notification.URL == "" {
			return fmt.Errorf("notification.url is required for the http transport")
		}
	case "kafka":
		if len(c.Notification.Brokers) == 0 {
			return fmt.Errorf("notification.brokers is required for the kafka transport")
		}
	default:
		return fmt.Errorf("notification.transport must be none, http or kafka, got %q", c.Notification.Transport)
	}
	if !c.Auth.Disabled && c.Auth.HMACSecret == "" && c.Auth.PublicKeyFile == "" {
		return fmt.Errorf("auth.hmac_secret or auth.public_key_file is required")
	}
	return nil
}
