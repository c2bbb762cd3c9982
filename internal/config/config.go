package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Skotchmaster/pos_terminal/pkg/config"
)

const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

type Config struct {
	BackendURL     string
	BackendTimeout time.Duration
	Port           string
	LogLevel       string

	StorageDriver string
	DatabaseURL   string
	RedisURL      string

	KafkaBrokers []string
	EventsTopic  string

	OfflineMode          bool
	SyncMaxRetries       int
	ConnectivityInterval time.Duration
	RateLimit            float64
}

// Load reads .env when present and then the process environment.
func Load(l *slog.Logger) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		l.Info("env file not found, using process environment", "error", err)
	}

	cfg := &Config{
		BackendURL:           strings.TrimRight(config.EnvDefault("BACKEND_API_URL", "http://localhost:8080/api"), "/"),
		BackendTimeout:       config.EnvDurationDefault("BACKEND_TIMEOUT", 30*time.Second),
		Port:                 config.EnvDefault("SERVER_PORT", "8090"),
		LogLevel:             config.EnvDefault("LOG_LEVEL", "info"),
		StorageDriver:        strings.ToLower(config.EnvDefault("STORAGE_DRIVER", StorageSQLite)),
		DatabaseURL:          config.EnvDefault("DATABASE_URL", "file:pos_terminal.db"),
		RedisURL:             config.EnvDefault("REDIS_URL", ""),
		KafkaBrokers:         config.CSV(config.EnvDefault("KAFKA_BROKERS", "")),
		EventsTopic:          config.EnvDefault("EVENTS_TOPIC", "pos_events"),
		OfflineMode:          config.EnvBoolDefault("OFFLINE_MODE", true),
		SyncMaxRetries:       config.EnvIntDefault("SYNC_MAX_RETRIES", 3),
		ConnectivityInterval: config.EnvDurationDefault("CONNECTIVITY_INTERVAL", 15*time.Second),
		RateLimit:            config.EnvFloatDefault("RATE_LIMIT", 20),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := config.RequireNonEmpty(c.BackendURL, "BACKEND_API_URL"); err != nil {
		return err
	}
	if _, err := url.ParseRequestURI(c.BackendURL); err != nil {
		return fmt.Errorf("env BACKEND_API_URL: %w", err)
	}
	if err := config.RequireOneOf(c.StorageDriver, "STORAGE_DRIVER", StorageSQLite, StoragePostgres, StorageRedis); err != nil {
		return err
	}
	if c.StorageDriver == StorageRedis {
		if err := config.RequireNonEmpty(c.RedisURL, "REDIS_URL"); err != nil {
			return err
		}
	} else if err := config.RequireNonEmpty(c.DatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if c.SyncMaxRetries < 1 {
		return fmt.Errorf("env SYNC_MAX_RETRIES must be at least 1, got %d", c.SyncMaxRetries)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("env RATE_LIMIT must be positive, got %v", c.RateLimit)
	}
	return nil
}

func (c *Config) Addr() string { return ":" + c.Port }
