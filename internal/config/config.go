// Package config loads the service configuration from LEDGER_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const envPrefix = "ledger"

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	Store    string `envconfig:"STORE" default:"postgres"`
	SeedFile string `envconfig:"SEED_FILE"`

	DatabaseURL    string `envconfig:"DATABASE_URL"`
	DBMaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	DBMaxIdleConns int    `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	RecipientPolicy    string        `envconfig:"RECIPIENT_POLICY" default:"first-match"`
	TransferMaxRetries uint64        `envconfig:"TRANSFER_MAX_RETRIES" default:"3"`
	TransferRetryWait  time.Duration `envconfig:"TRANSFER_RETRY_WAIT" default:"50ms"`

	HistoryCacheTTL   time.Duration `envconfig:"HISTORY_CACHE_TTL" default:"5m"`
	IdentityCacheTTL  time.Duration `envconfig:"IDENTITY_CACHE_TTL" default:"1h"`
	EventStreamMaxLen int64         `envconfig:"EVENT_STREAM_MAX_LEN" default:"10000"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"0"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads envFiles (missing files are skipped), then the environment.
// Variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("LEDGER_DATABASE_URL is required when LEDGER_STORE=postgres")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown LEDGER_STORE %q (want postgres or memory)", c.Store)
	}

	switch c.RecipientPolicy {
	case "first-match", "strict":
	default:
		return fmt.Errorf("unknown LEDGER_RECIPIENT_POLICY %q (want first-match or strict)", c.RecipientPolicy)
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LEDGER_LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("unknown LEDGER_LOG_FORMAT %q (want json or text)", c.LogFormat)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limit settings must not be negative")
	}
	if c.HistoryCacheTTL < 0 || c.IdentityCacheTTL < 0 {
		return errors.New("cache TTLs must not be negative")
	}
	return nil
}

// RedisEnabled reports whether caches and events should be wired.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// ConfigureLogger applies the level and format to the standard logrus logger.
func (c *Config) ConfigureLogger() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if c.LogFormat == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
}
