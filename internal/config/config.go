package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const EnvProduction = "production"

// Config holds all service configuration, read from the environment
type Config struct {
	Env   string `env:"ENV" env-default:"development"`
	Port  string `env:"PORT" env-default:"8080"`
	Debug bool   `env:"DEBUG" env-default:"false"`

	Database    DatabaseConfig
	Auth        AuthConfig
	Trading     TradingConfig
	Leaderboard LeaderboardConfig
	Events      EventsConfig
}

type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" env-default:"sqlite"`
	DSN    string `env:"DB_DSN" env-default:"energydesk.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1"`
}

type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET" env-default:"energydesk-secret-key"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" env-default:"24h"`
	AdminPIN  string        `env:"ADMIN_PIN" env-default:"admin123"`
}

type TradingConfig struct {
	// Upper bound for every storage round trip; exceeding it surfaces a retryable error
	StorageTimeout         time.Duration `env:"STORAGE_TIMEOUT" env-default:"5s"`
	DefaultStartingBalance float64       `env:"DEFAULT_STARTING_BALANCE" env-default:"1000000"`
	EventBuffer            int           `env:"EVENT_BUFFER" env-default:"256"`
}

type LeaderboardConfig struct {
	RedisAddr        string        `env:"REDIS_ADDR"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" env-default:"0"`
	CacheTTL         time.Duration `env:"LEADERBOARD_CACHE_TTL" env-default:"30s"`
	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL" env-default:"1h"`
}

type EventsConfig struct {
	NATSURL       string `env:"NATS_URL"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" env-default:"energydesk"`
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Load reads an optional .env file and then the process environment
func Load() (*Config, error) {
	// A missing .env is fine; plain environment variables still apply
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Trading.StorageTimeout <= 0 {
		return fmt.Errorf("STORAGE_TIMEOUT must be positive, got %s", c.Trading.StorageTimeout)
	}
	if c.Trading.DefaultStartingBalance <= 0 {
		return fmt.Errorf("DEFAULT_STARTING_BALANCE must be positive, got %f", c.Trading.DefaultStartingBalance)
	}
	if c.Trading.EventBuffer <= 0 {
		return fmt.Errorf("EVENT_BUFFER must be positive, got %d", c.Trading.EventBuffer)
	}
	if c.Auth.AdminPIN == "" {
		return fmt.Errorf("ADMIN_PIN must be set")
	}
	if c.IsProduction() && c.Auth.JWTSecret == "energydesk-secret-key" {
		return fmt.Errorf("JWT_SECRET must be overridden in production")
	}
	return nil
}
