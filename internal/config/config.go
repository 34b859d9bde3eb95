// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all SDK and stub-server configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Attribution backend
	MatchEndpoint  string `env:"LINKWISE_MATCH_ENDPOINT" envDefault:"https://api.linkwise.dev"`
	IngestEndpoint string `env:"LINKWISE_INGEST_ENDPOINT" envDefault:"https://ingest.linkwise.dev"`
	APIKey         string `env:"LINKWISE_API_KEY,required"`

	// Durable key-value storage. The DSN scheme selects the backend:
	// "file:" or a bare path for SQLite, "redis://" for Redis,
	// "postgres://" for PostgreSQL, "memory" for ephemeral in-process.
	StorageDSN string `env:"LINKWISE_STORAGE_DSN" envDefault:"memory"`

	// Match retry behavior
	MatchMaxAttempts   int           `env:"LINKWISE_MATCH_MAX_ATTEMPTS" envDefault:"5"`
	MatchBaseDelay     time.Duration `env:"LINKWISE_MATCH_BASE_DELAY" envDefault:"500ms"`
	MatchMaxDelay      time.Duration `env:"LINKWISE_MATCH_MAX_DELAY" envDefault:"30s"`
	MatchSessionBudget time.Duration `env:"LINKWISE_MATCH_SESSION_BUDGET" envDefault:"2m"`

	// Event delivery
	QueueMaxSize   int           `env:"LINKWISE_QUEUE_MAX_SIZE" envDefault:"1000"`
	FlushBatchSize int           `env:"LINKWISE_FLUSH_BATCH_SIZE" envDefault:"50"`
	FlushInterval  time.Duration `env:"LINKWISE_FLUSH_INTERVAL" envDefault:"30s"`
	AttemptTimeout time.Duration `env:"LINKWISE_ATTEMPT_TIMEOUT" envDefault:"20s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts (stub server only)
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Stub backend behavior (stub server only). StubFailureRate is the
	// percentage of requests answered with HTTP 503.
	StubConfidence  string `env:"STUB_CONFIDENCE" envDefault:"high"`
	StubDeepLink    string `env:"STUB_DEEP_LINK" envDefault:"myapp://landing"`
	StubFailureRate int    `env:"STUB_FAILURE_RATE" envDefault:"0"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
