// Package config defines process configuration for the breakout API and
// worker and loads it from defaults, an optional YAML file, and the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/whisper/breakout/internal/clustering"
)

// Config contains process configuration.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080". The grouper serves
	// only health and metrics on it.
	Addr string `koanf:"addr"`
	// TrustProxy takes the client address used for rate limiting from
	// X-Forwarded-For or X-Real-IP. Enable it only behind a proxy that
	// overwrites those headers.
	TrustProxy bool `koanf:"trust_proxy"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is json or console.
	LogFormat string `koanf:"log_format"`

	DatabaseURL string `koanf:"database_url"`
	RedisAddr   string `koanf:"redis_addr"`
	RedisDB     int    `koanf:"redis_db"`
	NATSURL     string `koanf:"nats_url"`
	NATSName    string `koanf:"nats_name"`

	// MinGroupSize and MaxGroupSize are used when a request omits them.
	MinGroupSize int `koanf:"min_group_size"`
	MaxGroupSize int `koanf:"max_group_size"`

	// ComputeTimeout bounds one compute request end to end.
	ComputeTimeout time.Duration `koanf:"compute_timeout"`
	// LockTTL is how long a crashed compute can block its event.
	LockTTL time.Duration `koanf:"lock_ttl"`

	// RateLimit compute requests per requester per RateWindow.
	RateLimit  int           `koanf:"rate_limit"`
	RateWindow time.Duration `koanf:"rate_window"`

	// WorkerQueueGroup is the NATS queue group shared by grouper workers.
	WorkerQueueGroup string `koanf:"worker_queue_group"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Addr:             ":8080",
		LogLevel:         "info",
		LogFormat:        "json",
		DatabaseURL:      "postgres://localhost:5432/whisper?sslmode=disable",
		RedisAddr:        "localhost:6379",
		NATSURL:          "nats://localhost:4222",
		NATSName:         "whisper-breakout",
		MinGroupSize:     clustering.DefaultMinSize,
		MaxGroupSize:     clustering.DefaultMaxSize,
		ComputeTimeout:   10 * time.Second,
		LockTTL:          30 * time.Second,
		RateLimit:        10,
		RateWindow:       time.Minute,
		WorkerQueueGroup: "grouper",
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DatabaseURL == "":
		return fmt.Errorf("%w: database_url must not be empty", ErrInvalidConfig)
	case c.MinGroupSize < 1:
		return fmt.Errorf("%w: min_group_size must be at least 1", ErrInvalidConfig)
	case c.MaxGroupSize < c.MinGroupSize:
		return fmt.Errorf("%w: max_group_size must be >= min_group_size", ErrInvalidConfig)
	case c.ComputeTimeout <= 0:
		return fmt.Errorf("%w: compute_timeout must be positive", ErrInvalidConfig)
	case c.LockTTL < c.ComputeTimeout:
		return fmt.Errorf("%w: lock_ttl must cover compute_timeout", ErrInvalidConfig)
	case c.RateLimit < 1 || c.RateWindow <= 0:
		return fmt.Errorf("%w: rate_limit and rate_window must be positive", ErrInvalidConfig)
	}
	return nil
}
