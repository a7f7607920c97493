package storage

import (
	"strings"
	"time"
)

// PostgresConfig tunes the pgx pool behind the Postgres repository.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
}

// Option adjusts the Postgres repository configuration.
type Option func(*PostgresConfig)

// WithPoolLimits caps the maximum and minimum pooled connections.
func WithPoolLimits(maxConns, minConns int32) Option {
	return func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns > 0 {
			cfg.MinConnections = minConns
		}
	}
}

// WithPoolDurations sets connection lifetime, idle time, and health check
// interval for the pool.
func WithPoolDurations(lifetime, idle, healthInterval time.Duration) Option {
	return func(cfg *PostgresConfig) {
		if lifetime > 0 {
			cfg.MaxConnLifetime = lifetime
		}
		if idle > 0 {
			cfg.MaxConnIdleTime = idle
		}
		if healthInterval > 0 {
			cfg.HealthCheckInterval = healthInterval
		}
	}
}

// WithAcquireTimeout bounds how long connection establishment may take.
func WithAcquireTimeout(timeout time.Duration) Option {
	return func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	}
}

// WithApplicationName sets the application_name reported to Postgres.
func WithApplicationName(name string) Option {
	return func(cfg *PostgresConfig) {
		trimmed := strings.TrimSpace(name)
		if trimmed != "" {
			cfg.ApplicationName = trimmed
		}
	}
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{DSN: strings.TrimSpace(dsn)}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
