package repository

import (
	"log/slog"
	"time"
)

// Option applies a configuration option to the GormStore.
type Option func(*GormStore)

// WithLogger routes gorm's query log through logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *GormStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxConnections caps open connections. sqlite is always capped at one.
func WithMaxConnections(n int) Option {
	return func(s *GormStore) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithMetricsUpdateInterval sets the interval for the background record
// count gauge refresh. Zero disables it.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *GormStore) {
		if interval >= 0 {
			s.metricsUpdateInterval = interval
		}
	}
}
