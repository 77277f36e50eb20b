package config

import (
	"path/filepath"
	"time"
)

// DefaultConfig returns the default configuration: a SQLite store under
// .taskgraph, an enabled in-process mirror, and graph validation off.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(".taskgraph", "tasks.db"),
		},
		Cache: CacheConfig{
			MaxSessions: 1024,
		},
		Mirror: MirrorConfig{
			Enabled:      true,
			ClassName:    "TaskPlan",
			SearchLimit:  10,
			QueueSize:    256,
			CloseTimeout: Duration(10 * time.Second),
			Retry: RetryConfig{
				InitialInterval: Duration(100 * time.Millisecond),
				MaxInterval:     Duration(5 * time.Second),
				MaxElapsedTime:  Duration(30 * time.Second),
				Multiplier:      2.0,
			},
			Breaker: BreakerConfig{
				MaxRequests:         3,
				Timeout:             Duration(30 * time.Second),
				ConsecutiveFailures: 5,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
	}
}
