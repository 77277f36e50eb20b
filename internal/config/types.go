package config

import (
	"fmt"
	"time"
)

// StoreConfig selects and locates the durable task store.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" validate:"oneof=sqlite badger"` // "sqlite" or "badger"
	Path   string `json:"path" yaml:"path" validate:"required"`                // Database file (sqlite) or directory (badger)
}

// CacheConfig bounds the process-local plan cache.
type CacheConfig struct {
	MaxSessions int `json:"max_sessions" yaml:"max_sessions" validate:"gte=1"`
}

// RetryConfig configures exponential backoff for mirror calls.
type RetryConfig struct {
	InitialInterval Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     Duration `json:"max_interval" yaml:"max_interval"`
	MaxElapsedTime  Duration `json:"max_elapsed_time" yaml:"max_elapsed_time"`
	Multiplier      float64  `json:"multiplier" yaml:"multiplier" validate:"gte=1"`
}

// BreakerConfig configures the circuit breaker around the memory service.
type BreakerConfig struct {
	MaxRequests         uint32   `json:"max_requests" yaml:"max_requests"`
	Timeout             Duration `json:"timeout" yaml:"timeout"`
	ConsecutiveFailures uint32   `json:"consecutive_failures" yaml:"consecutive_failures" validate:"gte=1"`
}

// MirrorConfig configures the external memory mirror.
// With no WeaviateURL the mirror writes to an in-process memory.
type MirrorConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	WeaviateURL  string        `json:"weaviate_url,omitempty" yaml:"weaviate_url,omitempty" validate:"omitempty,url"`
	ClassName    string        `json:"class_name" yaml:"class_name" validate:"required"`
	SearchLimit  int           `json:"search_limit" yaml:"search_limit" validate:"gte=1"`
	QueueSize    int           `json:"queue_size" yaml:"queue_size" validate:"gte=1"`
	CloseTimeout Duration      `json:"close_timeout" yaml:"close_timeout"`
	Retry        RetryConfig   `json:"retry" yaml:"retry"`
	Breaker      BreakerConfig `json:"breaker" yaml:"breaker"`
}

// ValidationConfig enables optional graph checks on plan writes.
type ValidationConfig struct {
	RejectUnknownDependencies bool `json:"reject_unknown_dependencies" yaml:"reject_unknown_dependencies"`
	RejectCycles              bool `json:"reject_cycles" yaml:"reject_cycles"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=text json"`
}

// MetricsConfig configures the Prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// TracingConfig selects the OpenTelemetry span exporter.
type TracingConfig struct {
	Exporter     string `json:"exporter" yaml:"exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `json:"otlp_endpoint,omitempty" yaml:"otlp_endpoint,omitempty" validate:"required_if=Exporter otlp"`
	OTLPInsecure bool   `json:"otlp_insecure,omitempty" yaml:"otlp_insecure,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	Store      StoreConfig      `json:"store" yaml:"store"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Mirror     MirrorConfig     `json:"mirror" yaml:"mirror"`
	Validation ValidationConfig `json:"validation" yaml:"validation"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
