package mirror

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 5s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 30s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerConfig configures the circuit breaker around the memory service.
type BreakerConfig struct {
	MaxRequests         uint32        // Test requests allowed while half-open (default 3)
	Timeout             time.Duration // Open duration before probing recovery (default 30s)
	ConsecutiveFailures uint32        // Failures that trip the breaker (default 5)
}

// DefaultBreakerConfig returns the default circuit breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// NewBreaker creates a circuit breaker that logs state changes.
// Cancellation and unknown record ids are not counted as service failures.
func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    0, // Don't clear counts automatically
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return errors.Is(err, ErrRecordNotFound)
		},
	})
}

// withRetry runs fn through cb with exponential backoff.
// Open-breaker, cancellation and not-found errors stop retrying immediately.
func withRetry[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var out T

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return fn()
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if errors.Is(err, ErrRecordNotFound) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		out = result.(T)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.MaxElapsedTime = cfg.MaxElapsedTime
	policy.Multiplier = cfg.Multiplier
	policy.RandomizationFactor = cfg.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return out, err
}

// ResilientMemory decorates a Memory with retries and a circuit breaker.
type ResilientMemory struct {
	next    Memory
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
}

// NewResilientMemory wraps next.
func NewResilientMemory(next Memory, breaker *gobreaker.CircuitBreaker, retry RetryConfig) *ResilientMemory {
	return &ResilientMemory{next: next, breaker: breaker, retry: retry}
}

// Search implements Memory.
func (m *ResilientMemory) Search(ctx context.Context, principalID, query string, limit int) ([]Record, error) {
	return withRetry(ctx, m.breaker, m.retry, func() ([]Record, error) {
		return m.next.Search(ctx, principalID, query, limit)
	})
}

// CreateRecord implements Memory.
func (m *ResilientMemory) CreateRecord(ctx context.Context, principalID, content string, metadata Metadata) (string, error) {
	return withRetry(ctx, m.breaker, m.retry, func() (string, error) {
		return m.next.CreateRecord(ctx, principalID, content, metadata)
	})
}

// UpdateRecord implements Memory.
func (m *ResilientMemory) UpdateRecord(ctx context.Context, recordID, content string, metadata Metadata) error {
	_, err := withRetry(ctx, m.breaker, m.retry, func() (struct{}, error) {
		return struct{}{}, m.next.UpdateRecord(ctx, recordID, content, metadata)
	})
	return err
}
