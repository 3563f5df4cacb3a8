// Package retry provides an exponential-backoff wrapper for transient
// failures, used only for database calls and outbound HTTP to collaborators
// (never for validation or permission errors, which are never retryable).
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config mirrors infrastructure/resilience/retry.go's field names.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultConfig matches spec.md §4.15: 3 attempts, 100ms initial, 5s max,
// 2.0 multiplier, jitter enabled.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// retryable is implemented by wsproto.Error; checked via duck typing so this
// package does not need to import wsproto.
type retryable interface {
	Retryable() bool
}

// Do runs fn, retrying on failure while the error implements
// Retryable() bool and reports true, up to cfg.MaxAttempts. Errors that
// don't implement the interface are treated as non-retryable, matching
// wsproto.IsRetryable's default.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		r, ok := lastErr.(retryable)
		if !ok || !r.Retryable() {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		if cfg.Jitter {
			wait = addJitter(wait)
		}
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = nextDelay(delay, cfg.Multiplier, cfg.MaxDelay)
	}
	return lastErr
}

func nextDelay(current time.Duration, multiplier float64, max time.Duration) time.Duration {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	next := time.Duration(float64(current) * multiplier)
	if max > 0 && next > max {
		return max
	}
	return next
}

// addJitter applies the original implementation's multiplicative jitter
// (0.5 + rand() yields a 0.5x-1.5x scaling), matching spec.md's "jitter
// enabled (±50%)" rather than the teacher's additive ±10%.
func addJitter(d time.Duration) time.Duration {
	factor := 0.5 + rand.Float64()
	return time.Duration(float64(d) * factor)
}
