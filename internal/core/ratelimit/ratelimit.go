// Package ratelimit implements the per-connection token bucket and
// violation escalation described in spec.md §4.5. Adapted from
// infrastructure/ratelimit/ratelimit.go's x/time/rate-backed limiter, which
// wraps a single shared limiter; here one Limiter is constructed per
// connection and adds the warn-then-close violation counter the teacher's
// version does not have.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Config configures one connection's token bucket.
type Config struct {
	MaxRequests         int
	WindowSecs          int
	ViolationThreshold  int
}

// DefaultConfig matches spec.md §6: 100 requests per 60s window, disconnect
// after 5 violations.
func DefaultConfig() Config {
	return Config{MaxRequests: 100, WindowSecs: 60, ViolationThreshold: 5}
}

// Outcome tells the caller (the dispatcher's read pump) what to do with the
// inbound message that triggered this check.
type Outcome int

const (
	// OutcomeAllow: process the message normally.
	OutcomeAllow Outcome = iota
	// OutcomeWarn: drop the message silently, send a warning frame, but
	// keep the connection open.
	OutcomeWarn
	// OutcomeClose: send a policy-violation close frame and terminate the
	// connection.
	OutcomeClose
)

// Limiter is one connection's token bucket plus violation counter.
type Limiter struct {
	limiter    *rate.Limiter
	threshold  int
	violations int
}

// New builds a Limiter refilling cfg.MaxRequests over cfg.WindowSecs.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.WindowSecs <= 0 {
		cfg.WindowSecs = def.WindowSecs
	}
	if cfg.ViolationThreshold <= 0 {
		cfg.ViolationThreshold = def.ViolationThreshold
	}

	perSecond := rate.Limit(float64(cfg.MaxRequests) / float64(cfg.WindowSecs))
	return &Limiter{
		limiter:   rate.NewLimiter(perSecond, cfg.MaxRequests),
		threshold: cfg.ViolationThreshold,
	}
}

// Check consumes one token for an inbound message and reports what the
// caller should do, per spec.md §4.5's escalation: warn while violations
// remain under threshold, then close.
func (l *Limiter) Check(now time.Time) Outcome {
	if l.limiter.AllowN(now, 1) {
		l.violations = 0
		return OutcomeAllow
	}

	l.violations++
	if l.violations >= l.threshold {
		return OutcomeClose
	}
	return OutcomeWarn
}

// Violations returns the current violation count, for tests and metrics.
func (l *Limiter) Violations() int { return l.violations }
