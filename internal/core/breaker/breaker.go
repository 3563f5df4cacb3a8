// Package breaker implements the three-state circuit breaker that guards
// every database call made by the connection core.
package breaker

import (
	"context"
	"sync"
	"time"
)

// State is one of Closed, Open, HalfOpen.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures the breaker. Defaults match spec.md §4.1: 5 failures
// within a 60s window, 30s open duration, 3 half-open successes to close.
type Config struct {
	FailureThreshold int
	Window           time.Duration
	OpenDuration     time.Duration
	HalfOpenSuccess  int
	OnStateChange    func(from, to State)
}

// DefaultConfig returns spec.md's defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		OpenDuration:     30 * time.Second,
		HalfOpenSuccess:  3,
	}
}

// OpenError is returned by Execute while the breaker is Open. It
// carries the retry_after hint spec.md requires on the fail-fast path.
type OpenError struct {
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return "circuit breaker open, retry after " + e.RetryAfter.String()
}

// Breaker is a process-global, thread-safe three-state circuit breaker.
// Grounded closely on infrastructure/resilience/circuit_breaker.go, extended
// with a sliding failure window (the teacher counts consecutive failures
// only) and a retry-after hint on the Open path.
type Breaker struct {
	mu sync.Mutex

	cfg   Config
	state State

	failureTimes []time.Time // sliding window, oldest first
	halfOpenOK   int
	openedAt     time.Time
}

// New creates a Breaker with the given config, filling in defaults for any
// zero-valued field.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = def.OpenDuration
	}
	if cfg.HalfOpenSuccess <= 0 {
		cfg.HalfOpenSuccess = def.HalfOpenSuccess
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn under breaker protection. It is only ever called for
// operations whose failures are worth counting (database calls); validation
// and permission failures must be filtered out by the caller before
// reaching Execute, per spec.md §4.1 ("threshold errors are only counted for
// transient kinds").
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err == nil)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		elapsed := time.Since(b.openedAt)
		if elapsed >= b.cfg.OpenDuration {
			b.transition(StateHalfOpen)
			return nil
		}
		return &OpenError{RetryAfter: b.cfg.OpenDuration - elapsed}
	}
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateHalfOpen:
		b.halfOpenOK++
		if b.halfOpenOK >= b.cfg.HalfOpenSuccess {
			b.transition(StateClosed)
		}
	case StateClosed:
		b.pruneWindow(time.Now())
	}
}

func (b *Breaker) onFailure() {
	now := time.Now()
	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
		b.openedAt = now
	case StateClosed:
		b.failureTimes = append(b.failureTimes, now)
		b.pruneWindow(now)
		if len(b.failureTimes) >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
			b.openedAt = now
		}
	}
}

// pruneWindow drops failure timestamps that have aged out of the sliding
// window so long-lived Closed periods don't accumulate stale failures.
func (b *Breaker) pruneWindow(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failureTimes) && b.failureTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.failureTimes = b.failureTimes[i:]
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.failureTimes = nil
	b.halfOpenOK = 0
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(from, to)
	}
}
