package lifecycle

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SupervisorConfig configures the health-poll-and-restart loop, mirroring
// original_source's server/lifecycle.rs ServerManager resilience knobs and
// spec.md §4.14's defaults.
type SupervisorConfig struct {
	ReadyPollInterval  time.Duration // 100ms default while waiting for startup
	ReadyTimeout       time.Duration // 30s default
	HealthInterval     time.Duration // 5s default
	UnhealthyThreshold int           // 3 consecutive failures trigger a restart
	InitialBackoff     time.Duration // 100ms
	MaxBackoff         time.Duration // 30s
	BackoffMultiplier  float64       // 2.0
	MaxRestartsPerWindow int         // 5
	RestartWindow      time.Duration // 5m
}

// DefaultSupervisorConfig matches spec.md §4.14's literal defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		ReadyPollInterval:    100 * time.Millisecond,
		ReadyTimeout:         30 * time.Second,
		HealthInterval:       5 * time.Second,
		UnhealthyThreshold:   3,
		InitialBackoff:       100 * time.Millisecond,
		MaxBackoff:           30 * time.Second,
		BackoffMultiplier:    2.0,
		MaxRestartsPerWindow: 5,
		RestartWindow:        5 * time.Minute,
	}
}

// ProcessController is the narrow seam the supervisor needs from whatever
// spawns and manages the server process. A colocated desktop shell (tray
// app) is the real implementer; this package only models the polling and
// backoff state machine spec.md budgets as its own component, independent
// of how a process is actually started.
type ProcessController interface {
	// Spawn starts (or restarts) the server process and returns the URL
	// its /ready endpoint should be polled at.
	Spawn(ctx context.Context) (readyURL string, err error)
	// Kill terminates the currently running process, if any.
	Kill(ctx context.Context) error
}

// Supervisor runs the spawn -> poll-ready -> monitor-health -> restart
// loop described in spec.md §4.14, ported from original_source's
// ServerManager.start/start_health_monitor/start_command_handler.
type Supervisor struct {
	cfg        SupervisorConfig
	controller ProcessController
	client     *http.Client
	log        *logrus.Logger

	restartTimes []time.Time
}

// NewSupervisor builds a Supervisor. A nil logger falls back to a default
// logrus.Logger at info level.
func NewSupervisor(cfg SupervisorConfig, controller ProcessController, log *logrus.Logger) *Supervisor {
	def := DefaultSupervisorConfig()
	if cfg.ReadyPollInterval <= 0 {
		cfg.ReadyPollInterval = def.ReadyPollInterval
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = def.ReadyTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = def.UnhealthyThreshold
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if cfg.MaxRestartsPerWindow <= 0 {
		cfg.MaxRestartsPerWindow = def.MaxRestartsPerWindow
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = def.RestartWindow
	}
	if log == nil {
		log = logrus.New()
	}
	return &Supervisor{cfg: cfg, controller: controller, client: &http.Client{Timeout: 2 * time.Second}, log: log}
}

// ErrFatal is returned by Run when the restart ceiling is exceeded within
// the configured window, per spec.md §4.14's "terminate the supervisor
// with a fatal state."
type ErrFatal struct{ Attempts int }

func (e *ErrFatal) Error() string {
	return fmt.Sprintf("supervisor terminated: %d restarts exceeded window ceiling", e.Attempts)
}

// Run spawns the process, waits for it to become ready, then monitors
// health until ctx is cancelled or the restart ceiling is breached.
func (s *Supervisor) Run(ctx context.Context) error {
	readyURL, err := s.controller.Spawn(ctx)
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}
	if err := s.waitReady(ctx, readyURL); err != nil {
		return err
	}

	consecutiveUnhealthy := 0
	tick, stopSchedule, err := s.scheduleHealthProbe()
	if err != nil {
		return err
	}
	defer stopSchedule()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if s.probe(ctx, readyURL) {
				consecutiveUnhealthy = 0
				continue
			}
			consecutiveUnhealthy++
			if consecutiveUnhealthy < s.cfg.UnhealthyThreshold {
				continue
			}
			s.log.WithField("consecutive_unhealthy", consecutiveUnhealthy).Warn("server unhealthy, restarting")
			consecutiveUnhealthy = 0

			newURL, err := s.restart(ctx)
			if err != nil {
				return err
			}
			readyURL = newURL
		}
	}
}

// scheduleHealthProbe drives the fixed-interval health check off a
// robfig/cron schedule (an "@every" spec built from HealthInterval) rather
// than a bare time.Ticker, so the same scheduling primitive used for
// periodic jobs elsewhere in the stack backs the supervisor's "monitor
// health on a fixed interval" behavior from spec.md §4.14. The cron job
// only ever signals tick; Run still owns every control-flow decision
// (consecutive-failure counting, restart, ctx cancellation).
func (s *Supervisor) scheduleHealthProbe() (tick <-chan struct{}, stop func(), err error) {
	c := cron.New(cron.WithSeconds())
	ch := make(chan struct{}, 1)
	spec := fmt.Sprintf("@every %s", s.cfg.HealthInterval)
	if _, err := c.AddFunc(spec, func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	}); err != nil {
		return nil, func() {}, fmt.Errorf("schedule health probe %q: %w", spec, err)
	}
	c.Start()
	return ch, func() { <-c.Stop().Done() }, nil
}

// waitReady polls readyURL every ReadyPollInterval until it answers 200 or
// ReadyTimeout elapses.
func (s *Supervisor) waitReady(ctx context.Context, readyURL string) error {
	deadline := time.Now().Add(s.cfg.ReadyTimeout)
	ticker := time.NewTicker(s.cfg.ReadyPollInterval)
	defer ticker.Stop()

	for {
		if s.probe(ctx, readyURL) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready within %s", s.cfg.ReadyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// restart enforces the restart-window ceiling, then kills and respawns the
// process with an exponential backoff (jitter-free; the jitter knob lives
// in internal/core/retry, which this intentionally does not reuse since
// spec.md describes the supervisor's backoff and the retry helper's jitter
// as two independent knobs).
func (s *Supervisor) restart(ctx context.Context) (string, error) {
	now := time.Now()
	cutoff := now.Add(-s.cfg.RestartWindow)
	kept := s.restartTimes[:0]
	for _, t := range s.restartTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restartTimes = kept

	if len(s.restartTimes) >= s.cfg.MaxRestartsPerWindow {
		return "", &ErrFatal{Attempts: len(s.restartTimes)}
	}

	attempt := len(s.restartTimes)
	s.restartTimes = append(s.restartTimes, now)

	backoff := time.Duration(float64(s.cfg.InitialBackoff) * math.Pow(s.cfg.BackoffMultiplier, float64(attempt)))
	if backoff > s.cfg.MaxBackoff {
		backoff = s.cfg.MaxBackoff
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(backoff):
	}

	if err := s.controller.Kill(ctx); err != nil {
		s.log.WithError(err).Warn("error killing unhealthy process")
	}

	readyURL, err := s.controller.Spawn(ctx)
	if err != nil {
		return "", fmt.Errorf("respawn: %w", err)
	}
	if err := s.waitReady(ctx, readyURL); err != nil {
		return "", err
	}
	return readyURL, nil
}
