package config

import (
	"time"

	"github.com/r3e-network/pmserver/internal/core/authn"
	"github.com/r3e-network/pmserver/internal/core/breaker"
	"github.com/r3e-network/pmserver/internal/core/ratelimit"
	"github.com/r3e-network/pmserver/internal/core/retry"
	"github.com/r3e-network/pmserver/internal/core/validate"
	"github.com/r3e-network/pmserver/internal/platform/lifecycle"
)

// Authn converts the loaded auth section into internal/core/authn.Config.
func (c *Config) Authn() authn.Config {
	return authn.Config{
		Enabled:       c.Auth.Enabled,
		JWTSecret:     c.Auth.JWTSecret,
		DesktopUserID: c.Auth.DesktopUserID,
		DesktopTenant: c.Auth.DesktopTenant,
	}
}

// RateLimit converts the loaded rate_limit section into
// internal/core/ratelimit.Config.
func (c *Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{
		MaxRequests:        c.RateLimit.MaxRequests,
		WindowSecs:         c.RateLimit.WindowSecs,
		ViolationThreshold: c.RateLimit.ViolationThreshold,
	}
}

// Validator converts the loaded validation section into
// internal/core/validate.Config.
func (c *Config) Validator() validate.Config {
	return validate.Config{
		MaxTitle:        c.Validation.MaxTitle,
		MaxDescription:  c.Validation.MaxDescription,
		MaxComment:      c.Validation.MaxComment,
		MaxSprintName:   c.Validation.MaxSprintName,
		MaxStoryPoints:  c.Validation.MaxStoryPoints,
		MaxErrorMessage: c.Validation.MaxErrorMessage,
	}
}

// Breaker converts the loaded breaker section into
// internal/core/breaker.Config.
func (c *Config) Breaker() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		Window:           time.Duration(c.Breaker.WindowSecs) * time.Second,
		OpenDuration:     time.Duration(c.Breaker.OpenDurationSecs) * time.Second,
		HalfOpenSuccess:  c.Breaker.HalfOpenSuccess,
	}
}

// Retry converts the loaded retry section into internal/core/retry.Config.
func (c *Config) Retry() retry.Config {
	return retry.Config{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: time.Duration(c.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(c.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier:   c.Retry.Multiplier,
		Jitter:       c.Retry.Jitter,
	}
}

// Supervisor converts the loaded lifecycle section into
// internal/platform/lifecycle.SupervisorConfig.
func (c *Config) Supervisor() lifecycle.SupervisorConfig {
	return lifecycle.SupervisorConfig{
		ReadyPollInterval:    time.Duration(c.Lifecycle.ReadyPollIntervalMs) * time.Millisecond,
		ReadyTimeout:         time.Duration(c.Lifecycle.ReadyTimeoutSecs) * time.Second,
		HealthInterval:       time.Duration(c.Lifecycle.HealthIntervalSecs) * time.Second,
		UnhealthyThreshold:   c.Lifecycle.UnhealthyThreshold,
		InitialBackoff:       time.Duration(c.Lifecycle.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:           time.Duration(c.Lifecycle.MaxBackoffSecs) * time.Second,
		BackoffMultiplier:    c.Lifecycle.BackoffMultiplier,
		MaxRestartsPerWindow: c.Lifecycle.MaxRestartsPerWindow,
		RestartWindow:        time.Duration(c.Lifecycle.RestartWindowMins) * time.Minute,
	}
}
