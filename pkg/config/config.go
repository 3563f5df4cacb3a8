// Package config loads the server's configuration from a YAML file and
// environment overrides, the way the teacher's pkg/config does: godotenv
// for a local .env, envdecode for env-tag struct decoding, yaml.v3 for the
// file. One Config nests one sub-struct per spec.md §6 configuration
// group.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the socket/HTTP listener.
type ServerConfig struct {
	Host             string `yaml:"host" env:"SERVER_HOST"`
	Port             int    `yaml:"port" env:"SERVER_PORT"`
	PortRangeStart   int    `yaml:"port_range_start" env:"SERVER_PORT_RANGE_START"`
	PortRangeEnd     int    `yaml:"port_range_end" env:"SERVER_PORT_RANGE_END"`
	MaxConnections   int    `yaml:"max_connections" env:"SERVER_MAX_CONNECTIONS"`
	IdleShutdownSecs int    `yaml:"idle_shutdown_secs" env:"SERVER_IDLE_SHUTDOWN_SECS"`
}

// DatabaseConfig controls persistence. An empty DSN means "run without a
// database", the in-process internal/store/memory single-user mode.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_secs" env:"DATABASE_CONN_MAX_LIFETIME_SECS"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging, matching pkg/logger.Logger's
// constructor fields.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AuthConfig controls bearer-token authentication (internal/core/authn).
// When Enabled is false every connection resolves to the desktop identity.
type AuthConfig struct {
	Enabled          bool   `yaml:"enabled" env:"AUTH_ENABLED"`
	JWTSecret        string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	JWTPublicKeyPath string `yaml:"jwt_public_key_path" env:"AUTH_JWT_PUBLIC_KEY_PATH"`
	DesktopUserID    string `yaml:"desktop_user_id" env:"AUTH_DESKTOP_USER_ID"`
	DesktopTenant    string `yaml:"desktop_tenant" env:"AUTH_DESKTOP_TENANT"`
}

// RateLimitConfig mirrors internal/core/ratelimit.Config's field names.
type RateLimitConfig struct {
	MaxRequests        int `yaml:"max_requests" env:"RATE_LIMIT_MAX_REQUESTS"`
	WindowSecs         int `yaml:"window_secs" env:"RATE_LIMIT_WINDOW_SECS"`
	ViolationThreshold int `yaml:"violation_threshold" env:"RATE_LIMIT_VIOLATION_THRESHOLD"`
}

// WebSocketConfig controls the per-connection duplex pump.
type WebSocketConfig struct {
	SendBufferSize       int `yaml:"send_buffer_size" env:"WEBSOCKET_SEND_BUFFER_SIZE"`
	HeartbeatIntervalSec int `yaml:"heartbeat_interval_secs" env:"WEBSOCKET_HEARTBEAT_INTERVAL_SECS"`
	HeartbeatTimeoutSec  int `yaml:"heartbeat_timeout_secs" env:"WEBSOCKET_HEARTBEAT_TIMEOUT_SECS"`
}

// ValidationConfig mirrors internal/core/validate.Config's field names.
type ValidationConfig struct {
	MaxTitle        int `yaml:"max_title" env:"VALIDATION_MAX_TITLE"`
	MaxDescription  int `yaml:"max_description" env:"VALIDATION_MAX_DESCRIPTION"`
	MaxComment      int `yaml:"max_comment" env:"VALIDATION_MAX_COMMENT"`
	MaxSprintName   int `yaml:"max_sprint_name" env:"VALIDATION_MAX_SPRINT_NAME"`
	MaxStoryPoints  int `yaml:"max_story_points" env:"VALIDATION_MAX_STORY_POINTS"`
	MaxErrorMessage int `yaml:"max_error_message" env:"VALIDATION_MAX_ERROR_MESSAGE"`
}

// BreakerConfig mirrors internal/core/breaker.Config's field names, in
// seconds for file/env friendliness.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" env:"BREAKER_FAILURE_THRESHOLD"`
	WindowSecs       int `yaml:"window_secs" env:"BREAKER_WINDOW_SECS"`
	OpenDurationSecs int `yaml:"open_duration_secs" env:"BREAKER_OPEN_DURATION_SECS"`
	HalfOpenSuccess  int `yaml:"half_open_success" env:"BREAKER_HALF_OPEN_SUCCESS"`
}

// RetryConfig mirrors internal/core/retry.Config's field names.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	InitialDelayMs int     `yaml:"initial_delay_ms" env:"RETRY_INITIAL_DELAY_MS"`
	MaxDelayMs     int     `yaml:"max_delay_ms" env:"RETRY_MAX_DELAY_MS"`
	Multiplier     float64 `yaml:"multiplier" env:"RETRY_MULTIPLIER"`
	Jitter         bool    `yaml:"jitter" env:"RETRY_JITTER"`
}

// LifecycleConfig mirrors internal/platform/lifecycle.SupervisorConfig's
// field names, in millisecond/second units for file/env friendliness.
type LifecycleConfig struct {
	ReadyPollIntervalMs  int     `yaml:"ready_poll_interval_ms" env:"LIFECYCLE_READY_POLL_INTERVAL_MS"`
	ReadyTimeoutSecs     int     `yaml:"ready_timeout_secs" env:"LIFECYCLE_READY_TIMEOUT_SECS"`
	HealthIntervalSecs   int     `yaml:"health_interval_secs" env:"LIFECYCLE_HEALTH_INTERVAL_SECS"`
	UnhealthyThreshold   int     `yaml:"unhealthy_threshold" env:"LIFECYCLE_UNHEALTHY_THRESHOLD"`
	InitialBackoffMs     int     `yaml:"initial_backoff_ms" env:"LIFECYCLE_INITIAL_BACKOFF_MS"`
	MaxBackoffSecs       int     `yaml:"max_backoff_secs" env:"LIFECYCLE_MAX_BACKOFF_SECS"`
	BackoffMultiplier    float64 `yaml:"backoff_multiplier" env:"LIFECYCLE_BACKOFF_MULTIPLIER"`
	MaxRestartsPerWindow int     `yaml:"max_restarts_per_window" env:"LIFECYCLE_MAX_RESTARTS_PER_WINDOW"`
	RestartWindowMins    int     `yaml:"restart_window_mins" env:"LIFECYCLE_RESTART_WINDOW_MINS"`
}

// Config is the top-level configuration structure, one sub-struct per
// spec.md §6 configuration group plus a Version field carried from the
// original Rust desktop config for forward migration.
type Config struct {
	Version    int              `yaml:"config_version" env:"CONFIG_VERSION"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Validation ValidationConfig `yaml:"validation"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Retry      RetryConfig      `yaml:"retry"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
}

// New returns a configuration populated with spec.md §6's literal defaults.
func New() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8000,
			PortRangeStart:   8000,
			PortRangeEnd:     8100,
			MaxConnections:   100,
			IdleShutdownSecs: 0,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "pmserver",
		},
		Auth: AuthConfig{
			Enabled:       false,
			DesktopUserID: "local-user",
			DesktopTenant: "local",
		},
		RateLimit: RateLimitConfig{
			MaxRequests:        100,
			WindowSecs:         60,
			ViolationThreshold: 5,
		},
		WebSocket: WebSocketConfig{
			SendBufferSize:       100,
			HeartbeatIntervalSec: 30,
			HeartbeatTimeoutSec:  60,
		},
		Validation: ValidationConfig{
			MaxTitle:        200,
			MaxDescription:  10000,
			MaxComment:      5000,
			MaxSprintName:   100,
			MaxStoryPoints:  100,
			MaxErrorMessage: 200,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			WindowSecs:       60,
			OpenDurationSecs: 30,
			HalfOpenSuccess:  3,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialDelayMs: 100,
			MaxDelayMs:     5000,
			Multiplier:     2.0,
			Jitter:         true,
		},
		Lifecycle: LifecycleConfig{
			ReadyPollIntervalMs:  100,
			ReadyTimeoutSecs:     30,
			HealthIntervalSecs:   5,
			UnhealthyThreshold:   3,
			InitialBackoffMs:     100,
			MaxBackoffSecs:       30,
			BackoffMultiplier:    2.0,
			MaxRestartsPerWindow: 5,
			RestartWindowMins:    5,
		},
	}
}

// Load loads configuration from a .env file (if present), a YAML config
// file named by CONFIG_FILE or falling back to config.yaml, then applies
// environment overrides on top.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged fields are present in the
		// environment; treat that as "no overrides" so local runs work
		// without exporting every variable.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file, skipping environment
// overrides. Used by tests and by cmd/pmserver when -config is given.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate enforces the constraints spec.md §6 calls out explicitly:
// a JWT secret long enough to resist brute force, and a public-key path
// that cannot escape the config directory.
func (c *Config) Validate() error {
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("config: auth.jwt_secret must be at least 32 characters")
	}
	if strings.Contains(c.Auth.JWTPublicKeyPath, "..") {
		return fmt.Errorf("config: auth.jwt_public_key_path must not contain '..'")
	}
	if filepath.IsAbs(c.Auth.JWTPublicKeyPath) {
		return fmt.Errorf("config: auth.jwt_public_key_path must be relative")
	}
	if c.Server.PortRangeStart > c.Server.PortRangeEnd {
		return fmt.Errorf("config: server.port_range_start must not exceed port_range_end")
	}
	return nil
}
