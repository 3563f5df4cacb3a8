package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewMatchesSpecDefaults(t *testing.T) {
	cfg := New()

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8000 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Server.PortRangeStart != 8000 || cfg.Server.PortRangeEnd != 8100 {
		t.Fatalf("unexpected port range defaults: %+v", cfg.Server)
	}
	if cfg.RateLimit.MaxRequests != 100 || cfg.RateLimit.WindowSecs != 60 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.WebSocket.SendBufferSize != 100 {
		t.Fatalf("unexpected websocket defaults: %+v", cfg.WebSocket)
	}
	if cfg.Auth.Enabled {
		t.Fatalf("auth should default to disabled")
	}
}

func TestValidateRejectsShortJWTSecret(t *testing.T) {
	cfg := New()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "too-short"

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for short jwt secret")
	}
}

func TestValidateRejectsEscapingPublicKeyPath(t *testing.T) {
	cfg := New()
	cfg.Auth.JWTPublicKeyPath = "../../etc/passwd"

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for path traversal")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "server:\n  port: 9000\nrate_limit:\n  max_requests: 50\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("expected overridden port, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.MaxRequests != 50 {
		t.Fatalf("expected overridden rate limit, got %d", cfg.RateLimit.MaxRequests)
	}
	// Untouched fields keep their defaults.
	if cfg.WebSocket.SendBufferSize != 100 {
		t.Fatalf("expected default websocket buffer, got %d", cfg.WebSocket.SendBufferSize)
	}
}

func TestLoadFileMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile on missing file should not error: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
}
