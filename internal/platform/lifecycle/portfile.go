// Package lifecycle implements the port-file/lock-file single-instance
// discovery machinery from spec.md §4.14, plus the exponential-backoff
// health supervisor spec.md §2 budgets 6% of the implementation to.
// Grounded on original_source's backend/crates/pm-config/src/port_file/
// port_file_info.rs (PortFileInfo shape, write/read_live semantics) and
// desktop/src-tauri/src/server/lock.rs (LockFile acquire/release, stale-pid
// detection) and server/lifecycle.rs (ServerManager's restart/backoff
// state machine).
package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// PortFileName is the conventional filename spec.md §6 names for the port
// discovery file.
const PortFileName = "server.json"

// PortFileInfo is the JSON document written after a successful bind, read
// by colocated tools (CLI, tray shell) to discover the server's address
// without a flag.
type PortFileInfo struct {
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	Host      string `json:"host"`
	StartedAt string `json:"started_at"`
	Version   string `json:"version"`
}

// processRunning reports whether pid identifies a live process, using
// gopsutil so the same code path works on POSIX (kill(pid,0)) and Windows
// (OpenProcess/GetExitCodeProcess) without platform-specific branches,
// matching the liveness check spec.md §4.14 describes for both platforms.
func processRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	running, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return running
}

// WritePortFile writes the port file to dir after a successful bind. If a
// live server's port file is already present, the write fails with a clear
// error rather than silently overwriting it; a stale file (dead pid) is
// removed first and the write proceeds.
func WritePortFile(dir string, info PortFileInfo) (string, error) {
	path := filepath.Join(dir, PortFileName)

	if existing, err := ReadLivePortFile(dir); err == nil && existing != nil {
		return "", fmt.Errorf("another server is already running on port %d (pid %d); stop it first or use a different config directory", existing.Port, existing.PID)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}

	content, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode port file: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write port file: %w", err)
	}
	return path, nil
}

// ReadLivePortFile reads the port file in dir and returns it only if the
// pid it names is still alive. A stale file (dead pid) is removed and nil
// is returned without error, matching spec.md §4.14's "reader reports 'no
// server'" contract. A missing file also returns (nil, nil).
func ReadLivePortFile(dir string) (*PortFileInfo, error) {
	path := filepath.Join(dir, PortFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read port file: %w", err)
	}

	var info PortFileInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode port file: %w", err)
	}

	if processRunning(info.PID) {
		return &info, nil
	}

	_ = os.Remove(path)
	return nil, nil
}

// RemovePortFile deletes the port file on graceful shutdown. Missing file
// is not an error.
func RemovePortFile(dir string) error {
	err := os.Remove(filepath.Join(dir, PortFileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// NewPortFileInfo builds a PortFileInfo for the current process.
func NewPortFileInfo(port int, host, version string) PortFileInfo {
	return PortFileInfo{
		PID:       os.Getpid(),
		Port:      port,
		Host:      host,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Version:   version,
	}
}
