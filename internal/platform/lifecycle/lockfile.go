package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// LockFileName is the conventional single-instance lock file spec.md §6
// names alongside the port file.
const LockFileName = "server.lock"

// LockInfo is the JSON payload stored inside the lock file, read back to
// detect and report which process is holding it.
type LockInfo struct {
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	StartedAt string `json:"started_at"`
}

// LockFile wraps a flock.Flock exclusive file lock guarding one data
// directory from a second local instance. Unlike the port file (which is
// advisory and pid-liveness-checked by readers), this uses a real OS file
// lock so acquisition itself is race-free; the pid-liveness probe in
// AcquireLock is only used to produce a clearer "already running" error
// message before attempting the real lock.
type LockFile struct {
	path string
	fl   *flock.Flock
}

// AcquireLock tries to take an exclusive lock on <dir>/server.lock. If
// another live process holds it, returns an error naming that process. A
// lock file left by a crashed process (stale, pid dead) is detected via
// the content of the file and the lock is still attempted through flock,
// which the OS releases automatically when the owning process dies.
func AcquireLock(dir string, port int) (*LockFile, error) {
	path := filepath.Join(dir, LockFileName)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	if existing, err := readLockInfo(path); err == nil && existing != nil && processRunning(existing.PID) {
		return nil, fmt.Errorf("another server instance is already running (pid %d, port %d)", existing.PID, existing.Port)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock file %s is held by another process", path)
	}

	lf := &LockFile{path: path, fl: fl}
	if err := lf.writeInfo(port); err != nil {
		lf.Release()
		return nil, err
	}
	return lf, nil
}

func (l *LockFile) writeInfo(port int) error {
	info := LockInfo{PID: os.Getpid(), Port: port, StartedAt: time.Now().UTC().Format(time.RFC3339)}
	content, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock file: %w", err)
	}
	return os.WriteFile(l.path, content, 0o600)
}

func readLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Release unlocks and removes the lock file. Safe to call more than once.
func (l *LockFile) Release() {
	if l == nil || l.fl == nil {
		return
	}
	_ = l.fl.Unlock()
	_ = os.Remove(l.path)
}
