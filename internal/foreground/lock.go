// Package foreground holds a host-wide lock file while the transfer queue is busy.
//
// The lock marks "a transfer is running" for other shellxfer processes and
// for tooling that should not suspend or restart the host mid-transfer.
package foreground

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/rescale/shellxfer/internal/logging"
)

// ErrHeldElsewhere is returned by Acquire when another process holds the lock.
var ErrHeldElsewhere = errors.New("foreground lock is held by another process")

// LockHolder takes the lock on the first Acquire and drops it on Release.
// Calls must alternate; the engine guarantees this.
type LockHolder struct {
	path   string
	logger *logging.Logger

	mu   sync.Mutex
	lock *flock.Flock
	held bool
}

// NewLockHolder creates a holder for the lock file at path.
func NewLockHolder(path string, logger *logging.Logger) *LockHolder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &LockHolder{path: path, logger: logger, lock: flock.New(path)}
}

// Path returns the lock file path.
func (h *LockHolder) Path() string {
	return h.path
}

// Held reports whether this holder currently owns the lock.
func (h *LockHolder) Held() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.held
}

// Acquire takes the lock without blocking and records this process's PID.
func (h *LockHolder) Acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ok, err := h.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to take foreground lock: %w", err)
	}
	if !ok {
		if pid := HolderPID(h.path); pid > 0 {
			return fmt.Errorf("%w (pid %d)", ErrHeldElsewhere, pid)
		}
		return ErrHeldElsewhere
	}
	h.held = true

	if err := os.WriteFile(pidPath(h.path), []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to write foreground PID file")
	}
	h.logger.Debug().Str("path", h.path).Msg("Foreground lock acquired")
	return nil
}

// Release drops the lock and removes the PID file.
func (h *LockHolder) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.held {
		return nil
	}
	h.held = false
	os.Remove(pidPath(h.path))
	if err := h.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to release foreground lock: %w", err)
	}
	h.logger.Debug().Str("path", h.path).Msg("Foreground lock released")
	return nil
}

// InUse reports whether any process (including this one) holds the lock at path.
func InUse(path string) (bool, error) {
	probe := flock.New(path)
	ok, err := probe.TryLock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if ok {
		probe.Unlock()
		return false, nil
	}
	return true, nil
}

// HolderPID returns the PID recorded by the current holder, or 0.
func HolderPID(path string) int {
	data, err := os.ReadFile(pidPath(path))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func pidPath(lockPath string) string {
	return lockPath + ".pid"
}
