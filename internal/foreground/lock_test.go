package foreground

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLockHolderAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "active.lock")
	h := NewLockHolder(path, nil)

	if err := h.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !h.Held() {
		t.Error("Expected lock to be held")
	}
	if pid := HolderPID(path); pid != os.Getpid() {
		t.Errorf("Expected PID %d, got %d", os.Getpid(), pid)
	}

	// Repeated Acquire is a no-op
	if err := h.Acquire(); err != nil {
		t.Errorf("Second Acquire should be a no-op, got %v", err)
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if h.Held() {
		t.Error("Expected lock to be released")
	}
	if pid := HolderPID(path); pid != 0 {
		t.Errorf("PID file should be removed, got %d", pid)
	}
	if err := h.Release(); err != nil {
		t.Errorf("Release when not held should be a no-op, got %v", err)
	}
}

func TestLockHolderContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.lock")
	first := NewLockHolder(path, nil)
	second := NewLockHolder(path, nil)

	if err := first.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	err := second.Acquire()
	if !errors.Is(err, ErrHeldElsewhere) {
		t.Fatalf("Expected ErrHeldElsewhere, got %v", err)
	}

	inUse, err := InUse(path)
	if err != nil {
		t.Fatal(err)
	}
	if !inUse {
		t.Error("InUse should report the held lock")
	}

	first.Release()
	if err := second.Acquire(); err != nil {
		t.Errorf("Lock should be free after release, got %v", err)
	}
	second.Release()
}

func TestInUseMissingFile(t *testing.T) {
	inUse, err := InUse(filepath.Join(t.TempDir(), "none", "x.lock"))
	if err != nil {
		t.Fatalf("Expected no error for missing lock, got %v", err)
	}
	if inUse {
		t.Error("Missing lock file is not in use")
	}
}
