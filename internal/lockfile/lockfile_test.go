package lockfile

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.lock")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Second holder is rejected while the first is alive.
	if _, err := Acquire(path); !errors.Is(err, ErrLockHeld) {
		t.Errorf("Expected ErrLockHeld, got %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Released locks are reacquirable.
	lock2, err := Acquire(path)
	if err != nil {
		t.Fatalf("Reacquire failed: %v", err)
	}
	lock2.Release()
}
