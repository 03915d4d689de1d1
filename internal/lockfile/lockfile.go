// Package lockfile guards against two controller instances updating the
// oracle with the same key.
package lockfile

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLockHeld means another instance holds the lock. Fatal at startup.
var ErrLockHeld = errors.New("lock already held")

// Lock is an advisory file lock held for the process lifetime.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock without blocking. The kernel releases it if the
// process dies, so stale locks cannot outlive a crash.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, path)
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
