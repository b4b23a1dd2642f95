// Package lockfile provides advisory file locks guarding the shared caches
// root against concurrent invocations. Locks are per-path: cache downloads
// lock a per-version file, the garbage collector locks a single file for the
// whole pass.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Lock is a held advisory lock. Release it when the guarded operation ends.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if needed) the lock file at path and takes an
// exclusive advisory lock, blocking until the lock is available.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := lockExclusive(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
