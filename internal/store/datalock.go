package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DataLock provides cross-process file locking over a data directory
// using gofrs/flock. It guards against two daemon instances opening
// the same HNSW/SQLite files concurrently, which would corrupt the
// vector store's durability guarantees. Works on all platforms (Unix,
// Linux, macOS, Windows).
type DataLock struct {
	path   string
	flock  *flock.Flock
	locked bool // explicit state tracking for clarity
}

// NewDataLock creates a new exclusivity lock for the given data
// directory. The lock file is created at <dir>/.ragcore.lock
func NewDataLock(dir string) *DataLock {
	lockPath := filepath.Join(dir, ".ragcore.lock")
	return &DataLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock acquires an exclusive lock on the data directory. This call
// blocks until the lock is available. If the lock file doesn't exist,
// it will be created.
func (l *DataLock) Lock() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking. Returns true
// if the lock was acquired, false if another process holds it.
func (l *DataLock) TryLock() (bool, error) {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the data directory lock. It's safe to call Unlock
// multiple times or on a lock that was never acquired.
func (l *DataLock) Unlock() error {
	if !l.locked {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("failed to release lock: %w", err)
	}

	l.locked = false
	return nil
}

// Path returns the path to the lock file.
func (l *DataLock) Path() string {
	return l.path
}

// IsLocked returns true if the lock is currently held by this process.
func (l *DataLock) IsLocked() bool {
	return l.locked
}
