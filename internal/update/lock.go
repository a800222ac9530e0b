package update

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ApplyLock is an advisory file lock that keeps two processes sharing an
// install directory from applying the same pending update.
type ApplyLock struct {
	fl *flock.Flock
}

// NewApplyLock creates the lock for an install directory.
func NewApplyLock(installDir string) *ApplyLock {
	return &ApplyLock{fl: flock.New(filepath.Join(installDir, LockFileName))}
}

// TryLock acquires the lock without blocking. It returns false when another
// holder has it.
func (l *ApplyLock) TryLock() (bool, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", l.fl.Path(), err)
	}
	return ok, nil
}

// Unlock releases the lock.
func (l *ApplyLock) Unlock() error {
	return l.fl.Unlock()
}
