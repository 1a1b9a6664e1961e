package fsx

import (
	"fmt"
	"os"
)

// Lock is an exclusive advisory lock held on a lock file.
type Lock struct {
	file *os.File
}

// AcquireLock blocks until the exclusive lock on path is held. The lock file
// is created if needed and left in place after Release.
func AcquireLock(path string) (*Lock, error) {
	// #nosec G304 -- lock path is derived from the store directory.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(file); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return &Lock{file: file}, nil
}

// Release drops the lock. Calling it on a nil or released lock is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("release lock: %w", unlockErr)
	}
	return closeErr
}
