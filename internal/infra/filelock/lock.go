// Package filelock provides advisory, cross-process file locks. Each guarded
// path gets a sibling "<path>.lock" file; holders must release the returned
// Handle.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultTimeout bounds how long Lock waits for a contended lock.
	DefaultTimeout = 5 * time.Second
	lockSuffix     = ".lock"
)

var (
	// ErrLockTimeout is returned when a lock stays contended past the timeout.
	ErrLockTimeout = errors.New("filelock: timed out acquiring lock")
	errContended   = errors.New("filelock: contended")
)

// Locker acquires advisory locks with bounded retry.
type Locker struct {
	timeout    time.Duration
	newBackOff func() backoff.BackOff
}

// New creates a Locker. A non-positive timeout falls back to DefaultTimeout.
func New(timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := &Locker{timeout: timeout}
	l.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 5 * time.Millisecond
		b.MaxInterval = 100 * time.Millisecond
		b.MaxElapsedTime = l.timeout
		return b
	}
	return l
}

// Handle is a held lock.
type Handle struct {
	file *os.File
	path string
}

// LockPath returns the lock file guarding path.
func LockPath(path string) string {
	return path + lockSuffix
}

// Lock acquires an exclusive lock guarding path, retrying while another
// holder owns it. The parent directory is created when missing.
func (l *Locker) Lock(ctx context.Context, path string) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	lockPath := LockPath(path)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	var handle *Handle
	op := func() error {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("open lock file: %w", err))
		}
		if err := tryLock(file); err != nil {
			_ = file.Close()
			if errors.Is(err, errContended) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("lock %s: %w", lockPath, err))
		}
		handle = &Handle{file: file, path: lockPath}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(l.newBackOff(), ctx))
	switch {
	case err == nil:
		return handle, nil
	case errors.Is(err, errContended):
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, lockPath)
	default:
		return nil, err
	}
}

// Unlock releases the lock. The lock file stays on disk so concurrent
// waiters never lock an unlinked inode.
func (h *Handle) Unlock() error {
	if h == nil || h.file == nil {
		return nil
	}
	unlockErr := unlock(h.file)
	closeErr := h.file.Close()
	h.file = nil
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", h.path, unlockErr)
	}
	return closeErr
}

// WithLock runs fn while holding the lock guarding path.
func (l *Locker) WithLock(ctx context.Context, path string, fn func() error) error {
	handle, err := l.Lock(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = handle.Unlock() }()
	return fn()
}
