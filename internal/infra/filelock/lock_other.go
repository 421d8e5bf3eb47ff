//go:build !unix

package filelock

import (
	"os"
	"path/filepath"
	"sync"
)

// Without flock the lock only serialises holders inside this process.
var (
	heldMu sync.Mutex
	held   = make(map[string]struct{})
)

func lockKey(file *os.File) string {
	if abs, err := filepath.Abs(file.Name()); err == nil {
		return abs
	}
	return file.Name()
}

func tryLock(file *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()
	key := lockKey(file)
	if _, busy := held[key]; busy {
		return errContended
	}
	held[key] = struct{}{}
	return nil
}

func unlock(file *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()
	delete(held, lockKey(file))
	return nil
}
