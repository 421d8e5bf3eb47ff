package filelock

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockIsExclusiveWithinProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "shard.json")
	locker := New(50 * time.Millisecond)

	first, err := locker.Lock(context.Background(), path)
	require.NoError(t, err)
	assert.FileExists(t, LockPath(path))

	_, err = locker.Lock(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout), "expected timeout, got %v", err)

	require.NoError(t, first.Unlock())

	second, err := locker.Lock(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, second.Unlock())
}

func TestLockRespectsContextCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	locker := New(10 * time.Second)

	held, err := locker.Lock(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = held.Unlock() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, path)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLockTimeout))
}

func TestWithLockSerialisesWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.json")
	locker := New(5 * time.Second)

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), path, func() error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestUnlockNilHandle(t *testing.T) {
	var h *Handle
	assert.NoError(t, h.Unlock())
}
