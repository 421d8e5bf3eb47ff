package async

import (
	"context"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// DefaultPoolSize caps in-flight file operations so large batches never
// exhaust file descriptors.
const DefaultPoolSize = 16

// PanicLogger captures panic reports from pool workers.
type PanicLogger interface {
	Error(format string, args ...any)
}

// ForEach calls fn for every item with at most limit calls in flight. The
// submitting goroutine blocks while the pool is full and ForEach returns once
// every started call has finished. Submission stops early when ctx is done.
// fn owns its error handling; a panicking fn is logged and treated as done.
func ForEach[T any](ctx context.Context, limit int, items []T, logger PanicLogger, fn func(ctx context.Context, item T)) error {
	if limit <= 0 {
		limit = DefaultPoolSize
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			_ = g.Wait()
			return err
		}
		item := item // per-iteration copy; go directive is 1.21 (pre-loopvar semantics)
		g.Go(func() error {
			defer Recover(logger, "pool")
			fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// Recover logs panic details without crashing the process.
func Recover(logger PanicLogger, name string) {
	if r := recover(); r != nil {
		if logger == nil {
			return
		}
		if name == "" {
			logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
			return
		}
		logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
	}
}
