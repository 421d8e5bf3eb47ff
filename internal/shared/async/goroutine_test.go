package async

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubPanicLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *stubPanicLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

func (l *stubPanicLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.messages))
	copy(out, l.messages)
	return out
}

func TestForEachCapsInFlightCalls(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	var inFlight, maxInFlight, done int64
	err := ForEach(context.Background(), 4, items, nil, func(_ context.Context, _ int) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt64(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		atomic.AddInt64(&done, 1)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done != 100 {
		t.Fatalf("expected 100 calls, got %d", done)
	}
	if maxInFlight > 4 {
		t.Fatalf("expected at most 4 in flight, saw %d", maxInFlight)
	}
}

func TestForEachRecoversPanics(t *testing.T) {
	logger := &stubPanicLogger{}
	var done int64
	err := ForEach(context.Background(), 2, []string{"ok", "boom", "ok"}, logger, func(_ context.Context, item string) {
		if item == "boom" {
			panic("boom")
		}
		atomic.AddInt64(&done, 1)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done != 2 {
		t.Fatalf("expected the healthy calls to finish, got %d", done)
	}
	found := false
	for _, msg := range logger.snapshot() {
		if strings.Contains(msg, "goroutine panic [pool]: boom") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected panic log, got %v", logger.snapshot())
	}
}

func TestForEachStopsSubmittingWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int64
	err := ForEach(ctx, 2, []int{1, 2, 3}, nil, func(context.Context, int) {
		atomic.AddInt64(&calls, 1)
	})
	if err == nil {
		t.Fatal("expected context error")
	}
	if calls != 0 {
		t.Fatalf("expected no calls after cancellation, got %d", calls)
	}
}

func TestRecoverHandlesNilLogger(t *testing.T) {
	func() {
		defer Recover(nil, "nil-logger")
		panic("ignored")
	}()
}
