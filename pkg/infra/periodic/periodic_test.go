package periodic

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerExecutes(t *testing.T) {
	var ticks atomic.Int64
	r := NewRunner("test", 20*time.Millisecond, func(ctx context.Context) {
		ticks.Add(1)
	})
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ticks.Load() >= 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("ticks = %d, want >= 3", ticks.Load())
}

func TestRunnerOverlapSkip(t *testing.T) {
	var concurrent atomic.Int64
	var maxSeen atomic.Int64
	r := NewRunner("test", 10*time.Millisecond, func(ctx context.Context) {
		n := concurrent.Add(1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		time.Sleep(50 * time.Millisecond)
		concurrent.Add(-1)
	})
	r.Start()
	time.Sleep(200 * time.Millisecond)
	r.Stop()

	if maxSeen.Load() > 1 {
		t.Errorf("max concurrent runs = %d, want 1", maxSeen.Load())
	}
	if r.Skipped() == 0 {
		t.Error("Skipped() = 0, want > 0 for a slow task")
	}
}

func TestRunnerStopCancelsContext(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	r := NewRunner("test", 10*time.Millisecond, func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		select {
		case cancelled <- struct{}{}:
		default:
		}
	})
	r.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("task context not cancelled on Stop")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestRunnerDoubleStartStop(t *testing.T) {
	r := NewRunner("test", time.Hour, func(ctx context.Context) {})
	r.Start()
	r.Start()
	r.Stop()
	r.Stop()
}
