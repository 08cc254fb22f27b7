package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolSubmit(t *testing.T) {
	p, err := New("test", DefaultPool, &Config{Capacity: 4, ExpiryDuration: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Release()

	var counter atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		if err := p.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	wg.Wait()

	if got := counter.Load(); got != 20 {
		t.Errorf("completed tasks = %d, want 20", got)
	}

	stats := p.Stats()
	if stats.CompletedTasks != 20 {
		t.Errorf("Stats().CompletedTasks = %d, want 20", stats.CompletedTasks)
	}
}

func TestPoolSubmitAfterRelease(t *testing.T) {
	p, err := New("test", DefaultPool, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p.Release()

	if err := p.Submit(func() {}); err != ErrPoolClosed {
		t.Errorf("Submit() after Release error = %v, want ErrPoolClosed", err)
	}
}

func TestPoolSubmitWithContextCancelled(t *testing.T) {
	p, err := New("test", DefaultPool, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = p.SubmitWithContext(ctx, func() {
		t.Error("task ran despite cancelled context")
	})
	if err != context.Canceled {
		t.Errorf("SubmitWithContext() error = %v, want context.Canceled", err)
	}
}

func TestPoolOverload(t *testing.T) {
	p, err := New("test", HealthCheckPool, &Config{
		Capacity:       1,
		ExpiryDuration: time.Second,
		Nonblocking:    true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Release()

	block := make(chan struct{})
	done := make(chan struct{})
	if err := p.Submit(func() { <-block; close(done) }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Pool of 1 with a blocked worker must reject further submissions.
	var rejected bool
	for i := 0; i < 10; i++ {
		if err := p.Submit(func() {}); err == ErrPoolOverload {
			rejected = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(block)
	<-done

	if !rejected {
		t.Error("expected ErrPoolOverload from saturated non-blocking pool")
	}
	if p.Stats().RejectedTasks == 0 {
		t.Error("Stats().RejectedTasks = 0, want > 0")
	}
}

func TestPoolPanicRecovery(t *testing.T) {
	p, err := New("test", DefaultPool, &Config{
		Capacity:       2,
		ExpiryDuration: time.Second,
		PanicHandler:   func(interface{}) {},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Release()

	if err := p.Submit(func() { panic("boom") }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().PanicRecovered == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Stats().PanicRecovered = %d, want 1", p.Stats().PanicRecovered)
}
