package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	poolopts "github.com/kart-io/memvault/pkg/options/pool"
)

func testPoolOptions() *poolopts.Options {
	o := poolopts.NewOptions()
	o.MinSize = 1
	o.MaxSize = 2
	o.AcquireTimeout = 200 * time.Millisecond
	o.CloseGrace = time.Second
	o.HealthCheckOnAcquire = false
	return o
}

func newTestPool(t *testing.T, opts *poolopts.Options) *Pool {
	t.Helper()
	p, err := NewPool(context.Background(), opts, MemoryFactory("test"), nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func waitForWaiters(t *testing.T, p *Pool, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().Waiters >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("waiters never reached %d, stats = %+v", n, p.Stats())
}

func TestPoolWarmup(t *testing.T) {
	opts := testPoolOptions()
	opts.MinSize = 2
	p := newTestPool(t, opts)

	stats := p.Stats()
	if stats.Total != 2 || stats.Idle != 2 {
		t.Errorf("after warmup stats = %+v, want total=2 idle=2", stats)
	}
}

func TestPoolAcquireRelease(t *testing.T) {
	p := newTestPool(t, testPoolOptions())

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := p.Stats().InUse; got != 1 {
		t.Errorf("InUse = %d, want 1", got)
	}

	p.Release(conn)
	stats := p.Stats()
	if stats.InUse != 0 || stats.Idle != 1 {
		t.Errorf("after release stats = %+v, want in_use=0 idle=1", stats)
	}
}

func TestPoolGrowsToMax(t *testing.T) {
	p := newTestPool(t, testPoolOptions())

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() #1 error = %v", err)
	}
	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() #2 error = %v", err)
	}
	if c1 == c2 {
		t.Fatal("pool handed out the same connection twice")
	}
	if got := p.Stats().Total; got != 2 {
		t.Errorf("Total = %d, want 2", got)
	}
	p.Release(c1)
	p.Release(c2)
}

func TestPoolExhaustedTimeout(t *testing.T) {
	p := newTestPool(t, testPoolOptions())

	c1, _ := p.Acquire(context.Background())
	c2, _ := p.Acquire(context.Background())
	defer p.Release(c1)
	defer p.Release(c2)

	start := time.Now()
	_, err := p.Acquire(context.Background())
	waited := time.Since(start)

	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Acquire() on full pool error = %v, want ErrPoolExhausted", err)
	}
	if waited < 150*time.Millisecond {
		t.Errorf("Acquire() returned after %v, want close to the 200ms timeout", waited)
	}
	if got := p.Stats().Timeouts; got != 1 {
		t.Errorf("Timeouts = %d, want 1", got)
	}
}

func TestPoolWaiterServedOnRelease(t *testing.T) {
	opts := testPoolOptions()
	opts.AcquireTimeout = 2 * time.Second
	p := newTestPool(t, opts)

	c1, _ := p.Acquire(context.Background())
	c2, _ := p.Acquire(context.Background())

	got := make(chan *Conn, 1)
	go func() {
		conn, err := p.Acquire(context.Background())
		if err != nil {
			t.Errorf("waiter Acquire() error = %v", err)
		}
		got <- conn
	}()
	waitForWaiters(t, p, 1)

	p.Release(c1)

	select {
	case conn := <-got:
		if conn != c1 {
			t.Error("waiter received a different connection than the released one")
		}
		p.Release(conn)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not served after release")
	}
	p.Release(c2)
}

func TestPoolWaitersFIFO(t *testing.T) {
	opts := testPoolOptions()
	opts.MinSize = 1
	opts.MaxSize = 1
	opts.AcquireTimeout = 5 * time.Second
	p := newTestPool(t, opts)

	held, _ := p.Acquire(context.Background())

	order := make(chan int, 2)
	acquireInOrder := func(n int) {
		conn, err := p.Acquire(context.Background())
		if err != nil {
			t.Errorf("waiter %d Acquire() error = %v", n, err)
			return
		}
		order <- n
		p.Release(conn)
	}

	go acquireInOrder(1)
	waitForWaiters(t, p, 1)
	go acquireInOrder(2)
	waitForWaiters(t, p, 2)

	p.Release(held)

	first := <-order
	second := <-order
	if first != 1 || second != 2 {
		t.Errorf("waiters served in order %d,%d, want 1,2", first, second)
	}
}

func TestPoolCloseCancelsWaiters(t *testing.T) {
	opts := testPoolOptions()
	opts.MinSize = 1
	opts.MaxSize = 1
	opts.AcquireTimeout = 5 * time.Second
	p := newTestPool(t, opts)

	held, _ := p.Acquire(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()
	waitForWaiters(t, p, 1)

	go func() {
		// Keep Close from stalling on the held connection.
		time.Sleep(50 * time.Millisecond)
		p.Release(held)
	}()
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("waiter error = %v, want ErrPoolClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not cancelled by Close")
	}

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() after Close error = %v, want ErrPoolClosed", err)
	}
}

func TestPoolAcquireContextCancel(t *testing.T) {
	opts := testPoolOptions()
	opts.MinSize = 1
	opts.MaxSize = 1
	opts.AcquireTimeout = 5 * time.Second
	p := newTestPool(t, opts)

	held, _ := p.Acquire(context.Background())
	defer p.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()
	waitForWaiters(t, p, 1)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Acquire() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire not cancelled by context")
	}
}

func TestPoolRecyclesAgedConnections(t *testing.T) {
	opts := testPoolOptions()
	opts.MinSize = 1
	opts.MaxConnAge = 30 * time.Millisecond
	p := newTestPool(t, opts)

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	firstID := conn.ID()
	time.Sleep(50 * time.Millisecond)
	p.Release(conn)

	if got := p.Stats().Recycled; got != 1 {
		t.Errorf("Recycled = %d, want 1", got)
	}

	// The next acquire must not reuse the aged connection.
	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after recycle error = %v", err)
	}
	if conn2.ID() == firstID {
		t.Error("aged connection was handed out again")
	}
	p.Release(conn2)
}

func TestPoolDiscardsBrokenConnections(t *testing.T) {
	p := newTestPool(t, testPoolOptions())

	conn, _ := p.Acquire(context.Background())
	firstID := conn.ID()
	conn.MarkBroken()
	p.Release(conn)

	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if conn2.ID() == firstID {
		t.Error("broken connection was handed out again")
	}
	p.Release(conn2)
}

func TestPoolHealthCheckOnAcquire(t *testing.T) {
	opts := testPoolOptions()
	opts.HealthCheckOnAcquire = true
	p := newTestPool(t, opts)

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release(conn)
	// Poison the idle connection; the fast check must catch it.
	conn.MarkBroken()

	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() past unhealthy conn error = %v", err)
	}
	if conn2 == conn {
		t.Error("unhealthy connection was handed out")
	}
	if got := p.Stats().HealthDiscards; got != 1 {
		t.Errorf("HealthDiscards = %d, want 1", got)
	}
	p.Release(conn2)
}

func TestPoolStatsWaitPercentiles(t *testing.T) {
	p := newTestPool(t, testPoolOptions())

	for i := 0; i < 10; i++ {
		conn, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		p.Release(conn)
	}

	stats := p.Stats()
	if stats.Acquires != 10 {
		t.Errorf("Acquires = %d, want 10", stats.Acquires)
	}
	if stats.P95Wait < stats.P50Wait {
		t.Errorf("P95Wait %v < P50Wait %v", stats.P95Wait, stats.P50Wait)
	}
	if stats.MaxWait < stats.P95Wait {
		t.Errorf("MaxWait %v < P95Wait %v", stats.MaxWait, stats.P95Wait)
	}
	if stats.P95Wait < stats.AvgWait {
		t.Errorf("P95Wait %v < AvgWait %v", stats.P95Wait, stats.AvgWait)
	}
}

func TestPoolOpenAtCapacity(t *testing.T) {
	opts := testPoolOptions()
	opts.MinSize = 1
	opts.MaxSize = 1
	p := newTestPool(t, opts)

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer p.Release(conn)

	// Simulates losing the capacity check to a concurrent opener: the
	// reservation inside open must refuse a slot past MaxSize.
	if _, err := p.open(context.Background()); err != errAtCapacity {
		t.Fatalf("open() at capacity error = %v, want errAtCapacity", err)
	}
	if got := p.Stats().Total; got != 1 {
		t.Errorf("Total = %d, want 1", got)
	}
}

func TestPoolBoundsUnderConcurrentLoad(t *testing.T) {
	opts := testPoolOptions()
	opts.MinSize = 2
	opts.MaxSize = 5
	opts.AcquireTimeout = 5 * time.Second
	p := newTestPool(t, opts)

	const callers = 20
	var checkedOut, maxCheckedOut atomic.Int64
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		go func() {
			conn, err := p.Acquire(context.Background())
			if err != nil {
				errs <- err
				return
			}
			out := checkedOut.Add(1)
			for {
				prev := maxCheckedOut.Load()
				if out <= prev || maxCheckedOut.CompareAndSwap(prev, out) {
					break
				}
			}
			// Slow release so acquires pile up behind the cap.
			time.Sleep(20 * time.Millisecond)
			checkedOut.Add(-1)
			p.Release(conn)
			errs <- nil
		}()
	}

	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	if got := maxCheckedOut.Load(); got > 5 {
		t.Errorf("max simultaneously checked out = %d, want at most 5", got)
	}
	if stats := p.Stats(); stats.Total > 5 {
		t.Errorf("Total = %d, want at most 5", stats.Total)
	}
}

func TestPoolFactoryFailure(t *testing.T) {
	var calls atomic.Int64
	factory := func(ctx context.Context) (Backend, error) {
		calls.Add(1)
		return nil, errors.New("backend down")
	}
	opts := testPoolOptions()
	_, err := NewPool(context.Background(), opts, factory, nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("NewPool() with failing factory error = %v, want ErrConnectionFailed", err)
	}
	if calls.Load() == 0 {
		t.Error("factory was never called")
	}
}
