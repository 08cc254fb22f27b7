package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// flakyBackend fails selected probe operations.
type flakyBackend struct {
	*MemoryBackend
	pingErr     error
	describeErr error
}

func (f *flakyBackend) Ping(ctx context.Context) error {
	if f.pingErr != nil {
		return f.pingErr
	}
	return f.MemoryBackend.Ping(ctx)
}

func (f *flakyBackend) Describe(ctx context.Context) (*BackendInfo, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return f.MemoryBackend.Describe(ctx)
}

func newTestConn(b Backend) *Conn {
	now := time.Now()
	return &Conn{id: 1, backend: b, createdAt: now, lastUsed: now}
}

func TestHealthCheckLevels(t *testing.T) {
	h := NewHealthChecker()
	ctx := context.Background()

	healthy := newTestConn(NewMemoryBackend("test"))
	for _, level := range []HealthLevel{HealthFast, HealthBasic, HealthComprehensive} {
		if err := h.Check(ctx, healthy, level); err != nil {
			t.Errorf("Check(healthy, %s) error = %v", level, err)
		}
	}

	badPing := newTestConn(&flakyBackend{
		MemoryBackend: NewMemoryBackend("test"),
		pingErr:       errors.New("connection reset"),
	})
	// Every level starts with a ping, so a dead backend fails even fast.
	if err := h.Check(ctx, badPing, HealthFast); !errors.Is(err, ErrConnUnhealthy) {
		t.Errorf("Check(bad ping, fast) error = %v, want ErrConnUnhealthy", err)
	}

	badDescribe := newTestConn(&flakyBackend{
		MemoryBackend: NewMemoryBackend("test"),
		describeErr:   errors.New("collection missing"),
	})
	if err := h.Check(ctx, badDescribe, HealthBasic); err != nil {
		t.Errorf("Check(bad describe, basic) error = %v, want nil", err)
	}
	if err := h.Check(ctx, badDescribe, HealthComprehensive); !errors.Is(err, ErrConnUnhealthy) {
		t.Errorf("Check(bad describe, comprehensive) error = %v, want ErrConnUnhealthy", err)
	}
}

func TestHealthCheckBrokenConn(t *testing.T) {
	h := NewHealthChecker()
	conn := newTestConn(NewMemoryBackend("test"))
	conn.MarkBroken()

	if err := h.Check(context.Background(), conn, HealthFast); !errors.Is(err, ErrConnUnhealthy) {
		t.Errorf("Check(broken, fast) error = %v, want ErrConnUnhealthy", err)
	}
}

func TestHealthCheckStats(t *testing.T) {
	h := NewHealthChecker()
	ctx := context.Background()

	conn := newTestConn(NewMemoryBackend("test"))
	_ = h.Check(ctx, conn, HealthBasic)
	conn.MarkBroken()
	_ = h.Check(ctx, conn, HealthBasic)

	stats := h.Stats()[HealthBasic]
	if stats.Checks != 2 {
		t.Errorf("Checks = %d, want 2", stats.Checks)
	}
	if stats.Failures != 1 {
		t.Errorf("Failures = %d, want 1", stats.Failures)
	}
	if stats.LastError == "" {
		t.Error("LastError empty after a failed check")
	}
}

func TestMonitorSnapshots(t *testing.T) {
	opts := testPoolOptions()
	pool, err := NewPool(context.Background(), opts, MemoryFactory("test"), nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Close()

	m, err := NewMonitor(pool, MonitorConfig{Interval: 20 * time.Millisecond, Sample: 2})
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := m.Last(); snap != nil {
			if snap.Pool.MaxSize != opts.MaxSize {
				t.Errorf("snapshot max size = %d, want %d", snap.Pool.MaxSize, opts.MaxSize)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("monitor produced no snapshot")
}

func TestMonitorAlertThresholds(t *testing.T) {
	opts := testPoolOptions()
	opts.MinSize = 1
	opts.MaxSize = 1
	pool, err := NewPool(context.Background(), opts, MemoryFactory("test"), nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer pool.Release(conn)

	// Utilization is 1.0 with the single connection checked out; the
	// generous wait threshold keeps the latency alert quiet.
	m, err := NewMonitor(pool, MonitorConfig{
		Interval:         time.Hour,
		UtilizationAlert: 0.5,
		P95WaitAlert:     time.Hour,
	})
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	defer m.Stop()

	m.observe(context.Background())
	snap := m.Last()
	if snap == nil {
		t.Fatal("observe produced no snapshot")
	}
	if len(snap.Alerts) != 1 {
		t.Fatalf("Alerts = %v, want exactly the utilization alert", snap.Alerts)
	}
	if want := "above 0.50"; !strings.Contains(snap.Alerts[0], want) {
		t.Errorf("Alerts[0] = %q, want it to contain %q", snap.Alerts[0], want)
	}
}
