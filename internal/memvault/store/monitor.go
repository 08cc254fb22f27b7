package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/memvault/pkg/infra/periodic"
	"github.com/kart-io/memvault/pkg/infra/workerpool"
)

// Fallback alert thresholds when the config leaves them zero.
const (
	defaultUtilizationAlert = 0.9
	defaultP95WaitAlert     = 100 * time.Millisecond
)

// MonitorConfig tunes the pool monitor.
type MonitorConfig struct {
	// Interval between snapshots.
	Interval time.Duration
	// Sample is the number of idle connections probed per tick.
	Sample int
	// UtilizationAlert is the in-use fraction above which the monitor alerts.
	UtilizationAlert float64
	// P95WaitAlert is the p95 acquire wait above which the monitor alerts.
	P95WaitAlert time.Duration
}

// MonitorSnapshot is one observation taken by the pool monitor.
type MonitorSnapshot struct {
	TakenAt        time.Time                   `json:"taken_at"`
	Pool           PoolStats                   `json:"pool"`
	Health         map[HealthLevel]HealthStats `json:"health"`
	SampleChecked  int                         `json:"sample_checked"`
	SampleDiscards int                         `json:"sample_discards"`
	Alerts         []string                    `json:"alerts,omitempty"`
}

// Monitor periodically snapshots pool state, probes a sample of idle
// connections, and logs alerts when the pool runs hot.
type Monitor struct {
	pool     *Pool
	cfg      MonitorConfig
	runner   *periodic.Runner
	checkers *workerpool.Pool

	mu   sync.RWMutex
	last *MonitorSnapshot
}

// NewMonitor creates a monitor sampling the pool every cfg.Interval.
func NewMonitor(pool *Pool, cfg MonitorConfig) (*Monitor, error) {
	checkers, err := workerpool.New("pool-monitor", workerpool.HealthCheckPool, workerpool.HealthCheckConfig())
	if err != nil {
		return nil, err
	}

	if cfg.UtilizationAlert <= 0 {
		cfg.UtilizationAlert = defaultUtilizationAlert
	}
	if cfg.P95WaitAlert <= 0 {
		cfg.P95WaitAlert = defaultP95WaitAlert
	}
	m := &Monitor{
		pool:     pool,
		cfg:      cfg,
		checkers: checkers,
	}
	m.runner = periodic.NewRunner("pool-monitor", cfg.Interval, m.observe)
	return m, nil
}

// Start begins monitoring.
func (m *Monitor) Start() {
	m.runner.Start()
}

// Stop halts monitoring and releases the probe worker pool.
func (m *Monitor) Stop() {
	m.runner.Stop()
	m.checkers.Release()
}

// Last returns the most recent snapshot, or nil before the first tick.
func (m *Monitor) Last() *MonitorSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) observe(ctx context.Context) {
	snap := &MonitorSnapshot{
		TakenAt: time.Now(),
		Pool:    m.pool.Stats(),
		Health:  m.pool.HealthStats(),
	}

	// Probe idle connections off the monitor tick so a slow backend does
	// not delay the snapshot.
	done := make(chan struct{})
	err := m.checkers.SubmitWithContext(ctx, func() {
		defer close(done)
		snap.SampleChecked, snap.SampleDiscards = m.pool.CheckIdle(ctx, m.cfg.Sample, HealthBasic)
	})
	if err != nil {
		close(done)
		logger.Debugw("Pool monitor probe skipped", "error", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
	}

	if u := snap.Pool.Utilization(); u > m.cfg.UtilizationAlert {
		snap.Alerts = append(snap.Alerts,
			fmt.Sprintf("pool utilization %.2f above %.2f", u, m.cfg.UtilizationAlert))
		logger.Warnw("Pool utilization high",
			"utilization", u,
			"in_use", snap.Pool.InUse,
			"max", snap.Pool.MaxSize,
			"waiters", snap.Pool.Waiters,
		)
	}
	if snap.Pool.P95Wait > m.cfg.P95WaitAlert {
		snap.Alerts = append(snap.Alerts,
			fmt.Sprintf("p95 acquire wait %s above %s", snap.Pool.P95Wait, m.cfg.P95WaitAlert))
		logger.Warnw("Pool acquire latency high",
			"p95_wait", snap.Pool.P95Wait.String(),
			"avg_wait", snap.Pool.AvgWait.String(),
		)
	}

	logger.Debugw("Pool monitor snapshot",
		"total", snap.Pool.Total,
		"idle", snap.Pool.Idle,
		"in_use", snap.Pool.InUse,
		"waiters", snap.Pool.Waiters,
		"sample_checked", snap.SampleChecked,
		"sample_discards", snap.SampleDiscards,
	)

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()
}
