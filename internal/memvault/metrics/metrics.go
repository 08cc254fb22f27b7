// Package metrics collects memvault operation counters.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Operation names used as counter keys.
const (
	OpStore       = "store"
	OpRetrieve    = "retrieve"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpList        = "list"
	OpBulkPreview = "bulk_preview"
	OpBulkExecute = "bulk_execute"
	OpRollback    = "rollback"
	OpSweep       = "sweep"
)

type opCounter struct {
	total     uint64
	errors    uint64
	durationS float64
}

// Metrics tracks per-operation totals, errors and cumulative latency.
type Metrics struct {
	mu        sync.RWMutex
	ops       map[string]*opCounter
	startTime time.Time
}

var (
	global *Metrics
	once   sync.Once
)

// Get returns the global metrics instance.
func Get() *Metrics {
	once.Do(func() {
		global = New()
	})
	return global
}

// New creates an empty metrics collector.
func New() *Metrics {
	return &Metrics{
		ops:       make(map[string]*opCounter),
		startTime: time.Now(),
	}
}

func (m *Metrics) counter(op string) *opCounter {
	m.mu.RLock()
	c, ok := m.ops[op]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.ops[op]; ok {
		return c
	}
	c = &opCounter{}
	m.ops[op] = c
	return c
}

// Record counts one operation with its outcome and duration.
func (m *Metrics) Record(op string, duration time.Duration, err error) {
	c := m.counter(op)
	atomic.AddUint64(&c.total, 1)
	if err != nil {
		atomic.AddUint64(&c.errors, 1)
	}

	m.mu.Lock()
	c.durationS += duration.Seconds()
	m.mu.Unlock()
}

// OpSnapshot is the exported view of one operation's counters.
type OpSnapshot struct {
	Total        uint64  `json:"total"`
	Errors       uint64  `json:"errors"`
	AvgDurationS float64 `json:"avg_duration_s"`
}

// Snapshot exports all counters.
func (m *Metrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make(map[string]OpSnapshot, len(m.ops))
	for name, c := range m.ops {
		total := atomic.LoadUint64(&c.total)
		snap := OpSnapshot{
			Total:  total,
			Errors: atomic.LoadUint64(&c.errors),
		}
		if total > 0 {
			snap.AvgDurationS = c.durationS / float64(total)
		}
		ops[name] = snap
	}

	return map[string]interface{}{
		"uptime_s":   time.Since(m.startTime).Seconds(),
		"operations": ops,
	}
}
