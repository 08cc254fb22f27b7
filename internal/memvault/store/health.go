package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
)

// HealthLevel selects how thoroughly a connection is probed.
type HealthLevel string

const (
	// HealthFast performs a liveness ping.
	HealthFast HealthLevel = "fast"
	// HealthBasic adds a count round trip through the query path.
	HealthBasic HealthLevel = "basic"
	// HealthComprehensive adds a collection describe.
	HealthComprehensive HealthLevel = "comprehensive"
)

// Per-level probe deadlines.
var healthTimeouts = map[HealthLevel]time.Duration{
	HealthFast:          250 * time.Millisecond,
	HealthBasic:         time.Second,
	HealthComprehensive: 2 * time.Second,
}

// HealthStats aggregates probe outcomes for one level.
type HealthStats struct {
	Checks    int64  `json:"checks"`
	Failures  int64  `json:"failures"`
	TotalNs   int64  `json:"total_ns"`
	LastError string `json:"last_error,omitempty"`
}

type healthCounter struct {
	checks   atomic.Int64
	failures atomic.Int64
	totalNs  atomic.Int64
	lastErr  atomic.Value // string
}

// HealthChecker probes pooled connections at increasing depth. A failure
// at any level marks the connection unhealthy and the pool discards it.
type HealthChecker struct {
	counters map[HealthLevel]*healthCounter
}

// NewHealthChecker creates a checker with zeroed statistics.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		counters: map[HealthLevel]*healthCounter{
			HealthFast:          {},
			HealthBasic:         {},
			HealthComprehensive: {},
		},
	}
}

// Check probes conn at the given level. It returns ErrConnUnhealthy wrapping
// the probe failure, or nil when the connection passed.
func (h *HealthChecker) Check(ctx context.Context, conn *Conn, level HealthLevel) error {
	c, ok := h.counters[level]
	if !ok {
		level = HealthBasic
		c = h.counters[level]
	}
	c.checks.Add(1)
	start := time.Now()

	err := h.probe(ctx, conn, level)
	c.totalNs.Add(int64(time.Since(start)))
	if err != nil {
		c.failures.Add(1)
		c.lastErr.Store(err.Error())
		logger.Warnw("Connection health check failed",
			"conn", conn.ID(),
			"level", string(level),
			"error", err,
		)
		return ErrConnUnhealthy.WithCause(err).WithContext(map[string]interface{}{
			"level": string(level),
		})
	}
	return nil
}

func (h *HealthChecker) probe(ctx context.Context, conn *Conn, level HealthLevel) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeouts[level])
	defer cancel()

	// Local state is checked at every level before any I/O.
	if err := conn.localState(); err != nil {
		return err
	}
	if err := conn.backend.Ping(ctx); err != nil {
		return err
	}
	if level == HealthFast {
		return nil
	}

	if _, err := conn.backend.Count(ctx, Query{Limit: 1}); err != nil {
		return err
	}
	if level == HealthBasic {
		return nil
	}

	info, err := conn.backend.Describe(ctx)
	if err != nil {
		return err
	}
	if info.Collection == "" {
		return ErrStorage.WithMessage("backend reported no collection")
	}
	return nil
}

// Stats returns a snapshot of probe statistics per level.
func (h *HealthChecker) Stats() map[HealthLevel]HealthStats {
	out := make(map[HealthLevel]HealthStats, len(h.counters))
	for level, c := range h.counters {
		s := HealthStats{
			Checks:   c.checks.Load(),
			Failures: c.failures.Load(),
			TotalNs:  c.totalNs.Load(),
		}
		if v := c.lastErr.Load(); v != nil {
			s.LastError = v.(string)
		}
		out[level] = s
	}
	return out
}
