package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kart-io/logger"

	poolopts "github.com/kart-io/memvault/pkg/options/pool"
)

const waitSampleWindow = 1000

// Conn is one pooled backend connection with checkout bookkeeping.
type Conn struct {
	id        uint64
	backend   Backend
	createdAt time.Time

	mu       sync.Mutex
	lastUsed time.Time
	broken   bool
}

// ID returns the pool-local connection id.
func (c *Conn) ID() uint64 {
	return c.id
}

// Backend returns the underlying connection.
func (c *Conn) Backend() Backend {
	return c.backend
}

// MarkBroken flags the connection for discard on release. Callers use it
// after an operation error that suggests the connection itself is bad.
func (c *Conn) MarkBroken() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

// Age returns how long ago the connection was created.
func (c *Conn) Age() time.Duration {
	return time.Since(c.createdAt)
}

// IdleFor returns how long the connection has been unused.
func (c *Conn) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsed)
}

func (c *Conn) localState() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return ErrConnectionFailed.WithMessage("connection marked broken")
	}
	return nil
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// PoolStats is a point-in-time snapshot of pool state.
type PoolStats struct {
	Total   int `json:"total"`
	Idle    int `json:"idle"`
	InUse   int `json:"in_use"`
	Waiters int `json:"waiters"`
	MaxSize int `json:"max_size"`
	MinSize int `json:"min_size"`

	Acquires       int64 `json:"acquires"`
	Timeouts       int64 `json:"timeouts"`
	Created        int64 `json:"created"`
	Recycled       int64 `json:"recycled"`
	HealthDiscards int64 `json:"health_discards"`

	AvgWait time.Duration `json:"avg_wait_ns"`
	P50Wait time.Duration `json:"p50_wait_ns"`
	P95Wait time.Duration `json:"p95_wait_ns"`
	MaxWait time.Duration `json:"max_wait_ns"`
}

// Utilization returns in-use connections as a fraction of max size.
func (s PoolStats) Utilization() float64 {
	if s.MaxSize == 0 {
		return 0
	}
	return float64(s.InUse) / float64(s.MaxSize)
}

// waiter is one Acquire call queued for a released connection. The channel
// is buffered so a handoff never blocks the releaser.
type waiter struct {
	ch chan *Conn
}

// Pool is a bounded connection pool. Connections are checked out
// exclusively, waiters are served strictly first come first served, and
// connections past their age or idle budget are recycled instead of reused.
type Pool struct {
	opts    *poolopts.Options
	factory Factory
	checker *HealthChecker

	mu      sync.Mutex
	idle    []*Conn
	inUse   map[*Conn]struct{}
	waiters []*waiter
	total   int
	closed  bool
	closeCh chan struct{}
	drained chan struct{}
	nextID  uint64

	acquires       int64
	timeouts       int64
	created        int64
	recycled       int64
	healthDiscards int64
	waitSamples    []time.Duration
	waitIdx        int
}

// NewPool creates a pool and warms it to the configured minimum size. It
// fails when not even one connection can be opened.
func NewPool(ctx context.Context, opts *poolopts.Options, factory Factory, checker *HealthChecker) (*Pool, error) {
	if checker == nil {
		checker = NewHealthChecker()
	}
	p := &Pool{
		opts:    opts,
		factory: factory,
		checker: checker,
		inUse:   make(map[*Conn]struct{}),
		closeCh: make(chan struct{}),
		drained: make(chan struct{}),
	}

	for i := 0; i < opts.MinSize; i++ {
		conn, err := p.open(ctx)
		if err != nil {
			if i == 0 {
				p.closeIdleLocked()
				return nil, ErrConnectionFailed.WithCause(err)
			}
			logger.Warnw("Pool warmup stopped short of min size",
				"opened", i,
				"min", opts.MinSize,
				"error", err,
			)
			break
		}
		p.mu.Lock()
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
	}

	logger.Infow("Connection pool ready",
		"min", opts.MinSize,
		"max", opts.MaxSize,
		"acquire_timeout", opts.AcquireTimeout.String(),
	)
	return p, nil
}

// errAtCapacity reports that a capacity slot was taken by a concurrent
// opener between the caller's check and the reservation here.
var errAtCapacity = ErrPoolExhausted.WithMessage("pool is at capacity")

// open creates a connection and accounts for it in total. The capacity
// re-check and the reservation happen under one lock so concurrent openers
// can never push total past MaxSize.
func (p *Pool) open(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.total >= p.opts.MaxSize {
		p.mu.Unlock()
		return nil, errAtCapacity
	}
	p.total++
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	backend, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.created++
	p.mu.Unlock()

	now := time.Now()
	return &Conn{id: id, backend: backend, createdAt: now, lastUsed: now}, nil
}

// Acquire checks out a connection. It blocks up to the configured acquire
// timeout behind earlier waiters, returning ErrPoolExhausted on timeout and
// ErrPoolClosed if the pool closes while waiting.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		// Newest idle connection first; stale ones age out at the bottom.
		if n := len(p.idle); n > 0 {
			conn := p.idle[n-1]
			p.idle = p.idle[:n-1]
			if p.expired(conn) {
				p.total--
				p.recycled++
				p.mu.Unlock()
				p.closeConn(conn)
				continue
			}
			p.inUse[conn] = struct{}{}
			p.acquires++
			p.mu.Unlock()

			if p.opts.HealthCheckOnAcquire {
				if err := p.checker.Check(ctx, conn, HealthFast); err != nil {
					p.discard(conn)
					continue
				}
			}
			p.recordWait(time.Since(start))
			conn.touch()
			return conn, nil
		}

		if p.total < p.opts.MaxSize {
			p.mu.Unlock()
			conn, err := p.open(ctx)
			if err != nil {
				if err == ErrPoolClosed {
					return nil, err
				}
				// Lost the slot to a concurrent opener; go queue up.
				if err == errAtCapacity {
					continue
				}
				return nil, ErrConnectionFailed.WithCause(err)
			}
			p.mu.Lock()
			if p.closed {
				p.total--
				p.mu.Unlock()
				p.closeConn(conn)
				return nil, ErrPoolClosed
			}
			p.inUse[conn] = struct{}{}
			p.acquires++
			p.mu.Unlock()
			p.recordWait(time.Since(start))
			return conn, nil
		}

		// Pool is at capacity with nothing idle: queue up.
		w := &waiter{ch: make(chan *Conn, 1)}
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		remaining := p.opts.AcquireTimeout - time.Since(start)
		if remaining <= 0 {
			p.abandonWaiter(w)
			p.noteTimeout()
			return nil, p.exhausted(start)
		}
		timer := time.NewTimer(remaining)

		select {
		case conn := <-w.ch:
			timer.Stop()
			p.recordWait(time.Since(start))
			conn.touch()
			return conn, nil
		case <-timer.C:
			if conn := p.abandonWaiter(w); conn != nil {
				// Handoff raced the timeout; the connection wins.
				p.recordWait(time.Since(start))
				conn.touch()
				return conn, nil
			}
			p.noteTimeout()
			return nil, p.exhausted(start)
		case <-ctx.Done():
			timer.Stop()
			if conn := p.abandonWaiter(w); conn != nil {
				p.Release(conn)
			}
			return nil, ctx.Err()
		case <-p.closeCh:
			timer.Stop()
			if conn := p.abandonWaiter(w); conn != nil {
				p.discard(conn)
			}
			return nil, ErrPoolClosed
		}
	}
}

// abandonWaiter removes w from the queue. When the handoff already happened
// it drains and returns the delivered connection.
func (p *Pool) abandonWaiter(w *waiter) *Conn {
	p.mu.Lock()
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return nil
		}
	}
	p.mu.Unlock()

	select {
	case conn := <-w.ch:
		return conn
	default:
		return nil
	}
}

func (p *Pool) exhausted(start time.Time) error {
	stats := p.Stats()
	return ErrPoolExhausted.WithContext(map[string]interface{}{
		"waited":  time.Since(start).String(),
		"in_use":  stats.InUse,
		"waiters": stats.Waiters,
	})
}

// Release returns a connection to the pool. Broken or budget-expired
// connections are closed; otherwise the longest-waiting Acquire gets the
// connection directly, or it goes back onto the idle stack.
func (p *Pool) Release(conn *Conn) {
	p.mu.Lock()
	delete(p.inUse, conn)

	if p.closed {
		p.total--
		remaining := p.total
		p.mu.Unlock()
		p.closeConn(conn)
		if remaining == 0 {
			p.signalDrained()
		}
		return
	}

	if conn.localState() != nil || p.expired(conn) {
		p.total--
		p.recycled++
		p.mu.Unlock()
		p.closeConn(conn)
		p.refill()
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.inUse[conn] = struct{}{}
		p.acquires++
		p.mu.Unlock()
		conn.touch()
		w.ch <- conn
		return
	}

	conn.touch()
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// discard closes a checked-out connection without reuse and backfills when
// waiters are queued.
func (p *Pool) discard(conn *Conn) {
	p.mu.Lock()
	delete(p.inUse, conn)
	p.total--
	p.healthDiscards++
	closed := p.closed
	remaining := p.total
	p.mu.Unlock()

	p.closeConn(conn)
	if closed {
		if remaining == 0 {
			p.signalDrained()
		}
		return
	}
	p.refill()
}

// refill opens a replacement connection when demand (waiters or the min
// size floor) requires one.
func (p *Pool) refill() {
	p.mu.Lock()
	need := !p.closed && p.total < p.opts.MaxSize &&
		(len(p.waiters) > 0 || p.total < p.opts.MinSize)
	p.mu.Unlock()
	if !need {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.AcquireTimeout)
		defer cancel()
		conn, err := p.open(ctx)
		if err != nil {
			if err != ErrPoolClosed && err != errAtCapacity {
				logger.Warnw("Pool refill failed", "error", err)
			}
			return
		}
		p.Release(conn)
	}()
}

// CheckIdle probes up to n idle connections at the given level, discarding
// failures. It never blocks behind checked-out connections. Used by the
// pool monitor.
func (p *Pool) CheckIdle(ctx context.Context, n int, level HealthLevel) (checked, discarded int) {
	for i := 0; i < n; i++ {
		p.mu.Lock()
		if p.closed || len(p.idle) == 0 {
			p.mu.Unlock()
			return
		}
		// Oldest idle connection first.
		conn := p.idle[0]
		p.idle = p.idle[1:]
		p.inUse[conn] = struct{}{}
		p.mu.Unlock()

		checked++
		if err := p.checker.Check(ctx, conn, level); err != nil {
			discarded++
			p.discard(conn)
			continue
		}
		p.Release(conn)
	}
	return
}

// Close shuts the pool down. Waiters are failed immediately with
// ErrPoolClosed, idle connections are closed, and checked-out connections
// get the configured grace period to come back before Close returns.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closeCh)

	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	p.waiters = nil
	remaining := p.total
	p.mu.Unlock()

	for _, conn := range idle {
		p.closeConn(conn)
	}

	if remaining == 0 {
		p.signalDrained()
	}

	select {
	case <-p.drained:
	case <-time.After(p.opts.CloseGrace):
		logger.Warnw("Pool close grace elapsed with connections still out",
			"remaining", remaining,
		)
	}

	logger.Infow("Connection pool closed")
	return nil
}

func (p *Pool) signalDrained() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.drained:
	default:
		close(p.drained)
	}
}

func (p *Pool) expired(conn *Conn) bool {
	if p.opts.MaxConnAge > 0 && conn.Age() > p.opts.MaxConnAge {
		return true
	}
	if p.opts.MaxIdleTime > 0 && conn.IdleFor() > p.opts.MaxIdleTime {
		return true
	}
	return false
}

func (p *Pool) closeConn(conn *Conn) {
	if err := conn.backend.Close(); err != nil {
		logger.Debugw("Closing pooled connection failed", "conn", conn.ID(), "error", err)
	}
}

func (p *Pool) noteTimeout() {
	p.mu.Lock()
	p.timeouts++
	p.mu.Unlock()
}

func (p *Pool) recordWait(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.waitSamples) < waitSampleWindow {
		p.waitSamples = append(p.waitSamples, d)
		return
	}
	p.waitSamples[p.waitIdx] = d
	p.waitIdx = (p.waitIdx + 1) % waitSampleWindow
}

// Stats returns a snapshot of pool state and counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := PoolStats{
		Total:          p.total,
		Idle:           len(p.idle),
		InUse:          len(p.inUse),
		Waiters:        len(p.waiters),
		MaxSize:        p.opts.MaxSize,
		MinSize:        p.opts.MinSize,
		Acquires:       p.acquires,
		Timeouts:       p.timeouts,
		Created:        p.created,
		Recycled:       p.recycled,
		HealthDiscards: p.healthDiscards,
	}

	if n := len(p.waitSamples); n > 0 {
		var sum time.Duration
		sorted := make([]time.Duration, n)
		copy(sorted, p.waitSamples)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for _, d := range sorted {
			sum += d
		}
		s.AvgWait = sum / time.Duration(n)
		s.P50Wait = sorted[n/2]
		idx := (n * 95) / 100
		if idx >= n {
			idx = n - 1
		}
		s.P95Wait = sorted[idx]
		s.MaxWait = sorted[n-1]
	}
	return s
}

// HealthStats returns per-level health probe statistics.
func (p *Pool) HealthStats() map[HealthLevel]HealthStats {
	return p.checker.Stats()
}

func (p *Pool) closeIdleLocked() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	p.mu.Unlock()
	for _, conn := range idle {
		p.closeConn(conn)
	}
}
