package store

import (
	"context"
	"errors"
	"sync"
)

// Provider scopes backend access. WithClient acquires a connection, runs fn
// with it, and guarantees the connection is returned no matter how fn exits.
type Provider interface {
	// WithClient runs fn with an exclusively held backend connection.
	WithClient(ctx context.Context, fn func(ctx context.Context, b Backend) error) error
	// Stats reports pool state; single-client providers report a fixed view.
	Stats() PoolStats
	// Close releases all connections held by the provider.
	Close() error
}

// PooledProvider serves connections from a Pool.
type PooledProvider struct {
	pool *Pool
}

var _ Provider = (*PooledProvider)(nil)

// NewPooledProvider wraps a pool as a Provider.
func NewPooledProvider(pool *Pool) *PooledProvider {
	return &PooledProvider{pool: pool}
}

// WithClient implements Provider. A connection-level failure from fn marks
// the connection broken so the pool recycles it instead of reusing it.
func (p *PooledProvider) WithClient(ctx context.Context, fn func(ctx context.Context, b Backend) error) (err error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			conn.MarkBroken()
			p.pool.Release(conn)
			panic(r)
		}
		if errors.Is(err, ErrConnectionFailed) {
			conn.MarkBroken()
		}
		p.pool.Release(conn)
	}()

	err = fn(ctx, conn.Backend())
	return err
}

// Stats implements Provider.
func (p *PooledProvider) Stats() PoolStats {
	return p.pool.Stats()
}

// Close implements Provider.
func (p *PooledProvider) Close() error {
	return p.pool.Close()
}

// SingleProvider serializes all access onto one backend connection. It
// exists for tests and for tools that do not want pool semantics.
type SingleProvider struct {
	mu      sync.Mutex
	backend Backend
	closed  bool
}

var _ Provider = (*SingleProvider)(nil)

// NewSingleProvider wraps one backend connection as a Provider.
func NewSingleProvider(backend Backend) *SingleProvider {
	return &SingleProvider{backend: backend}
}

// WithClient implements Provider. Calls are serialized with a mutex.
func (s *SingleProvider) WithClient(ctx context.Context, fn func(ctx context.Context, b Backend) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrPoolClosed
	}
	return fn(ctx, s.backend)
}

// Stats implements Provider.
func (s *SingleProvider) Stats() PoolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := PoolStats{Total: 1, MaxSize: 1, MinSize: 1}
	if s.closed {
		stats.Total = 0
	} else {
		stats.Idle = 1
	}
	return stats
}

// Close implements Provider.
func (s *SingleProvider) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}
