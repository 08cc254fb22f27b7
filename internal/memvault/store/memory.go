package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kart-io/memvault/internal/memvault/model"
)

// MemoryBackend is an in-process Backend keeping records in a map. It backs
// unit tests and the standalone development mode.
type MemoryBackend struct {
	name string

	mu      sync.RWMutex
	records map[string]*model.Record
	closed  bool
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(name string) *MemoryBackend {
	return &MemoryBackend{
		name:    name,
		records: make(map[string]*model.Record),
	}
}

// MemoryFactory returns a Factory producing independent in-memory backends
// sharing one record map, so every pooled connection sees the same data.
func MemoryFactory(name string) Factory {
	shared := NewMemoryBackend(name)
	return func(ctx context.Context) (Backend, error) {
		return &sharedMemoryConn{backend: shared}, nil
	}
}

// sharedMemoryConn is one pooled handle onto a shared MemoryBackend. Close
// releases only the handle, not the shared data.
type sharedMemoryConn struct {
	backend *MemoryBackend
	mu      sync.Mutex
	closed  bool
}

func (c *sharedMemoryConn) Upsert(ctx context.Context, records []*model.Record) error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.backend.Upsert(ctx, records)
}

func (c *sharedMemoryConn) Get(ctx context.Context, id string) (*model.Record, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	return c.backend.Get(ctx, id)
}

func (c *sharedMemoryConn) Query(ctx context.Context, q Query) ([]*model.Record, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	return c.backend.Query(ctx, q)
}

func (c *sharedMemoryConn) Count(ctx context.Context, q Query) (int64, error) {
	if err := c.alive(); err != nil {
		return 0, err
	}
	return c.backend.Count(ctx, q)
}

func (c *sharedMemoryConn) Delete(ctx context.Context, ids []string) error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.backend.Delete(ctx, ids)
}

func (c *sharedMemoryConn) Ping(ctx context.Context) error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.backend.Ping(ctx)
}

func (c *sharedMemoryConn) Describe(ctx context.Context) (*BackendInfo, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	return c.backend.Describe(ctx)
}

func (c *sharedMemoryConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *sharedMemoryConn) alive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionFailed.WithMessage("connection is closed")
	}
	return nil
}

// Upsert implements Backend.
func (m *MemoryBackend) Upsert(ctx context.Context, records []*model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrConnectionFailed.WithMessage("backend is closed")
	}
	for _, r := range records {
		m.records[r.ID] = r.Clone()
	}
	return nil
}

// Get implements Backend.
func (m *MemoryBackend) Get(ctx context.Context, id string) (*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrConnectionFailed.WithMessage("backend is closed")
	}
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound.WithContext(map[string]interface{}{"id": id})
	}
	return r.Clone(), nil
}

// Query implements Backend.
func (m *MemoryBackend) Query(ctx context.Context, q Query) ([]*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrConnectionFailed.WithMessage("backend is closed")
	}

	var out []*model.Record
	for _, r := range m.records {
		if matches(q, r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Count implements Backend.
func (m *MemoryBackend) Count(ctx context.Context, q Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrConnectionFailed.WithMessage("backend is closed")
	}
	var n int64
	for _, r := range m.records {
		if matches(q, r) {
			n++
		}
	}
	return n, nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrConnectionFailed.WithMessage("backend is closed")
	}
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

// Ping implements Backend.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrConnectionFailed.WithMessage("backend is closed")
	}
	return nil
}

// Describe implements Backend.
func (m *MemoryBackend) Describe(ctx context.Context) (*BackendInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrConnectionFailed.WithMessage("backend is closed")
	}
	return &BackendInfo{
		Name:       "memory",
		Collection: m.name,
		Records:    int64(len(m.records)),
	}, nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func matches(q Query, r *model.Record) bool {
	deleted := r.Deleted()
	if q.DeletedOnly && !deleted {
		return false
	}
	if !q.DeletedOnly && !q.IncludeDeleted && deleted {
		return false
	}
	if q.Category != "" && r.Category != q.Category {
		return false
	}
	if q.Project != "" && r.Project != q.Project {
		return false
	}
	for _, want := range q.Tags {
		found := false
		for _, tag := range r.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.MinImportance > 0 && r.Importance < q.MinImportance {
		return false
	}
	if !q.CreatedBefore.IsZero() && !r.CreatedAt.Before(q.CreatedBefore) {
		return false
	}
	if q.RollbackToken != "" {
		if !deleted || r.Deletion.RollbackToken != q.RollbackToken {
			return false
		}
	}
	if !q.DeletedBefore.IsZero() {
		if !deleted || !r.Deletion.DeletedAt.Before(q.DeletedBefore) {
			return false
		}
	}
	return true
}
