package store

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/memvault/internal/memvault/model"
	"github.com/kart-io/memvault/pkg/utils/id"
)

const defaultImportance = 0.5

// defaultListLimit caps listings that do not ask for a limit.
const defaultListLimit = 100

// UpdateRequest carries a partial update. Nil fields are left untouched.
type UpdateRequest struct {
	Content    *string        `json:"content,omitempty"`
	Category   *string        `json:"category,omitempty"`
	Project    *string        `json:"project,omitempty"`
	Tags       *[]string      `json:"tags,omitempty"`
	Metadata   model.Metadata `json:"metadata,omitempty"`
	Importance *float64       `json:"importance,omitempty"`
	Embedding  []float32      `json:"-"`
}

// Engine is the storage gateway. Every operation borrows a connection from
// the provider for exactly its own duration, and read paths exclude
// soft-deleted records unless asked otherwise.
type Engine struct {
	provider Provider
}

// NewEngine creates an engine on top of a provider.
func NewEngine(provider Provider) *Engine {
	return &Engine{provider: provider}
}

// Store validates and persists a new record. Missing ids and timestamps are
// filled in; the record starts in the active lifecycle state.
func (e *Engine) Store(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if rec == nil || rec.Content == "" {
		return nil, ErrValidation.WithMessage("content must not be empty")
	}
	if rec.Importance < 0 || rec.Importance > 1 {
		return nil, ErrValidation.WithMessage("importance must be between 0 and 1")
	}

	out := rec.Clone()
	if out.ID == "" {
		out.ID = id.NewRecordID()
	}
	if out.Importance == 0 {
		out.Importance = defaultImportance
	}
	now := time.Now()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	if !out.State.Valid() {
		out.State = model.StateActive
	}
	out.Deletion = nil

	err := e.provider.WithClient(ctx, func(ctx context.Context, b Backend) error {
		return b.Upsert(ctx, []*model.Record{out})
	})
	if err != nil {
		return nil, err
	}

	logger.Debugw("Record stored", "id", out.ID, "category", out.Category)
	return out, nil
}

// Get returns a record by id. Soft-deleted records are reported as not
// found unless includeDeleted is set.
func (e *Engine) Get(ctx context.Context, recordID string, includeDeleted bool) (*model.Record, error) {
	if recordID == "" {
		return nil, ErrValidation.WithMessage("record id must not be empty")
	}

	var rec *model.Record
	err := e.provider.WithClient(ctx, func(ctx context.Context, b Backend) error {
		var err error
		rec, err = b.Get(ctx, recordID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec.Deleted() && !includeDeleted {
		return nil, ErrNotFound.WithContext(map[string]interface{}{"id": recordID})
	}
	return rec, nil
}

// Update applies a partial update to a live record and bumps its updated
// timestamp. Updating a soft-deleted record returns ErrNotFound.
func (e *Engine) Update(ctx context.Context, recordID string, req UpdateRequest) (*model.Record, error) {
	if req.Importance != nil && (*req.Importance < 0 || *req.Importance > 1) {
		return nil, ErrValidation.WithMessage("importance must be between 0 and 1")
	}
	if req.Content != nil && *req.Content == "" {
		return nil, ErrValidation.WithMessage("content must not be empty")
	}

	rec, err := e.Get(ctx, recordID, false)
	if err != nil {
		return nil, err
	}

	if req.Content != nil {
		rec.Content = *req.Content
	}
	if req.Category != nil {
		rec.Category = *req.Category
	}
	if req.Project != nil {
		rec.Project = *req.Project
	}
	if req.Tags != nil {
		rec.Tags = append([]string(nil), (*req.Tags)...)
	}
	if req.Metadata != nil {
		rec.Metadata = req.Metadata.Clone()
	}
	if req.Importance != nil {
		rec.Importance = *req.Importance
	}
	if req.Embedding != nil {
		rec.Embedding = append([]float32(nil), req.Embedding...)
	}
	rec.UpdatedAt = time.Now()

	err = e.provider.WithClient(ctx, func(ctx context.Context, b Backend) error {
		return b.Upsert(ctx, []*model.Record{rec})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete soft-deletes a single live record, returning the rollback token
// under which it can be restored.
func (e *Engine) Delete(ctx context.Context, recordID, deletedBy, reason string) (string, error) {
	rec, err := e.Get(ctx, recordID, false)
	if err != nil {
		return "", err
	}

	token := id.NewRollbackToken()
	rec.Deletion = &model.DeletionMetadata{
		RollbackToken: token,
		DeletedAt:     time.Now(),
		DeletedBy:     deletedBy,
		Reason:        reason,
		PriorState:    rec.State,
	}
	rec.State = model.StateArchived

	err = e.provider.WithClient(ctx, func(ctx context.Context, b Backend) error {
		return b.Upsert(ctx, []*model.Record{rec})
	})
	if err != nil {
		return "", err
	}

	logger.Infow("Record soft-deleted", "id", recordID, "token", token)
	return token, nil
}

// List returns records matching the filters, soft-deleted ones excluded by
// default.
func (e *Engine) List(ctx context.Context, f model.ListFilters) ([]*model.Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return e.Query(ctx, Query{
		Category:       f.Category,
		Project:        f.Project,
		Tags:           f.Tags,
		MinImportance:  f.MinImportance,
		IncludeDeleted: f.IncludeDeleted,
		Limit:          limit,
		Offset:         f.Offset,
	})
}

// Query runs a raw backend query.
func (e *Engine) Query(ctx context.Context, q Query) ([]*model.Record, error) {
	var recs []*model.Record
	err := e.provider.WithClient(ctx, func(ctx context.Context, b Backend) error {
		var err error
		recs, err = b.Query(ctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Count counts records matching a raw backend query.
func (e *Engine) Count(ctx context.Context, q Query) (int64, error) {
	var n int64
	err := e.provider.WithClient(ctx, func(ctx context.Context, b Backend) error {
		var err error
		n, err = b.Count(ctx, q)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Upsert writes prepared records as-is. Used by bulk paths that stage their
// own deletion metadata or restores.
func (e *Engine) Upsert(ctx context.Context, recs []*model.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return e.provider.WithClient(ctx, func(ctx context.Context, b Backend) error {
		return b.Upsert(ctx, recs)
	})
}

// Purge removes records permanently. Only the retention sweeper and
// explicit admin paths call it.
func (e *Engine) Purge(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return e.provider.WithClient(ctx, func(ctx context.Context, b Backend) error {
		return b.Delete(ctx, ids)
	})
}

// Describe returns backend collection information.
func (e *Engine) Describe(ctx context.Context) (*BackendInfo, error) {
	var info *BackendInfo
	err := e.provider.WithClient(ctx, func(ctx context.Context, b Backend) error {
		var err error
		info, err = b.Describe(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Stats returns connection provider statistics.
func (e *Engine) Stats() PoolStats {
	return e.provider.Stats()
}

// Close releases the underlying provider.
func (e *Engine) Close() error {
	return e.provider.Close()
}
