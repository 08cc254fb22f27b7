package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/memvault/internal/memvault/model"
	"github.com/kart-io/memvault/pkg/component/milvus"
	milvusopts "github.com/kart-io/memvault/pkg/options/milvus"
)

// milvusBackend adapts the Milvus component to the Backend interface.
// Soft deletion is encoded in the deleted_at column: zero means live, any
// other value is the deletion instant in unix milliseconds.
type milvusBackend struct {
	client *milvus.Client
	dim    int
}

var _ Backend = (*milvusBackend)(nil)

// NewMilvusBackend wraps an already-connected Milvus client.
func NewMilvusBackend(client *milvus.Client, dimension int) Backend {
	return &milvusBackend{client: client, dim: dimension}
}

// MilvusFactory returns a Factory dialing one Milvus connection per pooled
// slot. The collection is ensured once, by the first connection.
func MilvusFactory(opts *milvusopts.Options) Factory {
	var ensureOnce sync.Once
	var ensureErr error

	return func(ctx context.Context) (Backend, error) {
		client, err := milvus.New(ctx, opts)
		if err != nil {
			return nil, ErrConnectionFailed.WithCause(err)
		}
		ensureOnce.Do(func() {
			ensureErr = client.EnsureCollection(ctx)
		})
		if ensureErr != nil {
			_ = client.Close(ctx)
			return nil, ErrConnectionFailed.WithCause(ensureErr)
		}
		return NewMilvusBackend(client, opts.Dimension), nil
	}
}

func (m *milvusBackend) Upsert(ctx context.Context, records []*model.Record) error {
	batch, err := m.toBatch(records)
	if err != nil {
		return ErrValidation.WithCause(err)
	}
	if err := m.client.Upsert(ctx, batch); err != nil {
		return ErrStorage.WithMessage("upsert failed").WithCause(err)
	}
	return nil
}

func (m *milvusBackend) Get(ctx context.Context, id string) (*model.Record, error) {
	expr := fmt.Sprintf(`%s == "%s"`, milvus.FieldID, escapeExpr(id))
	batch, err := m.client.Query(ctx, expr, 1, 0)
	if err != nil {
		return nil, ErrStorage.WithMessage("get failed").WithCause(err)
	}
	if batch.Len() == 0 {
		return nil, ErrNotFound.WithContext(map[string]interface{}{"id": id})
	}
	recs, err := fromBatch(batch)
	if err != nil {
		return nil, ErrStorage.WithCause(err)
	}
	return recs[0], nil
}

func (m *milvusBackend) Query(ctx context.Context, q Query) ([]*model.Record, error) {
	batch, err := m.client.Query(ctx, buildExpr(q), q.Limit, q.Offset)
	if err != nil {
		return nil, ErrStorage.WithMessage("query failed").WithCause(err)
	}
	recs, err := fromBatch(batch)
	if err != nil {
		return nil, ErrStorage.WithCause(err)
	}
	// Milvus queries carry no ordering guarantee; order the page here.
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	return recs, nil
}

func (m *milvusBackend) Count(ctx context.Context, q Query) (int64, error) {
	n, err := m.client.Count(ctx, buildExpr(q))
	if err != nil {
		return 0, ErrStorage.WithMessage("count failed").WithCause(err)
	}
	return n, nil
}

func (m *milvusBackend) Delete(ctx context.Context, ids []string) error {
	if err := m.client.DeleteByIDs(ctx, ids); err != nil {
		return ErrStorage.WithMessage("delete failed").WithCause(err)
	}
	return nil
}

func (m *milvusBackend) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx); err != nil {
		return ErrConnectionFailed.WithCause(err)
	}
	return nil
}

func (m *milvusBackend) Describe(ctx context.Context) (*BackendInfo, error) {
	n, err := m.client.RowCount(ctx)
	if err != nil {
		return nil, ErrStorage.WithMessage("describe failed").WithCause(err)
	}
	return &BackendInfo{
		Name:       "milvus",
		Collection: m.client.Collection(),
		Records:    n,
	}, nil
}

func (m *milvusBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Close(ctx)
}

func (m *milvusBackend) toBatch(records []*model.Record) (*milvus.RowBatch, error) {
	batch := &milvus.RowBatch{}
	for _, r := range records {
		tags, err := json.Marshal(r.Tags)
		if err != nil {
			return nil, fmt.Errorf("encoding tags for %s: %w", r.ID, err)
		}
		var metadata []byte
		if len(r.Metadata) > 0 {
			metadata, err = json.Marshal(r.Metadata)
			if err != nil {
				return nil, fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
			}
		}

		embedding := r.Embedding
		if len(embedding) == 0 {
			embedding = make([]float32, m.dim)
		} else if len(embedding) != m.dim {
			return nil, fmt.Errorf("record %s embedding has %d dims, collection expects %d", r.ID, len(embedding), m.dim)
		}

		var deletedAt int64
		var rollbackID, deletedBy, deletedReason, priorState string
		if r.Deletion != nil {
			deletedAt = r.Deletion.DeletedAt.UnixMilli()
			rollbackID = r.Deletion.RollbackToken
			deletedBy = r.Deletion.DeletedBy
			deletedReason = r.Deletion.Reason
			priorState = string(r.Deletion.PriorState)
		}

		batch.IDs = append(batch.IDs, r.ID)
		batch.Embeddings = append(batch.Embeddings, embedding)
		batch.Contents = append(batch.Contents, r.Content)
		batch.Categories = append(batch.Categories, r.Category)
		batch.Projects = append(batch.Projects, r.Project)
		batch.Tags = append(batch.Tags, string(tags))
		batch.Metadata = append(batch.Metadata, string(metadata))
		batch.Importance = append(batch.Importance, r.Importance)
		batch.States = append(batch.States, string(r.State))
		batch.CreatedAt = append(batch.CreatedAt, r.CreatedAt.UnixMilli())
		batch.UpdatedAt = append(batch.UpdatedAt, r.UpdatedAt.UnixMilli())
		batch.DeletedAt = append(batch.DeletedAt, deletedAt)
		batch.RollbackIDs = append(batch.RollbackIDs, rollbackID)
		batch.DeletedBy = append(batch.DeletedBy, deletedBy)
		batch.DeletedReasons = append(batch.DeletedReasons, deletedReason)
		batch.PriorStates = append(batch.PriorStates, priorState)
	}
	return batch, nil
}

func fromBatch(batch *milvus.RowBatch) ([]*model.Record, error) {
	out := make([]*model.Record, 0, batch.Len())
	for i := 0; i < batch.Len(); i++ {
		rec := &model.Record{
			ID:         batch.IDs[i],
			Content:    batch.Contents[i],
			Category:   batch.Categories[i],
			Project:    batch.Projects[i],
			Importance: batch.Importance[i],
			State:      model.LifecycleState(batch.States[i]),
			CreatedAt:  time.UnixMilli(batch.CreatedAt[i]),
			UpdatedAt:  time.UnixMilli(batch.UpdatedAt[i]),
		}
		if batch.Tags[i] != "" {
			if err := json.Unmarshal([]byte(batch.Tags[i]), &rec.Tags); err != nil {
				return nil, fmt.Errorf("decoding tags for %s: %w", rec.ID, err)
			}
		}
		if batch.Metadata[i] != "" {
			if err := json.Unmarshal([]byte(batch.Metadata[i]), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for %s: %w", rec.ID, err)
			}
		}
		if batch.DeletedAt[i] != 0 {
			rec.Deletion = &model.DeletionMetadata{
				RollbackToken: batch.RollbackIDs[i],
				DeletedAt:     time.UnixMilli(batch.DeletedAt[i]),
				DeletedBy:     batch.DeletedBy[i],
				Reason:        batch.DeletedReasons[i],
				PriorState:    model.LifecycleState(batch.PriorStates[i]),
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// buildExpr translates a Query into a Milvus boolean expression. An
// unconstrained query still filters on deleted_at so soft-delete semantics
// hold everywhere.
func buildExpr(q Query) string {
	var parts []string

	switch {
	case q.DeletedOnly:
		parts = append(parts, fmt.Sprintf("%s > 0", milvus.FieldDeletedAt))
	case !q.IncludeDeleted:
		parts = append(parts, fmt.Sprintf("%s == 0", milvus.FieldDeletedAt))
	}

	if q.Category != "" {
		parts = append(parts, fmt.Sprintf(`%s == "%s"`, milvus.FieldCategory, escapeExpr(q.Category)))
	}
	if q.Project != "" {
		parts = append(parts, fmt.Sprintf(`%s == "%s"`, milvus.FieldProject, escapeExpr(q.Project)))
	}
	for _, tag := range q.Tags {
		// Tags are stored as a JSON array string; match the quoted element.
		parts = append(parts, fmt.Sprintf(`%s like "%%\"%s\"%%"`, milvus.FieldTags, escapeExpr(tag)))
	}
	if q.MinImportance > 0 {
		parts = append(parts, fmt.Sprintf("%s >= %g", milvus.FieldImportance, q.MinImportance))
	}
	if !q.CreatedBefore.IsZero() {
		parts = append(parts, fmt.Sprintf("%s < %d", milvus.FieldCreatedAt, q.CreatedBefore.UnixMilli()))
	}
	if q.RollbackToken != "" {
		parts = append(parts, fmt.Sprintf(`%s == "%s"`, milvus.FieldRollbackID, escapeExpr(q.RollbackToken)))
	}
	if !q.DeletedBefore.IsZero() {
		parts = append(parts, fmt.Sprintf("%s < %d", milvus.FieldDeletedAt, q.DeletedBefore.UnixMilli()))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%s >= 0", milvus.FieldDeletedAt)
	}
	return strings.Join(parts, " && ")
}

func escapeExpr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
