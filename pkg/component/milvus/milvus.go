// Package milvus wraps the Milvus SDK client around the memvault record
// collection.
package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	milvusopts "github.com/kart-io/memvault/pkg/options/milvus"
)

// Collection field names.
const (
	FieldID            = "id"
	FieldEmbedding     = "embedding"
	FieldContent       = "content"
	FieldCategory      = "category"
	FieldProject       = "project"
	FieldTags          = "tags"
	FieldMetadata      = "metadata"
	FieldImportance    = "importance"
	FieldState         = "state"
	FieldCreatedAt     = "created_at"
	FieldUpdatedAt     = "updated_at"
	FieldDeletedAt     = "deleted_at"
	FieldRollbackID    = "rollback_id"
	FieldDeletedBy     = "deleted_by"
	FieldDeletedReason = "deleted_reason"
	FieldPriorState    = "prior_state"
)

// scalarFields are the non-vector output fields fetched by queries.
var scalarFields = []string{
	FieldID, FieldContent, FieldCategory, FieldProject, FieldTags,
	FieldMetadata, FieldImportance, FieldState, FieldCreatedAt, FieldUpdatedAt,
	FieldDeletedAt, FieldRollbackID, FieldDeletedBy, FieldDeletedReason,
	FieldPriorState,
}

// RowBatch holds collection rows in column order. All slices must have the
// same length.
type RowBatch struct {
	IDs            []string
	Embeddings     [][]float32
	Contents       []string
	Categories     []string
	Projects       []string
	Tags           []string
	Metadata       []string
	Importance     []float64
	States         []string
	CreatedAt      []int64
	UpdatedAt      []int64
	DeletedAt      []int64
	RollbackIDs    []string
	DeletedBy      []string
	DeletedReasons []string
	PriorStates    []string
}

// Len returns the number of rows in the batch.
func (b *RowBatch) Len() int {
	return len(b.IDs)
}

// Client wraps the Milvus SDK client.
type Client struct {
	client *milvusclient.Client
	opts   *milvusopts.Options
}

// New creates a new Milvus client.
func New(ctx context.Context, opts *milvusopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	return &Client{
		client: c,
		opts:   opts,
	}, nil
}

// Close closes the Milvus client connection.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// RawClient returns the underlying Milvus client.
func (c *Client) RawClient() *milvusclient.Client {
	return c.client
}

// EnsureCollection creates the record collection, its vector index and its
// scalar indexes if they do not exist, and loads the collection.
func (c *Client) EnsureCollection(ctx context.Context) error {
	name := c.opts.Collection

	exists, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(name).
			WithDescription("memvault records with soft-delete tombstones")

		schema.WithField(entity.NewField().
			WithName(FieldID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64).
			WithIsPrimaryKey(true))
		schema.WithField(entity.NewField().
			WithName(FieldEmbedding).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(c.opts.Dimension)))
		schema.WithField(entity.NewField().
			WithName(FieldContent).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(65535))
		schema.WithField(entity.NewField().
			WithName(FieldCategory).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(256))
		schema.WithField(entity.NewField().
			WithName(FieldProject).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(256))
		schema.WithField(entity.NewField().
			WithName(FieldTags).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(4096))
		schema.WithField(entity.NewField().
			WithName(FieldMetadata).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(65535))
		schema.WithField(entity.NewField().
			WithName(FieldImportance).
			WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().
			WithName(FieldState).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(16))
		schema.WithField(entity.NewField().
			WithName(FieldCreatedAt).
			WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().
			WithName(FieldUpdatedAt).
			WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().
			WithName(FieldDeletedAt).
			WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().
			WithName(FieldRollbackID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(32))
		schema.WithField(entity.NewField().
			WithName(FieldDeletedBy).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(256))
		schema.WithField(entity.NewField().
			WithName(FieldDeletedReason).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(1024))
		schema.WithField(entity.NewField().
			WithName(FieldPriorState).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(16))

		if err := c.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx := index.NewIvfFlatIndex(entity.L2, 128)
		createIdxTask, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, FieldEmbedding, idx))
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := createIdxTask.Await(ctx); err != nil {
			return fmt.Errorf("failed to wait for index creation: %w", err)
		}
	}

	loadTask, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}

	return nil
}

// Upsert writes rows, replacing existing rows with the same primary key.
func (c *Client) Upsert(ctx context.Context, batch *RowBatch) error {
	if batch.Len() == 0 {
		return nil
	}

	columns := []column.Column{
		column.NewColumnVarChar(FieldID, batch.IDs),
		column.NewColumnFloatVector(FieldEmbedding, c.opts.Dimension, batch.Embeddings),
		column.NewColumnVarChar(FieldContent, batch.Contents),
		column.NewColumnVarChar(FieldCategory, batch.Categories),
		column.NewColumnVarChar(FieldProject, batch.Projects),
		column.NewColumnVarChar(FieldTags, batch.Tags),
		column.NewColumnVarChar(FieldMetadata, batch.Metadata),
		column.NewColumnDouble(FieldImportance, batch.Importance),
		column.NewColumnVarChar(FieldState, batch.States),
		column.NewColumnInt64(FieldCreatedAt, batch.CreatedAt),
		column.NewColumnInt64(FieldUpdatedAt, batch.UpdatedAt),
		column.NewColumnInt64(FieldDeletedAt, batch.DeletedAt),
		column.NewColumnVarChar(FieldRollbackID, batch.RollbackIDs),
		column.NewColumnVarChar(FieldDeletedBy, batch.DeletedBy),
		column.NewColumnVarChar(FieldDeletedReason, batch.DeletedReasons),
		column.NewColumnVarChar(FieldPriorState, batch.PriorStates),
	}

	if _, err := c.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(c.opts.Collection, columns...)); err != nil {
		return fmt.Errorf("failed to upsert rows: %w", err)
	}

	// Flush so tombstones and restores are visible to the next query.
	flushTask, err := c.client.Flush(ctx, milvusclient.NewFlushOption(c.opts.Collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}

	return nil
}

// Query returns rows matching the filter expression.
func (c *Client) Query(ctx context.Context, expr string, limit, offset int) (*RowBatch, error) {
	opt := milvusclient.NewQueryOption(c.opts.Collection).
		WithFilter(expr).
		WithOutputFields(scalarFields...)
	if limit > 0 {
		opt = opt.WithLimit(limit)
	}
	if offset > 0 {
		opt = opt.WithOffset(offset)
	}

	rs, err := c.client.Query(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	batch := &RowBatch{}
	for _, field := range rs.Fields {
		switch col := field.(type) {
		case *column.ColumnVarChar:
			switch col.Name() {
			case FieldID:
				batch.IDs = col.Data()
			case FieldContent:
				batch.Contents = col.Data()
			case FieldCategory:
				batch.Categories = col.Data()
			case FieldProject:
				batch.Projects = col.Data()
			case FieldTags:
				batch.Tags = col.Data()
			case FieldMetadata:
				batch.Metadata = col.Data()
			case FieldState:
				batch.States = col.Data()
			case FieldRollbackID:
				batch.RollbackIDs = col.Data()
			case FieldDeletedBy:
				batch.DeletedBy = col.Data()
			case FieldDeletedReason:
				batch.DeletedReasons = col.Data()
			case FieldPriorState:
				batch.PriorStates = col.Data()
			}
		case *column.ColumnInt64:
			switch col.Name() {
			case FieldCreatedAt:
				batch.CreatedAt = col.Data()
			case FieldUpdatedAt:
				batch.UpdatedAt = col.Data()
			case FieldDeletedAt:
				batch.DeletedAt = col.Data()
			}
		case *column.ColumnDouble:
			if col.Name() == FieldImportance {
				batch.Importance = col.Data()
			}
		}
	}

	return batch, nil
}

// Count returns the number of rows matching the filter expression.
func (c *Client) Count(ctx context.Context, expr string) (int64, error) {
	opt := milvusclient.NewQueryOption(c.opts.Collection).
		WithFilter(expr).
		WithOutputFields("count(*)")

	rs, err := c.client.Query(ctx, opt)
	if err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}

	for _, field := range rs.Fields {
		if col, ok := field.(*column.ColumnInt64); ok && col.Name() == "count(*)" {
			if col.Len() > 0 {
				return col.Data()[0], nil
			}
		}
	}
	return 0, nil
}

// DeleteByIDs removes rows permanently.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	opt := milvusclient.NewDeleteOption(c.opts.Collection).WithStringIDs(FieldID, ids)
	if _, err := c.client.Delete(ctx, opt); err != nil {
		return fmt.Errorf("failed to delete by ids: %w", err)
	}
	return nil
}

// Ping verifies connectivity with a collection listing.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.ListCollections(ctx, milvusclient.NewListCollectionOption()); err != nil {
		return fmt.Errorf("failed to ping milvus: %w", err)
	}
	return nil
}

// RowCount returns the number of entities in the record collection.
func (c *Client) RowCount(ctx context.Context) (int64, error) {
	stats, err := c.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(c.opts.Collection))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}
	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}

// Collection returns the configured collection name.
func (c *Client) Collection() string {
	return c.opts.Collection
}
