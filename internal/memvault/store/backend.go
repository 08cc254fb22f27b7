package store

import (
	"context"
	"time"

	"github.com/kart-io/memvault/internal/memvault/model"
)

// Query describes a backend selection. Zero-value fields are unconstrained.
type Query struct {
	// Category matches records with this exact category.
	Category string
	// Project matches records with this exact project.
	Project string
	// Tags matches records carrying every listed tag.
	Tags []string
	// MinImportance matches records with importance >= this value.
	MinImportance float64
	// CreatedBefore matches records created strictly before this instant.
	CreatedBefore time.Time
	// IncludeDeleted also matches soft-deleted records.
	IncludeDeleted bool
	// DeletedOnly restricts the match to soft-deleted records.
	DeletedOnly bool
	// RollbackToken matches tombstones carrying this token.
	RollbackToken string
	// DeletedBefore matches tombstones whose deletion is older than this
	// instant. Used by the retention sweeper.
	DeletedBefore time.Time
	// Limit caps the number of records returned (0 = backend default).
	Limit int
	// Offset skips the first Offset matches.
	Offset int
}

// BackendInfo describes a backend collection.
type BackendInfo struct {
	Name       string `json:"name"`
	Collection string `json:"collection"`
	Records    int64  `json:"records"`
}

// Backend is a single storage connection. Implementations must be safe for
// use by one goroutine at a time; the connection pool guarantees exclusive
// checkout.
type Backend interface {
	// Upsert writes records, replacing any existing record with the same id.
	Upsert(ctx context.Context, records []*model.Record) error
	// Get returns the record with the given id, tombstone or not. It
	// returns ErrNotFound when no row exists at all.
	Get(ctx context.Context, id string) (*model.Record, error)
	// Query returns records matching q, ordered by creation time ascending.
	Query(ctx context.Context, q Query) ([]*model.Record, error)
	// Count returns the number of records matching q.
	Count(ctx context.Context, q Query) (int64, error)
	// Delete removes records permanently.
	Delete(ctx context.Context, ids []string) error
	// Ping verifies the connection with a lightweight round trip.
	Ping(ctx context.Context) error
	// Describe returns collection information. Used by deep health checks.
	Describe(ctx context.Context) (*BackendInfo, error)
	// Close releases the connection.
	Close() error
}

// Factory opens a new backend connection. The pool calls it to grow toward
// its configured size.
type Factory func(ctx context.Context) (Backend, error)
