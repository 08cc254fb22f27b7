// Package model defines the memvault domain types shared by the storage
// engine, the business layer and the HTTP handlers.
package model

import (
	"time"
)

// LifecycleState classifies a record by its age.
type LifecycleState string

const (
	// StateActive covers records touched within the last 7 days.
	StateActive LifecycleState = "active"
	// StateRecent covers records between 7 and 30 days old.
	StateRecent LifecycleState = "recent"
	// StateArchived covers records between 30 and 180 days old.
	StateArchived LifecycleState = "archived"
	// StateStale covers records older than 180 days.
	StateStale LifecycleState = "stale"
)

// Lifecycle age thresholds.
const (
	RecentThreshold   = 7 * 24 * time.Hour
	ArchivedThreshold = 30 * 24 * time.Hour
	StaleThreshold    = 180 * 24 * time.Hour
)

// StateForAge returns the lifecycle state for a record of the given age.
func StateForAge(age time.Duration) LifecycleState {
	switch {
	case age < RecentThreshold:
		return StateActive
	case age < ArchivedThreshold:
		return StateRecent
	case age < StaleThreshold:
		return StateArchived
	default:
		return StateStale
	}
}

// Weight returns the relevance weight applied to search scores for records
// in this state.
func (s LifecycleState) Weight() float64 {
	switch s {
	case StateActive:
		return 1.0
	case StateRecent:
		return 0.7
	case StateArchived:
		return 0.3
	case StateStale:
		return 0.1
	default:
		return 1.0
	}
}

// Valid reports whether s is a known lifecycle state.
func (s LifecycleState) Valid() bool {
	switch s {
	case StateActive, StateRecent, StateArchived, StateStale:
		return true
	}
	return false
}

// DeletionMetadata records how and when a record was soft-deleted. It is
// retained with the record so a rollback can restore the prior state.
type DeletionMetadata struct {
	RollbackToken string         `json:"rollback_token"`
	DeletedAt     time.Time      `json:"deleted_at"`
	DeletedBy     string         `json:"deleted_by,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	PriorState    LifecycleState `json:"prior_state,omitempty"`
}

// Record is a stored memory entry.
type Record struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Category   string            `json:"category,omitempty"`
	Project    string            `json:"project,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   Metadata          `json:"metadata,omitempty"`
	Importance float64           `json:"importance"`
	Embedding  []float32         `json:"-"`
	State      LifecycleState    `json:"state"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Deletion   *DeletionMetadata `json:"deletion,omitempty"`
}

// Deleted reports whether the record is soft-deleted.
func (r *Record) Deleted() bool {
	return r.Deletion != nil && !r.Deletion.DeletedAt.IsZero()
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	out.Metadata = r.Metadata.Clone()
	if r.Embedding != nil {
		out.Embedding = append([]float32(nil), r.Embedding...)
	}
	if r.Deletion != nil {
		d := *r.Deletion
		out.Deletion = &d
	}
	return &out
}

// ListFilters narrows a listing query. Zero values mean "no constraint".
type ListFilters struct {
	Category       string   `json:"category,omitempty"`
	Project        string   `json:"project,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	MinImportance  float64  `json:"min_importance,omitempty"`
	IncludeDeleted bool     `json:"include_deleted,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	Offset         int      `json:"offset,omitempty"`
}

// BulkFilter selects the records targeted by a bulk delete.
type BulkFilter struct {
	Category  string    `json:"category,omitempty"`
	Project   string    `json:"project,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	OlderThan time.Time `json:"older_than,omitempty"`
	MaxCount  int       `json:"max_count,omitempty"`
}

// Empty reports whether the filter has no constraints at all. An empty
// filter would match the whole collection and is rejected.
func (f BulkFilter) Empty() bool {
	return f.Category == "" && f.Project == "" && len(f.Tags) == 0 && f.OlderThan.IsZero()
}

// BulkPreview summarizes what a bulk delete would remove.
type BulkPreview struct {
	Total                int                    `json:"total"`
	ByCategory           map[string]int         `json:"by_category,omitempty"`
	ByProject            map[string]int         `json:"by_project,omitempty"`
	ByState              map[LifecycleState]int `json:"by_state,omitempty"`
	SampleIDs            []string               `json:"sample_ids,omitempty"`
	Warnings             []string               `json:"warnings,omitempty"`
	EstimatedBytes       int64                  `json:"estimated_bytes"`
	RequiresConfirmation bool                   `json:"requires_confirmation"`
}

// BulkResult reports the outcome of a bulk delete execution. Success is
// false whenever any record failed.
type BulkResult struct {
	Requested     int      `json:"requested"`
	Deleted       int      `json:"deleted"`
	Failed        int      `json:"failed"`
	FailedIDs     []string `json:"failed_ids,omitempty"`
	Batches       int      `json:"batches"`
	DryRun        bool     `json:"dry_run"`
	Success       bool     `json:"success"`
	RollbackToken string   `json:"rollback_token,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// BulkProgress is delivered to the progress callback after each batch.
type BulkProgress struct {
	Batch     int `json:"batch"`
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// RollbackResult reports the outcome of restoring a bulk delete. Success is
// false whenever any record failed to restore.
type RollbackResult struct {
	Token     string   `json:"token"`
	Restored  int      `json:"restored"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
	DryRun    bool     `json:"dry_run"`
	Success   bool     `json:"success"`
	Errors    []string `json:"errors,omitempty"`
}

// SweepResult reports the outcome of a retention sweep.
type SweepResult struct {
	Cutoff time.Time `json:"cutoff"`
	Purged int       `json:"purged"`
	Failed int       `json:"failed"`
	Pages  int       `json:"pages"`
	Errors []string  `json:"errors,omitempty"`
}
