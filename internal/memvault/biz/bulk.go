// Package biz implements the memvault business operations on top of the
// storage engine: bulk deletion with rollback, retention sweeping,
// lifecycle reclassification and read caching.
package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/memvault/internal/memvault/model"
	"github.com/kart-io/memvault/internal/memvault/store"
	"github.com/kart-io/memvault/pkg/infra/workerpool"
	bulkopts "github.com/kart-io/memvault/pkg/options/bulk"
	"github.com/kart-io/memvault/pkg/utils/id"
)

const (
	previewSampleSize   = 10
	highImportanceFloor = 0.8

	// Per-record storage overhead beyond the content text: serialized
	// metadata plus a 768-dim float32 embedding vector.
	recordOverheadBytes = 200 + 768*4
)

// ExecuteOptions controls a bulk delete execution.
type ExecuteOptions struct {
	// DryRun evaluates the operation without writing anything.
	DryRun bool
	// Confirmed acknowledges an operation above the confirmation threshold.
	Confirmed bool
	// EnableRollback stamps tombstones with a shared rollback token.
	EnableRollback bool
	// DeletedBy and Reason are recorded in the deletion metadata.
	DeletedBy string
	Reason    string
	// OnProgress, when set, is invoked after each committed batch. It runs
	// on a worker pool and must not be relied on for ordering.
	OnProgress func(model.BulkProgress)
}

// BulkManager previews and executes filtered bulk deletions.
type BulkManager struct {
	opts      *bulkopts.Options
	engine    *store.Engine
	callbacks *workerpool.Pool
}

// NewBulkManager creates a bulk manager. The callback pool is owned by the
// manager and released by Close.
func NewBulkManager(opts *bulkopts.Options, engine *store.Engine) (*BulkManager, error) {
	callbacks, err := workerpool.New("bulk-progress", workerpool.CallbackPool, workerpool.CallbackConfig())
	if err != nil {
		return nil, err
	}
	return &BulkManager{
		opts:      opts,
		engine:    engine,
		callbacks: callbacks,
	}, nil
}

// Close releases the progress callback pool.
func (m *BulkManager) Close() {
	m.callbacks.Release()
}

// maxCount resolves the effective target cap for a filter.
func (m *BulkManager) maxCount(f model.BulkFilter) (int, error) {
	if f.MaxCount < 0 {
		return 0, store.ErrValidation.WithMessage("max_count must not be negative")
	}
	if f.MaxCount == 0 {
		return m.opts.MaxCount, nil
	}
	if f.MaxCount > m.opts.MaxCount {
		return 0, store.ErrValidation.WithMessage(
			fmt.Sprintf("max_count %d exceeds the limit of %d", f.MaxCount, m.opts.MaxCount))
	}
	return f.MaxCount, nil
}

func bulkQuery(f model.BulkFilter) store.Query {
	return store.Query{
		Category:      f.Category,
		Project:       f.Project,
		Tags:          f.Tags,
		CreatedBefore: f.OlderThan,
	}
}

// Preview reports what Execute would delete: totals, per-category and
// per-project breakdowns, a sample of ids, and warnings.
func (m *BulkManager) Preview(ctx context.Context, f model.BulkFilter) (*model.BulkPreview, error) {
	if f.Empty() {
		return nil, store.ErrValidation.WithMessage("bulk filter must constrain at least one field")
	}
	limit, err := m.maxCount(f)
	if err != nil {
		return nil, err
	}

	total, err := m.engine.Count(ctx, bulkQuery(f))
	if err != nil {
		return nil, err
	}

	preview := &model.BulkPreview{
		ByCategory: make(map[string]int),
		ByProject:  make(map[string]int),
		ByState:    make(map[model.LifecycleState]int),
	}

	preview.Total = int(total)

	// Breakdowns scan at most the cap; the totals above stay exact.
	q := bulkQuery(f)
	q.Limit = limit
	targets, err := m.engine.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	highImportance, recentlyActive := 0, 0
	var scannedBytes int64
	for i, rec := range targets {
		preview.ByCategory[rec.Category]++
		preview.ByProject[rec.Project]++
		preview.ByState[rec.State]++
		scannedBytes += int64(len(rec.Content) + recordOverheadBytes)
		if i < previewSampleSize {
			preview.SampleIDs = append(preview.SampleIDs, rec.ID)
		}
		if rec.Importance >= highImportanceFloor {
			highImportance++
		}
		if rec.State == model.StateActive {
			recentlyActive++
		}
	}
	preview.EstimatedBytes = scannedBytes
	if n := len(targets); n > 0 && preview.Total > n {
		preview.EstimatedBytes = scannedBytes / int64(n) * total
	}

	if preview.Total > limit {
		preview.Warnings = append(preview.Warnings,
			fmt.Sprintf("%d records match, exceeding the cap of %d; execution will be rejected", total, limit))
	}
	if highImportance > 0 {
		preview.Warnings = append(preview.Warnings,
			fmt.Sprintf("%d high-importance records are included", highImportance))
	}
	if recentlyActive > 0 {
		preview.Warnings = append(preview.Warnings,
			fmt.Sprintf("%d records touched within the last week are included", recentlyActive))
	}
	preview.RequiresConfirmation = preview.Total > m.opts.ConfirmThreshold || preview.Total > limit

	return preview, nil
}

// Execute deletes all records matching the filter, in batches: soft-deleted
// under a shared rollback token when rollback is enabled, permanently removed
// otherwise. A match count over the effective cap is rejected outright, an
// operation above the confirmation threshold is rejected unless confirmed,
// and a dry run reports the would-be outcome without writing.
func (m *BulkManager) Execute(ctx context.Context, f model.BulkFilter, opts ExecuteOptions) (*model.BulkResult, error) {
	if f.Empty() {
		return nil, store.ErrValidation.WithMessage("bulk filter must constrain at least one field")
	}
	limit, err := m.maxCount(f)
	if err != nil {
		return nil, err
	}

	// The cap is a hard bound, not a truncation point. Reject before any
	// record is touched.
	matches, err := m.engine.Count(ctx, bulkQuery(f))
	if err != nil {
		return nil, err
	}
	if int(matches) > limit {
		return nil, store.ErrValidation.WithMessage(
			fmt.Sprintf("%d records match the filter, exceeding the cap of %d", matches, limit))
	}

	q := bulkQuery(f)
	q.Limit = limit
	targets, err := m.engine.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	result := &model.BulkResult{
		Requested: len(targets),
		DryRun:    opts.DryRun,
		Success:   true,
	}
	if len(targets) == 0 {
		return result, nil
	}

	if len(targets) > m.opts.ConfirmThreshold && !opts.Confirmed && !opts.DryRun {
		return nil, store.ErrValidation.WithMessage(
			fmt.Sprintf("deleting %d records exceeds the threshold of %d and requires confirmation",
				len(targets), m.opts.ConfirmThreshold))
	}

	if opts.DryRun {
		result.Batches = (len(targets) + m.opts.BatchSize - 1) / m.opts.BatchSize
		return result, nil
	}

	var token string
	if opts.EnableRollback {
		token = id.NewRollbackToken()
		result.RollbackToken = token
	}
	now := time.Now()

	for start := 0; start < len(targets); start += m.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			result.Success = false
			break
		}

		end := start + m.opts.BatchSize
		if end > len(targets) {
			end = len(targets)
		}
		batch := targets[start:end]
		result.Batches++

		var batchErr error
		if opts.EnableRollback {
			for _, rec := range batch {
				rec.Deletion = &model.DeletionMetadata{
					RollbackToken: token,
					DeletedAt:     now,
					DeletedBy:     opts.DeletedBy,
					Reason:        opts.Reason,
					PriorState:    rec.State,
				}
				rec.State = model.StateArchived
			}
			batchErr = m.engine.Upsert(ctx, batch)
		} else {
			ids := make([]string, len(batch))
			for i, rec := range batch {
				ids[i] = rec.ID
			}
			batchErr = m.engine.Purge(ctx, ids)
		}

		if batchErr != nil {
			result.Failed += len(batch)
			for _, rec := range batch {
				result.FailedIDs = append(result.FailedIDs, rec.ID)
			}
			result.Errors = append(result.Errors,
				store.ErrPartialFailure.WithMessage(
					fmt.Sprintf("batch %d", result.Batches)).WithCause(batchErr).Error())
			result.Success = false
			logger.Errorw("Bulk delete batch failed",
				"batch", result.Batches,
				"size", len(batch),
				"error", batchErr,
			)
			continue
		}
		result.Deleted += len(batch)

		if opts.OnProgress != nil {
			progress := model.BulkProgress{
				Batch:     result.Batches,
				Processed: result.Deleted + result.Failed,
				Total:     len(targets),
			}
			if err := m.callbacks.Submit(func() { opts.OnProgress(progress) }); err != nil {
				logger.Debugw("Bulk progress callback dropped", "error", err)
			}
		}
	}

	logger.Infow("Bulk delete finished",
		"requested", result.Requested,
		"deleted", result.Deleted,
		"failed", result.Failed,
		"batches", result.Batches,
		"token", result.RollbackToken,
	)
	return result, nil
}
