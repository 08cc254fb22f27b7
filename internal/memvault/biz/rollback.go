package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/memvault/internal/memvault/model"
	"github.com/kart-io/memvault/internal/memvault/store"
	bulkopts "github.com/kart-io/memvault/pkg/options/bulk"
	"github.com/kart-io/memvault/pkg/utils/id"
)

// RestoreOptions controls a rollback.
type RestoreOptions struct {
	// DryRun reports what would be restored without writing anything.
	DryRun bool
	// SkipAgeCheck accepts tokens older than the restore window.
	SkipAgeCheck bool
	// MaxAge overrides the configured restore window when positive.
	MaxAge time.Duration
}

// RollbackCoordinator restores soft-deleted records by their rollback token.
type RollbackCoordinator struct {
	opts   *bulkopts.Options
	engine *store.Engine
}

// NewRollbackCoordinator creates a coordinator.
func NewRollbackCoordinator(opts *bulkopts.Options, engine *store.Engine) *RollbackCoordinator {
	return &RollbackCoordinator{opts: opts, engine: engine}
}

// Restore brings back every record deleted under the given token. Tokens
// older than the restore window are rejected. A token matching nothing, such
// as one already rolled back, restores zero records and is not an error. A
// record that was deleted again under a newer token is left alone.
func (r *RollbackCoordinator) Restore(ctx context.Context, token string, opts RestoreOptions) (*model.RollbackResult, error) {
	issuedAt, err := id.TokenTime(token)
	if err != nil {
		return nil, store.ErrValidation.WithMessage("malformed rollback token").WithCause(err)
	}
	if !opts.SkipAgeCheck {
		maxAge := r.opts.RollbackMaxAge
		if opts.MaxAge > 0 {
			maxAge = opts.MaxAge
		}
		if age := time.Since(issuedAt); age > maxAge {
			return nil, store.ErrRollbackExpired.WithContext(map[string]interface{}{
				"token_age": age.String(),
				"max_age":   maxAge.String(),
			})
		}
	}

	result := &model.RollbackResult{Token: token, DryRun: opts.DryRun, Success: true}

	// Restored records leave the token's match set; skipped and failed ones
	// stay in it, so they double as the paging offset.
	for {
		tombstones, err := r.engine.Query(ctx, store.Query{
			DeletedOnly:   true,
			RollbackToken: token,
			Limit:         r.opts.BatchSize,
			Offset:        result.Skipped + result.Failed,
		})
		if err != nil {
			return nil, err
		}
		if len(tombstones) == 0 {
			break
		}

		restore := make([]*model.Record, 0, len(tombstones))
		for _, rec := range tombstones {
			// A later deletion owns the record now.
			if rec.Deletion.RollbackToken > token {
				result.Skipped++
				continue
			}
			state := rec.Deletion.PriorState
			if !state.Valid() {
				state = model.StateActive
			}
			rec.State = state
			rec.Deletion = nil
			rec.UpdatedAt = time.Now()
			restore = append(restore, rec)
		}

		if opts.DryRun {
			result.Restored += len(restore)
			if len(tombstones) < r.opts.BatchSize {
				break
			}
			// The dry run mutates nothing, so page past the would-restores too.
			result.Skipped += len(restore)
			continue
		}
		if len(restore) == 0 {
			if len(tombstones) < r.opts.BatchSize {
				break
			}
			continue
		}

		if err := r.engine.Upsert(ctx, restore); err != nil {
			result.Failed += len(restore)
			for _, rec := range restore {
				result.FailedIDs = append(result.FailedIDs, rec.ID)
			}
			result.Errors = append(result.Errors,
				store.ErrPartialFailure.WithMessage(
					fmt.Sprintf("restoring %d records", len(restore))).WithCause(err).Error())
			result.Success = false
			logger.Errorw("Rollback batch failed",
				"token", token,
				"size", len(restore),
				"error", err,
			)
			continue
		}
		result.Restored += len(restore)
	}

	if opts.DryRun {
		// Undo the paging bookkeeping so the report reads naturally.
		result.Skipped -= result.Restored
	}

	logger.Infow("Rollback complete",
		"token", token,
		"restored", result.Restored,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"dry_run", opts.DryRun,
	)
	return result, nil
}
