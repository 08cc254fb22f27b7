package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/memvault/internal/memvault/model"
	"github.com/kart-io/memvault/internal/memvault/store"
	"github.com/kart-io/memvault/pkg/infra/periodic"
	bulkopts "github.com/kart-io/memvault/pkg/options/bulk"
)

// RetentionSweeper permanently purges tombstones older than the retention
// window. It runs on its own schedule and also exposes Sweep for the admin
// endpoint.
type RetentionSweeper struct {
	opts      *bulkopts.Options
	engine    *store.Engine
	lifecycle *LifecycleManager
	runner    *periodic.Runner
}

// NewRetentionSweeper creates a sweeper. When lifecycle is non-nil, each
// scheduled sweep also reclassifies record lifecycle states.
func NewRetentionSweeper(opts *bulkopts.Options, engine *store.Engine, lifecycle *LifecycleManager) *RetentionSweeper {
	s := &RetentionSweeper{
		opts:      opts,
		engine:    engine,
		lifecycle: lifecycle,
	}
	s.runner = periodic.NewRunner("retention-sweeper", opts.SweepInterval, s.tick)
	return s
}

// Start begins scheduled sweeping.
func (s *RetentionSweeper) Start() {
	s.runner.Start()
}

// Stop halts scheduled sweeping.
func (s *RetentionSweeper) Stop() {
	s.runner.Stop()
}

func (s *RetentionSweeper) tick(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		logger.Errorw("Scheduled retention sweep failed", "error", err)
	}
	if s.lifecycle != nil {
		if _, err := s.lifecycle.Reclassify(ctx); err != nil {
			logger.Errorw("Scheduled lifecycle reclassification failed", "error", err)
		}
	}
}

// Sweep purges tombstones deleted before now minus the retention window,
// page by page. A failed page is recorded and the sweep moves on.
func (s *RetentionSweeper) Sweep(ctx context.Context) (*model.SweepResult, error) {
	cutoff := time.Now().Add(-s.opts.RetentionWindow)
	result := &model.SweepResult{Cutoff: cutoff}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		// Purged tombstones leave the match set; failed ones stay, so the
		// failure count doubles as the paging offset.
		page, err := s.engine.Query(ctx, store.Query{
			DeletedOnly:   true,
			DeletedBefore: cutoff,
			Limit:         s.opts.SweepPageSize,
			Offset:        result.Failed,
		})
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}
		result.Pages++

		ids := make([]string, len(page))
		for i, rec := range page {
			ids[i] = rec.ID
		}
		if err := s.engine.Purge(ctx, ids); err != nil {
			result.Failed += len(ids)
			result.Errors = append(result.Errors,
				fmt.Sprintf("page %d: %v", result.Pages, err))
			logger.Errorw("Retention sweep page failed",
				"page", result.Pages,
				"size", len(ids),
				"error", err,
			)
		} else {
			result.Purged += len(ids)
		}

		if len(page) < s.opts.SweepPageSize {
			break
		}
	}

	if result.Purged > 0 || result.Failed > 0 {
		logger.Infow("Retention sweep complete",
			"purged", result.Purged,
			"failed", result.Failed,
			"pages", result.Pages,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return result, nil
}
