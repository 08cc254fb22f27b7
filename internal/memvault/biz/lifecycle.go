package biz

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/memvault/internal/memvault/model"
	"github.com/kart-io/memvault/internal/memvault/store"
)

// LifecycleManager moves records between lifecycle states as they age.
// State is derived from the last update: a record untouched for a week is
// recent, for a month archived, for half a year stale.
type LifecycleManager struct {
	engine   *store.Engine
	pageSize int
}

// NewLifecycleManager creates a manager paging through records pageSize at
// a time.
func NewLifecycleManager(engine *store.Engine, pageSize int) *LifecycleManager {
	return &LifecycleManager{engine: engine, pageSize: pageSize}
}

// Reclassify walks all live records and rewrites those whose stored state
// no longer matches their age. It returns the number of records moved.
func (l *LifecycleManager) Reclassify(ctx context.Context) (int, error) {
	now := time.Now()
	moved := 0
	offset := 0

	for {
		page, err := l.engine.Query(ctx, store.Query{
			Limit:  l.pageSize,
			Offset: offset,
		})
		if err != nil {
			return moved, err
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)

		var stale []*model.Record
		for _, rec := range page {
			want := model.StateForAge(now.Sub(rec.UpdatedAt))
			if rec.State != want {
				rec.State = want
				stale = append(stale, rec)
			}
		}
		if len(stale) > 0 {
			if err := l.engine.Upsert(ctx, stale); err != nil {
				return moved, err
			}
			moved += len(stale)
		}

		if len(page) < l.pageSize {
			break
		}
	}

	if moved > 0 {
		logger.Infow("Lifecycle reclassification complete", "moved", moved)
	}
	return moved, nil
}
