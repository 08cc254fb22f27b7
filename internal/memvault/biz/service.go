package biz

import (
	"context"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/memvault/internal/memvault/model"
	"github.com/kart-io/memvault/internal/memvault/store"
	bulkopts "github.com/kart-io/memvault/pkg/options/bulk"
	cacheopts "github.com/kart-io/memvault/pkg/options/cache"
)

// ServiceStats aggregates the operational state exposed on /v1/stats.
type ServiceStats struct {
	Pool    store.PoolStats        `json:"pool"`
	Backend *store.BackendInfo     `json:"backend,omitempty"`
	Cache   map[string]interface{} `json:"cache"`
	Monitor *store.MonitorSnapshot `json:"monitor,omitempty"`
}

// Service composes the storage engine with the bulk, rollback, retention
// and caching machinery behind one API used by the HTTP handlers.
type Service struct {
	engine   *store.Engine
	bulk     *BulkManager
	rollback *RollbackCoordinator
	sweeper  *RetentionSweeper
	cache    *RecordCache
	monitor  *store.Monitor
	redis    *goredis.Client
}

// NewService wires the business layer together. monitor may be nil when
// pool monitoring is disabled.
func NewService(ctx context.Context, engine *store.Engine, bOpts *bulkopts.Options, cOpts *cacheopts.Options, monitor *store.Monitor) (*Service, error) {
	bulk, err := NewBulkManager(bOpts, engine)
	if err != nil {
		return nil, err
	}

	redis, err := connectRedis(ctx, cOpts)
	if err != nil {
		// The cache is an optimization; a dead Redis must not block boot.
		logger.Warnw("Record cache disabled, redis unreachable", "error", err)
		redis = nil
	}

	lifecycle := NewLifecycleManager(engine, bOpts.SweepPageSize)
	return &Service{
		engine:   engine,
		bulk:     bulk,
		rollback: NewRollbackCoordinator(bOpts, engine),
		sweeper:  NewRetentionSweeper(bOpts, engine, lifecycle),
		cache:    NewRecordCache(redis, cOpts),
		monitor:  monitor,
		redis:    redis,
	}, nil
}

// Start launches the background schedules: retention sweeping and pool
// monitoring.
func (s *Service) Start() {
	s.sweeper.Start()
	if s.monitor != nil {
		s.monitor.Start()
	}
}

// Stop halts background schedules and releases resources.
func (s *Service) Stop() {
	s.sweeper.Stop()
	if s.monitor != nil {
		s.monitor.Stop()
	}
	s.bulk.Close()
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// Store persists a new record.
func (s *Service) Store(ctx context.Context, rec *model.Record) (*model.Record, error) {
	out, err := s.engine.Store(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, out)
	return out, nil
}

// Get returns a live record, served from cache when possible.
func (s *Service) Get(ctx context.Context, recordID string) (*model.Record, error) {
	if rec := s.cache.Get(ctx, recordID); rec != nil {
		return rec, nil
	}
	rec, err := s.engine.Get(ctx, recordID, false)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, rec)
	return rec, nil
}

// Update applies a partial update to a live record.
func (s *Service) Update(ctx context.Context, recordID string, req store.UpdateRequest) (*model.Record, error) {
	rec, err := s.engine.Update(ctx, recordID, req)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, rec)
	return rec, nil
}

// Delete soft-deletes a record and returns its rollback token.
func (s *Service) Delete(ctx context.Context, recordID, deletedBy, reason string) (string, error) {
	token, err := s.engine.Delete(ctx, recordID, deletedBy, reason)
	if err != nil {
		return "", err
	}
	s.cache.Invalidate(ctx, recordID)
	return token, nil
}

// List returns records matching the filters.
func (s *Service) List(ctx context.Context, f model.ListFilters) ([]*model.Record, error) {
	return s.engine.List(ctx, f)
}

// BulkPreview reports what a bulk delete would remove.
func (s *Service) BulkPreview(ctx context.Context, f model.BulkFilter) (*model.BulkPreview, error) {
	return s.bulk.Preview(ctx, f)
}

// BulkExecute runs a bulk delete. Cached reads are cleared afterwards since
// any of them may now point at tombstones.
func (s *Service) BulkExecute(ctx context.Context, f model.BulkFilter, opts ExecuteOptions) (*model.BulkResult, error) {
	result, err := s.bulk.Execute(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	if result.Deleted > 0 {
		if err := s.cache.Clear(ctx); err != nil {
			logger.Warnw("Cache clear after bulk delete failed", "error", err)
		}
	}
	return result, nil
}

// Rollback restores the records deleted under a token.
func (s *Service) Rollback(ctx context.Context, token string, opts RestoreOptions) (*model.RollbackResult, error) {
	result, err := s.rollback.Restore(ctx, token, opts)
	if err != nil {
		return nil, err
	}
	if result.Restored > 0 && !result.DryRun {
		if err := s.cache.Clear(ctx); err != nil {
			logger.Warnw("Cache clear after rollback failed", "error", err)
		}
	}
	return result, nil
}

// Sweep runs a retention sweep immediately.
func (s *Service) Sweep(ctx context.Context) (*model.SweepResult, error) {
	return s.sweeper.Sweep(ctx)
}

// Stats aggregates pool, backend, cache and monitor state.
func (s *Service) Stats(ctx context.Context) *ServiceStats {
	stats := &ServiceStats{
		Pool:  s.engine.Stats(),
		Cache: s.cache.Stats(ctx),
	}
	if info, err := s.engine.Describe(ctx); err == nil {
		stats.Backend = info
	} else {
		logger.Warnw("Backend describe failed", "error", err)
	}
	if s.monitor != nil {
		stats.Monitor = s.monitor.Last()
	}
	return stats
}
