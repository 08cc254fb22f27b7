package biz

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/memvault/internal/memvault/model"
	cacheopts "github.com/kart-io/memvault/pkg/options/cache"
)

// RecordCache caches record reads in Redis. Writes and deletes invalidate
// the affected entry; a disabled cache is a transparent no-op.
type RecordCache struct {
	redis *goredis.Client
	opts  *cacheopts.Options
}

// NewRecordCache creates a cache. redis may be nil when caching is disabled.
func NewRecordCache(redis *goredis.Client, opts *cacheopts.Options) *RecordCache {
	return &RecordCache{redis: redis, opts: opts}
}

func (c *RecordCache) enabled() bool {
	return c != nil && c.opts != nil && c.opts.Enabled && c.redis != nil
}

func (c *RecordCache) key(recordID string) string {
	return c.opts.KeyPrefix + recordID
}

// Get returns the cached record, or nil on a miss. Cache errors degrade to
// a miss, never to a failed read.
func (c *RecordCache) Get(ctx context.Context, recordID string) *model.Record {
	if !c.enabled() {
		return nil
	}

	data, err := c.redis.Get(ctx, c.key(recordID)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			logger.Warnw("Record cache read failed", "id", recordID, "error", err)
		}
		return nil
	}

	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		logger.Warnw("Dropping corrupt cache entry", "id", recordID, "error", err)
		_ = c.redis.Del(ctx, c.key(recordID)).Err()
		return nil
	}
	return &rec
}

// Set caches a record for the configured TTL.
func (c *RecordCache) Set(ctx context.Context, rec *model.Record) {
	if !c.enabled() || rec == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		logger.Warnw("Record cache encode failed", "id", rec.ID, "error", err)
		return
	}
	if err := c.redis.Set(ctx, c.key(rec.ID), data, c.opts.TTL).Err(); err != nil {
		logger.Warnw("Record cache write failed", "id", rec.ID, "error", err)
	}
}

// Invalidate drops cached entries for the given record ids.
func (c *RecordCache) Invalidate(ctx context.Context, recordIDs ...string) {
	if !c.enabled() || len(recordIDs) == 0 {
		return
	}

	keys := make([]string, len(recordIDs))
	for i, id := range recordIDs {
		keys[i] = c.key(id)
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		logger.Warnw("Record cache invalidation failed", "count", len(keys), "error", err)
	}
}

// Clear removes every cached record.
func (c *RecordCache) Clear(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}

	iter := c.redis.Scan(ctx, 0, c.opts.KeyPrefix+"*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("Record cache key delete failed", "key", iter.Val(), "error", err)
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return err
	}

	logger.Infow("Record cache cleared", "deleted", deleted)
	return nil
}

// Stats reports cache configuration and key count.
func (c *RecordCache) Stats(ctx context.Context) map[string]interface{} {
	if !c.enabled() {
		return map[string]interface{}{"enabled": false}
	}

	iter := c.redis.Scan(ctx, 0, c.opts.KeyPrefix+"*", 0).Iterator()
	keys := 0
	for iter.Next(ctx) {
		keys++
	}
	if err := iter.Err(); err != nil {
		logger.Warnw("Record cache scan failed", "error", err)
	}

	return map[string]interface{}{
		"enabled":    true,
		"keys":       keys,
		"ttl":        c.opts.TTL.String(),
		"key_prefix": c.opts.KeyPrefix,
	}
}

// connectRedis dials Redis from cache options, returning nil when caching
// is disabled.
func connectRedis(ctx context.Context, opts *cacheopts.Options) (*goredis.Client, error) {
	if opts == nil || !opts.Enabled {
		return nil, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Redis.Addr(),
		Password:     opts.Redis.Password,
		DB:           opts.Redis.Database,
		MaxRetries:   opts.Redis.MaxRetries,
		PoolSize:     opts.Redis.PoolSize,
		MinIdleConns: opts.Redis.MinIdleConns,
		DialTimeout:  opts.Redis.DialTimeout,
		ReadTimeout:  opts.Redis.ReadTimeout,
		WriteTimeout: opts.Redis.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
