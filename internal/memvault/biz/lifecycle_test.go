package biz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/memvault/internal/memvault/model"
	"github.com/kart-io/memvault/internal/memvault/store"
)

func seedAged(t *testing.T, engine *store.Engine, id string, age time.Duration) {
	t.Helper()
	ts := time.Now().Add(-age)
	err := engine.Upsert(context.Background(), []*model.Record{{
		ID:        id,
		Content:   "aged record",
		State:     model.StateActive,
		CreatedAt: ts,
		UpdatedAt: ts,
	}})
	require.NoError(t, err)
}

func TestReclassifyMovesAgedRecords(t *testing.T) {
	engine := newTestEngine(t)
	l := NewLifecycleManager(engine, 50)

	seedAged(t, engine, "fresh", time.Hour)
	seedAged(t, engine, "week-old", 10*24*time.Hour)
	seedAged(t, engine, "month-old", 60*24*time.Hour)
	seedAged(t, engine, "ancient", 365*24*time.Hour)

	moved, err := l.Reclassify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, moved, "all but the fresh record change state")

	expect := map[string]model.LifecycleState{
		"fresh":     model.StateActive,
		"week-old":  model.StateRecent,
		"month-old": model.StateArchived,
		"ancient":   model.StateStale,
	}
	for id, want := range expect {
		rec, err := engine.Get(context.Background(), id, false)
		require.NoError(t, err)
		assert.Equal(t, want, rec.State, "record %s", id)
	}
}

func TestReclassifyIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	l := NewLifecycleManager(engine, 50)

	seedAged(t, engine, "week-old", 10*24*time.Hour)

	moved, err := l.Reclassify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	moved, err = l.Reclassify(context.Background())
	require.NoError(t, err)
	assert.Zero(t, moved, "second pass has nothing left to move")
}

func TestReclassifyPagesThroughRecords(t *testing.T) {
	engine := newTestEngine(t)
	l := NewLifecycleManager(engine, 2)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		seedAged(t, engine, id, 10*24*time.Hour)
	}

	moved, err := l.Reclassify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, moved)
}

func TestReclassifySkipsTombstones(t *testing.T) {
	engine := newTestEngine(t)
	l := NewLifecycleManager(engine, 50)

	seedTombstone(t, engine, "deleted", time.Now().Add(-40*24*time.Hour))

	moved, err := l.Reclassify(context.Background())
	require.NoError(t, err)
	assert.Zero(t, moved)

	tomb, err := engine.Get(context.Background(), "deleted", true)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, tomb.State, "tombstone state untouched")
}
