package biz

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/memvault/internal/memvault/model"
	"github.com/kart-io/memvault/internal/memvault/store"
)

func tokenAt(t *testing.T, ts time.Time) string {
	t.Helper()
	return ulid.MustNew(ulid.Timestamp(ts), rand.Reader).String()
}

func bulkDelete(t *testing.T, engine *store.Engine, m *BulkManager, category string) string {
	t.Helper()
	result, err := m.Execute(context.Background(), model.BulkFilter{Category: category}, ExecuteOptions{
		Confirmed:      true,
		EnableRollback: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.RollbackToken)
	return result.RollbackToken
}

func TestRollbackRestoresDeletedRecords(t *testing.T) {
	engine := newTestEngine(t)
	opts := testBulkOptions()
	m := newTestBulkManager(t, engine, opts)
	r := NewRollbackCoordinator(opts, engine)

	recs := seedRecords(t, engine, "notes", 4)
	token := bulkDelete(t, engine, m, "notes")

	result, err := r.Restore(context.Background(), token, RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Restored)
	assert.Zero(t, result.Skipped)
	assert.True(t, result.Success)

	for _, rec := range recs {
		got, err := engine.Get(context.Background(), rec.ID, false)
		require.NoError(t, err, "record %s must be live after rollback", rec.ID)
		assert.False(t, got.Deleted())
		assert.Equal(t, model.StateActive, got.State, "prior state must be restored")
	}
}

func TestRollbackConsumedTokenIsNoOp(t *testing.T) {
	engine := newTestEngine(t)
	opts := testBulkOptions()
	m := newTestBulkManager(t, engine, opts)
	r := NewRollbackCoordinator(opts, engine)

	seedRecords(t, engine, "notes", 2)
	token := bulkDelete(t, engine, m, "notes")

	first, err := r.Restore(context.Background(), token, RestoreOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, first.Restored)

	// The token's tombstones are gone; a second restore reports zero work
	// and must not double-restore anything.
	second, err := r.Restore(context.Background(), token, RestoreOptions{})
	require.NoError(t, err)
	assert.Zero(t, second.Restored)
	assert.Zero(t, second.Skipped)
	assert.True(t, second.Success)
}

func TestRollbackUnknownTokenRestoresNothing(t *testing.T) {
	engine := newTestEngine(t)
	opts := testBulkOptions()
	r := NewRollbackCoordinator(opts, engine)

	result, err := r.Restore(context.Background(), tokenAt(t, time.Now()), RestoreOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Restored)
}

func TestRollbackMalformedToken(t *testing.T) {
	engine := newTestEngine(t)
	r := NewRollbackCoordinator(testBulkOptions(), engine)

	_, err := r.Restore(context.Background(), "not-a-token", RestoreOptions{})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestRollbackExpiredToken(t *testing.T) {
	engine := newTestEngine(t)
	opts := testBulkOptions()
	opts.RollbackMaxAge = 24 * time.Hour
	r := NewRollbackCoordinator(opts, engine)

	_, err := r.Restore(context.Background(), tokenAt(t, time.Now().Add(-48*time.Hour)), RestoreOptions{})
	assert.ErrorIs(t, err, store.ErrRollbackExpired)
	assert.ErrorIs(t, err, store.ErrValidation, "expiry is a validation-class failure")
}

func TestRollbackSkipAgeCheck(t *testing.T) {
	engine := newTestEngine(t)
	opts := testBulkOptions()
	opts.RollbackMaxAge = 24 * time.Hour
	r := NewRollbackCoordinator(opts, engine)

	result, err := r.Restore(context.Background(), tokenAt(t, time.Now().Add(-48*time.Hour)),
		RestoreOptions{SkipAgeCheck: true})
	require.NoError(t, err)
	assert.Zero(t, result.Restored)
}

func TestRollbackDryRunMutatesNothing(t *testing.T) {
	engine := newTestEngine(t)
	opts := testBulkOptions()
	m := newTestBulkManager(t, engine, opts)
	r := NewRollbackCoordinator(opts, engine)

	recs := seedRecords(t, engine, "notes", 3)
	token := bulkDelete(t, engine, m, "notes")

	result, err := r.Restore(context.Background(), token, RestoreOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 3, result.Restored)
	assert.Zero(t, result.Skipped)

	for _, rec := range recs {
		_, err := engine.Get(context.Background(), rec.ID, false)
		assert.ErrorIs(t, err, store.ErrNotFound, "dry run must not restore %s", rec.ID)
	}
}

func TestRollbackSkipsRecordsDeletedUnderNewerToken(t *testing.T) {
	engine := newTestEngine(t)
	opts := testBulkOptions()
	m := newTestBulkManager(t, engine, opts)
	r := NewRollbackCoordinator(opts, engine)

	recs := seedRecords(t, engine, "notes", 2)
	oldToken := bulkDelete(t, engine, m, "notes")

	// One record is restored and deleted again under a newer token.
	_, err := r.Restore(context.Background(), oldToken, RestoreOptions{})
	require.NoError(t, err)
	_, err = engine.Delete(context.Background(), recs[0].ID, "tester", "again")
	require.NoError(t, err)

	// The old token must not resurrect the re-deleted record.
	result, err := r.Restore(context.Background(), oldToken, RestoreOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Restored)

	_, err = engine.Get(context.Background(), recs[0].ID, false)
	assert.ErrorIs(t, err, store.ErrNotFound, "record deleted under the newer token must stay deleted")
	_, err = engine.Get(context.Background(), recs[1].ID, false)
	assert.NoError(t, err)
}
