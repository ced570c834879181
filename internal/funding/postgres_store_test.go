//go:build integration

package funding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satmeter/facilitator/internal/testutil"
)

func newPGRecord(ref string, remaining, debited int64) *Record {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Record{
		FundingRef:       ref,
		PayerAddress:     payer,
		ReceiverAddress:  payTo,
		OriginalValue:    remaining + debited,
		RemainingBalance: remaining,
		TotalDebited:     debited,
		Confirmations:    3,
		FirstSeen:        now,
		LastUpdated:      now,
		LastChecked:      now,
	}
}

func TestPostgresStore_CreateGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	rec := newPGRecord("pgtx01:0", 900, 100)
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, "pgtx01:0")
	require.NoError(t, err)
	assert.Equal(t, rec.FundingRef, got.FundingRef)
	assert.Equal(t, int64(900), got.RemainingBalance)
	assert.Equal(t, int64(100), got.TotalDebited)
	assert.Equal(t, int64(1000), got.OriginalValue)

	_, err = store.Get(ctx, "missing:0")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestPostgresStore_DuplicateCreate(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newPGRecord("pgtx02:0", 900, 100)))
	err := store.Create(ctx, newPGRecord("pgtx02:0", 500, 500))
	assert.ErrorIs(t, err, ErrDuplicateRef)
}

func TestPostgresStore_UpdateCAS(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newPGRecord("pgtx03:0", 900, 100)))

	rec, err := store.Get(ctx, "pgtx03:0")
	require.NoError(t, err)

	rec.RemainingBalance = 800
	rec.TotalDebited = 200
	rec.LastUpdated = time.Now().UTC()
	require.NoError(t, store.Update(ctx, rec, 900))

	// A second write conditioned on the stale balance loses.
	rec.RemainingBalance = 700
	rec.TotalDebited = 300
	err = store.Update(ctx, rec, 900)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := store.Get(ctx, "pgtx03:0")
	require.NoError(t, err)
	assert.Equal(t, int64(800), got.RemainingBalance)
	assert.Equal(t, got.OriginalValue, got.RemainingBalance+got.TotalDebited)
}

func TestPostgresStore_ListStale(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	stale := newPGRecord("pgtx04:0", 900, 100)
	stale.LastChecked = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, stale))

	fresh := newPGRecord("pgtx04:1", 900, 100)
	require.NoError(t, store.Create(ctx, fresh))

	got, err := store.ListStale(ctx, time.Now().UTC().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pgtx04:0", got[0].FundingRef)
}
