//go:build integration

package facilitator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satmeter/facilitator/internal/testutil"
)

func TestPostgresSettlementStore_InsertList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresSettlementStore(db)
	ctx := context.Background()

	first := &SettlementRecord{
		Payer:     "0xaaa",
		PayTo:     testPayTo,
		Value:     100,
		Success:   true,
		TxID:      "tx-1",
		Network:   testNetwork,
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, store.Insert(ctx, first))
	assert.NotEmpty(t, first.ID)

	second := &SettlementRecord{
		Payer:     "0xbbb",
		PayTo:     testPayTo,
		Value:     200,
		Success:   false,
		Reason:    "insufficient_utxo_balance",
		Network:   testNetwork,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Insert(ctx, second))

	got, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, "0xbbb", got[0].Payer)
	assert.False(t, got[0].Success)
	assert.Equal(t, "0xaaa", got[1].Payer)
	assert.Equal(t, "tx-1", got[1].TxID)
}
