package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satmeter/facilitator/internal/x402"
)

var testRef = x402.FundingRef{TxID: "deadbeef", Vout: 0}

func TestRESTClient_Describe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tx/deadbeef/out/0", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value":         1000,
			"address":       "addr1",
			"confirmations": 3,
			"spent":         false,
		})
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL)
	out, err := c.Describe(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, &OutputInfo{Value: 1000, Recipient: "addr1", Confirmations: 3}, out)

	spendable, err := c.Spendable(context.Background(), testRef)
	require.NoError(t, err)
	assert.True(t, spendable)
}

func TestRESTClient_SpentOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"value": 1000, "spent": true})
	}))
	defer srv.Close()

	spendable, err := NewRESTClient(srv.URL).Spendable(context.Background(), testRef)
	require.NoError(t, err)
	assert.False(t, spendable)
}

func TestRESTClient_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewRESTClient(srv.URL).Describe(context.Background(), testRef)
	assert.ErrorIs(t, err, ErrOutputNotFound)
	// 404 means the output does not exist; no retry.
	assert.Equal(t, int32(1), calls.Load())
}

func TestRESTClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": 500, "address": "addr1", "confirmations": 1})
	}))
	defer srv.Close()

	out, err := NewRESTClient(srv.URL).Describe(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, int64(500), out.Value)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRESTClient_UnavailableAfterExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewRESTClient(srv.URL).Describe(context.Background(), testRef)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRESTClient_AddressBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/address/addr1/balance", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"confirmed": 123456})
	}))
	defer srv.Close()

	bal, err := NewRESTClient(srv.URL).AddressBalance(context.Background(), "addr1")
	require.NoError(t, err)
	assert.Equal(t, int64(123456), bal)
}

func TestRESTClient_SendSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/tx/broadcast", r.URL.Path)

		var req struct {
			Outputs []Output `json:"outputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Outputs, 1)
		assert.Equal(t, Output{To: "addr1", Value: 100}, req.Outputs[0])

		_ = json.NewEncoder(w).Encode(map[string]any{"txid": "tx-99"})
	}))
	defer srv.Close()

	txid, err := NewRESTClient(srv.URL).Send(context.Background(), []Output{{To: "addr1", Value: 100}})
	require.NoError(t, err)
	assert.Equal(t, "tx-99", txid)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRESTClient_SendFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewRESTClient(srv.URL).Send(context.Background(), []Output{{To: "addr1", Value: 100}})
	assert.ErrorIs(t, err, ErrBroadcast)
	// Broadcast is never retried: a timeout mid-flight may already have paid.
	assert.Equal(t, int32(1), calls.Load())
}
