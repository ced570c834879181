package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satmeter/facilitator/internal/funding"
	"github.com/satmeter/facilitator/internal/signature"
	"github.com/satmeter/facilitator/internal/x402"
)

func newTestRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture(t)
	r := gin.New()
	NewHandler(f.service).RegisterRoutes(r.Group("/"))
	return r, f
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Supported(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/supported", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp x402.SupportedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Kinds, 1)
	assert.Equal(t, x402.SchemeExactUTXO, resp.Kinds[0].Scheme)
}

func TestHandler_VerifyMalformedBodyIs400(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/verify", gin.H{"x402Version": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_VerifyInvalidPaymentIs200(t *testing.T) {
	r, f := newTestRouter(t)

	// Well-formed request, unknown funding output: a payment verdict, not an
	// HTTP error.
	req := f.signedRequest(t, 100)
	w := doJSON(t, r, http.MethodPost, "/verify", req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp x402.VerifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsValid)
	assert.Equal(t, x402.ReasonUTXOOutputNotFound, resp.InvalidReason)
}

func TestHandler_VerifyValidPayment(t *testing.T) {
	r, f := newTestRouter(t)
	f.oracle.setOutput(testFunding, 1000, 3, testPayTo)

	w := doJSON(t, r, http.MethodPost, "/verify", f.signedRequest(t, 100))
	require.Equal(t, http.StatusOK, w.Code)

	var resp x402.VerifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsValid, "reason: %s", resp.InvalidReason)
	assert.Equal(t, f.payer, resp.Payer)
}

func TestHandler_Settle(t *testing.T) {
	r, f := newTestRouter(t)
	f.oracle.setOutput(testFunding, 1000, 3, testPayTo)

	w := doJSON(t, r, http.MethodPost, "/settle", f.signedRequest(t, 100))
	require.Equal(t, http.StatusOK, w.Code)

	var resp x402.SettleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success, "reason: %s", resp.ErrorReason)
	assert.Equal(t, "settled-tx-01", resp.Transaction)
}

// brokenFundingStore fails every read, standing in for a lost ledger backend.
type brokenFundingStore struct {
	funding.Store
}

func (s *brokenFundingStore) Get(context.Context, string) (*funding.Record, error) {
	return nil, errors.New("connection refused")
}

func newBrokenLedgerRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture(t)
	ledger := funding.NewLedger(&brokenFundingStore{Store: funding.NewMemoryStore()}, f.oracle)
	service := NewService(
		Config{Network: testNetwork, PayoutAddress: testPayout, MinConfirmations: 1},
		signature.NewVerifier(signature.NewRecoverService(), nil),
		ledger, f.oracle, f.broadcaster, f.settlements, nil,
	)
	r := gin.New()
	NewHandler(service).RegisterRoutes(r.Group("/"))
	return r, f
}

func TestHandler_VerifyStoreFailureIs500(t *testing.T) {
	r, f := newBrokenLedgerRouter(t)
	f.oracle.setOutput(testFunding, 1000, 3, testPayTo)

	w := doJSON(t, r, http.MethodPost, "/verify", f.signedRequest(t, 100))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp x402.VerifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsValid)
	assert.Equal(t, x402.ReasonUnexpectedUTXOValidationError, resp.InvalidReason)
}

func TestHandler_SettleStoreFailureIs500(t *testing.T) {
	r, f := newBrokenLedgerRouter(t)
	f.oracle.setOutput(testFunding, 1000, 3, testPayTo)

	w := doJSON(t, r, http.MethodPost, "/settle", f.signedRequest(t, 100))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp x402.SettleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, x402.ReasonUnexpectedUTXOValidationError, resp.ErrorReason)
	assert.Equal(t, 0, f.broadcaster.callCount())
}

func TestHandler_ListSettlements(t *testing.T) {
	r, f := newTestRouter(t)
	f.oracle.setOutput(testFunding, 1000, 3, testPayTo)

	doJSON(t, r, http.MethodPost, "/settle", f.signedRequest(t, 100))

	w := doJSON(t, r, http.MethodGet, "/settlements?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Settlements []*SettlementRecord `json:"settlements"`
		Count       int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	w = doJSON(t, r, http.MethodGet, "/settlements?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
