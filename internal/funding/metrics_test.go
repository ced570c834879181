package funding

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satmeter/facilitator/internal/x402"
)

// counterValue reads the current value of a counter from the default
// registry, selecting by metric name and optional label pairs.
func counterValue(t *testing.T, name string, labels ...string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if !matchesLabels(m, labels) {
				continue
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func matchesLabels(m *dto.Metric, pairs []string) bool {
	for i := 0; i+1 < len(pairs); i += 2 {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == pairs[i] && lp.GetValue() == pairs[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestMetrics_DebitOutcomesCounted(t *testing.T) {
	oracle := newFakeOracle()
	oracle.setOutput(testRef, 1000, 3, payTo)
	ledger, _ := newTestLedger(t, oracle)

	createdBefore := counterValue(t, "facilitator_funding_records_created_total")
	okBefore := counterValue(t, "facilitator_funding_debits_total", "outcome", "ok")
	notFoundBefore := counterValue(t, "facilitator_funding_debits_total", "outcome", x402.ReasonUTXOOutputNotFound)

	res := ledger.Debit(context.Background(), testRef, payer, 100, testRequirements())
	require.True(t, res.Valid, "reason: %s", res.Reason)

	missing := x402.FundingRef{TxID: "feedface00", Vout: 7}
	res = ledger.Debit(context.Background(), missing, payer, 100, testRequirements())
	require.False(t, res.Valid)

	assert.Equal(t, createdBefore+1, counterValue(t, "facilitator_funding_records_created_total"))
	assert.Equal(t, okBefore+1, counterValue(t, "facilitator_funding_debits_total", "outcome", "ok"))
	assert.Equal(t, notFoundBefore+1, counterValue(t, "facilitator_funding_debits_total", "outcome", x402.ReasonUTXOOutputNotFound))
}
