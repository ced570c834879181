package facilitator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/satmeter/facilitator/internal/x402"
)

var (
	verificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facilitator",
		Subsystem: "payments",
		Name:      "verifications_total",
		Help:      "Total verify calls by outcome.",
	}, []string{"outcome"}) // "ok" or the rejection reason

	settlementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facilitator",
		Subsystem: "payments",
		Name:      "settlements_total",
		Help:      "Total settle calls by outcome.",
	}, []string{"outcome"})

	settledValue = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "facilitator",
		Subsystem: "payments",
		Name:      "settled_value_sats_total",
		Help:      "Total value settled, in satoshis.",
	})
)

func init() {
	prometheus.MustRegister(verificationsTotal, settlementsTotal, settledValue)
}

func observeVerify(resp *x402.VerifyResponse) {
	if resp.IsValid {
		verificationsTotal.WithLabelValues("ok").Inc()
	} else {
		verificationsTotal.WithLabelValues(resp.InvalidReason).Inc()
	}
}

func observeSettle(resp *x402.SettleResponse) {
	if resp.Success {
		settlementsTotal.WithLabelValues("ok").Inc()
	} else {
		settlementsTotal.WithLabelValues(resp.ErrorReason).Inc()
	}
}
