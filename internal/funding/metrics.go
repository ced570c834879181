package funding

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	debitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facilitator",
		Subsystem: "funding",
		Name:      "debits_total",
		Help:      "Total debit attempts by outcome.",
	}, []string{"outcome"}) // "ok" or the rejection reason

	debitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facilitator",
		Subsystem: "funding",
		Name:      "debit_duration_seconds",
		Help:      "Debit latency in seconds, including any revalidation.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	revalidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facilitator",
		Subsystem: "funding",
		Name:      "revalidations_total",
		Help:      "Total on-chain revalidations by outcome.",
	}, []string{"outcome"})

	recordsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "facilitator",
		Subsystem: "funding",
		Name:      "records_created_total",
		Help:      "Total funding records admitted to the ledger.",
	})

	balanceClamps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "facilitator",
		Subsystem: "funding",
		Name:      "balance_clamps_total",
		Help:      "Total downward balance corrections after an external spend.",
	})

	debitCASConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "facilitator",
		Subsystem: "funding",
		Name:      "debit_cas_conflicts_total",
		Help:      "Total compare-and-swap conflicts on the debit path.",
	})
)

func init() {
	prometheus.MustRegister(
		debitsTotal,
		debitDuration,
		revalidationsTotal,
		recordsCreated,
		balanceClamps,
		debitCASConflicts,
	)
}

// observeDebit times one debit attempt and counts its outcome.
func observeDebit() func(DebitResult) {
	start := time.Now()
	return func(res DebitResult) {
		debitDuration.Observe(time.Since(start).Seconds())
		if res.Valid {
			debitsTotal.WithLabelValues("ok").Inc()
		} else {
			debitsTotal.WithLabelValues(res.Reason).Inc()
		}
	}
}
