package funding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/satmeter/facilitator/internal/chain"
	"github.com/satmeter/facilitator/internal/x402"
)

const reconcileBatchSize = 100

// Reconciler periodically revalidates stale funding records against the
// chain so the staleness window stays bounded even for idle objects. It
// refreshes confirmation counts, applies partial-spend clamps, and flags
// fully-consumed objects — the debit path still makes the final call on the
// next request.
type Reconciler struct {
	store      Store
	oracle     chain.Oracle
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewReconciler creates a reconcile worker. staleAfter should match the
// ledger's revalidation window.
func NewReconciler(store Store, oracle chain.Oracle, interval, staleAfter time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:      store,
		oracle:     oracle,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Run loops until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("funding reconciler started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("funding reconciler stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep revalidates one batch of stale records.
func (r *Reconciler) Sweep(ctx context.Context) {
	stale, err := r.store.ListStale(ctx, time.Now().Add(-r.staleAfter), reconcileBatchSize)
	if err != nil {
		r.logger.Error("reconcile: list stale records failed", "error", err)
		return
	}

	for _, rec := range stale {
		r.reconcileOne(ctx, rec)
	}
}

func (r *Reconciler) reconcileOne(ctx context.Context, rec *Record) {
	ref, err := x402.ParseFundingRef(rec.FundingRef)
	if err != nil {
		r.logger.Error("reconcile: malformed funding ref in store", "funding_ref", rec.FundingRef)
		return
	}

	spendable, err := r.oracle.Spendable(ctx, ref)
	if err != nil {
		// Oracle unavailable: leave the record stale so the next debit or
		// sweep retries.
		r.logger.Warn("reconcile: chain lookup failed", "funding_ref", rec.FundingRef, "error", err)
		return
	}
	if !spendable {
		// Fully consumed elsewhere. Leave lastChecked untouched so the next
		// debit revalidates and reports utxo_previous_spend_detected rather
		// than a stale cached balance.
		r.logger.Warn("reconcile: funding object spent elsewhere", "funding_ref", rec.FundingRef)
		return
	}

	obs, err := r.oracle.Describe(ctx, ref)
	if err != nil {
		if !errors.Is(err, chain.ErrOutputNotFound) {
			r.logger.Warn("reconcile: describe failed", "funding_ref", rec.FundingRef, "error", err)
		}
		return
	}

	expected := rec.RemainingBalance
	ceiling := obs.Value - rec.TotalDebited
	if ceiling < 0 {
		// Same treatment as the spent case: the debit path owns the verdict.
		r.logger.Warn("reconcile: on-chain ceiling below total debited",
			"funding_ref", rec.FundingRef, "ceiling", ceiling)
		return
	}
	if ceiling < rec.RemainingBalance {
		r.logger.Warn("reconcile: clamping balance after external spend",
			"funding_ref", rec.FundingRef, "cached_remaining", rec.RemainingBalance, "ceiling", ceiling)
		balanceClamps.Inc()
		rec.RemainingBalance = ceiling
		rec.OriginalValue = obs.Value
	}

	rec.Confirmations = obs.Confirmations
	rec.LastChecked = time.Now()

	if err := r.store.Update(ctx, rec, expected); err != nil {
		if errors.Is(err, ErrConflict) {
			// A debit moved the balance mid-sweep; it refreshed the record
			// itself, nothing to do.
			return
		}
		r.logger.Error("reconcile: update failed", "funding_ref", rec.FundingRef, "error", err)
	}
}
