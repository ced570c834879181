package funding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/satmeter/facilitator/internal/chain"
	"github.com/satmeter/facilitator/internal/logging"
	"github.com/satmeter/facilitator/internal/syncutil"
	"github.com/satmeter/facilitator/internal/x402"
)

const (
	// DefaultRevalidateInterval bounds how stale a cached balance may be
	// before the chain is consulted again on the debit path.
	DefaultRevalidateInterval = 5 * time.Minute

	// casMaxAttempts bounds CAS retries when another facilitator instance
	// wrote the record between our read and write.
	casMaxAttempts = 3
)

// Ledger owns the debit protocol. Debits against the same funding object are
// serialized by a per-key lock; debits against different objects run in
// parallel.
type Ledger struct {
	store           Store
	oracle          chain.Oracle
	locks           *syncutil.KeyMutex
	revalidateAfter time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// Option configures the ledger.
type Option func(*Ledger)

// WithRevalidateInterval overrides the staleness window.
func WithRevalidateInterval(d time.Duration) Option {
	return func(l *Ledger) { l.revalidateAfter = d }
}

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock sets the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a funding ledger over the given store and chain oracle.
func NewLedger(store Store, oracle chain.Oracle, opts ...Option) *Ledger {
	l := &Ledger{
		store:           store,
		oracle:          oracle,
		locks:           syncutil.NewKeyMutex(),
		revalidateAfter: DefaultRevalidateInterval,
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Debit attempts to consume callCost satoshis from the funding object.
//
// Unknown objects are admitted only after on-chain revalidation confirms
// spendability, confirmation depth, recipient and positive value. Known
// objects are revalidated when the cached state is older than the staleness
// window; otherwise the cached balance is trusted. A debit that would drive
// the balance negative is rejected without mutating the record.
func (l *Ledger) Debit(ctx context.Context, ref x402.FundingRef, payer string, callCost int64, req Requirements) DebitResult {
	if callCost <= 0 {
		return rejected(x402.ReasonInvalidAuthorizationValue)
	}

	key := ref.String()
	release, err := l.locks.Acquire(ctx, key)
	if err != nil {
		return rejected(x402.ReasonUnexpectedUTXOValidationError)
	}
	defer release()

	done := observeDebit()
	result := l.debitLocked(ctx, ref, key, payer, callCost, req)
	done(result)
	return result
}

func (l *Ledger) debitLocked(ctx context.Context, ref x402.FundingRef, key, payer string, callCost int64, req Requirements) DebitResult {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		rec, err := l.store.Get(ctx, key)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			return l.debitCold(ctx, ref, key, payer, callCost, req)
		case err != nil:
			// Fail closed: without the ledger we cannot assume validity.
			logging.L(ctx).Error("funding store lookup failed", "funding_ref", key, "error", err)
			return rejected(x402.ReasonUnexpectedUTXOValidationError)
		}

		result, conflict := l.debitWarm(ctx, ref, rec, callCost, req)
		if !conflict {
			return result
		}
		// Another instance moved the balance under us; re-read and retry.
		debitCASConflicts.Inc()
	}

	logging.L(ctx).Error("funding debit exhausted CAS retries", "funding_ref", key)
	return rejected(x402.ReasonUnexpectedUTXOValidationError)
}

// debitCold admits a previously-unknown funding object. The first call must
// be affordable; no record is persisted on any failure.
func (l *Ledger) debitCold(ctx context.Context, ref x402.FundingRef, key, payer string, callCost int64, req Requirements) DebitResult {
	obs, reason := l.revalidate(ctx, ref, req)
	if reason != "" {
		return rejected(reason)
	}

	remaining := obs.Value - callCost
	if remaining < 0 {
		return rejected(x402.ReasonInsufficientUTXOBalance)
	}

	now := l.now()
	rec := &Record{
		FundingRef:       key,
		PayerAddress:     payer,
		ReceiverAddress:  obs.Recipient,
		OriginalValue:    obs.Value,
		RemainingBalance: remaining,
		TotalDebited:     callCost,
		Confirmations:    obs.Confirmations,
		FirstSeen:        now,
		LastUpdated:      now,
		LastChecked:      now,
	}
	if err := l.store.Create(ctx, rec); err != nil {
		logging.L(ctx).Error("funding record create failed", "funding_ref", key, "error", err)
		return rejected(x402.ReasonUnexpectedUTXOValidationError)
	}

	recordsCreated.Inc()
	l.logger.Info("funding object admitted",
		"funding_ref", key, "payer", payer, "value", obs.Value, "remaining", remaining)
	return DebitResult{Valid: true, RemainingBalance: remaining}
}

// debitWarm debits a known funding object. Returns conflict=true when the
// CAS write lost to a concurrent writer and the caller should re-read.
func (l *Ledger) debitWarm(ctx context.Context, ref x402.FundingRef, rec *Record, callCost int64, req Requirements) (DebitResult, bool) {
	// A funding object is bound to the recipient it was admitted for; the
	// cached record settles this even when the chain is not consulted.
	if !equalAddress(rec.ReceiverAddress, req.PayTo) {
		return rejected(x402.ReasonRecipientMismatch), false
	}

	storedRemaining := rec.RemainingBalance
	now := l.now()
	revalidated := false

	if now.Sub(rec.LastChecked) > l.revalidateAfter {
		obs, reason := l.reconcileRecord(ctx, ref, rec, req)
		if reason != "" {
			return rejected(reason), false
		}
		rec.Confirmations = obs.Confirmations
		revalidated = true
	}

	updated := rec.RemainingBalance - callCost
	if updated < 0 {
		// Rejection leaves the stored record untouched, including any
		// in-memory clamp from reconciliation above.
		return rejected(x402.ReasonInsufficientUTXOBalance), false
	}

	rec.RemainingBalance = updated
	rec.TotalDebited += callCost
	rec.LastUpdated = now
	if revalidated {
		rec.LastChecked = now
	}

	err := l.store.Update(ctx, rec, storedRemaining)
	switch {
	case errors.Is(err, ErrConflict):
		return DebitResult{}, true
	case err != nil:
		logging.L(ctx).Error("funding record update failed", "funding_ref", rec.FundingRef, "error", err)
		return rejected(x402.ReasonUnexpectedUTXOValidationError), false
	}

	return DebitResult{Valid: true, RemainingBalance: updated}, false
}

// reconcileRecord re-queries the chain for a known object and reconciles the
// cached balance against ground truth. The authoritative ceiling is the
// observed on-chain value minus what this ledger already debited: a ceiling
// below the cached balance means value left the object elsewhere, and a
// negative ceiling means it was fully consumed elsewhere.
func (l *Ledger) reconcileRecord(ctx context.Context, ref x402.FundingRef, rec *Record, req Requirements) (*chain.OutputInfo, string) {
	spendable, err := l.oracle.Spendable(ctx, ref)
	if err != nil {
		revalidationsTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Error("funding revalidation failed", "funding_ref", rec.FundingRef, "error", err)
		return nil, x402.ReasonUTXOValidationFailed
	}
	if !spendable {
		revalidationsTotal.WithLabelValues("previous_spend").Inc()
		return nil, x402.ReasonUTXOPreviousSpendDetected
	}

	obs, err := l.oracle.Describe(ctx, ref)
	if errors.Is(err, chain.ErrOutputNotFound) {
		revalidationsTotal.WithLabelValues("not_found").Inc()
		return nil, x402.ReasonUTXOOutputNotFound
	}
	if err != nil {
		revalidationsTotal.WithLabelValues("error").Inc()
		return nil, x402.ReasonUTXOValidationFailed
	}

	if obs.Confirmations < req.MinConfirmations {
		revalidationsTotal.WithLabelValues("insufficient_confirmations").Inc()
		return nil, x402.ReasonInsufficientConfirmations
	}
	if !equalAddress(obs.Recipient, req.PayTo) {
		revalidationsTotal.WithLabelValues("recipient_mismatch").Inc()
		return nil, x402.ReasonRecipientMismatch
	}

	ceiling := obs.Value - rec.TotalDebited
	if ceiling < 0 {
		revalidationsTotal.WithLabelValues("previous_spend").Inc()
		return nil, x402.ReasonUTXOPreviousSpendDetected
	}
	if ceiling < rec.RemainingBalance {
		// Partial external spend: correct the balance downward. This is the
		// one sanctioned downward correction of originalValue.
		l.logger.Warn("funding balance clamped after external spend",
			"funding_ref", rec.FundingRef,
			"cached_remaining", rec.RemainingBalance,
			"ceiling", ceiling)
		balanceClamps.Inc()
		rec.RemainingBalance = ceiling
		rec.OriginalValue = obs.Value
	}

	revalidationsTotal.WithLabelValues("ok").Inc()
	return obs, ""
}

// revalidate performs the cold-path admission checks: spendability,
// confirmation depth, recipient, positive value.
func (l *Ledger) revalidate(ctx context.Context, ref x402.FundingRef, req Requirements) (*chain.OutputInfo, string) {
	spendable, err := l.oracle.Spendable(ctx, ref)
	if errors.Is(err, chain.ErrOutputNotFound) {
		revalidationsTotal.WithLabelValues("not_found").Inc()
		return nil, x402.ReasonUTXOOutputNotFound
	}
	if err != nil {
		// Cold path cannot create a record without ground truth.
		revalidationsTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Error("funding admission check failed", "funding_ref", ref.String(), "error", err)
		return nil, x402.ReasonUTXOValidationFailed
	}
	if !spendable {
		revalidationsTotal.WithLabelValues("not_spendable").Inc()
		return nil, x402.ReasonUTXONotSpendable
	}

	obs, err := l.oracle.Describe(ctx, ref)
	if errors.Is(err, chain.ErrOutputNotFound) {
		revalidationsTotal.WithLabelValues("not_found").Inc()
		return nil, x402.ReasonUTXOOutputNotFound
	}
	if err != nil {
		revalidationsTotal.WithLabelValues("error").Inc()
		return nil, x402.ReasonUTXOValidationFailed
	}

	if obs.Confirmations < req.MinConfirmations {
		revalidationsTotal.WithLabelValues("insufficient_confirmations").Inc()
		return nil, x402.ReasonInsufficientConfirmations
	}
	if !equalAddress(obs.Recipient, req.PayTo) {
		revalidationsTotal.WithLabelValues("recipient_mismatch").Inc()
		return nil, x402.ReasonRecipientMismatch
	}
	if obs.Value <= 0 {
		revalidationsTotal.WithLabelValues("invalid_value").Inc()
		return nil, x402.ReasonInvalidUTXOValue
	}

	revalidationsTotal.WithLabelValues("ok").Inc()
	return obs, ""
}

// Get returns a copy of the ledger record for a funding reference.
func (l *Ledger) Get(ctx context.Context, ref x402.FundingRef) (*Record, error) {
	return l.store.Get(ctx, ref.String())
}
