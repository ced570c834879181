// Package facilitator orchestrates payment verification and settlement.
//
// Verify and settle share one pipeline: structural validation, supported-kind
// checks, the authorization time window, signature verification, amount
// checks, then the funding debit. Settle re-runs the whole pipeline before
// broadcasting; it never trusts a prior verify call, since chain and ledger
// state may have moved in between.
package facilitator

import (
	"context"
	"log/slog"
	"time"

	"github.com/satmeter/facilitator/internal/chain"
	"github.com/satmeter/facilitator/internal/funding"
	"github.com/satmeter/facilitator/internal/logging"
	"github.com/satmeter/facilitator/internal/signature"
	"github.com/satmeter/facilitator/internal/traces"
	"github.com/satmeter/facilitator/internal/x402"
)

// Publisher receives verify/settle outcome events for the live feed.
type Publisher interface {
	PublishVerification(payer, reason string, valid bool)
	PublishSettlement(payer, txid, reason string, value int64, success bool)
}

// Service implements the facilitator operations.
type Service struct {
	network          string
	payoutAddress    string
	minConfirmations int64
	verifier         *signature.Verifier
	ledger           *funding.Ledger
	oracle           chain.Oracle
	broadcaster      chain.Broadcaster
	settlements      SettlementStore
	events           Publisher
	logger           *slog.Logger
	now              func() time.Time
}

// Config carries the service's construction parameters.
type Config struct {
	Network          string
	PayoutAddress    string
	MinConfirmations int64
}

// NewService creates a facilitator service.
func NewService(cfg Config, verifier *signature.Verifier, ledger *funding.Ledger, oracle chain.Oracle, broadcaster chain.Broadcaster, settlements SettlementStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if settlements == nil {
		settlements = NewMemorySettlementStore()
	}
	return &Service{
		network:          cfg.Network,
		payoutAddress:    cfg.PayoutAddress,
		minConfirmations: cfg.MinConfirmations,
		verifier:         verifier,
		ledger:           ledger,
		oracle:           oracle,
		broadcaster:      broadcaster,
		settlements:      settlements,
		logger:           logger,
		now:              time.Now,
	}
}

// SetPublisher attaches the live event feed. Optional.
func (s *Service) SetPublisher(p Publisher) { s.events = p }

// Supported returns the (version, scheme, network) tuples this facilitator
// accepts.
func (s *Service) Supported() x402.SupportedResponse {
	return x402.SupportedResponse{
		Kinds: []x402.SupportedKind{
			{X402Version: x402.X402Version, Scheme: x402.SchemeExactUTXO, Network: s.network},
		},
	}
}

// verdict is the pipeline's terminal outcome.
type verdict struct {
	valid  bool
	reason string
	payer  string
	value  int64
}

func reject(reason, payer string) verdict {
	return verdict{reason: reason, payer: payer}
}

// Verify checks a payment authorization without mutating chain state. The
// funding debit it performs is a ledger reservation, not a broadcast.
func (s *Service) Verify(ctx context.Context, req *x402.VerifyRequest) (resp *x402.VerifyResponse) {
	ctx, span := traces.StartSpan(ctx, "facilitator.verify", traces.Network(s.network))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("verify panicked", "panic", r)
			resp = &x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonUnexpectedVerifyError}
		}
		observeVerify(resp)
		if s.events != nil {
			s.events.PublishVerification(resp.Payer, resp.InvalidReason, resp.IsValid)
		}
	}()

	v := s.runPipeline(ctx, req.PaymentPayload, req.PaymentRequirements)
	span.SetAttributes(traces.Payer(v.payer), traces.Reason(v.reason))
	if !v.valid {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: v.reason, Payer: v.payer}
	}
	return &x402.VerifyResponse{IsValid: true, Payer: v.payer}
}

// Settle re-runs verification and broadcasts the settlement transfer.
//
// Broadcast is not idempotent: a timeout after submission is an unresolved
// double-broadcast risk, surfaced as invalid_transaction_state and never
// retried. With minConfirmations > 0 the response still returns on broadcast;
// confirmation depth is an out-of-band oracle query.
func (s *Service) Settle(ctx context.Context, req *x402.SettleRequest) (resp *x402.SettleResponse) {
	ctx, span := traces.StartSpan(ctx, "facilitator.settle", traces.Network(s.network))
	defer span.End()

	var (
		payer string
		value int64
	)
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("settle panicked", "panic", r)
			resp = &x402.SettleResponse{Success: false, ErrorReason: x402.ReasonUnexpectedSettleError, Network: s.network, Payer: payer}
		}
		observeSettle(resp)
		s.recordSettlement(ctx, req, resp, value)
		if s.events != nil {
			s.events.PublishSettlement(resp.Payer, resp.Transaction, resp.ErrorReason, value, resp.Success)
		}
	}()

	v := s.runPipeline(ctx, req.PaymentPayload, req.PaymentRequirements)
	payer, value = v.payer, v.value
	span.SetAttributes(traces.Payer(v.payer), traces.Amount(v.value))
	if !v.valid {
		return &x402.SettleResponse{Success: false, ErrorReason: v.reason, Network: s.network, Payer: v.payer}
	}

	// The payout source must itself cover the transfer before we attempt to
	// construct one.
	balance, err := s.oracle.AddressBalance(ctx, s.payoutAddress)
	if err != nil {
		logging.L(ctx).Error("payout balance lookup failed", "error", err)
		return &x402.SettleResponse{Success: false, ErrorReason: x402.ReasonUnexpectedSettleError, Network: s.network, Payer: payer}
	}
	if balance < v.value {
		return &x402.SettleResponse{Success: false, ErrorReason: x402.ReasonInsufficientFunds, Network: s.network, Payer: payer}
	}

	txid, err := s.broadcaster.Send(ctx, []chain.Output{{To: req.PaymentRequirements.PayTo, Value: v.value}})
	if err != nil || txid == "" {
		logging.L(ctx).Error("settlement broadcast failed", "payer", payer, "value", v.value, "error", err)
		return &x402.SettleResponse{Success: false, ErrorReason: x402.ReasonInvalidTransactionState, Network: s.network, Payer: payer}
	}

	settledValue.Add(float64(v.value))
	s.logger.Info("payment settled", "payer", payer, "pay_to", req.PaymentRequirements.PayTo, "value", v.value, "txid", txid)
	return &x402.SettleResponse{Success: true, Transaction: txid, Network: s.network, Payer: payer}
}

// runPipeline is the shared verification sequence. Each stage is one-way:
// the first failure is terminal and no later stage runs.
func (s *Service) runPipeline(ctx context.Context, payload *x402.PaymentPayload, req *x402.PaymentRequirements) verdict {
	if payload == nil || req == nil {
		return reject(x402.ReasonInvalidPayload, "")
	}
	if err := payload.ValidateStructure(); err != nil {
		return reject(x402.ReasonInvalidPayload, "")
	}
	auth := &payload.Payload.Authorization
	payer := auth.From

	if payload.X402Version != x402.X402Version || payload.Scheme != x402.SchemeExactUTXO || req.Scheme != payload.Scheme {
		return reject(x402.ReasonInvalidScheme, payer)
	}
	if payload.Network != s.network || req.Network != payload.Network {
		return reject(x402.ReasonInvalidNetwork, payer)
	}

	validAfter, validBefore, err := auth.Window()
	if err != nil || !validAfter.Before(validBefore) {
		return reject(x402.ReasonInvalidPayload, payer)
	}
	now := s.now()
	if now.Before(validAfter) {
		return reject(x402.ReasonAuthorizationNotYetValid, payer)
	}
	if !now.Before(validBefore) {
		return reject(x402.ReasonAuthorizationExpired, payer)
	}

	if !s.verifier.Verify(ctx, payer, payload.Payload.Signature, x402.CanonicalMessage(auth)) {
		return reject(x402.ReasonInvalidSignature, payer)
	}

	value, err := x402.ParseAmount(auth.Value)
	if err != nil || value <= 0 {
		return reject(x402.ReasonInvalidAuthorizationValue, payer)
	}
	maxRequired, err := x402.ParseAmount(req.MaxAmountRequired)
	if err != nil {
		return reject(x402.ReasonInvalidPayload, payer)
	}
	if value < maxRequired {
		return reject(x402.ReasonInvalidAuthorizationValue, payer)
	}
	if req.MinAmountRequired != "" {
		minRequired, err := x402.ParseAmount(req.MinAmountRequired)
		if err != nil {
			return reject(x402.ReasonInvalidPayload, payer)
		}
		if value < minRequired {
			return reject(x402.ReasonAuthorizationValueTooLow, payer)
		}
	}

	if auth.Funding != nil {
		traces.Annotate(ctx, traces.FundingRef(auth.Funding.String()))
		minConf := req.MinConfirmations
		if minConf <= 0 {
			minConf = s.minConfirmations
		}
		res := s.ledger.Debit(ctx, *auth.Funding, payer, value, funding.Requirements{
			PayTo:            req.PayTo,
			MinConfirmations: minConf,
		})
		if !res.Valid {
			return reject(res.Reason, payer)
		}
		return verdict{valid: true, payer: payer, value: value}
	}

	// No funding reference: the authorization draws on the payer's address
	// balance directly.
	balance, err := s.oracle.AddressBalance(ctx, payer)
	if err != nil {
		logging.L(ctx).Error("payer balance lookup failed", "payer", payer, "error", err)
		return reject(x402.ReasonUnexpectedVerifyError, payer)
	}
	if balance < value {
		return reject(x402.ReasonInsufficientFunds, payer)
	}
	return verdict{valid: true, payer: payer, value: value}
}

func (s *Service) recordSettlement(ctx context.Context, req *x402.SettleRequest, resp *x402.SettleResponse, value int64) {
	rec := &SettlementRecord{
		Payer:     resp.Payer,
		Value:     value,
		Success:   resp.Success,
		Reason:    resp.ErrorReason,
		TxID:      resp.Transaction,
		Network:   s.network,
		CreatedAt: s.now(),
	}
	if req.PaymentRequirements != nil {
		rec.PayTo = req.PaymentRequirements.PayTo
	}
	if pp := req.PaymentPayload; pp != nil && pp.Payload != nil && pp.Payload.Authorization.Funding != nil {
		rec.FundingRef = pp.Payload.Authorization.Funding.String()
	}
	// Best effort: the settlement verdict stands even if the log write fails.
	if err := s.settlements.Insert(ctx, rec); err != nil {
		logging.L(ctx).Error("settlement log write failed", "error", err)
	}
}
