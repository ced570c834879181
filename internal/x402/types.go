// Package x402 implements the x402 protocol types for the exact-utxo scheme.
//
// Wire shapes follow the x402 facilitator convention: a client signs a
// PaymentAuthorization referencing an on-chain funding output, wraps it in a
// PaymentPayload envelope, and the resource server forwards both the envelope
// and its own PaymentRequirements to the facilitator for verification and
// settlement.
package x402

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// X402Version is the protocol version this facilitator speaks.
const X402Version = 1

// SchemeExactUTXO is the payment scheme: an exact value authorization backed
// by a discrete on-chain funding output that is debited across many calls.
const SchemeExactUTXO = "exact-utxo"

var (
	ErrInvalidFundingRef = errors.New("x402: invalid funding reference")
	ErrInvalidAmount     = errors.New("x402: invalid amount")
)

// FundingRef identifies an on-chain value-bearing output: transaction id plus
// output index.
type FundingRef struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// String returns the canonical "<txid>:<vout>" form used as the ledger key.
func (f FundingRef) String() string {
	return f.TxID + ":" + strconv.FormatUint(uint64(f.Vout), 10)
}

// ParseFundingRef parses the canonical "<txid>:<vout>" form.
func ParseFundingRef(s string) (FundingRef, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return FundingRef{}, ErrInvalidFundingRef
	}
	vout, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return FundingRef{}, ErrInvalidFundingRef
	}
	return FundingRef{TxID: s[:idx], Vout: uint32(vout)}, nil
}

// Authorization is the client-signed payment authorization. Immutable once
// created; value and timestamps are decimal strings per x402 convention.
type Authorization struct {
	From        string      `json:"from"`
	To          string      `json:"to"`
	Value       string      `json:"value"`
	ValidAfter  string      `json:"validAfter"`
	ValidBefore string      `json:"validBefore"`
	Nonce       string      `json:"nonce"`
	Funding     *FundingRef `json:"funding,omitempty"`
}

// Window returns the authorization validity window as times.
func (a *Authorization) Window() (validAfter, validBefore time.Time, err error) {
	after, err := strconv.ParseInt(a.ValidAfter, 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("x402: invalid validAfter: %w", err)
	}
	before, err := strconv.ParseInt(a.ValidBefore, 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("x402: invalid validBefore: %w", err)
	}
	return time.Unix(after, 0), time.Unix(before, 0), nil
}

// ExactPayload carries the signed authorization for the exact-utxo scheme.
type ExactPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// PaymentPayload is the envelope presented by the client.
type PaymentPayload struct {
	X402Version int           `json:"x402Version"`
	Scheme      string        `json:"scheme"`
	Network     string        `json:"network"`
	Payload     *ExactPayload `json:"payload"`
}

// PaymentRequirements is set by the resource server and trusted input to
// verify/settle.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	PayTo             string `json:"payTo"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	MinAmountRequired string `json:"minAmountRequired,omitempty"`
	MinConfirmations  int64  `json:"minConfirmations,omitempty"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Resource          string `json:"resource,omitempty"`
	Description       string `json:"description,omitempty"`
}

// VerifyRequest is the POST /verify body.
type VerifyRequest struct {
	X402Version         int                  `json:"x402Version"`
	PaymentPayload      *PaymentPayload      `json:"paymentPayload" binding:"required"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements" binding:"required"`
}

// VerifyResponse is the terminal verification verdict. Never mutated after
// construction.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleRequest shares the verify body shape.
type SettleRequest = VerifyRequest

// SettleResponse is the terminal settlement verdict.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// SupportedKind is one (version, scheme, network) tuple the facilitator
// accepts.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse is the GET /supported body.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// PaymentRequired is the 402 response body a resource server sends when no
// valid payment accompanies a request.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// ParseAmount converts a decimal atomic-unit string (satoshis) to int64.
// Negative amounts and non-integers are rejected.
func ParseAmount(s string) (int64, error) {
	if s == "" {
		return 0, ErrInvalidAmount
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// FormatAmount converts an atomic-unit amount back to its wire string.
func FormatAmount(v int64) string {
	return strconv.FormatInt(v, 10)
}
