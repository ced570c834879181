package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// EncodePayment serializes a PaymentPayload to base64 JSON for the X-PAYMENT
// header.
func EncodePayment(payload PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("x402: marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayment parses a base64 JSON X-PAYMENT header into a PaymentPayload.
func DecodePayment(encoded string) (PaymentPayload, error) {
	var payload PaymentPayload
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payload, fmt.Errorf("x402: decode payment header: %w", err)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("x402: unmarshal payment: %w", err)
	}
	return payload, nil
}

// EncodeRequirements serializes a PaymentRequired body to base64 JSON for
// the X-PAYMENT-REQUIRED header.
func EncodeRequirements(required PaymentRequired) (string, error) {
	data, err := json.Marshal(required)
	if err != nil {
		return "", fmt.Errorf("x402: marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ValidateStructure checks the envelope for structural completeness before
// any semantic check runs: the payload and its authorization and signature
// must be present. No side effects.
func (p *PaymentPayload) ValidateStructure() error {
	if p.Payload == nil {
		return fmt.Errorf("x402: missing payload")
	}
	if p.Payload.Signature == "" {
		return fmt.Errorf("x402: missing signature")
	}
	auth := &p.Payload.Authorization
	if auth.From == "" || auth.To == "" || auth.Value == "" {
		return fmt.Errorf("x402: incomplete authorization")
	}
	if auth.ValidAfter == "" || auth.ValidBefore == "" || auth.Nonce == "" {
		return fmt.Errorf("x402: incomplete authorization")
	}
	return nil
}

// CanonicalMessage returns the deterministic serialization of an
// authorization that the client signs. Field order is fixed; the same
// serialization must be produced by the signer.
func CanonicalMessage(auth *Authorization) string {
	funding := ""
	if auth.Funding != nil {
		funding = auth.Funding.String()
	}
	return strings.Join([]string{
		"x402-exact-utxo",
		strings.ToLower(auth.From),
		strings.ToLower(auth.To),
		auth.Value,
		auth.ValidAfter,
		auth.ValidBefore,
		auth.Nonce,
		funding,
	}, "|")
}
