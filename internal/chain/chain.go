// Package chain wraps on-chain lookups and transaction broadcast behind
// capability interfaces. No component above this layer constructs or parses
// chain-native wire formats.
package chain

import (
	"context"
	"errors"

	"github.com/satmeter/facilitator/internal/x402"
)

var (
	ErrOutputNotFound = errors.New("chain: output not found")
	ErrUnavailable    = errors.New("chain: index unavailable")
	ErrBroadcast      = errors.New("chain: broadcast failed")
)

// OutputInfo describes an on-chain output as observed by the index.
type OutputInfo struct {
	// Value in satoshis.
	Value int64
	// Recipient is the address the output pays to.
	Recipient string
	// Confirmations at observation time. 0 = unconfirmed.
	Confirmations int64
}

// Oracle is the read surface consumed by the funding ledger and the
// settlement engine.
type Oracle interface {
	// Spendable reports whether the output is currently unspent.
	Spendable(ctx context.Context, ref x402.FundingRef) (bool, error)
	// Describe returns value, recipient and confirmation depth for the
	// output. Returns ErrOutputNotFound for unknown outputs.
	Describe(ctx context.Context, ref x402.FundingRef) (*OutputInfo, error)
	// AddressBalance returns the confirmed spendable balance of an address
	// in satoshis.
	AddressBalance(ctx context.Context, address string) (int64, error)
}

// Output is one recipient of a settlement transfer.
type Output struct {
	To    string `json:"to"`
	Value int64  `json:"value"`
}

// Broadcaster constructs and broadcasts a value transfer. Send is NOT
// idempotent: a timeout after broadcast is an unresolved double-broadcast
// risk, so callers must never retry it.
type Broadcaster interface {
	Send(ctx context.Context, outputs []Output) (txid string, err error)
}
