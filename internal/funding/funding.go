// Package funding maintains the per-funding-object debit ledger.
//
// A funding object is a discrete on-chain output (txid:vout) that backs many
// successive API calls: each verified call debits the call's price from the
// cached remaining balance until the object is exhausted. The ledger trusts
// its own cached balance between revalidation windows and periodically
// re-checks the chain so a spend elsewhere cannot go undetected forever.
package funding

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrRecordNotFound = errors.New("funding: record not found")
	ErrConflict       = errors.New("funding: concurrent update conflict")
	ErrDuplicateRef   = errors.New("funding: record already exists")
)

// Record is the durable ledger row for one funding object. Owned exclusively
// by this package; remainingBalance + totalDebited == originalValue holds
// after every successful debit.
type Record struct {
	FundingRef       string    `json:"fundingRef"`
	PayerAddress     string    `json:"payerAddress"`
	ReceiverAddress  string    `json:"receiverAddress"`
	OriginalValue    int64     `json:"originalValue"`
	RemainingBalance int64     `json:"remainingBalance"`
	TotalDebited     int64     `json:"totalDebited"`
	Confirmations    int64     `json:"confirmations"`
	FirstSeen        time.Time `json:"firstSeen"`
	LastUpdated      time.Time `json:"lastUpdated"`
	LastChecked      time.Time `json:"lastChecked"`
}

// Clone returns a copy so callers can never alias store-owned state.
func (r *Record) Clone() *Record {
	cp := *r
	return &cp
}

// Store persists funding records. Update is a compare-and-swap conditioned on
// the remaining balance previously read: it returns ErrConflict when the
// stored balance no longer matches expectedRemaining, and must write all
// fields atomically or not at all.
type Store interface {
	Get(ctx context.Context, fundingRef string) (*Record, error)
	Create(ctx context.Context, rec *Record) error
	Update(ctx context.Context, rec *Record, expectedRemaining int64) error
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Record, error)
}

// Requirements is the slice of the resource server's payment requirements
// the ledger needs for revalidation.
type Requirements struct {
	PayTo            string
	MinConfirmations int64
}

// DebitResult is the verdict of one debit attempt.
type DebitResult struct {
	Valid            bool
	Reason           string // reason code when invalid
	RemainingBalance int64  // balance after a successful debit
}

func rejected(reason string) DebitResult {
	return DebitResult{Valid: false, Reason: reason}
}

// equalAddress compares addresses case-insensitively (hex addresses differ
// only in checksum casing).
func equalAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
