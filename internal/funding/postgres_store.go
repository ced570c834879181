package funding

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists funding records in PostgreSQL. The Update CAS is a
// conditional write on the previously-read remaining balance, so two
// facilitator instances can never both win the same debit.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed funding store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the funding_records table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS funding_records (
			funding_ref       TEXT PRIMARY KEY,
			payer_address     TEXT NOT NULL,
			receiver_address  TEXT NOT NULL,
			original_value    BIGINT NOT NULL,
			remaining_balance BIGINT NOT NULL CHECK (remaining_balance >= 0),
			total_debited     BIGINT NOT NULL,
			confirmations     BIGINT NOT NULL DEFAULT 0,
			first_seen        TIMESTAMPTZ NOT NULL,
			last_updated      TIMESTAMPTZ NOT NULL,
			last_checked      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_funding_records_last_checked
			ON funding_records (last_checked);
	`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, fundingRef string) (*Record, error) {
	rec, err := scanRecord(p.db.QueryRowContext(ctx, `
		SELECT funding_ref, payer_address, receiver_address,
		       original_value, remaining_balance, total_debited, confirmations,
		       first_seen, last_updated, last_checked
		FROM funding_records WHERE funding_ref = $1`, fundingRef))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

func (p *PostgresStore) Create(ctx context.Context, rec *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO funding_records (
			funding_ref, payer_address, receiver_address,
			original_value, remaining_balance, total_debited, confirmations,
			first_seen, last_updated, last_checked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.FundingRef, rec.PayerAddress, rec.ReceiverAddress,
		rec.OriginalValue, rec.RemainingBalance, rec.TotalDebited, rec.Confirmations,
		rec.FirstSeen, rec.LastUpdated, rec.LastChecked,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateRef
	}
	return err
}

func (p *PostgresStore) Update(ctx context.Context, rec *Record, expectedRemaining int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE funding_records SET
			original_value = $1, remaining_balance = $2, total_debited = $3,
			confirmations = $4, last_updated = $5, last_checked = $6
		WHERE funding_ref = $7 AND remaining_balance = $8`,
		rec.OriginalValue, rec.RemainingBalance, rec.TotalDebited,
		rec.Confirmations, rec.LastUpdated, rec.LastChecked,
		rec.FundingRef, expectedRemaining,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the row is gone or the balance moved; both are conflicts
		// the caller resolves by re-reading.
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) ListStale(ctx context.Context, before time.Time, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT funding_ref, payer_address, receiver_address,
		       original_value, remaining_balance, total_debited, confirmations,
		       first_seen, last_updated, last_checked
		FROM funding_records
		WHERE last_checked < $1
		ORDER BY last_checked ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// --- scanners ---

type recordScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc recordScanner) (*Record, error) {
	rec := &Record{}
	err := sc.Scan(
		&rec.FundingRef, &rec.PayerAddress, &rec.ReceiverAddress,
		&rec.OriginalValue, &rec.RemainingBalance, &rec.TotalDebited, &rec.Confirmations,
		&rec.FirstSeen, &rec.LastUpdated, &rec.LastChecked,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// Compile-time assertion.
var _ Store = (*PostgresStore)(nil)
