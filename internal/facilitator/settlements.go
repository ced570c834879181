package facilitator

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/satmeter/facilitator/internal/idgen"
)

// SettlementRecord is one settle attempt, successful or not. The log is an
// audit trail; it plays no part in the verdict.
type SettlementRecord struct {
	ID         string    `json:"id"`
	Payer      string    `json:"payer"`
	PayTo      string    `json:"payTo"`
	FundingRef string    `json:"fundingRef,omitempty"`
	Value      int64     `json:"value"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason,omitempty"`
	TxID       string    `json:"txid,omitempty"`
	Network    string    `json:"network"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SettlementStore persists the settlement audit log.
type SettlementStore interface {
	Insert(ctx context.Context, rec *SettlementRecord) error
	List(ctx context.Context, limit int) ([]*SettlementRecord, error)
}

// MemorySettlementStore keeps the log in memory for demo/development mode.
type MemorySettlementStore struct {
	mu      sync.RWMutex
	records []*SettlementRecord
}

// NewMemorySettlementStore creates an in-memory settlement log.
func NewMemorySettlementStore() *MemorySettlementStore {
	return &MemorySettlementStore{}
}

func (m *MemorySettlementStore) Insert(ctx context.Context, rec *SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = idgen.WithPrefix("stl_")
	}
	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

func (m *MemorySettlementStore) List(ctx context.Context, limit int) ([]*SettlementRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Newest first.
	var result []*SettlementRecord
	for i := len(m.records) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		cp := *m.records[i]
		result = append(result, &cp)
	}
	return result, nil
}

// PostgresSettlementStore persists the log in PostgreSQL.
type PostgresSettlementStore struct {
	db *sql.DB
}

// NewPostgresSettlementStore creates a PostgreSQL-backed settlement log.
func NewPostgresSettlementStore(db *sql.DB) *PostgresSettlementStore {
	return &PostgresSettlementStore{db: db}
}

func (p *PostgresSettlementStore) Insert(ctx context.Context, rec *SettlementRecord) error {
	if rec.ID == "" {
		rec.ID = idgen.WithPrefix("stl_")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO settlement_logs (
			id, payer, pay_to, funding_ref, value, success, reason, txid, network, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Payer, rec.PayTo, rec.FundingRef, rec.Value,
		rec.Success, rec.Reason, rec.TxID, rec.Network, rec.CreatedAt,
	)
	return err
}

func (p *PostgresSettlementStore) List(ctx context.Context, limit int) ([]*SettlementRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, payer, pay_to, funding_ref, value, success, reason, txid, network, created_at
		FROM settlement_logs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*SettlementRecord
	for rows.Next() {
		rec := &SettlementRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.Payer, &rec.PayTo, &rec.FundingRef, &rec.Value,
			&rec.Success, &rec.Reason, &rec.TxID, &rec.Network, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Compile-time assertions.
var (
	_ SettlementStore = (*MemorySettlementStore)(nil)
	_ SettlementStore = (*PostgresSettlementStore)(nil)
)
