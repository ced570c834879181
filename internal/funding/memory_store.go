package funding

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory funding store for demo/development mode.
type MemoryStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory funding store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Get(ctx context.Context, fundingRef string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[fundingRef]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Create(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.FundingRef]; ok {
		return ErrDuplicateRef
	}
	m.records[rec.FundingRef] = rec.Clone()
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, rec *Record, expectedRemaining int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[rec.FundingRef]
	if !ok {
		return ErrRecordNotFound
	}
	if cur.RemainingBalance != expectedRemaining {
		return ErrConflict
	}
	m.records[rec.FundingRef] = rec.Clone()
	return nil
}

func (m *MemoryStore) ListStale(ctx context.Context, before time.Time, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, rec := range m.records {
		if rec.LastChecked.Before(before) {
			result = append(result, rec.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastChecked.Before(result[j].LastChecked)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Compile-time assertion.
var _ Store = (*MemoryStore)(nil)
