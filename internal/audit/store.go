package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// EntryQuery filters durable ledger reads. Zero values mean "no filter";
// results are always ordered oldest first.
type EntryQuery struct {
	Chain     string
	EventType string
	Outcome   Outcome
	From      time.Time
	To        time.Time
	Limit     int
}

// Store is the durable mirror of the ledger. Append errors propagate to
// ledger callers untouched; durability failures are never absorbed.
type Store interface {
	// AppendEntry persists one entry. The entry is fully formed (hashes and
	// signature computed) before it reaches the store.
	AppendEntry(ctx context.Context, entry *Entry) error

	// LatestEntry returns the most recent entry for a chain, or nil when
	// the chain has no entries.
	LatestEntry(ctx context.Context, chain string) (*Entry, error)

	// ListEntries returns entries matching the query, oldest first.
	ListEntries(ctx context.Context, query EntryQuery) ([]*Entry, error)
}

// MemoryStore is an in-process Store for tests and single-node deployments
// that run without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AppendEntry(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryStore) LatestEntry(_ context.Context, chain string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Chain == chain {
			return m.entries[i], nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListEntries(_ context.Context, query EntryQuery) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filtered := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if !matchesQuery(e, query) {
			continue
		}
		filtered = append(filtered, e)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	if query.Limit > 0 && len(filtered) > query.Limit {
		filtered = filtered[:query.Limit]
	}
	return filtered, nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func matchesQuery(e *Entry, q EntryQuery) bool {
	if q.Chain != "" && e.Chain != q.Chain {
		return false
	}
	if q.EventType != "" && e.EventType != q.EventType {
		return false
	}
	if q.Outcome != "" && e.Outcome != q.Outcome {
		return false
	}
	if !q.From.IsZero() && e.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.Timestamp.After(q.To) {
		return false
	}
	return true
}
