package pending

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Ledger.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Purchase
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Purchase{}}
}

func (m *MemoryStore) Get(ctx context.Context, buyer string) (*Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[buyer]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) Insert(ctx context.Context, p Purchase) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[p.Buyer]; ok {
		return false, nil
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.entries[p.Buyer] = p
	return true, nil
}

func (m *MemoryStore) Remove(ctx context.Context, buyer string, txID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.entries[buyer]; ok && p.TransactionID == txID {
		delete(m.entries, buyer)
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Purchase, 0, len(m.entries))
	for _, p := range m.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Buyer < out[j].Buyer })
	return out, nil
}
