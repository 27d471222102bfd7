package ownership

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Registry.
type MemoryStore struct {
	mu     sync.RWMutex
	owners map[string]map[uint32]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{owners: map[string]map[uint32]struct{}{}}
}

func (m *MemoryStore) Add(ctx context.Context, buyer string, itemID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.owners[buyer]
	if !ok {
		set = map[uint32]struct{}{}
		m.owners[buyer] = set
	}
	set[itemID] = struct{}{}
	return nil
}

func (m *MemoryStore) Owned(ctx context.Context, buyer string) ([]uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return keys(m.owners[buyer]), nil
}

func (m *MemoryStore) All(ctx context.Context) (map[string][]uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]uint32, len(m.owners))
	for buyer, set := range m.owners {
		out[buyer] = keys(set)
	}
	return out, nil
}

func keys(set map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return sorted(out)
}
