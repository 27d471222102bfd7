package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Repository.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[ItemID]Item
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[ItemID]Item{}}
}

func (m *MemoryStore) Insert(ctx context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; ok {
		return ErrDuplicateItem
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	m.items[item.ID] = item
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id ItemID) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
