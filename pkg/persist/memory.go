package persist

import (
	"context"
	"sync"

	"github.com/kachat-network/nodepool/pkg/pool"
)

// MemoryStore keeps the saved snapshot in memory. Used in tests and as the
// fallback when no durable backend is configured.
type MemoryStore struct {
	mu      sync.Mutex
	records []pool.NodeRecord
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(_ context.Context) ([]pool.NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pool.NodeRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, records []pool.NodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make([]pool.NodeRecord, len(records))
	copy(m.records, records)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
