// Package persist is the pool's durable-storage boundary. The pool operates
// entirely from memory; persistence exists so a restart does not throw away
// accumulated endpoint reputation. Failure to persist is logged and
// swallowed, never fatal.
package persist

import (
	"context"

	"github.com/kachat-network/nodepool/pkg/pool"
)

// Store loads and saves the full registry contents.
type Store interface {
	Load(ctx context.Context) ([]pool.NodeRecord, error)
	Save(ctx context.Context, records []pool.NodeRecord) error
	Close() error
}

// Restore inserts loaded records into a registry, preserving their state,
// health, and latency history.
func Restore(registry *pool.Registry, records []pool.NodeRecord) int {
	restored := 0
	for _, loaded := range records {
		loaded := loaded
		registry.Upsert(loaded.Endpoint, func(rec *pool.NodeRecord) {
			*rec = loaded
		})
		restored++
	}
	return restored
}
