// Package discovery grows the endpoint population by asking healthy
// endpoints for their peer lists. Discovery is best-effort and idempotent:
// a failed source is a minor health event, and re-learning a known endpoint
// only refreshes its peer-freshness stamp.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/kachat-network/nodepool/pkg/netmon"
	nodepool "github.com/kachat-network/nodepool/pkg/pool"
	"github.com/kachat-network/nodepool/pkg/rpc"
)

const (
	// sourceSample is how many zero-error Active endpoints are asked per
	// round.
	sourceSample = 3
	// fetchTimeout bounds each peer-list request; discovery fails cheaply.
	fetchTimeout = 5 * time.Second
	// staleAfter marks the pool stale when no discovery round has succeeded
	// for this long.
	staleAfter = 6 * time.Hour
)

// Engine merges peer-discovered endpoints into the registry as Candidates.
type Engine struct {
	registry *nodepool.Registry
	client   rpc.Client
	monitor  *netmon.Monitor
	logger   *zap.Logger
	network  nodepool.Network

	mu          sync.Mutex
	lastSuccess time.Time
}

func New(registry *nodepool.Registry, client rpc.Client, monitor *netmon.Monitor, logger *zap.Logger, network nodepool.Network) *Engine {
	return &Engine{
		registry: registry,
		client:   client,
		monitor:  monitor,
		logger:   logger,
		network:  network,
	}
}

// Stale reports whether no discovery round has succeeded within the
// staleness window.
func (e *Engine) Stale() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSuccess.IsZero() || time.Since(e.lastSuccess) > staleAfter
}

// Needed reports whether a discovery round should run now: the Active set is
// under target or the pool has gone stale.
func (e *Engine) Needed() bool {
	return e.registry.ActiveCount() < e.registry.ActiveTarget() || e.Stale()
}

// Discover runs one discovery round and returns the number of new Candidate
// records created. Failure of one source never blocks the others.
func (e *Engine) Discover(ctx context.Context) int {
	if !e.monitor.Online() {
		return 0
	}
	startEpoch := e.monitor.Epoch()

	sources := e.registry.All(func(rec *nodepool.NodeRecord) bool {
		return rec.State == nodepool.StateActive && rec.Health.ErrorCount == 0
	})
	if len(sources) > sourceSample {
		sources = sources[:sourceSample]
	}
	if len(sources) == 0 {
		return 0
	}

	var mu sync.Mutex
	addrs := make([]string, 0, 64)
	anySuccess := false

	p := pool.New().WithMaxGoroutines(sourceSample)
	for _, src := range sources {
		src := src
		p.Go(func() {
			fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
			defer cancel()
			peers, err := e.client.PeerAddresses(fctx, src.Endpoint)
			if err != nil {
				// Minor health event only: a node that cannot serve a peer
				// list may still serve traffic fine.
				e.registry.Upsert(src.Endpoint, func(rec *nodepool.NodeRecord) {
					rec.Health.ErrorCount++
				})
				e.logger.Debug("peer list fetch failed",
					zap.String("source", src.Endpoint.Key()),
					zap.Error(err))
				return
			}
			mu.Lock()
			addrs = append(addrs, peers...)
			anySuccess = true
			mu.Unlock()
		})
	}
	p.Wait()

	if e.monitor.Epoch() != startEpoch {
		e.logger.Debug("discarding discovery results from stale epoch")
		return 0
	}

	added := e.Merge(addrs)
	if anySuccess {
		e.mu.Lock()
		e.lastSuccess = time.Now()
		e.mu.Unlock()
	}
	if added > 0 {
		e.logger.Info("discovered endpoints",
			zap.Int("learned", len(addrs)),
			zap.Int("added", added))
	}
	return added
}

// Merge filters and deduplicates learned addresses and inserts the new ones
// as Candidates. Already-known endpoints only get their peer-freshness stamp
// refreshed. Returns the number of records created.
func (e *Engine) Merge(addrs []string) int {
	now := e.registry.Now()
	seen := make(map[string]bool, len(addrs))
	added := 0
	for _, addr := range addrs {
		ep, err := nodepool.ParseAddr(addr, e.network)
		if err != nil {
			continue
		}
		if !nodepool.RoutableAddr(ep.Host) {
			continue
		}
		if seen[ep.Key()] {
			continue
		}
		seen[ep.Key()] = true

		if _, known := e.registry.Get(ep); known {
			e.registry.Upsert(ep, func(rec *nodepool.NodeRecord) {
				rec.LastSeenAsPeer = &now
			})
			continue
		}
		e.registry.Upsert(ep, func(rec *nodepool.NodeRecord) {
			rec.LastSeenAsPeer = &now
		})
		added++
	}
	if added > 0 {
		e.registry.EvictLRU(0)
	}
	return added
}
