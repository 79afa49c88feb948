// Package router is the request-facing API of the pool. It picks endpoints
// through the selector, executes calls with per-attempt timeouts, hedges
// latency-sensitive reads across candidates, reports every outcome back to
// the registry, and owns the escalation ladder when the whole candidate set
// fails.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kachat-network/nodepool/pkg/netmon"
	"github.com/kachat-network/nodepool/pkg/pool"
	"github.com/kachat-network/nodepool/pkg/rpc"
)

// ErrExhausted is the single terminal error surfaced to application code:
// every candidate failed, the cold tier failed, and a full pool refresh did
// not help. Individual attempt failures are never surfaced.
var ErrExhausted = errors.New("endpoint pool exhausted")

// Per-attempt timeout tiers. Timeouts apply per attempt, not per logical
// operation; the escalation ladder owns the overall deadline through ctx.
var attemptTimeout = map[pool.OpClass]time.Duration{
	pool.OpRead:        8 * time.Second,
	pool.OpIndexedRead: 10 * time.Second,
	pool.OpSubmit:      30 * time.Second,
	pool.OpDiscovery:   3 * time.Second,
}

const (
	// hedgeCandidates is the ranked list size for hedge-eligible reads.
	hedgeCandidates = 3
	// failoverCandidates is the ranked list size for sequential classes.
	failoverCandidates = 3
	// coldSample bounds the escalation retry against the cold tier.
	coldSample = 5

	minHedgeDelay = 100 * time.Millisecond
	maxHedgeDelay = time.Second
)

// Refresher triggers an out-of-band re-probe of the whole pool. The prober
// satisfies this.
type Refresher interface {
	RefreshAll(ctx context.Context)
}

// Router routes application calls to the best currently-available endpoints.
type Router struct {
	registry  *pool.Registry
	client    rpc.Client
	monitor   *netmon.Monitor
	refresher Refresher
	cooldown  pool.CooldownFunc
	logger    *zap.Logger
}

func New(registry *pool.Registry, client rpc.Client, monitor *netmon.Monitor, refresher Refresher, cooldown pool.CooldownFunc, logger *zap.Logger) *Router {
	return &Router{
		registry:  registry,
		client:    client,
		monitor:   monitor,
		refresher: refresher,
		cooldown:  cooldown,
		logger:    logger,
	}
}

// Execute routes one application request. Hedge-eligible classes race the
// top candidates; state-mutating classes fail over strictly one endpoint at
// a time. If the ranked list is exhausted the router escalates: cold-tier
// sample first, then a full pool refresh, and only then ErrExhausted.
func (r *Router) Execute(ctx context.Context, class pool.OpClass, req rpc.Request) (*rpc.Response, error) {
	tried := map[string]bool{}

	resp, err := r.executeWarm(ctx, class, req, tried)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Escalation 1: a larger sample from the cold tier, endpoints the
	// selector would not normally hand out.
	resp, err = r.executeCold(ctx, class, req, tried)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Escalation 2: re-probe everything not in cooldown, then one more warm
	// pass over the refreshed pool.
	r.logger.Warn("candidate set exhausted, refreshing pool", zap.String("class", class.String()))
	r.refresher.RefreshAll(ctx)

	resp, err = r.executeWarm(ctx, class, req, map[string]bool{})
	if err == nil {
		return resp, nil
	}
	resp, err = r.executeCold(ctx, class, req, tried)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("%w: %s", ErrExhausted, class)
}

// executeWarm runs the normal routing path over the selector's ranked list.
func (r *Router) executeWarm(ctx context.Context, class pool.OpClass, req rpc.Request, tried map[string]bool) (*rpc.Response, error) {
	now := r.registry.Now()
	count := failoverCandidates
	if class.Hedged() {
		count = hedgeCandidates
	}
	candidates := pool.PickBest(r.registry.All(nil), class, count, now)
	if len(candidates) == 0 {
		return nil, errors.New("no eligible endpoints")
	}
	if class.Hedged() {
		return r.hedged(ctx, class, req, candidates, tried)
	}
	return r.sequential(ctx, class, req, candidates, tried)
}

// executeCold attempts endpoints outside the live routing set: anything not
// quarantined that has not been tried in this operation, best-scored first.
// This is the router's own emergency path, not the selector's.
func (r *Router) executeCold(ctx context.Context, class pool.OpClass, req rpc.Request, tried map[string]bool) (*rpc.Response, error) {
	now := r.registry.Now()
	cold := r.registry.All(func(rec *pool.NodeRecord) bool {
		if tried[rec.Endpoint.Key()] {
			return false
		}
		return rec.State != pool.StateQuarantined && !rec.Health.Quarantined(now)
	})
	if len(cold) == 0 {
		return nil, errors.New("cold tier empty")
	}
	ranked := rankByScore(cold, now)
	if len(ranked) > coldSample {
		ranked = ranked[:coldSample]
	}
	return r.sequential(ctx, class, req, ranked, tried)
}

// sequential fails over one endpoint at a time, never re-attempting an
// endpoint that already failed within this operation.
func (r *Router) sequential(ctx context.Context, class pool.OpClass, req rpc.Request, candidates []pool.Endpoint, tried map[string]bool) (*rpc.Response, error) {
	var lastErr error
	for _, ep := range candidates {
		if tried[ep.Key()] {
			continue
		}
		tried[ep.Key()] = true
		resp, err := r.attempt(ctx, class, req, ep)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no candidates attempted")
	}
	return nil, lastErr
}

// hedged issues the request to the top candidate immediately and to each
// following candidate after a further hedge delay while no response has
// arrived. The first success wins and the losing branches are cancelled; a
// failure launches the next candidate without waiting for the hedge timer.
func (r *Router) hedged(ctx context.Context, class pool.OpClass, req rpc.Request, candidates []pool.Endpoint, tried map[string]bool) (*rpc.Response, error) {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		resp *rpc.Response
		err  error
	}
	results := make(chan result, len(candidates))

	next := 0
	inflight := 0
	launch := func() {
		ep := candidates[next]
		next++
		tried[ep.Key()] = true
		inflight++
		go func() {
			resp, err := r.attempt(hctx, class, req, ep)
			results <- result{resp: resp, err: err}
		}()
	}

	launch()
	timer := time.NewTimer(r.hedgeDelay(candidates[0]))
	defer timer.Stop()

	var lastErr error
	for inflight > 0 {
		select {
		case res := <-results:
			inflight--
			if res.err == nil {
				return res.resp, nil
			}
			lastErr = res.err
			if next < len(candidates) {
				launch()
			}
		case <-timer.C:
			if next < len(candidates) {
				ep := candidates[next]
				launch()
				// Re-arm so the remaining candidates also hedge in after
				// their own delay, not only on explicit failure.
				timer.Reset(r.hedgeDelay(ep))
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// hedgeDelay scales the hedge trigger with current pool quality: a pool that
// normally answers in 80ms hedges sooner than one crawling on cellular.
func (r *Router) hedgeDelay(ep pool.Endpoint) time.Duration {
	rec, ok := r.registry.Get(ep)
	if !ok {
		return minHedgeDelay
	}
	d := time.Duration(rec.Latency.Blended())
	if d < minHedgeDelay {
		return minHedgeDelay
	}
	if d > maxHedgeDelay {
		return maxHedgeDelay
	}
	return d
}

// attempt executes one call against one endpoint and reports the outcome to
// the registry. A known-quarantined endpoint short-circuits without a
// network call.
func (r *Router) attempt(ctx context.Context, class pool.OpClass, req rpc.Request, ep pool.Endpoint) (*rpc.Response, error) {
	now := r.registry.Now()
	if rec, ok := r.registry.Get(ep); ok && (rec.State == pool.StateQuarantined || rec.Health.Quarantined(now)) {
		return nil, fmt.Errorf("circuit open for %s", ep.Key())
	}

	actx, cancel := context.WithTimeout(ctx, attemptTimeout[class])
	defer cancel()

	start := time.Now()
	resp, err := r.client.Call(actx, ep, req)
	latency := time.Since(start)

	if err != nil {
		// An attempt abandoned by cancellation says nothing about the
		// endpoint's health: hedge losers cancelled by the winner and
		// caller-cancelled operations both land here. Deadline expiry is a
		// real failure and still counts.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		r.reportFailure(ep, err)
		return nil, err
	}
	r.reportSuccess(ep, latency)
	return resp, nil
}

func (r *Router) reportSuccess(ep pool.Endpoint, latency time.Duration) {
	now := r.registry.Now()
	r.registry.Upsert(ep, func(rec *pool.NodeRecord) {
		pool.ApplySuccess(rec, now, latency)
	})
}

func (r *Router) reportFailure(ep pool.Endpoint, err error) {
	now := r.registry.Now()
	rec := r.registry.Upsert(ep, func(rec *pool.NodeRecord) {
		pool.ApplyFailure(rec, now, r.cooldown)
	})
	r.logger.Debug("routed call failed",
		zap.String("endpoint", ep.Key()),
		zap.String("state", rec.State.String()),
		zap.Error(err))
}

// rankByScore orders records best-first with the selector's deterministic
// tie-breaking, without the eligibility gate.
func rankByScore(recs []pool.NodeRecord, now time.Time) []pool.Endpoint {
	type scored struct {
		ep    pool.Endpoint
		score float64
		errs  int
		key   string
	}
	ranked := make([]scored, 0, len(recs))
	for _, rec := range recs {
		ranked = append(ranked, scored{
			ep:    rec.Endpoint,
			score: pool.Score(&rec, now),
			errs:  rec.Health.ErrorCount,
			key:   rec.Endpoint.Key(),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].errs != ranked[j].errs {
			return ranked[i].errs < ranked[j].errs
		}
		return ranked[i].key < ranked[j].key
	})
	out := make([]pool.Endpoint, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, s.ep)
	}
	return out
}
