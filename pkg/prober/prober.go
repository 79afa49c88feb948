// Package prober runs capability and health checks against individual
// endpoints and writes the outcomes back to the registry. Probing is
// budgeted: a shared token bucket caps network and battery spend, probe
// depth depends on how much the pool already trusts the endpoint, and the
// most expensive check (payload integrity) runs at most once per epoch.
package prober

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/kachat-network/nodepool/pkg/netmon"
	"github.com/kachat-network/nodepool/pkg/pool"
	"github.com/kachat-network/nodepool/pkg/retry"
	"github.com/kachat-network/nodepool/pkg/rpc"
)

// Check timeouts. Unvalidated endpoints get strict deadlines so slow junk
// discovered from peer lists cannot tie up the probe budget; endpoints that
// earned trust get room to be slow on a bad network.
const (
	strictTimeout   = 3 * time.Second
	generousTimeout = 10 * time.Second

	// IntegrityThreshold is the minimum byte count the integrity response
	// must reach to prove large transfers survive the path.
	IntegrityThreshold = 4 << 10

	// heightTolerance is how far behind the Active median an endpoint may
	// report before it is treated as stale or forked.
	heightTolerance = 100

	// minHeightQuorum is the number of Active records needed before the
	// height cross-check has a trustworthy reference.
	minHeightQuorum = 3

	tickInterval = 5 * time.Second
)

// probeInterval is how often each state is re-probed. Active endpoints are
// watched closest; Candidates are visited rarely.
var probeInterval = map[pool.NodeState]time.Duration{
	pool.StateActive:    30 * time.Second,
	pool.StateVerified:  time.Minute,
	pool.StateProfiled:  90 * time.Second,
	pool.StateSuspect:   2 * time.Minute,
	pool.StateCandidate: 5 * time.Minute,
}

// recoveryBoost divides probe intervals while the Active set is under its
// target size.
const recoveryBoost = 4

// Opts configures a Prober.
type Opts struct {
	// Burst and RefillEvery shape the shared probe token bucket.
	Burst       int
	RefillEvery time.Duration
	// Workers bounds concurrent in-flight probes.
	Workers int
	// Rand seeds quarantine jitter; tests inject a deterministic source.
	Rand *rand.Rand
}

// Prober validates endpoints and reports outcomes to the registry.
type Prober struct {
	registry *pool.Registry
	client   rpc.Client
	monitor  *netmon.Monitor
	logger   *zap.Logger

	bucket  *tokenBucket
	workers pond.Pool

	mu  sync.Mutex
	rng *rand.Rand
}

func New(registry *pool.Registry, client rpc.Client, monitor *netmon.Monitor, logger *zap.Logger, opts Opts) *Prober {
	if opts.Burst <= 0 {
		opts.Burst = 8
	}
	if opts.RefillEvery <= 0 {
		opts.RefillEvery = 500 * time.Millisecond
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Prober{
		registry: registry,
		client:   client,
		monitor:  monitor,
		logger:   logger,
		bucket:   newTokenBucket(opts.Burst, opts.RefillEvery),
		workers:  pond.NewPool(opts.Workers),
		rng:      rng,
	}
}

// Run drives the probe scheduler until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.monitor.Online() {
				continue
			}
			p.tick(ctx)
		}
	}
}

func (p *Prober) tick(ctx context.Context) {
	p.registry.ReleaseExpired()

	now := p.registry.Now()
	boost := p.registry.ActiveCount() < p.registry.ActiveTarget()
	due := p.registry.All(func(rec *pool.NodeRecord) bool {
		return p.due(rec, now, boost)
	})

	for _, rec := range due {
		if !p.bucket.tryAcquire() {
			break
		}
		rec := rec
		p.workers.Go(func() {
			p.Probe(ctx, rec.Endpoint)
		})
	}
}

func (p *Prober) due(rec *pool.NodeRecord, now time.Time, boost bool) bool {
	if rec.State == pool.StateQuarantined {
		return false
	}
	interval, ok := probeInterval[rec.State]
	if !ok {
		return false
	}
	if boost {
		interval /= recoveryBoost
	}
	if rec.Health.LastAttempt == nil {
		return true
	}
	return now.Sub(*rec.Health.LastAttempt) >= interval
}

// RefreshAll re-probes every record not in cooldown, bypassing the regular
// schedule. Used by router escalation and user-triggered refresh. Blocks
// until the batch completes.
func (p *Prober) RefreshAll(ctx context.Context) {
	p.registry.ReleaseExpired()
	all := p.registry.All(func(rec *pool.NodeRecord) bool {
		return rec.State != pool.StateQuarantined
	})
	group := p.workers.NewGroup()
	for _, rec := range all {
		rec := rec
		group.Submit(func() {
			p.Probe(ctx, rec.Endpoint)
		})
	}
	_ = group.Wait()
}

// Probe runs the check sequence for one endpoint and writes the outcome
// back. Results that arrive after an epoch change are discarded: they were
// measured on a network path that no longer exists.
func (p *Prober) Probe(ctx context.Context, ep pool.Endpoint) {
	rec, ok := p.registry.Get(ep)
	if !ok || rec.State == pool.StateQuarantined {
		return
	}
	startEpoch := p.monitor.Epoch()

	timeout := strictTimeout
	switch rec.State {
	case pool.StateVerified, pool.StateActive, pool.StateSuspect:
		timeout = generousTimeout
	}

	// Liveness: the cheap round-trip every probe starts with. Failing it
	// halts the sequence.
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	err := p.client.Ping(pingCtx, ep)
	latency := time.Since(start)
	cancel()
	if err != nil {
		p.reportFailure(startEpoch, ep, fmt.Errorf("liveness: %w", err), false)
		return
	}

	// Candidates only earn the lightweight check; the full sequence costs
	// budget that unvalidated endpoints haven't justified yet.
	if rec.State == pool.StateCandidate {
		p.reportSuccess(startEpoch, ep, latency, nil)
		return
	}

	infoCtx, cancel := context.WithTimeout(ctx, timeout)
	info, err := p.client.Info(infoCtx, ep)
	cancel()
	if err != nil {
		p.reportFailure(startEpoch, ep, fmt.Errorf("capability: %w", err), false)
		return
	}
	if !info.Synced {
		p.reportFailure(startEpoch, ep, fmt.Errorf("capability: node not synced"), false)
		return
	}

	if diverged, ref := p.heightDiverged(ep, info.ConsensusHeight); diverged {
		p.reportFailure(startEpoch, ep, fmt.Errorf("consensus divergence: height %d vs reference %d", info.ConsensusHeight, ref), true)
		return
	}

	if !p.integrityOK(ctx, &rec, ep, startEpoch, timeout) {
		return
	}

	p.reportSuccess(startEpoch, ep, latency, info)
}

// heightDiverged cross-checks a reported consensus height against the median
// of the current Active set. With fewer than three Active records there is
// no trustworthy reference, so the check is skipped. Accepting a possibly
// stale node during bootstrap beats refusing to route at all.
func (p *Prober) heightDiverged(ep pool.Endpoint, height uint64) (bool, uint64) {
	heights := make([]uint64, 0, p.registry.ActiveTarget())
	for _, rec := range p.registry.All(func(rec *pool.NodeRecord) bool {
		return rec.State == pool.StateActive && rec.Profile.ConsensusHeight > 0 && rec.Endpoint != ep
	}) {
		heights = append(heights, rec.Profile.ConsensusHeight)
	}
	if len(heights) < minHeightQuorum {
		p.logger.Debug("height cross-check skipped, not enough active records",
			zap.String("endpoint", ep.Key()),
			zap.Int("active", len(heights)))
		return false, 0
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	ref := heights[len(heights)/2]
	if ref > height && ref-height > heightTolerance {
		return true, ref
	}
	return false, ref
}

// integrityOK ensures a large response survives the current network path
// byte-exact. The result is cached for the epoch; middlebox behavior is a
// property of the path, not the endpoint, and this is the most expensive
// check in the sequence. Returns false if the probe already failed and was
// reported.
func (p *Prober) integrityOK(ctx context.Context, rec *pool.NodeRecord, ep pool.Endpoint, epoch int64, timeout time.Duration) bool {
	if rec.Profile.IntegrityEpoch == epoch {
		if rec.Profile.IntegrityOK {
			return true
		}
		p.reportFailure(epoch, ep, fmt.Errorf("integrity: cached failure for epoch %d", epoch), true)
		return false
	}

	blobCtx, cancel := context.WithTimeout(ctx, timeout)
	declared, received, err := p.client.IntegrityBlob(blobCtx, ep)
	cancel()

	pass := err == nil && received >= IntegrityThreshold && (declared < 0 || declared == received)
	p.registry.Upsert(ep, func(r *pool.NodeRecord) {
		r.Profile.IntegrityEpoch = epoch
		r.Profile.IntegrityOK = pass
	})
	if pass {
		return true
	}
	if err == nil {
		err = fmt.Errorf("declared %d bytes, received %d", declared, received)
	}
	p.reportFailure(epoch, ep, fmt.Errorf("integrity: %w", err), true)
	return false
}

func (p *Prober) reportSuccess(epoch int64, ep pool.Endpoint, latency time.Duration, info *rpc.NodeInfo) {
	if p.monitor.Epoch() != epoch {
		p.logger.Debug("discarding straggler probe result", zap.String("endpoint", ep.Key()))
		return
	}
	now := p.registry.Now()
	verified := false
	p.registry.Upsert(ep, func(rec *pool.NodeRecord) {
		pool.ApplySuccess(rec, now, latency)
		if info != nil {
			rec.Profile.Synced = info.Synced
			rec.Profile.Indexed = info.Indexed
			rec.Profile.ConsensusHeight = info.ConsensusHeight
			rec.Profile.VerifiedEpoch = epoch
		}
		next := pool.NextOnSuccess(rec.State)
		// Profiled may only become Verified once full checks ran.
		if rec.State == pool.StateProfiled && info == nil {
			next = rec.State
		}
		if next == pool.StateActive && rec.State == pool.StateSuspect {
			// Recovery re-enters through the capacity gate below.
			next = pool.StateVerified
		}
		rec.State = next
		verified = rec.State == pool.StateVerified
	})
	if verified {
		p.registry.MaybePromote(ep)
	}
}

// Cooldown returns the pool-wide quarantine cooldown function: exponential
// in error count with jitter, capped short for seeds. The shared rand source
// is not goroutine-safe, hence the lock.
func (p *Prober) Cooldown() pool.CooldownFunc {
	return func(errorCount int, seed bool) time.Duration {
		cfg := retry.DefaultConfig()
		if seed {
			cfg = retry.SeedConfig()
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		return retry.Quarantine(cfg, errorCount, p.rng)
	}
}

// reportFailure records a failed check. hard marks causes that prove the
// endpoint is serving bad data (divergence, truncation); those quarantine
// immediately rather than taking the graded threshold path.
func (p *Prober) reportFailure(epoch int64, ep pool.Endpoint, cause error, hard bool) {
	if p.monitor.Epoch() != epoch {
		p.logger.Debug("discarding straggler probe failure", zap.String("endpoint", ep.Key()))
		return
	}
	now := p.registry.Now()
	cooldown := p.Cooldown()
	apply := pool.ApplyFailure
	if hard {
		apply = pool.ApplyHardFailure
	}
	rec := p.registry.Upsert(ep, func(rec *pool.NodeRecord) {
		apply(rec, now, cooldown)
	})

	p.logger.Warn("probe failed",
		zap.String("endpoint", ep.Key()),
		zap.String("state", rec.State.String()),
		zap.Int("consecutiveFailures", rec.Health.ConsecutiveFailures),
		zap.Bool("hard", hard),
		zap.Error(cause))
}
