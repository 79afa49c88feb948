package router

import (
	"context"
	"time"

	"github.com/kachat-network/nodepool/pkg/pool"
)

// HealthSnapshot is the diagnostics view the application layer renders, for
// example as a degraded-connectivity indicator.
type HealthSnapshot struct {
	Epoch            int64   `json:"epoch"`
	Online           bool    `json:"online"`
	Total            int     `json:"total"`
	Active           int     `json:"active"`
	Verified         int     `json:"verified"`
	Suspect          int     `json:"suspect"`
	Quarantined      int     `json:"quarantined"`
	Candidates       int     `json:"candidates"`
	BlendedLatencyMS float64 `json:"blendedLatencyMs"`
}

// PoolHealthSnapshot summarizes current pool state. The blended latency is
// averaged over the Active set.
func (r *Router) PoolHealthSnapshot() HealthSnapshot {
	snap := HealthSnapshot{
		Epoch:  r.monitor.Epoch(),
		Online: r.monitor.Online(),
	}
	var latencySum float64
	for _, rec := range r.registry.All(nil) {
		snap.Total++
		switch rec.State {
		case pool.StateActive:
			snap.Active++
			latencySum += rec.Latency.Blended()
		case pool.StateVerified:
			snap.Verified++
		case pool.StateSuspect:
			snap.Suspect++
		case pool.StateQuarantined:
			snap.Quarantined++
		default:
			snap.Candidates++
		}
	}
	if snap.Active > 0 {
		snap.BlendedLatencyMS = latencySum / float64(snap.Active) / float64(time.Millisecond)
	}
	return snap
}

// ForceRefresh re-probes the whole pool on user request.
func (r *Router) ForceRefresh(ctx context.Context) {
	r.refresher.RefreshAll(ctx)
}
