package pool

import (
	"time"
)

// EWMA smoothing factors. The fast average tracks the last few samples and
// is reset on epoch change; the slow average is long-term reputation and
// survives epochs. The blend keeps one bad network from erasing months of
// good history while still reacting quickly after a path change.
const (
	fastAlpha  = 0.5
	slowAlpha  = 0.05
	blendFast  = 0.6
	blendSlow  = 0.4
	noLatency  = 0
	maxLatency = float64(30 * time.Second)
)

// LatencyStats holds the two per-endpoint latency averages, in nanoseconds.
type LatencyStats struct {
	FastEWMA float64 `json:"fastEwma"`
	SlowEWMA float64 `json:"slowEwma"`
	Samples  uint64  `json:"samples"`
}

// Add folds one latency sample into both averages.
func (l *LatencyStats) Add(sample time.Duration) {
	v := float64(sample)
	if v > maxLatency {
		v = maxLatency
	}
	if l.Samples == 0 || l.FastEWMA == noLatency {
		l.FastEWMA = v
	} else {
		l.FastEWMA = fastAlpha*v + (1-fastAlpha)*l.FastEWMA
	}
	if l.Samples == 0 || l.SlowEWMA == noLatency {
		l.SlowEWMA = v
	} else {
		l.SlowEWMA = slowAlpha*v + (1-slowAlpha)*l.SlowEWMA
	}
	l.Samples++
}

// Blended returns the scoring latency: a weighted mix of both averages,
// falling back to whichever side has data.
func (l *LatencyStats) Blended() float64 {
	switch {
	case l.FastEWMA == noLatency && l.SlowEWMA == noLatency:
		return maxLatency
	case l.FastEWMA == noLatency:
		return l.SlowEWMA
	case l.SlowEWMA == noLatency:
		return l.FastEWMA
	}
	return blendFast*l.FastEWMA + blendSlow*l.SlowEWMA
}

// ResetFast clears the epoch-scoped fast average. Called on epoch change.
func (l *LatencyStats) ResetFast() {
	l.FastEWMA = noLatency
}

// NodeProfile is the capability snapshot gathered by probing. Fields are
// stamped with the epoch they were verified in; a stale stamp means the
// field must be re-verified before it is trusted.
type NodeProfile struct {
	Synced          bool   `json:"synced"`
	Indexed         bool   `json:"indexed"`
	ConsensusHeight uint64 `json:"consensusHeight"`
	// IntegrityOK records whether a large response came back byte-exact in
	// IntegrityEpoch. Middleboxes on some paths silently truncate big
	// transfers, so the result only holds for the epoch it was measured in.
	IntegrityOK    bool  `json:"integrityOk"`
	IntegrityEpoch int64 `json:"integrityEpoch"`
	VerifiedEpoch  int64 `json:"verifiedEpoch"`
}

// NodeHealth is the mutable outcome history for one endpoint.
type NodeHealth struct {
	ConsecutiveFailures  int `json:"consecutiveFailures"`
	ConsecutiveSuccesses int `json:"consecutiveSuccesses"`
	// ErrorCount is long-term reputation: it never resets across epochs,
	// only at quarantine exit.
	ErrorCount       int        `json:"errorCount"`
	QuarantinedUntil *time.Time `json:"quarantinedUntil,omitempty"`
	LastSuccess      *time.Time `json:"lastSuccess,omitempty"`
	LastAttempt      *time.Time `json:"lastAttempt,omitempty"`
}

// Quarantined reports whether the record is inside its cooldown window.
func (h *NodeHealth) Quarantined(now time.Time) bool {
	return h.QuarantinedUntil != nil && now.Before(*h.QuarantinedUntil)
}

// SuccessRate returns the fraction of recent outcomes that succeeded, using
// the consecutive counters as a cheap proxy.
func (h *NodeHealth) SuccessRate() float64 {
	total := h.ConsecutiveFailures + h.ConsecutiveSuccesses
	if total == 0 {
		return 0
	}
	return float64(h.ConsecutiveSuccesses) / float64(total)
}

// NodeRecord aggregates everything the pool knows about one endpoint.
type NodeRecord struct {
	Endpoint Endpoint     `json:"endpoint"`
	State    NodeState    `json:"state"`
	Profile  NodeProfile  `json:"profile"`
	Health   NodeHealth   `json:"health"`
	Latency  LatencyStats `json:"latency"`
	// Seed marks bundled endpoints: exempt from eviction, short cooldown cap.
	Seed bool `json:"seed"`
	// LastSeenAsPeer is the last time discovery heard this endpoint
	// advertised by another node. Drives the freshness bonus and LRU
	// eviction order.
	LastSeenAsPeer *time.Time `json:"lastSeenAsPeer,omitempty"`
	AddedAt        time.Time  `json:"addedAt"`
}

// NewRecord returns a fresh Candidate record for ep. Epoch stamps start at
// -1 so a brand-new record never aliases epoch 0.
func NewRecord(ep Endpoint, now time.Time) NodeRecord {
	return NodeRecord{
		Endpoint: ep,
		State:    StateCandidate,
		Profile:  NodeProfile{IntegrityEpoch: -1, VerifiedEpoch: -1},
		AddedAt:  now,
	}
}

// ResetEpochScoped clears everything that only held for the previous network
// path: the fast latency average and the per-epoch profile stamps. Long-term
// reputation (error count, slow average, quarantine window) is preserved.
func (r *NodeRecord) ResetEpochScoped() {
	r.Latency.ResetFast()
	r.Profile.IntegrityOK = false
	r.Profile.IntegrityEpoch = -1
	r.Profile.VerifiedEpoch = -1
}

// ExitQuarantine moves an expired-quarantine record back to Candidate for
// revalidation. This is the only place ErrorCount resets.
func (r *NodeRecord) ExitQuarantine() {
	r.State = StateCandidate
	r.Health.QuarantinedUntil = nil
	r.Health.ConsecutiveFailures = 0
	r.Health.ConsecutiveSuccesses = 0
	r.Health.ErrorCount = 0
}
