package pool

import (
	"sort"
	"time"
)

// OpClass classifies routed operations. The class decides which capabilities
// an endpoint must have, whether the router may hedge, and which timeout
// tier applies.
type OpClass int

const (
	// OpRead is a latency-sensitive read; hedge-eligible.
	OpRead OpClass = iota
	// OpIndexedRead is a read that requires the endpoint's indexing
	// capability (historical lookups); hedge-eligible.
	OpIndexedRead
	// OpSubmit mutates chain state. Duplicate submission has consequences,
	// so it is never hedged and fails over strictly one endpoint at a time.
	OpSubmit
	// OpDiscovery is a cheap peer-list fetch with a short timeout.
	OpDiscovery
)

func (c OpClass) String() string {
	switch c {
	case OpRead:
		return "read"
	case OpIndexedRead:
		return "indexed-read"
	case OpSubmit:
		return "submit"
	case OpDiscovery:
		return "discovery"
	}
	return "unknown"
}

// RequiresIndexing reports whether the class needs the indexing capability.
func (c OpClass) RequiresIndexing() bool { return c == OpIndexedRead }

// RequiresSync reports whether the class needs a fully synced endpoint.
func (c OpClass) RequiresSync() bool { return c == OpRead || c == OpIndexedRead || c == OpSubmit }

// Hedged reports whether the router may issue this class to a second
// candidate before the first fails.
func (c OpClass) Hedged() bool { return c == OpRead || c == OpIndexedRead }

// Scoring weights and floors. Latency dominates, the recent error rate
// restrains it, freshness nudges recently advertised endpoints up. Lifetime
// ErrorCount is deliberately not a score input; it breaks ties only, so a
// long-lived endpoint's reputation decays as soon as it starts succeeding
// again.
const (
	weightLatency   = 0.6
	weightErrors    = 0.3
	weightFreshness = 0.1
	latencyFloor    = float64(10 * time.Millisecond)
	freshnessWindow = time.Hour
	// minSuspectSuccessRate excludes Suspect records whose recent outcomes
	// are still mostly failures.
	minSuspectSuccessRate = 0.5
)

// Score rates one record; higher is better. Pure over the record snapshot,
// so identical registry state always produces identical scores.
func Score(rec *NodeRecord, now time.Time) float64 {
	lat := rec.Latency.Blended()
	latScore := float64(time.Second) / (lat + latencyFloor)

	errScore := 1.0
	if total := rec.Health.ConsecutiveFailures + rec.Health.ConsecutiveSuccesses; total > 0 {
		errScore = float64(rec.Health.ConsecutiveSuccesses) / float64(total)
	}

	fresh := 0.0
	if rec.LastSeenAsPeer != nil && now.Sub(*rec.LastSeenAsPeer) < freshnessWindow {
		fresh = 1.0
	}

	return weightLatency*latScore + weightErrors*errScore + weightFreshness*fresh
}

// Eligible reports whether a record may be returned for the class at all:
// state gate, quarantine window, Suspect success-rate floor, and the hard
// capability gate.
func Eligible(rec *NodeRecord, class OpClass, now time.Time) bool {
	if !rec.State.Selectable() {
		return false
	}
	if rec.Health.Quarantined(now) {
		return false
	}
	if rec.State == StateSuspect && rec.Health.SuccessRate() < minSuspectSuccessRate {
		return false
	}
	if class.RequiresSync() && !rec.Profile.Synced {
		return false
	}
	if class.RequiresIndexing() && !rec.Profile.Indexed {
		return false
	}
	return true
}

// PickBest ranks the snapshot for the class and returns up to count
// endpoints, best first. Ordering is deterministic: score, then lower
// cumulative error count, then more recent last success, then key.
func PickBest(snapshot []NodeRecord, class OpClass, count int, now time.Time) []Endpoint {
	eligible := make([]NodeRecord, 0, len(snapshot))
	for _, rec := range snapshot {
		if Eligible(&rec, class, now) {
			eligible = append(eligible, rec)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := &eligible[i], &eligible[j]
		sa, sb := Score(a, now), Score(b, now)
		if sa != sb {
			return sa > sb
		}
		if a.Health.ErrorCount != b.Health.ErrorCount {
			return a.Health.ErrorCount < b.Health.ErrorCount
		}
		at, bt := lastSuccessOrZero(a), lastSuccessOrZero(b)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.Endpoint.Key() < b.Endpoint.Key()
	})

	if count > len(eligible) {
		count = len(eligible)
	}
	out := make([]Endpoint, 0, count)
	for _, rec := range eligible[:count] {
		out = append(out, rec.Endpoint)
	}
	return out
}

func lastSuccessOrZero(rec *NodeRecord) time.Time {
	if rec.Health.LastSuccess == nil {
		return time.Time{}
	}
	return *rec.Health.LastSuccess
}
