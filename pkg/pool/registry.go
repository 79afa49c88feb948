package pool

import (
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// DefaultMaxRecords bounds the tracked endpoint population.
const DefaultMaxRecords = 500

// DefaultActiveTarget bounds the live routing set. Small on purpose: every
// Active endpoint costs connections, probes, and battery.
const DefaultActiveTarget = 5

// slot serializes all mutation of one record. Per-record locking keeps
// prober and router writes to unrelated endpoints independent.
type slot struct {
	mu  sync.Mutex
	rec NodeRecord
}

// Registry is the sole source of truth for endpoint state. All reads return
// copies; all mutation goes through Upsert's read-modify-write closure.
type Registry struct {
	records      *xsync.Map[string, *slot]
	maxRecords   int
	activeTarget int
	logger       *zap.Logger

	// promoteMu serializes Active-set admission: two probes finishing at
	// once must not both see room and overshoot the cap.
	promoteMu sync.Mutex

	cbMu          sync.Mutex
	quarantineCbs []func()

	// Now is the clock; tests override it.
	Now func() time.Time
}

type RegistryOpts struct {
	MaxRecords   int
	ActiveTarget int
}

func NewRegistry(logger *zap.Logger, opts RegistryOpts) *Registry {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if opts.ActiveTarget <= 0 {
		opts.ActiveTarget = DefaultActiveTarget
	}
	return &Registry{
		records:      xsync.NewMap[string, *slot](),
		maxRecords:   opts.MaxRecords,
		activeTarget: opts.ActiveTarget,
		logger:       logger,
		Now:          time.Now,
	}
}

// ActiveTarget returns the configured Active set cap.
func (r *Registry) ActiveTarget() int { return r.activeTarget }

// Len returns the tracked record count.
func (r *Registry) Len() int { return r.records.Size() }

// Get returns a copy of the record for the endpoint, if known.
func (r *Registry) Get(ep Endpoint) (NodeRecord, bool) {
	s, ok := r.records.Load(ep.Key())
	if !ok {
		return NodeRecord{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, true
}

// Upsert applies fn to the record for ep under its lock, creating a fresh
// Candidate record first if the endpoint is unknown. Returns the record as
// it stands after the mutation. Mutations that move a record into or out of
// Quarantined fire the registered quarantine callbacks.
func (r *Registry) Upsert(ep Endpoint, fn func(*NodeRecord)) NodeRecord {
	s, _ := r.records.LoadOrCompute(ep.Key(), func() (*slot, bool) {
		return &slot{rec: NewRecord(ep, r.Now())}, false
	})
	s.mu.Lock()
	prev := s.rec.State
	if fn != nil {
		fn(&s.rec)
	}
	rec := s.rec
	s.mu.Unlock()
	if (prev == StateQuarantined) != (rec.State == StateQuarantined) {
		r.notifyQuarantineChange()
	}
	return rec
}

// OnQuarantineChange registers fn, invoked after any record enters or leaves
// Quarantined. Runs on the mutating goroutine and must not block; the app
// layer uses it to persist promptly around the transitions that matter most.
func (r *Registry) OnQuarantineChange(fn func()) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.quarantineCbs = append(r.quarantineCbs, fn)
}

func (r *Registry) notifyQuarantineChange() {
	r.cbMu.Lock()
	cbs := make([]func(), len(r.quarantineCbs))
	copy(cbs, r.quarantineCbs)
	r.cbMu.Unlock()
	for _, fn := range cbs {
		fn()
	}
}

// All returns copies of every record matching pred (nil matches all). The
// result is a point-in-time snapshot; scoring runs over it without holding
// any lock.
func (r *Registry) All(pred func(*NodeRecord) bool) []NodeRecord {
	out := make([]NodeRecord, 0, r.records.Size())
	r.records.Range(func(_ string, s *slot) bool {
		s.mu.Lock()
		rec := s.rec
		s.mu.Unlock()
		if pred == nil || pred(&rec) {
			out = append(out, rec)
		}
		return true
	})
	return out
}

// ActiveCount returns the number of records currently in the Active state.
func (r *Registry) ActiveCount() int {
	n := 0
	r.records.Range(func(_ string, s *slot) bool {
		s.mu.Lock()
		if s.rec.State == StateActive {
			n++
		}
		s.mu.Unlock()
		return true
	})
	return n
}

// OnEpochChange resets every record's epoch-scoped state. Long-term
// reputation fields are preserved.
func (r *Registry) OnEpochChange(epoch int64) {
	r.records.Range(func(_ string, s *slot) bool {
		s.mu.Lock()
		s.rec.ResetEpochScoped()
		s.mu.Unlock()
		return true
	})
	r.logger.Info("registry reset for new epoch", zap.Int64("epoch", epoch))
}

// ReleaseExpired moves records whose quarantine cooldown has passed back to
// Candidate so the prober revalidates them.
func (r *Registry) ReleaseExpired() int {
	now := r.Now()
	released := 0
	r.records.Range(func(_ string, s *slot) bool {
		s.mu.Lock()
		if s.rec.State == StateQuarantined && !s.rec.Health.Quarantined(now) {
			s.rec.ExitQuarantine()
			released++
		}
		s.mu.Unlock()
		return true
	})
	if released > 0 {
		r.notifyQuarantineChange()
	}
	return released
}

// MaybePromote considers moving a Verified record into the Active set. When
// the set is full, the candidate must outscore the worst current member,
// which is then demoted back to Verified. Returns true if the record ended
// up Active. Admission is serialized so concurrent promotions cannot
// overshoot the cap.
func (r *Registry) MaybePromote(ep Endpoint) bool {
	r.promoteMu.Lock()
	defer r.promoteMu.Unlock()

	cand, ok := r.Get(ep)
	if !ok || cand.State != StateVerified {
		return false
	}
	now := r.Now()

	active := r.All(func(rec *NodeRecord) bool { return rec.State == StateActive })
	if len(active) < r.activeTarget {
		r.Upsert(ep, func(rec *NodeRecord) {
			if rec.State == StateVerified {
				rec.State = StateActive
			}
		})
		return true
	}

	worst := active[0]
	worstScore := Score(&worst, now)
	for _, a := range active[1:] {
		if s := Score(&a, now); s < worstScore {
			worst, worstScore = a, s
		}
	}
	if Score(&cand, now) <= worstScore {
		return false
	}

	r.Upsert(worst.Endpoint, func(rec *NodeRecord) {
		if rec.State == StateActive {
			rec.State = StateVerified
		}
	})
	r.Upsert(ep, func(rec *NodeRecord) {
		if rec.State == StateVerified {
			rec.State = StateActive
		}
	})
	r.logger.Debug("promoted into active set",
		zap.String("endpoint", ep.Key()),
		zap.String("demoted", worst.Endpoint.Key()))
	return true
}

// EvictLRU trims the population to max records. Seeds and records currently
// Active or Verified are never evicted; among the rest, the least recently
// seen go first. Transient failure never deletes a record on its own;
// history has value even while quarantined.
func (r *Registry) EvictLRU(max int) int {
	if max <= 0 {
		max = r.maxRecords
	}
	excess := r.records.Size() - max
	if excess <= 0 {
		return 0
	}

	type victim struct {
		key  string
		seen time.Time
	}
	victims := make([]victim, 0, excess*2)
	r.records.Range(func(key string, s *slot) bool {
		s.mu.Lock()
		rec := s.rec
		s.mu.Unlock()
		if rec.Seed || rec.State == StateActive || rec.State == StateVerified {
			return true
		}
		seen := rec.AddedAt
		if rec.LastSeenAsPeer != nil && rec.LastSeenAsPeer.After(seen) {
			seen = *rec.LastSeenAsPeer
		}
		if rec.Health.LastSuccess != nil && rec.Health.LastSuccess.After(seen) {
			seen = *rec.Health.LastSuccess
		}
		victims = append(victims, victim{key: key, seen: seen})
		return true
	})

	// Oldest first.
	sort.Slice(victims, func(i, j int) bool { return victims[i].seen.Before(victims[j].seen) })

	evicted := 0
	for _, v := range victims {
		if evicted >= excess {
			break
		}
		r.records.Delete(v.key)
		evicted++
	}
	if evicted > 0 {
		r.logger.Debug("evicted stale records", zap.Int("count", evicted))
	}
	return evicted
}
