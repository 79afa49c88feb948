package pool

import "time"

// CooldownFunc computes the quarantine cooldown for a record that just
// crossed its hard failure threshold. Injected so the jitter source stays
// testable and seeds can carry a shorter cap.
type CooldownFunc func(errorCount int, seed bool) time.Duration

// ApplySuccess folds one successful transport outcome into a record: the
// failure streak ends, the success streak and latency averages advance.
// State promotion is deliberately not here; probes promote, routed calls
// only maintain health.
func ApplySuccess(rec *NodeRecord, now time.Time, latency time.Duration) {
	rec.Health.ConsecutiveFailures = 0
	rec.Health.ConsecutiveSuccesses++
	rec.Health.LastAttempt = &now
	rec.Health.LastSuccess = &now
	rec.Latency.Add(latency)
}

// ApplyFailure folds one failed outcome into a record, demoting it through
// the state machine and opening a jittered quarantine window when the hard
// threshold is crossed.
func ApplyFailure(rec *NodeRecord, now time.Time, cooldown CooldownFunc) {
	rec.Health.ConsecutiveFailures++
	rec.Health.ConsecutiveSuccesses = 0
	rec.Health.ErrorCount++
	rec.Health.LastAttempt = &now
	wasQuarantined := rec.State == StateQuarantined
	rec.State = NextOnFailure(rec.State, rec.Health.ConsecutiveFailures)
	if rec.State == StateQuarantined && !wasQuarantined && cooldown != nil {
		until := now.Add(cooldown(rec.Health.ErrorCount, rec.Seed))
		rec.Health.QuarantinedUntil = &until
	}
}

// ApplyHardFailure folds a failure that proves the endpoint is unusable as-is
// (consensus divergence, payload truncation): counters advance like any
// failure, but the record is quarantined immediately instead of walking down
// through Suspect. Transient transport errors take the graded path above.
func ApplyHardFailure(rec *NodeRecord, now time.Time, cooldown CooldownFunc) {
	rec.Health.ConsecutiveFailures++
	rec.Health.ConsecutiveSuccesses = 0
	rec.Health.ErrorCount++
	rec.Health.LastAttempt = &now
	if rec.State == StateQuarantined {
		return
	}
	rec.State = StateQuarantined
	if cooldown != nil {
		until := now.Add(cooldown(rec.Health.ErrorCount, rec.Seed))
		rec.Health.QuarantinedUntil = &until
	}
}
