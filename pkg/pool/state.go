package pool

// NodeState is the lifecycle state of one endpoint record.
type NodeState int

const (
	// StateCandidate is a newly discovered or freshly reset endpoint that
	// has not been validated.
	StateCandidate NodeState = iota
	// StateProfiled passed a lightweight liveness check only.
	StateProfiled
	// StateVerified passed the full capability checks.
	StateVerified
	// StateActive is selected into the live routing set.
	StateActive
	// StateSuspect was Active and crossed the soft failure threshold; still
	// usable but deprioritized.
	StateSuspect
	// StateQuarantined crossed the hard threshold or failed a capability or
	// integrity check; excluded from selection until cooldown expires.
	StateQuarantined
)

var stateNames = map[NodeState]string{
	StateCandidate:   "candidate",
	StateProfiled:    "profiled",
	StateVerified:    "verified",
	StateActive:      "active",
	StateSuspect:     "suspect",
	StateQuarantined: "quarantined",
}

func (s NodeState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Selectable reports whether records in this state may be returned by the
// selector at all.
func (s NodeState) Selectable() bool {
	return s == StateVerified || s == StateActive || s == StateSuspect
}

// thresholds holds the per-state hysteresis levels: crossing soft moves the
// record toward Suspect, crossing hard quarantines it. Unvalidated states
// get low thresholds (fail fast on junk), established states get higher ones
// so a single flaky sample cannot demote a proven endpoint.
type thresholds struct {
	soft int
	hard int
}

var failureThresholds = map[NodeState]thresholds{
	StateCandidate: {soft: 1, hard: 2},
	StateProfiled:  {soft: 1, hard: 2},
	StateVerified:  {soft: 2, hard: 4},
	StateActive:    {soft: 2, hard: 3},
	StateSuspect:   {soft: 0, hard: 2},
}

// NextOnFailure returns the state after a failed probe or call given the
// record's consecutive failure count (already incremented for this failure).
func NextOnFailure(s NodeState, consecutiveFailures int) NodeState {
	if s == StateQuarantined {
		return StateQuarantined
	}
	t := failureThresholds[s]
	if consecutiveFailures >= t.hard {
		return StateQuarantined
	}
	if t.soft > 0 && consecutiveFailures >= t.soft {
		switch s {
		case StateActive, StateVerified:
			return StateSuspect
		}
	}
	return s
}

// NextOnSuccess returns the state after a successful probe, moving upward by
// at most one state. Promotion of Verified into Active is capacity-gated and
// handled by the registry, not here. Quarantined records do not climb on
// success; they leave quarantine only through cooldown expiry.
func NextOnSuccess(s NodeState) NodeState {
	switch s {
	case StateCandidate:
		return StateProfiled
	case StateProfiled:
		return StateVerified
	case StateSuspect:
		return StateActive
	default:
		return s
	}
}
