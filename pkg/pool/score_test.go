package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selectableRecord(i int, state NodeState) NodeRecord {
	rec := NodeRecord{
		Endpoint: testEndpoint(i),
		State:    state,
		Profile:  NodeProfile{Synced: true, Indexed: true},
	}
	rec.Latency.Add(time.Duration(50+i*10) * time.Millisecond)
	return rec
}

func TestPickBest_Deterministic(t *testing.T) {
	now := time.Now()
	snapshot := []NodeRecord{
		selectableRecord(3, StateActive),
		selectableRecord(1, StateActive),
		selectableRecord(2, StateVerified),
		selectableRecord(0, StateActive),
	}

	first := PickBest(snapshot, OpRead, 4, now)
	second := PickBest(snapshot, OpRead, 4, now)
	assert.Equal(t, first, second)

	// Lowest latency wins.
	require.NotEmpty(t, first)
	assert.Equal(t, testEndpoint(0), first[0])
}

func TestPickBest_ExcludesIneligibleStates(t *testing.T) {
	now := time.Now()
	quarantined := selectableRecord(4, StateQuarantined)
	until := now.Add(time.Hour)
	quarantined.Health.QuarantinedUntil = &until

	snapshot := []NodeRecord{
		selectableRecord(0, StateCandidate),
		selectableRecord(1, StateProfiled),
		quarantined,
		selectableRecord(2, StateActive),
	}

	got := PickBest(snapshot, OpRead, 10, now)
	require.Len(t, got, 1)
	assert.Equal(t, testEndpoint(2), got[0])
}

func TestPickBest_CapabilityGateIsHard(t *testing.T) {
	now := time.Now()
	unindexed := selectableRecord(0, StateActive)
	unindexed.Profile.Indexed = false
	// Make the unindexed one strictly better on every soft axis.
	unindexed.Latency = LatencyStats{}
	unindexed.Latency.Add(time.Millisecond)

	indexed := selectableRecord(1, StateActive)

	got := PickBest([]NodeRecord{unindexed, indexed}, OpIndexedRead, 10, now)
	require.Len(t, got, 1)
	assert.Equal(t, testEndpoint(1), got[0])

	// The same record is fine for plain reads.
	got = PickBest([]NodeRecord{unindexed, indexed}, OpRead, 10, now)
	assert.Len(t, got, 2)
	assert.Equal(t, testEndpoint(0), got[0])
}

func TestPickBest_UnsyncedExcludedForReads(t *testing.T) {
	now := time.Now()
	unsynced := selectableRecord(0, StateActive)
	unsynced.Profile.Synced = false

	got := PickBest([]NodeRecord{unsynced}, OpRead, 1, now)
	assert.Empty(t, got)
}

func TestPickBest_SuspectBelowSuccessRateExcluded(t *testing.T) {
	now := time.Now()
	failing := selectableRecord(0, StateSuspect)
	failing.Health.ConsecutiveFailures = 2

	recovering := selectableRecord(1, StateSuspect)
	recovering.Health.ConsecutiveSuccesses = 3

	got := PickBest([]NodeRecord{failing, recovering}, OpRead, 10, now)
	require.Len(t, got, 1)
	assert.Equal(t, testEndpoint(1), got[0])
}

func TestPickBest_TieBrokenByErrorCountThenLastSuccess(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)

	a := selectableRecord(0, StateActive)
	b := selectableRecord(0, StateActive)
	b.Endpoint = testEndpoint(1)
	// Identical latency; a carries more lifetime errors.
	a.Health.ErrorCount = 3
	b.Health.ErrorCount = 1

	got := PickBest([]NodeRecord{a, b}, OpRead, 2, now)
	require.Len(t, got, 2)
	assert.Equal(t, testEndpoint(1), got[0])

	// Same errors: most recent success first.
	c := selectableRecord(0, StateActive)
	d := selectableRecord(0, StateActive)
	d.Endpoint = testEndpoint(1)
	c.Health.LastSuccess = &earlier
	d.Health.LastSuccess = &now

	got = PickBest([]NodeRecord{c, d}, OpRead, 2, now)
	require.Len(t, got, 2)
	assert.Equal(t, testEndpoint(1), got[0])
}

func TestScore_RecentOutcomesOutweighLifetimeReputation(t *testing.T) {
	now := time.Now()

	// A veteran with plenty of lifetime errors but a current success streak
	// outranks a clean-history record that is failing right now. Lifetime
	// ErrorCount only breaks ties.
	veteran := selectableRecord(0, StateActive)
	veteran.Health.ErrorCount = 40
	veteran.Health.ConsecutiveSuccesses = 5

	flaky := selectableRecord(0, StateActive)
	flaky.Health.ConsecutiveFailures = 2

	assert.Greater(t, Score(&veteran, now), Score(&flaky, now))
}

func TestScore_FreshnessBonus(t *testing.T) {
	now := time.Now()
	stale := selectableRecord(0, StateActive)
	fresh := selectableRecord(0, StateActive)
	seen := now.Add(-10 * time.Minute)
	fresh.LastSeenAsPeer = &seen

	assert.Greater(t, Score(&fresh, now), Score(&stale, now))
}
