package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyStats_FastReactsSlowRemembers(t *testing.T) {
	var stats LatencyStats
	for i := 0; i < 20; i++ {
		stats.Add(100 * time.Millisecond)
	}
	baseline := stats.Blended()

	// A burst of slow samples should move the fast average far more than
	// the slow one.
	fastBefore, slowBefore := stats.FastEWMA, stats.SlowEWMA
	stats.Add(2 * time.Second)
	stats.Add(2 * time.Second)

	assert.Greater(t, stats.FastEWMA, fastBefore*2)
	assert.Greater(t, stats.SlowEWMA, slowBefore)
	assert.Less(t, stats.SlowEWMA, stats.FastEWMA/2)
	assert.Greater(t, stats.Blended(), baseline)
}

func TestLatencyStats_ResetFastPreservesSlow(t *testing.T) {
	var stats LatencyStats
	stats.Add(50 * time.Millisecond)
	stats.Add(80 * time.Millisecond)
	slow := stats.SlowEWMA

	stats.ResetFast()
	assert.Zero(t, stats.FastEWMA)
	assert.Equal(t, slow, stats.SlowEWMA)
	// Blended falls back to the slow side until new samples arrive.
	assert.Equal(t, slow, stats.Blended())
}

func TestResetEpochScoped_PreservesReputation(t *testing.T) {
	until := time.Now().Add(time.Hour)
	rec := NodeRecord{
		State: StateVerified,
		Profile: NodeProfile{
			Synced:         true,
			IntegrityOK:    true,
			IntegrityEpoch: 4,
			VerifiedEpoch:  4,
		},
		Health: NodeHealth{ErrorCount: 7, QuarantinedUntil: &until},
	}
	rec.Latency.Add(40 * time.Millisecond)
	slow := rec.Latency.SlowEWMA

	rec.ResetEpochScoped()

	assert.False(t, rec.Profile.IntegrityOK)
	assert.EqualValues(t, -1, rec.Profile.IntegrityEpoch)
	assert.EqualValues(t, -1, rec.Profile.VerifiedEpoch)
	assert.Zero(t, rec.Latency.FastEWMA)

	// Long-term reputation survives the epoch change.
	assert.Equal(t, 7, rec.Health.ErrorCount)
	assert.Equal(t, slow, rec.Latency.SlowEWMA)
	require.NotNil(t, rec.Health.QuarantinedUntil)
	assert.Equal(t, until, *rec.Health.QuarantinedUntil)
}

func TestExitQuarantine_OnlyResetPoint(t *testing.T) {
	until := time.Now().Add(-time.Minute)
	rec := NodeRecord{
		State:  StateQuarantined,
		Health: NodeHealth{ErrorCount: 12, ConsecutiveFailures: 5, QuarantinedUntil: &until},
	}
	rec.ExitQuarantine()

	assert.Equal(t, StateCandidate, rec.State)
	assert.Zero(t, rec.Health.ErrorCount)
	assert.Zero(t, rec.Health.ConsecutiveFailures)
	assert.Nil(t, rec.Health.QuarantinedUntil)
}

func TestEndpointKeyNormalization(t *testing.T) {
	a := Endpoint{Scheme: "https", Host: "Node.Example.COM", Port: 443, Network: Mainnet}
	b := Endpoint{Scheme: "https", Host: "node.example.com", Port: 443, Network: Mainnet}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "https://node.example.com:443", a.URL())
}

func TestParseAddr(t *testing.T) {
	ep, err := ParseAddr("10.almost.invalid:16110", Mainnet)
	require.NoError(t, err)
	assert.Equal(t, uint16(16110), ep.Port)

	_, err = ParseAddr("no-port-here", Mainnet)
	assert.Error(t, err)

	_, err = ParseAddr("host:0", Mainnet)
	assert.Error(t, err)
}

func TestRoutableAddr(t *testing.T) {
	assert.False(t, RoutableAddr("127.0.0.1"))
	assert.False(t, RoutableAddr("10.0.0.5"))
	assert.False(t, RoutableAddr("192.168.1.4"))
	assert.False(t, RoutableAddr("169.254.0.9"))
	assert.False(t, RoutableAddr("::1"))
	assert.True(t, RoutableAddr("8.8.8.8"))
	assert.True(t, RoutableAddr("node.example.com"))
}
