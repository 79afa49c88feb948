package persist

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kachat-network/nodepool/pkg/pool"
)

func sampleRecord() pool.NodeRecord {
	added := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	lastSuccess := added.Add(5 * time.Minute)
	seen := added.Add(10 * time.Minute)
	rec := pool.NewRecord(pool.Endpoint{
		Scheme: "https", Host: "node-1.example.com", Port: 443, Network: pool.Mainnet,
	}, added)
	rec.State = pool.StateActive
	rec.Profile = pool.NodeProfile{Synced: true, Indexed: true, ConsensusHeight: 123456, IntegrityOK: true, IntegrityEpoch: 2, VerifiedEpoch: 2}
	rec.Health = pool.NodeHealth{ConsecutiveSuccesses: 7, ErrorCount: 1, LastSuccess: &lastSuccess}
	rec.Latency.Add(80 * time.Millisecond)
	rec.Latency.Add(120 * time.Millisecond)
	rec.Seed = true
	rec.LastSeenAsPeer = &seen
	return rec
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	saved := []pool.NodeRecord{sampleRecord()}
	require.NoError(t, store.Save(ctx, saved))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, saved[0], loaded[0])

	// Mutating the returned slice must not leak into the store.
	loaded[0].State = pool.StateQuarantined
	again, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, pool.StateActive, again[0].State)

	require.NoError(t, store.Close())
}

func TestRecord_JSONRoundTripPreservesEverything(t *testing.T) {
	rec := sampleRecord()

	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var back pool.NodeRecord
	require.NoError(t, json.Unmarshal(raw, &back))

	assert.Equal(t, rec.Endpoint, back.Endpoint)
	assert.Equal(t, rec.State, back.State)
	assert.Equal(t, rec.Profile, back.Profile)
	assert.Equal(t, rec.Health.ErrorCount, back.Health.ErrorCount)
	assert.Equal(t, rec.Health.ConsecutiveSuccesses, back.Health.ConsecutiveSuccesses)
	require.NotNil(t, back.Health.LastSuccess)
	assert.True(t, rec.Health.LastSuccess.Equal(*back.Health.LastSuccess))
	assert.Equal(t, rec.Latency, back.Latency)
	assert.True(t, back.Seed)
}

func TestRestore_PopulatesRegistry(t *testing.T) {
	registry := pool.NewRegistry(zaptest.NewLogger(t), pool.RegistryOpts{})
	rec := sampleRecord()

	restored := Restore(registry, []pool.NodeRecord{rec})
	assert.Equal(t, 1, restored)

	got, ok := registry.Get(rec.Endpoint)
	require.True(t, ok)
	assert.Equal(t, pool.StateActive, got.State)
	assert.Equal(t, 1, got.Health.ErrorCount)
	assert.Equal(t, rec.Latency, got.Latency)
	assert.True(t, got.Seed)
}
