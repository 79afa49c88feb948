package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedCooldown(int, bool) time.Duration { return 5 * time.Minute }

func TestApplyFailure_GradedPath(t *testing.T) {
	now := time.Now()
	rec := NewRecord(testEndpoint(1), now)
	rec.State = StateActive

	ApplyFailure(&rec, now, fixedCooldown)
	assert.Equal(t, StateActive, rec.State)
	assert.Nil(t, rec.Health.QuarantinedUntil)

	ApplyFailure(&rec, now, fixedCooldown)
	assert.Equal(t, StateSuspect, rec.State)
	assert.Equal(t, 2, rec.Health.ErrorCount)
}

func TestApplyHardFailure_QuarantinesImmediately(t *testing.T) {
	now := time.Now()
	rec := NewRecord(testEndpoint(1), now)
	rec.State = StateActive
	rec.Health.ConsecutiveSuccesses = 4

	ApplyHardFailure(&rec, now, fixedCooldown)

	assert.Equal(t, StateQuarantined, rec.State)
	require.NotNil(t, rec.Health.QuarantinedUntil)
	assert.Equal(t, now.Add(5*time.Minute), *rec.Health.QuarantinedUntil)
	assert.Equal(t, 1, rec.Health.ErrorCount)
	assert.Zero(t, rec.Health.ConsecutiveSuccesses)

	// Already quarantined: counters advance, the window is not extended.
	ApplyHardFailure(&rec, now.Add(time.Minute), fixedCooldown)
	assert.Equal(t, 2, rec.Health.ErrorCount)
	assert.Equal(t, now.Add(5*time.Minute), *rec.Health.QuarantinedUntil)
}
