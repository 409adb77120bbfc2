package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, 3, b.failureThreshold)
	assert.Equal(t, 30*time.Second, b.cooldown)
	require.NoError(t, b.Allow())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Cooldown: time.Hour})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	require.NoError(t, b.Allow(), "at threshold, not yet over it")

	b.RecordFailure()
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	assert.True(t, b.Open())
}

func TestBreaker_CooldownReopens(t *testing.T) {
	now := time.Now()
	b := New(Config{FailureThreshold: 1, Cooldown: 10 * time.Second})
	b.nowFn = func() time.Time { return now }

	b.RecordFailure()
	b.RecordFailure()
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	now = now.Add(9 * time.Second)
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	now = now.Add(time.Second)
	require.NoError(t, b.Allow(), "cooldown elapsed")
}

func TestBreaker_SuccessKeepsFailureCount(t *testing.T) {
	now := time.Now()
	b := New(Config{FailureThreshold: 3, Cooldown: 10 * time.Second})
	b.nowFn = func() time.Time { return now }

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, 3, b.FailureCount(), "counter is cumulative, never reset")

	// One more failure tips the accumulated count over the threshold.
	b.RecordFailure()
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_SuccessClearsOpenWindow(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Cooldown: time.Hour})

	b.RecordFailure()
	b.RecordFailure()
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	b.RecordSuccess()
	require.NoError(t, b.Allow())
}

func TestBreaker_OnOpenFiresOncePerOpen(t *testing.T) {
	var opens []int
	b := New(Config{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
		OnOpen:           func(failures int) { opens = append(opens, failures) },
	})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, []int{2}, opens, "already-open breaker does not re-fire")
}
