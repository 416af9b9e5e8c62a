package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker() (*CircuitBreaker, *time.Time) {
	now := time.Now()
	b := NewCircuitBreaker(&CircuitBreakerConfig{
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
		SuccessThreshold: 2,
	})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := testBreaker()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}

	assert.Equal(t, "open", b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker()

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	// The streak broke, so two more failures do not trip it
	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, "closed", b.State())
}

func TestCircuitBreaker_HalfOpenProbeCloses(t *testing.T) {
	b, now := testBreaker()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	require.Equal(t, "open", b.State())

	*now = now.Add(2 * time.Minute)

	// First probe admitted, concurrent calls rejected
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	b.RecordSuccess()
	assert.Equal(t, "half-open", b.State())

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, "closed", b.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := testBreaker()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	*now = now.Add(2 * time.Minute)

	require.NoError(t, b.Allow())
	b.RecordFailure()

	assert.Equal(t, "open", b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}
