// internal/resilience/circuit_test.go
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
)

var errBoom = errors.New("boom")

// fakeClock lets tests move the breaker's notion of time without sleeping.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func failingOp(ctx context.Context) error { return errBoom }
func okOp(ctx context.Context) error      { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(3, time.Minute, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), failingOp), errBoom)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	// The next call is rejected without running the operation.
	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, schemas.KindCircuitOpen, schemas.KindOf(err))
	assert.False(t, schemas.IsRecoverable(err))
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(3, time.Minute, zaptest.NewLogger(t))

	require.Error(t, cb.Execute(context.Background(), failingOp))
	require.Error(t, cb.Execute(context.Background(), failingOp))
	require.NoError(t, cb.Execute(context.Background(), okOp))

	assert.Equal(t, 0, cb.FailureCount())
	assert.Equal(t, CircuitClosed, cb.State())

	// Two more failures still do not reach the threshold of three.
	require.Error(t, cb.Execute(context.Background(), failingOp))
	require.Error(t, cb.Execute(context.Background(), failingOp))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := NewCircuitBreaker(2, 30*time.Second, zaptest.NewLogger(t))
	cb.now = clock.now

	require.Error(t, cb.Execute(context.Background(), failingOp))
	require.Error(t, cb.Execute(context.Background(), failingOp))
	require.Equal(t, CircuitOpen, cb.State())

	// Inside the recovery window calls stay rejected.
	clock.advance(10 * time.Second)
	err := cb.Execute(context.Background(), okOp)
	require.Error(t, err)
	assert.Equal(t, schemas.KindCircuitOpen, schemas.KindOf(err))

	// After the window the probe is admitted, and its success closes the
	// breaker again.
	clock.advance(25 * time.Second)
	require.NoError(t, cb.Execute(context.Background(), okOp))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.FailureCount())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := NewCircuitBreaker(2, 30*time.Second, zaptest.NewLogger(t))
	cb.now = clock.now

	require.Error(t, cb.Execute(context.Background(), failingOp))
	require.Error(t, cb.Execute(context.Background(), failingOp))

	clock.advance(31 * time.Second)
	require.ErrorIs(t, cb.Execute(context.Background(), failingOp), errBoom)
	assert.Equal(t, CircuitOpen, cb.State())

	// Reopened with a fresh timestamp; still rejecting before the next window.
	clock.advance(10 * time.Second)
	err := cb.Execute(context.Background(), okOp)
	require.Error(t, err)
	assert.Equal(t, schemas.KindCircuitOpen, schemas.KindOf(err))
}

func TestCircuitBreaker_OperationErrorPassesThrough(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(5, time.Minute, zaptest.NewLogger(t))

	err := cb.Execute(context.Background(), failingOp)
	assert.ErrorIs(t, err, errBoom, "closed breaker must not rewrap operation errors")
}

func TestCircuitBreaker_ThresholdNormalizedToOne(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(0, time.Minute, nil)

	require.Error(t, cb.Execute(context.Background(), failingOp))
	assert.Equal(t, CircuitOpen, cb.State())
}
