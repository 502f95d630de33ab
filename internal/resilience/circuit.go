// internal/resilience/circuit.go
package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
)

// CircuitState is the breaker's position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreaker trips to a rejecting state after a run of consecutive
// failures and probes again once the recovery timeout has elapsed.
type CircuitBreaker struct {
	threshold       int
	recoveryTimeout time.Duration
	logger          *zap.Logger

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	lastFailureTime time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewCircuitBreaker builds a closed breaker that opens after threshold
// consecutive failures and allows a probe call after recoveryTimeout.
func NewCircuitBreaker(threshold int, recoveryTimeout time.Duration, logger *zap.Logger) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		threshold:       threshold,
		recoveryTimeout: recoveryTimeout,
		logger:          logger.Named("circuit"),
		state:           CircuitClosed,
		now:             time.Now,
	}
}

// Execute runs op unless the breaker is open. A rejection surfaces as a
// non-recoverable CircuitOpen error without invoking op; an operation failure
// is passed through to the caller unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := op(ctx)
	cb.record(err)
	return err
}

// admit decides whether a call may proceed, moving open breakers to half-open
// once the recovery window has elapsed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if cb.now().Sub(cb.lastFailureTime) < cb.recoveryTimeout {
		return schemas.NewError(schemas.KindCircuitOpen, "circuit breaker is open, rejecting call")
	}
	cb.state = CircuitHalfOpen
	cb.logger.Debug("Recovery timeout elapsed, probing with a half-open call.")
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state != CircuitClosed {
			cb.logger.Info("Probe call succeeded, closing circuit.")
		}
		cb.failureCount = 0
		cb.state = CircuitClosed
		return
	}

	cb.failureCount++
	cb.lastFailureTime = cb.now()
	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.threshold {
		if cb.state != CircuitOpen {
			cb.logger.Warn("Failure threshold reached, opening circuit.",
				zap.Int("failures", cb.failureCount))
		}
		cb.state = CircuitOpen
	}
}

// State returns the breaker's current position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the consecutive failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
