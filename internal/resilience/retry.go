// internal/resilience/retry.go
package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
)

// Policy controls how an operation is retried. Immutable per call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Retryable decides whether a failure is worth another attempt. When nil,
	// schemas.IsRecoverable is used.
	Retryable func(error) bool
}

// DefaultPolicy mirrors the engine-wide defaults: three attempts with a short
// exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}
}

// Outcome reports the result of a retried operation, including how many
// attempts were consumed.
type Outcome[T any] struct {
	Succeeded bool
	Value     T
	Err       error
	Attempts  int
}

// Retry runs op under the policy, sleeping an exponentially growing delay
// between attempts. A non-retryable failure returns immediately. The context
// is honored both inside op and during backoff sleeps.
func Retry[T any](ctx context.Context, logger *zap.Logger, p Policy, op func(context.Context) (T, error)) Outcome[T] {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = schemas.IsRecoverable
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; ; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return Outcome[T]{Succeeded: true, Value: value, Attempts: attempt}
		}
		lastErr = err

		if ctx.Err() != nil {
			return Outcome[T]{Err: lastErr, Attempts: attempt}
		}
		if !retryable(err) {
			if logger != nil {
				logger.Debug("Failure is not retryable, giving up.",
					zap.Int("attempt", attempt), zap.Error(err))
			}
			return Outcome[T]{Err: lastErr, Attempts: attempt}
		}
		if attempt >= p.MaxAttempts {
			return Outcome[T]{Err: lastErr, Attempts: attempt}
		}

		sleep := delay
		if p.MaxDelay > 0 && sleep > p.MaxDelay {
			sleep = p.MaxDelay
		}
		if logger != nil {
			logger.Debug("Retrying after transient failure.",
				zap.Int("attempt", attempt), zap.Duration("backoff", sleep), zap.Error(err))
		}
		if err := sleepCtx(ctx, sleep); err != nil {
			return Outcome[T]{Err: lastErr, Attempts: attempt}
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
}

// sleepCtx sleeps for d unless the context is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
