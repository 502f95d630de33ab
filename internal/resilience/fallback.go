// internal/resilience/fallback.go
package resilience

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// WithFallback runs primary and, on a qualifying failure, runs fallback and
// returns its result instead. A nil shouldFallback falls back on every
// failure; otherwise the predicate decides and a false verdict rethrows the
// primary error.
func WithFallback[T any](
	ctx context.Context,
	primary func(context.Context) (T, error),
	fallback func(context.Context) (T, error),
	shouldFallback func(error) bool,
) (T, error) {
	value, err := primary(ctx)
	if err == nil {
		return value, nil
	}
	if shouldFallback != nil && !shouldFallback(err) {
		var zero T
		return zero, err
	}
	return fallback(ctx)
}

// PartialResult aggregates the outcome of a batch of independent operations.
// Results keep the original operation order with failed slots omitted; Errors
// collects the corresponding failures.
type PartialResult[T any] struct {
	Results []T
	Errors  []error
}

// WithPartialSuccess runs every operation to completion, concurrently. No
// operation's failure aborts the others; the call returns only after all have
// finished.
func WithPartialSuccess[T any](ctx context.Context, ops []func(context.Context) (T, error)) PartialResult[T] {
	type slot struct {
		value T
		err   error
		ok    bool
	}
	slots := make([]slot, len(ops))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, op := range ops {
		i, op := i, op
		g.Go(func() error {
			value, err := op(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slots[i] = slot{err: err}
			} else {
				slots[i] = slot{value: value, ok: true}
			}
			// Always nil so a failing operation never cancels its siblings.
			return nil
		})
	}
	_ = g.Wait()

	var out PartialResult[T]
	for _, s := range slots {
		if s.ok {
			out.Results = append(out.Results, s.value)
		} else {
			out.Errors = append(out.Errors, s.err)
		}
	}
	return out
}
