// internal/resilience/scope.go
package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CleanupFunc releases one resource. Failures are collected, never propagated.
type CleanupFunc func(ctx context.Context) error

// Scope accumulates cleanup actions and runs them in reverse registration
// order exactly once. A hung cleanup cannot block shutdown: each action is
// individually time-boxed.
type Scope struct {
	logger         *zap.Logger
	cleanupTimeout time.Duration

	mu       sync.Mutex
	cleanups []namedCleanup
	running  bool
	done     chan struct{}
}

type namedCleanup struct {
	name string
	fn   CleanupFunc
}

// NewScope creates an empty scope. perCleanupTimeout bounds each individual
// cleanup action; zero means 10 seconds.
func NewScope(logger *zap.Logger, perCleanupTimeout time.Duration) *Scope {
	if logger == nil {
		logger = zap.NewNop()
	}
	if perCleanupTimeout <= 0 {
		perCleanupTimeout = 10 * time.Second
	}
	return &Scope{logger: logger.Named("scope"), cleanupTimeout: perCleanupTimeout}
}

// Register appends a cleanup action. Actions run in reverse order of
// registration.
func (s *Scope) Register(name string, fn CleanupFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, namedCleanup{name: name, fn: fn})
}

// Cleanup runs every registered action in reverse order, once. A concurrent
// second caller blocks until the in-flight pass completes and re-runs nothing.
// Individual failures are logged and swallowed; the count of failed actions is
// returned for observability.
func (s *Scope) Cleanup(ctx context.Context) int {
	s.mu.Lock()
	if s.running {
		done := s.done
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return 0
	}
	s.running = true
	s.done = make(chan struct{})
	pending := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	failures := 0
	for i := len(pending) - 1; i >= 0; i-- {
		c := pending[i]
		if err := s.runOne(ctx, c); err != nil {
			failures++
			s.logger.Warn("Cleanup action failed (best effort, continuing).",
				zap.String("resource", c.name), zap.Error(err))
		}
	}

	s.mu.Lock()
	s.running = false
	close(s.done)
	s.done = nil
	s.mu.Unlock()

	return failures
}

// runOne executes a single cleanup under its own timeout, converting panics
// into errors so one misbehaving action cannot take down the pass.
func (s *Scope) runOne(ctx context.Context, c namedCleanup) (err error) {
	cleanupCtx, cancel := context.WithTimeout(ctx, s.cleanupTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &panicError{resource: c.name, value: r}
		}
	}()
	return c.fn(cleanupCtx)
}

type panicError struct {
	resource string
	value    any
}

func (p *panicError) Error() string {
	return "cleanup panicked for " + p.resource
}

// Len reports how many cleanups are currently registered.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cleanups)
}
