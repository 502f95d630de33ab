// internal/controller/runcontext.go
package controller

import "sync"

// RunContext is the per-run diagnostic bag. It travels with the run instead
// of living in process-wide state, so parallel test runs stay isolated. Values
// are attached to stage errors to make failures self-describing.
type RunContext struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewRunContext returns an empty bag.
func NewRunContext() *RunContext {
	return &RunContext{values: make(map[string]any)}
}

// Set records a diagnostic value.
func (rc *RunContext) Set(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values[key] = value
}

// Get looks up a diagnostic value.
func (rc *RunContext) Get(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.values[key]
	return v, ok
}

// Snapshot returns a copy of the current values.
func (rc *RunContext) Snapshot() map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make(map[string]any, len(rc.values))
	for k, v := range rc.values {
		out[k] = v
	}
	return out
}

// Reset clears the bag for the next run.
func (rc *RunContext) Reset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values = make(map[string]any)
}
