// api/schemas/errors.go
package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure by the layer that produced it. The kind decides
// the default recoverability and how the orchestrator reacts to it.
type ErrorKind string

const (
	// KindConfiguration means a required setting is missing or invalid. Fails
	// fast before any browser interaction.
	KindConfiguration ErrorKind = "configuration"
	// KindSession means the credentials were rejected or a security challenge
	// appeared. Never retried, to avoid account lockout.
	KindSession ErrorKind = "session"
	// KindNavigation means a target screen or expected container did not appear
	// in time.
	KindNavigation ErrorKind = "navigation"
	// KindItemAction is a per-item interaction failure. Soft; batched as a
	// partial failure rather than aborting the run.
	KindItemAction ErrorKind = "item_action"
	// KindDriver is an underlying browser or session level failure.
	KindDriver ErrorKind = "driver"
	// KindCircuitOpen means the circuit breaker rejected the call outright.
	KindCircuitOpen ErrorKind = "circuit_open"
)

// defaultRecoverable maps each kind to its default recoverability.
var defaultRecoverable = map[ErrorKind]bool{
	KindConfiguration: false,
	KindSession:       false,
	KindNavigation:    true,
	KindItemAction:    true,
	KindDriver:        true,
	KindCircuitOpen:   false,
}

// Error is the typed error carried between the automation components. It keeps
// the originating kind, an explicit recoverability flag, an optional wrapped
// cause and free-form diagnostic context.
type Error struct {
	Kind        ErrorKind
	Recoverable bool
	Critical    bool
	Message     string
	Cause       error
	Context     map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithContext attaches a diagnostic key/value pair and returns the error for
// chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// AsCritical marks the error as run-aborting even inside the per-item
// degradation path.
func (e *Error) AsCritical() *Error {
	e.Critical = true
	return e
}

// NewError creates a typed error with the kind's default recoverability.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Recoverable: defaultRecoverable[kind], Message: message}
}

// WrapError wraps an underlying cause in a typed error. A non-recoverable or
// critical cause keeps those flags through the wrap; otherwise the new kind's
// defaults apply.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	recoverable := defaultRecoverable[kind]
	critical := false
	var typed *Error
	if errors.As(cause, &typed) {
		if !typed.Recoverable {
			recoverable = false
		}
		critical = typed.Critical
	}
	return &Error{Kind: kind, Recoverable: recoverable, Critical: critical, Message: message, Cause: cause}
}

// transientFragments are matched against untyped error messages. This string
// sniffing is a documented last resort for errors surfaced by the external
// browser driver; everything raised inside this engine carries the typed flag.
var transientFragments = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"network",
	"connection",
	"not found",
	"not visible",
	"navigation",
	"detached",
	"temporarily",
}

// IsRecoverable reports whether the error is worth retrying. Typed errors use
// their explicit flag; untyped errors fall back to message pattern matching.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Recoverable
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// IsCritical reports whether the error must abort the whole batch instead of
// degrading to a partial failure.
func IsCritical(err error) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Critical
	}
	return false
}

// KindOf extracts the kind of a typed error, or KindDriver for untyped errors
// crossing the browser boundary.
func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindDriver
}
