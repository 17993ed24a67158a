package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/devanshuguptaa/Converge-AI/internal/sessions"
)

// Sentinel errors for the orchestration core.
var (
	// ErrPermissionDenied marks a tool call rejected for missing scopes.
	ErrPermissionDenied = errors.New("permission-denied")

	// ErrCollaboratorUnavailable marks a grounding collaborator failure.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrToolExecution marks a tool whose integration returned an error.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrReasoningEngine marks a reasoning engine failure. EngineError
	// matches it with errors.Is.
	ErrReasoningEngine = errors.New("reasoning engine failed")

	// ErrLoopBoundExceeded marks a turn that hit MaxIterations.
	ErrLoopBoundExceeded = errors.New("loop bound exceeded")

	// ErrSessionBusy is returned when a session is already processing a turn.
	ErrSessionBusy = sessions.ErrSessionBusy

	// ErrTurnTimeout marks a turn that hit TurnTimeout.
	ErrTurnTimeout = errors.New("turn timed out")
)

// EngineError is a failure reported by a reasoning engine adapter.
type EngineError struct {
	Provider string

	// Transient errors are worth retrying: timeouts, rate limits, 5xx.
	Transient bool

	// Status is the HTTP status, when known.
	Status int

	Cause error
}

// Error implements error.
func (e *EngineError) Error() string {
	var b strings.Builder
	b.WriteString("reasoning engine")
	if e.Provider != "" {
		b.WriteString(" ")
		b.WriteString(e.Provider)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Transient {
		b.WriteString(" (transient)")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error { return e.Cause }

// Is matches ErrReasoningEngine.
func (e *EngineError) Is(target error) bool { return target == ErrReasoningEngine }

// IsTransient reports whether a retry may succeed.
func (e *EngineError) IsTransient() bool { return e != nil && e.Transient }

// IsTransient reports whether err is a transient reasoning engine failure.
// A bare deadline error counts as transient; cancellation never does.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// LoopError records where in the state machine a turn stopped.
type LoopError struct {
	State     State
	Iteration int
	Cause     error
}

// Error implements error.
func (e *LoopError) Error() string {
	return fmt.Sprintf("agent loop %s (iteration %d): %v", e.State, e.Iteration, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *LoopError) Unwrap() error { return e.Cause }
