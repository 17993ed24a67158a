package models

import (
	"encoding/json"
	"errors"
	"time"
)

// TurnStatus is the resolution state of a Turn.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
	TurnAborted   TurnStatus = "aborted"
)

// IsFinal reports whether the status is terminal.
func (s TurnStatus) IsFinal() bool {
	return s == TurnCompleted || s == TurnFailed || s == TurnAborted
}

// ErrTurnFinal is returned when mutating a turn that already reached a
// terminal status.
var ErrTurnFinal = errors.New("turn already finalized")

// ToolCall is a request from the reasoning engine to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolErrorKind classifies a failed tool result.
type ToolErrorKind string

const (
	ToolErrPermissionDenied ToolErrorKind = "permission_denied"
	ToolErrNotFound         ToolErrorKind = "not_found"
	ToolErrInvalidInput     ToolErrorKind = "invalid_input"
	ToolErrTimeout          ToolErrorKind = "timeout"
	ToolErrExecution        ToolErrorKind = "execution"
	ToolErrPanic            ToolErrorKind = "panic"
	ToolErrCancelled        ToolErrorKind = "cancelled"
)

// ToolResult is the outcome of a ToolCall. Failures are carried as data,
// never raised.
type ToolResult struct {
	CallID    string        `json:"call_id"`
	Success   bool          `json:"success"`
	Content   string        `json:"content,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind ToolErrorKind `json:"error_kind,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Observation renders the result as text for the reasoning engine.
func (r ToolResult) Observation() string {
	if r.Success {
		return r.Content
	}
	return "error: " + r.Error
}

// ToolExchange pairs a call with its result.
type ToolExchange struct {
	Call   ToolCall   `json:"call"`
	Result ToolResult `json:"result"`
}

// Turn is one user message and its resolution.
type Turn struct {
	ID         string         `json:"id"`
	SessionKey SessionKey     `json:"session_key"`
	UserID     string         `json:"user_id"`
	Seq        int64          `json:"seq"`
	Input      string         `json:"input"`
	Context    *ContextBundle `json:"context,omitempty"`
	Exchanges  []ToolExchange `json:"exchanges,omitempty"`
	Answer     string         `json:"answer,omitempty"`
	Status     TurnStatus     `json:"status"`
	Error      string         `json:"error,omitempty"`

	// Retries counts reasoning-engine retries across the turn.
	Retries int `json:"retries"`

	// Iterations counts Reasoning steps that dispatched tools.
	Iterations int `json:"iterations"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// NewTurn starts a pending turn.
func NewTurn(id string, key SessionKey, userID, input string) *Turn {
	return &Turn{
		ID:         id,
		SessionKey: key,
		UserID:     userID,
		Input:      input,
		Status:     TurnPending,
		StartedAt:  time.Now(),
	}
}

// Finish moves the turn to a terminal status. A finalized turn cannot be
// finished again.
func (t *Turn) Finish(status TurnStatus, answer string, cause error) error {
	if t.Status.IsFinal() {
		return ErrTurnFinal
	}
	if !status.IsFinal() {
		return errors.New("finish requires a terminal status")
	}
	t.Status = status
	t.Answer = answer
	if cause != nil {
		t.Error = cause.Error()
	}
	t.FinishedAt = time.Now()
	return nil
}

// CallIDs returns the ids of every call issued during the turn.
func (t *Turn) CallIDs() []string {
	ids := make([]string, len(t.Exchanges))
	for i, ex := range t.Exchanges {
		ids[i] = ex.Call.ID
	}
	return ids
}

// Clone returns a deep copy that is safe to hand to readers.
func (t *Turn) Clone() *Turn {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Exchanges != nil {
		clone.Exchanges = make([]ToolExchange, len(t.Exchanges))
		for i, ex := range t.Exchanges {
			clone.Exchanges[i] = ex
			clone.Exchanges[i].Call.Arguments = append(json.RawMessage(nil), ex.Call.Arguments...)
		}
	}
	// The bundle is not carried into history snapshots; history only needs
	// the dialogue.
	clone.Context = nil
	return &clone
}
