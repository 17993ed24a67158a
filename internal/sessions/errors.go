package sessions

import "errors"

var (
	// ErrSessionBusy is returned when another handle holds the session.
	ErrSessionBusy = errors.New("session busy")

	// ErrQueueFull is returned when a session's pending queue is at capacity.
	ErrQueueFull = errors.New("session queue full")

	// ErrSessionIdle is returned by Enqueue when nothing holds the session;
	// the caller should Acquire instead.
	ErrSessionIdle = errors.New("session not held")

	// ErrHandleReleased is returned when using a handle after Release.
	ErrHandleReleased = errors.New("session handle released")

	// ErrTurnNotFinal is returned when appending a pending turn.
	ErrTurnNotFinal = errors.New("turn is not final")

	// ErrOutOfOrder is returned when a turn's sequence does not follow the
	// session's last turn.
	ErrOutOfOrder = errors.New("turn out of sequence")
)
