// Package commands recognizes conversation control commands that are
// answered without running the agent.
package commands

import (
	"context"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// Command is a registered control command.
type Command struct {
	// Name is the canonical name without prefix, e.g. "help".
	Name string

	// Aliases are further whole-message spellings, e.g. "?" or "clear".
	Aliases []string

	Description string

	Handler Handler
}

// Handler executes a command.
type Handler func(ctx context.Context, inv *Invocation) (*Result, error)

// Invocation is one matched command.
type Invocation struct {
	Command *Command

	// Name is the spelling the user typed.
	Name string

	Message *models.InboundMessage
}

// Result is the command's reply.
type Result struct {
	Text string
}
