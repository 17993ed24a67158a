package commands

import (
	"context"
	"fmt"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// Resetter clears a conversation's history.
type Resetter interface {
	Reset(ctx context.Context, key models.SessionKey) error
}

const (
	// ResetText confirms a cleared conversation.
	ResetText = "Conversation history cleared! Starting fresh."

	// ResetBusyText is sent when the conversation is mid-turn.
	ResetBusyText = "I'm still working on your last message. Try `reset` again once I reply."
)

// HelpText lists what the assistant can do.
const HelpText = `*Converge Help*

*Basic usage*
• Send me a DM or mention me in a channel
• I answer questions with your email, calendar, saved memories and Slack history

*Commands*
• ` + "`help`" + ` - show this message
• ` + "`reset`" + ` - clear this conversation's history

*Examples*
• "What did we discuss about the new feature?"
• "Remember that I prefer morning meetings"
• "What's on my calendar tomorrow?"
• "Remind me in 2 hours to review the PR"`

// RegisterBuiltins registers help and reset.
func RegisterBuiltins(r *Registry, sessions Resetter, isBusy func(error) bool) error {
	if err := r.Register(&Command{
		Name:        "help",
		Aliases:     []string{"?"},
		Description: "Show what the assistant can do",
		Handler: func(context.Context, *Invocation) (*Result, error) {
			return &Result{Text: HelpText}, nil
		},
	}); err != nil {
		return err
	}
	return r.Register(&Command{
		Name:        "reset",
		Aliases:     []string{"clear"},
		Description: "Clear this conversation's history",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			if inv.Message == nil {
				return nil, fmt.Errorf("reset needs a message")
			}
			if err := sessions.Reset(ctx, inv.Message.Key()); err != nil {
				if isBusy != nil && isBusy(err) {
					return &Result{Text: ResetBusyText}, nil
				}
				return nil, err
			}
			return &Result{Text: ResetText}, nil
		},
	})
}
