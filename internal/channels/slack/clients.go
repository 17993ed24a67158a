package slack

import (
	"context"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// API is the slice of the Slack Web API the adapter uses.
type API interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error
}

var _ API = (*slack.Client)(nil)

// SocketClient is the Socket Mode connection.
type SocketClient interface {
	RunContext(ctx context.Context) error
	Ack(req socketmode.Request, payload ...interface{})
	Events() <-chan socketmode.Event
}

// socketModeClient adapts *socketmode.Client, which exposes events as a
// struct field.
type socketModeClient struct {
	*socketmode.Client
}

func (c socketModeClient) Events() <-chan socketmode.Event {
	return c.Client.Events
}
