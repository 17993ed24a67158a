// Package workspace exposes Slack workspace actions and history search as
// agent tools.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/devanshuguptaa/Converge-AI/internal/rag"
	"github.com/devanshuguptaa/Converge-AI/internal/tools"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// API is the slice of the Slack Web API the tools call. *slack.Client
// satisfies it.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slack.User, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
}

var _ API = (*slack.Client)(nil)

// Searcher queries the indexed workspace history.
type Searcher interface {
	Query(ctx context.Context, query string, opts rag.SearchOptions) ([]rag.Hit, error)
}

const maxChannels = 200

type searchArgs struct {
	Query     string `json:"query" jsonschema:"minLength=1" jsonschema_description:"What to search for in past messages"`
	ChannelID string `json:"channel_id,omitempty" jsonschema_description:"Restrict the search to one channel"`
	Limit     int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=20" jsonschema_description:"Maximum results (default 5)"`
}

type sendArgs struct {
	Channel  string `json:"channel" jsonschema:"minLength=1" jsonschema_description:"Channel or user ID to post to"`
	Text     string `json:"text" jsonschema:"minLength=1" jsonschema_description:"Message text (Slack mrkdwn)"`
	ThreadTS string `json:"thread_ts,omitempty" jsonschema_description:"Reply inside this thread"`
}

type historyArgs struct {
	Channel string `json:"channel" jsonschema:"minLength=1" jsonschema_description:"Channel ID"`
	Limit   int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100" jsonschema_description:"Number of messages (default 20)"`
}

type userArgs struct {
	UserID string `json:"user_id" jsonschema:"minLength=1" jsonschema_description:"Slack user ID, e.g. U0123ABCD"`
}

type reactionArgs struct {
	Channel   string `json:"channel" jsonschema:"minLength=1"`
	Timestamp string `json:"timestamp" jsonschema:"minLength=1" jsonschema_description:"Timestamp of the message to react to"`
	Emoji     string `json:"emoji" jsonschema:"minLength=1" jsonschema_description:"Emoji name without colons, e.g. thumbsup"`
}

// Deps wires the tools to Slack. Search may be nil when indexing is off, in
// which case search_slack_history is not registered.
type Deps struct {
	API    API
	Search Searcher
}

type toolset struct {
	api    API
	search Searcher
}

// Register adds the workspace tools to reg.
func Register(reg *tools.Registry, deps Deps) error {
	if deps.API == nil {
		return errors.New("workspace: slack client is required")
	}
	ts := &toolset{api: deps.API, search: deps.Search}

	read := []models.Scope{models.ScopeWorkspaceRead}
	write := []models.Scope{models.ScopeWorkspaceWrite}
	var descs []*tools.Descriptor
	if ts.search != nil {
		descs = append(descs, &tools.Descriptor{
			Name:        "search_slack_history",
			Description: "Semantic search over indexed Slack messages. Returns the closest messages with channel, author and timestamp.",
			Parameters:  tools.SchemaFor[searchArgs](),
			Scopes:      read,
			Invoker:     tools.InvokerFunc(ts.searchHistory),
		})
	}
	descs = append(descs,
		&tools.Descriptor{
			Name:        "send_slack_message",
			Description: "Posts a message to a Slack channel or DM, optionally inside a thread.",
			Parameters:  tools.SchemaFor[sendArgs](),
			Scopes:      write,
			Invoker:     tools.InvokerFunc(ts.send),
		},
		&tools.Descriptor{
			Name:        "get_channel_history",
			Description: "Reads the most recent messages of a channel.",
			Parameters:  tools.SchemaFor[historyArgs](),
			Scopes:      read,
			Invoker:     tools.InvokerFunc(ts.history),
		},
		&tools.Descriptor{
			Name:        "list_channels",
			Description: "Lists public channels in the workspace.",
			Parameters:  tools.EmptySchema,
			Scopes:      read,
			Invoker:     tools.InvokerFunc(ts.listChannels),
		},
		&tools.Descriptor{
			Name:        "get_user_info",
			Description: "Looks up a Slack user's name, title, timezone and email.",
			Parameters:  tools.SchemaFor[userArgs](),
			Scopes:      read,
			Invoker:     tools.InvokerFunc(ts.userInfo),
		},
		&tools.Descriptor{
			Name:        "add_reaction",
			Description: "Adds an emoji reaction to a message.",
			Parameters:  tools.SchemaFor[reactionArgs](),
			Scopes:      write,
			Invoker:     tools.InvokerFunc(ts.react),
		},
	)
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func (ts *toolset) searchHistory(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := tools.Decode[searchArgs](raw)
	if err != nil {
		return "", err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 5
	}
	hits, err := ts.search.Query(ctx, args.Query, rag.SearchOptions{ChannelID: args.ChannelID, Limit: limit})
	if err != nil {
		return "", fmt.Errorf("search history: %w", err)
	}
	if len(hits) == 0 {
		return "No matching messages found.", nil
	}
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. [%s] (score %.2f)\n%s\n", i+1, h.Source(), h.Score, h.Text)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (ts *toolset) send(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := tools.Decode[sendArgs](raw)
	if err != nil {
		return "", err
	}
	opts := []slack.MsgOption{slack.MsgOptionText(args.Text, false)}
	if args.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(args.ThreadTS))
	}
	channel, stamp, err := ts.api.PostMessageContext(ctx, args.Channel, opts...)
	if err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	return fmt.Sprintf("Message posted to %s (ts %s).", channel, stamp), nil
}

type historyEntry struct {
	User      string `json:"user,omitempty"`
	Timestamp string `json:"ts"`
	ThreadTS  string `json:"thread_ts,omitempty"`
	Text      string `json:"text"`
	Replies   int    `json:"replies,omitempty"`
}

func (ts *toolset) history(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := tools.Decode[historyArgs](raw)
	if err != nil {
		return "", err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}
	resp, err := ts.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: args.Channel,
		Limit:     limit,
	})
	if err != nil {
		return "", fmt.Errorf("channel history: %w", err)
	}
	out := make([]historyEntry, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m.SubType != "" && m.SubType != "thread_broadcast" {
			continue
		}
		out = append(out, historyEntry{
			User:      m.User,
			Timestamp: m.Timestamp,
			ThreadTS:  m.ThreadTimestamp,
			Text:      m.Text,
			Replies:   m.ReplyCount,
		})
	}
	if len(out) == 0 {
		return "No messages in this channel.", nil
	}
	return tools.Render(out)
}

type channelEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Topic    string `json:"topic,omitempty"`
	Members  int    `json:"members"`
	IsMember bool   `json:"is_member"`
}

func (ts *toolset) listChannels(ctx context.Context, _ json.RawMessage) (string, error) {
	var out []channelEntry
	cursor := ""
	for {
		chans, next, err := ts.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: true,
			Limit:           200,
			Types:           []string{"public_channel"},
		})
		if err != nil {
			return "", fmt.Errorf("list channels: %w", err)
		}
		for _, c := range chans {
			out = append(out, channelEntry{
				ID:       c.ID,
				Name:     c.Name,
				Topic:    c.Topic.Value,
				Members:  c.NumMembers,
				IsMember: c.IsMember,
			})
		}
		if next == "" || len(out) >= maxChannels {
			break
		}
		cursor = next
	}
	if len(out) > maxChannels {
		out = out[:maxChannels]
	}
	return tools.Render(out)
}

func (ts *toolset) userInfo(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := tools.Decode[userArgs](raw)
	if err != nil {
		return "", err
	}
	u, err := ts.api.GetUserInfoContext(ctx, args.UserID)
	if err != nil {
		return "", fmt.Errorf("user info: %w", err)
	}
	return tools.Render(map[string]any{
		"id":           u.ID,
		"name":         u.Name,
		"real_name":    u.RealName,
		"display_name": u.Profile.DisplayName,
		"title":        u.Profile.Title,
		"email":        u.Profile.Email,
		"timezone":     u.TZ,
		"is_bot":       u.IsBot,
	})
}

func (ts *toolset) react(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := tools.Decode[reactionArgs](raw)
	if err != nil {
		return "", err
	}
	name := strings.Trim(args.Emoji, ":")
	if err := ts.api.AddReactionContext(ctx, name, slack.NewRefToMessage(args.Channel, args.Timestamp)); err != nil {
		return "", fmt.Errorf("add reaction: %w", err)
	}
	return fmt.Sprintf("Added :%s:.", name), nil
}
