// Package mail exposes mailbox tools to the agent.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/devanshuguptaa/Converge-AI/internal/tools"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

const (
	defaultListLimit = 5
	maxListLimit     = 25
	maxBatch         = 20

	// threadBodyLimit truncates each thread message body in observations.
	threadBodyLimit = 500
)

// Summary is a message header view.
type Summary struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
	Snippet  string `json:"snippet,omitempty"`
}

// Message is a full message.
type Message struct {
	Summary
	Body string `json:"body"`
}

// Thread is a conversation of messages.
type Thread struct {
	ID       string    `json:"thread_id"`
	Messages []Message `json:"messages"`
}

// Outgoing is a message to send or save as a draft.
type Outgoing struct {
	To      string
	Subject string
	Body    string
}

// Draft is a saved draft.
type Draft struct {
	ID        string `json:"draft_id"`
	MessageID string `json:"message_id,omitempty"`
}

// Mailbox is the mail integration behind the tools.
type Mailbox interface {
	List(ctx context.Context, query string, limit int) ([]Summary, error)
	Get(ctx context.Context, id string) (*Message, error)
	Thread(ctx context.Context, id string) (*Thread, error)
	Send(ctx context.Context, msg Outgoing) (string, error)
	CreateDraft(ctx context.Context, msg Outgoing) (*Draft, error)
}

type listArgs struct {
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=25" jsonschema_description:"Number of emails to list (default 5)"`
	Query string `json:"query,omitempty" jsonschema_description:"Optional Gmail search query, e.g. from:alice is:unread"`
}

type detailArgs struct {
	MessageID string `json:"message_id" jsonschema:"minLength=1" jsonschema_description:"The ID of the email message"`
}

type batchArgs struct {
	MessageIDs []string `json:"message_ids" jsonschema:"minItems=1,maxItems=20" jsonschema_description:"List of email IDs to fetch"`
}

type threadArgs struct {
	ThreadID string `json:"thread_id" jsonschema:"minLength=1" jsonschema_description:"The ID of the email thread"`
}

type composeArgs struct {
	To      string `json:"to" jsonschema:"minLength=3" jsonschema_description:"Recipient email address"`
	Subject string `json:"subject" jsonschema_description:"Email subject"`
	Body    string `json:"body" jsonschema_description:"Email body content"`
}

// Register adds the mail tools to reg.
func Register(reg *tools.Registry, box Mailbox) error {
	if box == nil {
		return errors.New("mail: mailbox is required")
	}
	descs := []*tools.Descriptor{
		{
			Name:        "list_recent_emails",
			Description: "Lists recent emails from the inbox with subject, sender, date and snippet.",
			Parameters:  tools.SchemaFor[listArgs](),
			Scopes:      []models.Scope{models.ScopeMailRead},
			Invoker:     tools.InvokerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) { return listRecent(ctx, box, raw) }),
		},
		{
			Name:        "get_email_details",
			Description: "Gets the full details of a specific email.",
			Parameters:  tools.SchemaFor[detailArgs](),
			Scopes:      []models.Scope{models.ScopeMailRead},
			Invoker:     tools.InvokerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) { return details(ctx, box, raw) }),
		},
		{
			Name:        "get_multiple_email_details",
			Description: "Gets details for multiple emails at once. Efficient for summaries.",
			Parameters:  tools.SchemaFor[batchArgs](),
			Scopes:      []models.Scope{models.ScopeMailRead},
			Invoker:     tools.InvokerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) { return batchDetails(ctx, box, raw) }),
		},
		{
			Name:        "summarize_email_thread",
			Description: "Fetches an email thread so it can be summarized. Returns the messages in order.",
			Parameters:  tools.SchemaFor[threadArgs](),
			Scopes:      []models.Scope{models.ScopeMailRead},
			Invoker:     tools.InvokerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) { return thread(ctx, box, raw) }),
		},
		{
			Name:        "send_email",
			Description: "Sends an email to a recipient.",
			Parameters:  tools.SchemaFor[composeArgs](),
			Scopes:      []models.Scope{models.ScopeMailSend},
			Invoker:     tools.InvokerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) { return send(ctx, box, raw) }),
		},
		{
			Name:        "create_draft",
			Description: "Creates a draft email without sending it.",
			Parameters:  tools.SchemaFor[composeArgs](),
			Scopes:      []models.Scope{models.ScopeMailSend},
			Invoker:     tools.InvokerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) { return draft(ctx, box, raw) }),
		},
	}
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func listRecent(ctx context.Context, box Mailbox, raw json.RawMessage) (string, error) {
	args, err := tools.Decode[listArgs](raw)
	if err != nil {
		return "", err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	msgs, err := box.List(ctx, strings.TrimSpace(args.Query), limit)
	if err != nil {
		return "", fmt.Errorf("list emails: %w", err)
	}
	if len(msgs) == 0 {
		return "No emails found.", nil
	}
	return tools.Render(msgs)
}

func details(ctx context.Context, box Mailbox, raw json.RawMessage) (string, error) {
	args, err := tools.Decode[detailArgs](raw)
	if err != nil {
		return "", err
	}
	msg, err := box.Get(ctx, args.MessageID)
	if err != nil {
		return "", fmt.Errorf("get email %s: %w", args.MessageID, err)
	}
	return tools.Render(msg)
}

// batchDetails fetches each id in order. Individual failures are reported
// inline so one bad id does not hide the rest.
func batchDetails(ctx context.Context, box Mailbox, raw json.RawMessage) (string, error) {
	args, err := tools.Decode[batchArgs](raw)
	if err != nil {
		return "", err
	}
	if len(args.MessageIDs) > maxBatch {
		return "", fmt.Errorf("%w: at most %d message ids", tools.ErrInvalidArguments, maxBatch)
	}
	type entry struct {
		*Message
		ID    string `json:"id,omitempty"`
		Error string `json:"error,omitempty"`
	}
	out := make([]entry, 0, len(args.MessageIDs))
	for _, id := range args.MessageIDs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		msg, err := box.Get(ctx, id)
		if err != nil {
			out = append(out, entry{ID: id, Error: err.Error()})
			continue
		}
		out = append(out, entry{Message: msg, ID: msg.ID})
	}
	return tools.Render(out)
}

func thread(ctx context.Context, box Mailbox, raw json.RawMessage) (string, error) {
	args, err := tools.Decode[threadArgs](raw)
	if err != nil {
		return "", err
	}
	th, err := box.Thread(ctx, args.ThreadID)
	if err != nil {
		return "", fmt.Errorf("get thread %s: %w", args.ThreadID, err)
	}
	for i := range th.Messages {
		th.Messages[i].Body = truncate(th.Messages[i].Body, threadBodyLimit)
	}
	return tools.Render(struct {
		ThreadID     string    `json:"thread_id"`
		MessageCount int       `json:"message_count"`
		Messages     []Message `json:"messages"`
	}{th.ID, len(th.Messages), th.Messages})
}

func send(ctx context.Context, box Mailbox, raw json.RawMessage) (string, error) {
	msg, err := compose(raw)
	if err != nil {
		return "", err
	}
	id, err := box.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	return fmt.Sprintf("Email sent to %s (message id %s).", msg.To, id), nil
}

func draft(ctx context.Context, box Mailbox, raw json.RawMessage) (string, error) {
	msg, err := compose(raw)
	if err != nil {
		return "", err
	}
	d, err := box.CreateDraft(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("create draft: %w", err)
	}
	return fmt.Sprintf("Draft created for %s (draft id %s).", msg.To, d.ID), nil
}

func compose(raw json.RawMessage) (Outgoing, error) {
	args, err := tools.Decode[composeArgs](raw)
	if err != nil {
		return Outgoing{}, err
	}
	addrs, err := netmail.ParseAddressList(args.To)
	if err != nil || len(addrs) == 0 {
		return Outgoing{}, fmt.Errorf("%w: invalid recipient %q", tools.ErrInvalidArguments, args.To)
	}
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.Address
		if a.Name != "" {
			parts[i] = a.String()
		}
	}
	return Outgoing{To: strings.Join(parts, ", "), Subject: args.Subject, Body: args.Body}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
