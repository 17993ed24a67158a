package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"regexp"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/devanshuguptaa/Converge-AI/internal/tools/mail"
)

const me = "me"

var summaryHeaders = []string{"From", "To", "Subject", "Date"}

// Gmail implements mail.Mailbox on the Gmail API.
type Gmail struct {
	svc *gmail.Service
}

var _ mail.Mailbox = (*Gmail)(nil)

// NewGmail creates a Gmail client. Pass option.WithHTTPClient with an
// authorized client.
func NewGmail(ctx context.Context, opts ...option.ClientOption) (*Gmail, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &Gmail{svc: svc}, nil
}

// List returns summaries of the newest messages matching query.
func (g *Gmail) List(ctx context.Context, query string, limit int) ([]mail.Summary, error) {
	call := g.svc.Users.Messages.List(me).MaxResults(int64(limit)).Context(ctx)
	if q := strings.TrimSpace(query); q != "" {
		call = call.Q(q)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]mail.Summary, 0, len(resp.Messages))
	for _, ref := range resp.Messages {
		msg, err := g.svc.Users.Messages.Get(me, ref.Id).
			Format("metadata").
			MetadataHeaders(summaryHeaders...).
			Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("get message %s: %w", ref.Id, err)
		}
		out = append(out, summarize(msg))
	}
	return out, nil
}

// Get returns one message with its plain text body.
func (g *Gmail) Get(ctx context.Context, id string) (*mail.Message, error) {
	msg, err := g.svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return &mail.Message{Summary: summarize(msg), Body: extractBody(msg.Payload)}, nil
}

// Thread returns every message of a thread in order.
func (g *Gmail) Thread(ctx context.Context, id string) (*mail.Thread, error) {
	th, err := g.svc.Users.Threads.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	out := &mail.Thread{ID: th.Id, Messages: make([]mail.Message, 0, len(th.Messages))}
	for _, msg := range th.Messages {
		out.Messages = append(out.Messages, mail.Message{Summary: summarize(msg), Body: extractBody(msg.Payload)})
	}
	return out, nil
}

// Send sends a plain text message and returns its id.
func (g *Gmail) Send(ctx context.Context, m mail.Outgoing) (string, error) {
	sent, err := g.svc.Users.Messages.Send(me, encode(m)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return sent.Id, nil
}

// CreateDraft saves m as a draft.
func (g *Gmail) CreateDraft(ctx context.Context, m mail.Outgoing) (*mail.Draft, error) {
	d, err := g.svc.Users.Drafts.Create(me, &gmail.Draft{Message: encode(m)}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}
	out := &mail.Draft{ID: d.Id}
	if d.Message != nil {
		out.MessageID = d.Message.Id
	}
	return out, nil
}

func summarize(msg *gmail.Message) mail.Summary {
	s := mail.Summary{ID: msg.Id, ThreadID: msg.ThreadId, Snippet: msg.Snippet}
	if msg.Payload == nil {
		return s
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			s.From = h.Value
		case "to":
			s.To = h.Value
		case "subject":
			s.Subject = h.Value
		case "date":
			s.Date = h.Value
		}
	}
	return s
}

// encode renders m as an RFC 822 message in the base64url form the API
// expects.
func encode(m mail.Outgoing) *gmail.Message {
	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	return &gmail.Message{Raw: base64.URLEncoding.EncodeToString(b.Bytes())}
}

var htmlTag = regexp.MustCompile(`(?s)<[^>]*>`)

// extractBody prefers the first text/plain part and falls back to tag
// stripped text/html.
func extractBody(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if text, ok := findPart(part, "text/plain"); ok {
		return strings.TrimSpace(text)
	}
	if html, ok := findPart(part, "text/html"); ok {
		return strings.TrimSpace(htmlTag.ReplaceAllString(html, ""))
	}
	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) (string, bool) {
	if strings.HasPrefix(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		if text, err := decodeData(part.Body.Data); err == nil {
			return text, true
		}
	}
	for _, child := range part.Parts {
		if text, ok := findPart(child, mimeType); ok {
			return text, true
		}
	}
	return "", false
}

func decodeData(data string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(data)
	}
	return string(raw), err
}
