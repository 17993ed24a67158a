package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// DefaultSystemPrompt is used when the configuration sets none.
const DefaultSystemPrompt = `You are Converge, an assistant that lives inside this Slack workspace.

You can search the workspace's message history, remember what users tell you
across conversations, read and send email, manage calendar events, post
messages and reactions, and schedule reminders. Only the tools offered to you
in this conversation are available to the current user.

Guidelines:
- Prefer doing over describing. When a tool can answer the question, use it.
- Ask before sending email or posting to a channel on someone's behalf unless
  they clearly asked you to.
- When a tool reports permission-denied, tell the user which access is missing
  instead of retrying.
- Keep replies short and formatted for Slack (mrkdwn, bullet lists).
- Never invent message history, email contents, or calendar events.`

// BuildSystemPrompt appends the grounding bundle to the base prompt.
func BuildSystemPrompt(base string, bundle *models.ContextBundle, now time.Time) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultSystemPrompt
	}
	var b strings.Builder
	b.WriteString(base)
	fmt.Fprintf(&b, "\n\nCurrent time: %s", now.Format(time.RFC1123))

	if bundle == nil {
		return b.String()
	}
	if len(bundle.Facts) > 0 {
		b.WriteString("\n\n## What you remember about this user\n")
		for i, f := range bundle.Facts {
			fmt.Fprintf(&b, "%d. %s", i+1, f.Text)
			if f.ID != "" {
				fmt.Fprintf(&b, " (memory id %s)", f.ID)
			}
			b.WriteString("\n")
		}
	}
	if len(bundle.Passages) > 0 {
		b.WriteString("\n## Relevant workspace messages\n")
		for _, p := range bundle.Passages {
			if p.Source != "" {
				fmt.Fprintf(&b, "- [%s] %s\n", p.Source, p.Text)
			} else {
				fmt.Fprintf(&b, "- %s\n", p.Text)
			}
		}
	}
	if len(bundle.Degraded) > 0 {
		fmt.Fprintf(&b, "\nNote: %s unavailable for this message; answer from what you have.\n",
			strings.Join(bundle.Degraded, " and "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// HistoryMessages flattens prior turns into alternating user and assistant
// messages.
func HistoryMessages(history []*models.Turn) []Message {
	out := make([]Message, 0, len(history)*2)
	for _, t := range history {
		if t == nil {
			continue
		}
		out = append(out, Message{Role: models.RoleUser, Content: t.Input})
		if t.Answer != "" {
			out = append(out, Message{Role: models.RoleAssistant, Content: t.Answer})
		}
	}
	return out
}
