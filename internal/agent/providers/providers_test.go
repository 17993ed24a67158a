package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/devanshuguptaa/Converge-AI/internal/agent"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// sampleRequest is a second reasoning step: one prior history exchange and
// one completed tool round.
func sampleRequest() *agent.Request {
	return &agent.Request{
		SystemPrompt: "You are Converge.",
		Tools: []agent.ToolSpec{{
			Name:        "list_recent_emails",
			Description: "List emails",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer"}}}`),
		}},
		History: []agent.Message{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
		},
		Input: "check my mail",
		Steps: []agent.Step{{
			Text:  "Looking.",
			Calls: []models.ToolCall{{ID: "call_1", Name: "list_recent_emails", Arguments: json.RawMessage(`{"limit":3}`)}},
			Results: []models.ToolResult{
				{CallID: "call_1", Success: true, Content: "3 emails"},
			},
		}},
		MaxTokens: 256,
	}
}

func assertEngineError(t *testing.T, err error, provider string, transient bool) {
	t.Helper()
	var ee *agent.EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("error = %T %v, want *agent.EngineError", err, err)
	}
	if ee.Provider != provider {
		t.Fatalf("provider = %q, want %q", ee.Provider, provider)
	}
	if ee.Transient != transient {
		t.Fatalf("transient = %v, want %v (%v)", ee.Transient, transient, err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Provider: "anthropic", APIKey: "k"}, "anthropic"},
		{Config{Provider: "Claude", APIKey: "k"}, "anthropic"},
		{Config{Provider: "openai", APIKey: "k"}, "openai"},
		{Config{Provider: "gemini", APIKey: "k"}, "google"},
	}
	for _, tt := range tests {
		engine, err := New(ctx, tt.cfg)
		if err != nil {
			t.Fatalf("New(%q) error = %v", tt.cfg.Provider, err)
		}
		if engine.Name() != tt.want {
			t.Fatalf("New(%q).Name() = %q, want %q", tt.cfg.Provider, engine.Name(), tt.want)
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []Config{
		{},
		{Provider: "cohere", APIKey: "k"},
		{Provider: "anthropic"},
		{Provider: "openai"},
	} {
		engine, err := New(ctx, cfg)
		if err == nil {
			t.Fatalf("New(%+v) expected error", cfg)
		}
		if engine != nil {
			t.Fatalf("New(%+v) returned non-nil engine with error", cfg)
		}
	}
}

func TestDecodeArguments(t *testing.T) {
	if got := decodeArguments(nil); len(got) != 0 {
		t.Fatalf("decodeArguments(nil) = %v", got)
	}
	if got := decodeArguments(json.RawMessage(`[1,2]`)); len(got) != 0 {
		t.Fatalf("decodeArguments(array) = %v", got)
	}
	if got := decodeArguments(json.RawMessage(`{"a":1}`)); got["a"] != float64(1) {
		t.Fatalf("decodeArguments(object) = %v", got)
	}
	if got := string(normalizeArguments([]byte("null"))); got != "{}" {
		t.Fatalf("normalizeArguments(null) = %s", got)
	}
}
