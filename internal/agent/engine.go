package agent

import (
	"context"
	"encoding/json"

	"github.com/devanshuguptaa/Converge-AI/internal/tools"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// ReasoningEngine is the language model behind the loop. Implementations
// must be safe for concurrent use and should report failures as
// *EngineError so the loop can tell transient from permanent errors.
type ReasoningEngine interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// ToolSpec is the model-facing description of one tool.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolSpecs converts registry descriptors into specs.
func ToolSpecs(catalog []*tools.Descriptor) []ToolSpec {
	specs := make([]ToolSpec, len(catalog))
	for i, d := range catalog {
		specs[i] = ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return specs
}

// Message is one line of prior dialogue.
type Message struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// Step is one completed tool round of the current turn: the assistant text
// that accompanied the calls, the calls, and their index-aligned results.
type Step struct {
	Text    string              `json:"text,omitempty"`
	Calls   []models.ToolCall   `json:"calls"`
	Results []models.ToolResult `json:"results"`
}

// Request is everything the engine sees for one reasoning step.
type Request struct {
	SystemPrompt string     `json:"system_prompt"`
	Tools        []ToolSpec `json:"tools,omitempty"`
	History      []Message  `json:"history,omitempty"`
	Input        string     `json:"input"`
	Steps        []Step     `json:"steps,omitempty"`
	MaxTokens    int        `json:"max_tokens,omitempty"`
}

// ResponseKind tags the variant held by a Response.
type ResponseKind int

const (
	// ResponseAnswer carries the final reply text.
	ResponseAnswer ResponseKind = iota
	// ResponseToolCalls asks for tools to run before reasoning again.
	ResponseToolCalls
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseAnswer:
		return "answer"
	case ResponseToolCalls:
		return "tool_calls"
	default:
		return "unknown"
	}
}

// Response is the engine's output for one step.
type Response struct {
	Kind ResponseKind

	// Text is the answer, or commentary accompanying tool calls.
	Text string

	ToolCalls []models.ToolCall

	InputTokens  int
	OutputTokens int
}

// Answer builds an answer response.
func Answer(text string) *Response {
	return &Response{Kind: ResponseAnswer, Text: text}
}

// CallTools builds a tool-call response.
func CallTools(calls ...models.ToolCall) *Response {
	return &Response{Kind: ResponseToolCalls, ToolCalls: calls}
}
