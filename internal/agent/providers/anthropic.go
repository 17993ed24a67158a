package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/devanshuguptaa/Converge-AI/internal/agent"
	"github.com/devanshuguptaa/Converge-AI/internal/agent/toolconv"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures the Anthropic Messages API adapter.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// HTTPClient overrides the SDK's client; tests point it at httptest.
	HTTPClient *http.Client
}

// AnthropicProvider implements agent.ReasoningEngine over the Messages API.
// SDK retries are disabled; the agent loop owns retry policy.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates an Anthropic adapter.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(options...),
		model:  cfg.Model,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Generate runs one reasoning step.
func (p *AnthropicProvider) Generate(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	tools, err := toolconv.ToAnthropicTools(req.Tools)
	if err != nil {
		return nil, &agent.EngineError{Provider: p.Name(), Cause: err}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens(req)),
		Messages:  p.convertRequest(req),
		Tools:     tools,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}
	return p.parseMessage(msg)
}

// convertRequest lays out history, the new input, then one assistant/user
// pair per completed tool step.
func (p *AnthropicProvider) convertRequest(req *agent.Request) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, msg := range req.History {
		if msg.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input)))

	for _, step := range req.Steps {
		var calls []anthropic.ContentBlockParamUnion
		if step.Text != "" {
			calls = append(calls, anthropic.NewTextBlock(step.Text))
		}
		for _, call := range step.Calls {
			calls = append(calls, anthropic.NewToolUseBlock(call.ID, decodeArguments(call.Arguments), call.Name))
		}
		result = append(result, anthropic.NewAssistantMessage(calls...))

		results := make([]anthropic.ContentBlockParamUnion, 0, len(step.Results))
		for _, res := range step.Results {
			results = append(results, anthropic.NewToolResultBlock(res.CallID, res.Observation(), !res.Success))
		}
		result = append(result, anthropic.NewUserMessage(results...))
	}
	return result
}

func (p *AnthropicProvider) parseMessage(msg *anthropic.Message) (*agent.Response, error) {
	if msg == nil {
		return nil, &agent.EngineError{Provider: p.Name(), Transient: true, Cause: errEmptyResponse}
	}

	var text strings.Builder
	var calls []models.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			calls = append(calls, models.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: normalizeArguments(block.Input),
			})
		}
	}

	resp := &agent.Response{
		Kind:         agent.ResponseAnswer,
		Text:         text.String(),
		ToolCalls:    calls,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	if len(calls) > 0 {
		resp.Kind = agent.ResponseToolCalls
	}
	return resp, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) wrapError(err error) error {
	var ee *agent.EngineError
	if errors.As(err, &ee) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		code := ""
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				code = payload.Error.Type
			}
		}
		return newEngineError(p.Name(), apiErr.StatusCode, code, err)
	}
	return newEngineError(p.Name(), 0, "", err)
}
