package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/devanshuguptaa/Converge-AI/internal/agent"
	"github.com/devanshuguptaa/Converge-AI/internal/agent/toolconv"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIConfig configures the chat completions adapter. BaseURL lets it
// target any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OpenAIProvider implements agent.ReasoningEngine over chat completions.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI adapter.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

// Generate runs one reasoning step.
func (p *OpenAIProvider) Generate(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  p.convertRequest(req),
		MaxTokens: maxTokens(req),
		Tools:     toolconv.ToOpenAITools(req.Tools),
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &agent.EngineError{Provider: p.Name(), Transient: true, Cause: errEmptyResponse}
	}

	choice := resp.Choices[0].Message
	out := &agent.Response{
		Kind:         agent.ResponseAnswer,
		Text:         choice.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: normalizeArguments([]byte(tc.Function.Arguments)),
		})
	}
	if len(out.ToolCalls) > 0 {
		out.Kind = agent.ResponseToolCalls
	}
	return out, nil
}

func (p *OpenAIProvider) convertRequest(req *agent.Request) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(req.History)+2+len(req.Steps)*2)
	if req.SystemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, msg := range req.History {
		if msg.Content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		result = append(result, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Input})

	for _, step := range req.Steps {
		assistant := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: step.Text,
		}
		for _, call := range step.Calls {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(normalizeArguments(call.Arguments)),
				},
			})
		}
		result = append(result, assistant)

		for _, res := range step.Results {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    res.Observation(),
				ToolCallID: res.CallID,
			})
		}
	}
	return result
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return newEngineError(p.Name(), apiErr.HTTPStatusCode, openAIErrorCode(apiErr), err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return newEngineError(p.Name(), reqErr.HTTPStatusCode, "", err)
	}
	return newEngineError(p.Name(), 0, "", err)
}

// openAIErrorCode prefers the code field, falling back to the error type.
// Code may be a string or a number depending on the backend.
func openAIErrorCode(apiErr *openai.APIError) string {
	switch code := apiErr.Code.(type) {
	case string:
		if code != "" {
			return code
		}
	case nil:
	default:
		if s := fmt.Sprint(code); s != "" && s != "0" {
			return s
		}
	}
	return apiErr.Type
}
