package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/devanshuguptaa/Converge-AI/internal/agent"
	"github.com/devanshuguptaa/Converge-AI/internal/agent/toolconv"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

const defaultGoogleModel = "gemini-2.0-flash"

// GoogleConfig configures the Gemini adapter.
type GoogleConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// GoogleProvider implements agent.ReasoningEngine over Gemini GenerateContent.
type GoogleProvider struct {
	client *genai.Client
	model  string
}

// NewGoogleProvider creates a Gemini adapter.
func NewGoogleProvider(ctx context.Context, cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGoogleModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{client: client, model: cfg.Model}, nil
}

// Name returns "google".
func (p *GoogleProvider) Name() string { return "google" }

// Generate runs one reasoning step.
func (p *GoogleProvider) Generate(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, p.convertRequest(req), p.buildConfig(req))
	if err != nil {
		return nil, p.wrapError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &agent.EngineError{Provider: p.Name(), Transient: true, Cause: errEmptyResponse}
	}

	out := &agent.Response{Kind: agent.ResponseAnswer}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	var text strings.Builder
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
			if fc := part.FunctionCall; fc != nil {
				id := fc.ID
				if id == "" {
					id = "call_" + uuid.NewString()
				}
				out.ToolCalls = append(out.ToolCalls, models.ToolCall{
					ID:        id,
					Name:      fc.Name,
					Arguments: encodeArguments(fc.Args),
				})
			}
		}
	}
	out.Text = text.String()
	if len(out.ToolCalls) > 0 {
		out.Kind = agent.ResponseToolCalls
	} else if out.Text == "" && candidate.FinishReason == genai.FinishReasonSafety {
		return nil, &agent.EngineError{Provider: p.Name(), Cause: errors.New("response blocked by safety filter")}
	}
	return out, nil
}

func (p *GoogleProvider) convertRequest(req *agent.Request) []*genai.Content {
	var result []*genai.Content
	for _, msg := range req.History {
		if msg.Content == "" {
			continue
		}
		role := genai.RoleUser
		if msg.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		result = append(result, &genai.Content{Role: role, Parts: []*genai.Part{{Text: msg.Content}}})
	}
	result = append(result, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: req.Input}}})

	for _, step := range req.Steps {
		names := make(map[string]string, len(step.Calls))
		model := &genai.Content{Role: genai.RoleModel}
		if step.Text != "" {
			model.Parts = append(model.Parts, &genai.Part{Text: step.Text})
		}
		for _, call := range step.Calls {
			names[call.ID] = call.Name
			model.Parts = append(model.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: decodeArguments(call.Arguments),
				},
			})
		}
		result = append(result, model)

		// Function responses come from the user side.
		responses := &genai.Content{Role: genai.RoleUser}
		for _, res := range step.Results {
			responses.Parts = append(responses.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       res.CallID,
					Name:     names[res.CallID],
					Response: toolResultPayload(res.Observation(), res.Success),
				},
			})
		}
		if len(responses.Parts) > 0 {
			result = append(result, responses)
		}
	}
	return result
}

func (p *GoogleProvider) buildConfig(req *agent.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	limit := min(maxTokens(req), math.MaxInt32)
	// #nosec G115 -- bounded by min above
	config.MaxOutputTokens = int32(limit)
	config.Tools = toolconv.ToGeminiTools(req.Tools)
	return config
}

func (p *GoogleProvider) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return newEngineError(p.Name(), apiErr.Code, apiErr.Status, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return newEngineError(p.Name(), apiErrPtr.Code, apiErrPtr.Status, err)
	}

	// Fall back to the message for transport-level failures.
	status := 0
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "401") || strings.Contains(errMsg, "unauthenticated"):
		status = http.StatusUnauthorized
	case strings.Contains(errMsg, "403") || strings.Contains(errMsg, "permission denied"):
		status = http.StatusForbidden
	case strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted"):
		status = http.StatusTooManyRequests
	case strings.Contains(errMsg, "500"):
		status = http.StatusInternalServerError
	case strings.Contains(errMsg, "503"):
		status = http.StatusServiceUnavailable
	}
	return newEngineError(p.Name(), status, "", err)
}
