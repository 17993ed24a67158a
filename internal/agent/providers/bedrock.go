package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/devanshuguptaa/Converge-AI/internal/agent"
	"github.com/devanshuguptaa/Converge-AI/internal/agent/toolconv"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

const defaultBedrockModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

// BedrockConfig configures the Bedrock Converse adapter. Without explicit
// keys the default AWS credential chain is used.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Model           string
}

// converseAPI is the slice of the bedrockruntime client the adapter uses.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider implements agent.ReasoningEngine over the Converse API.
type BedrockProvider struct {
	client converseAPI
	model  string
}

// NewBedrockProvider loads AWS configuration and creates a Bedrock adapter.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Model == "" {
		cfg.Model = defaultBedrockModel
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		// Retries belong to the agent loop.
		config.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  cfg.Model,
	}, nil
}

// Name returns "bedrock".
func (p *BedrockProvider) Name() string { return "bedrock" }

// Generate runs one reasoning step.
func (p *BedrockProvider) Generate(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	limit := min(maxTokens(req), math.MaxInt32)
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.model),
		Messages: p.convertRequest(req),
		InferenceConfig: &types.InferenceConfiguration{
			// #nosec G115 -- bounded by min above
			MaxTokens: aws.Int32(int32(limit)),
		},
		ToolConfig: toolconv.ToBedrockTools(req.Tools),
	}
	if req.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}

	output, err := p.client.Converse(ctx, input)
	if err != nil {
		return nil, p.wrapError(err)
	}
	return p.parseOutput(output)
}

func (p *BedrockProvider) convertRequest(req *agent.Request) []types.Message {
	var result []types.Message
	for _, msg := range req.History {
		if msg.Content == "" {
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
		})
	}
	result = append(result, types.Message{
		Role:    types.ConversationRoleUser,
		Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Input}},
	})

	for _, step := range req.Steps {
		var calls []types.ContentBlock
		if step.Text != "" {
			calls = append(calls, &types.ContentBlockMemberText{Value: step.Text})
		}
		for _, call := range step.Calls {
			calls = append(calls, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(call.ID),
					Name:      aws.String(call.Name),
					Input:     document.NewLazyDocument(decodeArguments(call.Arguments)),
				},
			})
		}
		result = append(result, types.Message{Role: types.ConversationRoleAssistant, Content: calls})

		var results []types.ContentBlock
		for _, res := range step.Results {
			status := types.ToolResultStatusSuccess
			if !res.Success {
				status = types.ToolResultStatusError
			}
			results = append(results, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(res.CallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: res.Observation()},
					},
					Status: status,
				},
			})
		}
		if len(results) > 0 {
			result = append(result, types.Message{Role: types.ConversationRoleUser, Content: results})
		}
	}
	return result
}

func (p *BedrockProvider) parseOutput(output *bedrockruntime.ConverseOutput) (*agent.Response, error) {
	if output == nil {
		return nil, &agent.EngineError{Provider: p.Name(), Transient: true, Cause: errEmptyResponse}
	}
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, &agent.EngineError{Provider: p.Name(), Transient: true, Cause: errEmptyResponse}
	}

	out := &agent.Response{Kind: agent.ResponseAnswer}
	if output.Usage != nil {
		out.InputTokens = int(aws.ToInt32(output.Usage.InputTokens))
		out.OutputTokens = int(aws.ToInt32(output.Usage.OutputTokens))
	}

	var text strings.Builder
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			text.WriteString(b.Value)
		case *types.ContentBlockMemberToolUse:
			var raw []byte
			if b.Value.Input != nil {
				if data, err := b.Value.Input.MarshalSmithyDocument(); err == nil {
					raw = data
				}
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:        aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Arguments: normalizeArguments(raw),
			})
		}
	}
	out.Text = text.String()
	if len(out.ToolCalls) > 0 {
		out.Kind = agent.ResponseToolCalls
	}
	return out, nil
}

func (p *BedrockProvider) wrapError(err error) error {
	status := 0
	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(err, &httpErr) {
		status = httpErr.HTTPStatusCode()
	}
	code := ""
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}
	return newEngineError(p.Name(), status, code, err)
}
