package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

type fakeConverse struct {
	input  *bedrockruntime.ConverseInput
	output *bedrockruntime.ConverseOutput
	err    error
}

func (f *fakeConverse) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.output, f.err
}

func TestBedrockGenerateToolUse(t *testing.T) {
	fake := &fakeConverse{output: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role: types.ConversationRoleAssistant,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: "Checking."},
				&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String("tu_1"),
					Name:      aws.String("list_recent_emails"),
					Input:     document.NewLazyDocument(map[string]any{"limit": 4}),
				}},
			},
		}},
		Usage: &types.TokenUsage{InputTokens: aws.Int32(11), OutputTokens: aws.Int32(6)},
	}}
	p := &BedrockProvider{client: fake, model: "test-model"}

	resp, err := p.Generate(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "tu_1" {
		t.Fatalf("resp = %+v", resp)
	}
	if string(resp.ToolCalls[0].Arguments) != `{"limit":4}` {
		t.Fatalf("arguments = %s", resp.ToolCalls[0].Arguments)
	}
	if resp.Text != "Checking." || resp.InputTokens != 11 || resp.OutputTokens != 6 {
		t.Fatalf("resp = %+v", resp)
	}

	in := fake.input
	if aws.ToString(in.ModelId) != "test-model" {
		t.Fatalf("model = %q", aws.ToString(in.ModelId))
	}
	if len(in.Messages) != 5 || len(in.System) != 1 {
		t.Fatalf("messages = %d, system = %d", len(in.Messages), len(in.System))
	}
	if in.ToolConfig == nil || len(in.ToolConfig.Tools) != 1 {
		t.Fatalf("tool config = %#v", in.ToolConfig)
	}
	last := in.Messages[4]
	tr, ok := last.Content[0].(*types.ContentBlockMemberToolResult)
	if !ok || aws.ToString(tr.Value.ToolUseId) != "call_1" || tr.Value.Status != types.ToolResultStatusSuccess {
		t.Fatalf("tool result block = %#v", last.Content[0])
	}
}

func TestBedrockErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"throttled", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}, true},
		{"validation", &smithy.GenericAPIError{Code: "ValidationException", Message: "bad input"}, false},
		{"access", &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}, false},
		{"model timeout", &smithy.GenericAPIError{Code: "ModelTimeoutException", Message: "slow"}, true},
		{"transport", errors.New("dial tcp: i/o timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &BedrockProvider{client: &fakeConverse{err: tt.err}, model: "m"}
			_, err := p.Generate(context.Background(), sampleRequest())
			assertEngineError(t, err, "bedrock", tt.transient)
		})
	}
}

func TestBedrockMissingOutputIsTransient(t *testing.T) {
	p := &BedrockProvider{client: &fakeConverse{output: &bedrockruntime.ConverseOutput{}}, model: "m"}
	_, err := p.Generate(context.Background(), sampleRequest())
	assertEngineError(t, err, "bedrock", true)
}
