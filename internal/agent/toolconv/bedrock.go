package toolconv

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/devanshuguptaa/Converge-AI/internal/agent"
)

// ToBedrockTools converts tool specs to a Bedrock Converse tool
// configuration. It returns nil for an empty catalog; Converse rejects an
// empty tool list.
func ToBedrockTools(specs []agent.ToolSpec) *types.ToolConfiguration {
	if len(specs) == 0 {
		return nil
	}
	bedrockTools := make([]types.Tool, len(specs))
	for i, spec := range specs {
		bedrockTools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(spec.Name),
				Description: aws.String(spec.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaMap(spec.Parameters))},
			},
		}
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}
