package toolconv

import (
	"github.com/devanshuguptaa/Converge-AI/internal/agent"
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAITools converts tool specs to OpenAI function definitions.
func ToOpenAITools(specs []agent.ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schemaMap(spec.Parameters),
			},
		}
	}
	return result
}
