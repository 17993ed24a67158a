package toolconv

import (
	"strings"

	"github.com/devanshuguptaa/Converge-AI/internal/agent"
	"google.golang.org/genai"
)

// ToGeminiTools converts tool specs to a single Gemini tool holding one
// function declaration per spec.
func ToGeminiTools(specs []agent.ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  ToGeminiSchema(schemaMap(spec.Parameters)),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// ToGeminiSchema converts a JSON Schema map to Gemini's Schema type. Keywords
// Gemini does not understand are dropped.
func ToGeminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}

	schema := &genai.Schema{}

	switch t := m["type"].(type) {
	case string:
		schema.Type = genai.Type(strings.ToUpper(t))
	case []any:
		// ["string","null"] style unions: take the first non-null type.
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				schema.Type = genai.Type(strings.ToUpper(s))
				break
			}
		}
	}

	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	if format, ok := m["format"].(string); ok && schema.Type == genai.TypeString {
		switch format {
		case "date-time", "enum":
			schema.Format = format
		}
	}

	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}

	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = ToGeminiSchema(propMap)
			}
		}
	}

	if required, ok := m["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	if items, ok := m["items"].(map[string]any); ok {
		schema.Items = ToGeminiSchema(items)
	}

	return schema
}
