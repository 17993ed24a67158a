package providers

import (
	"encoding/json"

	"github.com/devanshuguptaa/Converge-AI/internal/agent"
)

const defaultMaxTokens = 4096

func maxTokens(req *agent.Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}

// decodeArguments turns raw call arguments into the map form SDKs expect.
// Malformed or empty arguments become an empty object.
func decodeArguments(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// normalizeArguments makes sure a call always carries a JSON object.
func normalizeArguments(raw []byte) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(append([]byte(nil), raw...))
}

// encodeArguments marshals SDK argument maps back to raw JSON.
func encodeArguments(args map[string]any) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// toolResultPayload is the structured form of a tool result for SDKs that
// want an object rather than text.
func toolResultPayload(content string, success bool) map[string]any {
	if success {
		return map[string]any{"output": content}
	}
	return map[string]any{"error": content}
}
