// Package toolconv translates tool specs into each model SDK's tool format.
package toolconv

import "encoding/json"

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

func schemaOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return emptyObjectSchema
	}
	return raw
}

// schemaMap decodes a JSON Schema into a generic map. Malformed schemas fall
// back to an empty object schema.
func schemaMap(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(schemaOrEmpty(raw), &m); err != nil || m == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return m
}
