package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a JSON Schema for the argument struct T. Fields without
// omitempty are required; descriptions come from jsonschema_description tags.
func SchemaFor[T any]() json.RawMessage {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	var zero T
	schema := r.Reflect(&zero)
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: reflect schema: %v", err))
	}

	// Providers reject the meta keys, so strip them.
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("tools: decode schema: %v", err))
	}
	delete(m, "$schema")
	delete(m, "$id")
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	out, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("tools: encode schema: %v", err))
	}
	return out
}

// EmptySchema is the schema for tools that take no arguments.
var EmptySchema = json.RawMessage(`{"type":"object","properties":{}}`)
