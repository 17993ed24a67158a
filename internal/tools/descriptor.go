package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// Invoker is the single contract every integration implements. The returned
// string is the observation handed back to the reasoning engine.
type Invoker interface {
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return f(ctx, args)
}

// Descriptor declares a tool: its name, argument schema, the scopes a caller
// must hold, and the integration bound to it.
type Descriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Scopes      []models.Scope

	// Timeout overrides the executor default when positive.
	Timeout time.Duration

	Invoker Invoker

	compiled *jsonschema.Schema
}

func (d *Descriptor) compile() error {
	params := d.Parameters
	if len(bytes.TrimSpace(params)) == 0 {
		params = EmptySchema
		d.Parameters = params
	}
	schema, err := jsonschema.CompileString(d.Name+".schema.json", string(params))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", d.Name, err)
	}
	d.compiled = schema
	return nil
}

// ValidateArgs checks args against the parameter schema. Empty args are
// treated as an empty object.
func (d *Descriptor) ValidateArgs(args json.RawMessage) error {
	if d.compiled == nil {
		return nil
	}
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := d.compiled.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// Decode unmarshals args into T, treating empty input as an empty object.
func Decode[T any](args json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(args)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(args, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return out, nil
}

// Render marshals v as indented JSON for use as an observation.
func Render(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
