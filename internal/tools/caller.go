package tools

import (
	"context"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// Caller identifies who a tool invocation acts on behalf of. It is attached
// by the agent loop, never supplied by the model.
type Caller struct {
	UserID  string
	Session models.SessionKey
}

type callerKey struct{}

// WithCaller attaches the caller to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached to ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
