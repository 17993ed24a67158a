// Package providers adapts hosted language models to agent.ReasoningEngine.
//
// Every adapter is a single non-streaming request per reasoning step. SDK
// level retries are turned off where the SDK allows it; failures come back
// as *agent.EngineError with Transient set from the HTTP status, the
// provider's error code, and finally the error text.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/devanshuguptaa/Converge-AI/internal/agent"
)

// Config selects and configures one reasoning engine.
type Config struct {
	// Provider is anthropic, openai, google or bedrock.
	Provider string
	Model    string
	APIKey   string
	BaseURL  string

	// Bedrock only.
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	HTTPClient *http.Client
}

// Names lists the supported providers.
var Names = []string{"anthropic", "openai", "google", "bedrock"}

// New builds the engine named by cfg.Provider.
func New(ctx context.Context, cfg Config) (agent.ReasoningEngine, error) {
	engine, err := build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func build(ctx context.Context, cfg Config) (agent.ReasoningEngine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic", "claude":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			HTTPClient: cfg.HTTPClient,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			HTTPClient: cfg.HTTPClient,
		})
	case "google", "gemini":
		return NewGoogleProvider(ctx, GoogleConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			HTTPClient: cfg.HTTPClient,
		})
	case "bedrock":
		return NewBedrockProvider(ctx, BedrockConfig{
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			SessionToken:    cfg.SessionToken,
			Model:           cfg.Model,
		})
	case "":
		return nil, fmt.Errorf("providers: provider is required (one of %s)", strings.Join(Names, ", "))
	default:
		return nil, fmt.Errorf("providers: unknown provider %q (one of %s)", cfg.Provider, strings.Join(Names, ", "))
	}
}
