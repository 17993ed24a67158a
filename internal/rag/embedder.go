// Package rag indexes workspace messages and retrieves the passages most
// similar to a query.
package rag

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Embedder turns texts into vectors. Implementations return one vector per
// input, in input order.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderConfig selects and configures an embedding provider.
type EmbedderConfig struct {
	// Provider is "openai" or "gemini".
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// NewEmbedder builds the configured embedder.
func NewEmbedder(ctx context.Context, cfg EmbedderConfig) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "":
		e, err := NewOpenAIEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "gemini", "google":
		e, err := NewGeminiEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Provider)
	}
}

// embedOne embeds a single text.
func embedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%s: expected 1 embedding, got %d", e.Name(), len(vecs))
	}
	return vecs[0], nil
}
