package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "text-embedding-3-small" {
			t.Errorf("model = %q", req.Model)
		}
		// Return out of order; the embedder must place by index.
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": []float32{float32(i), 1}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(EmbedderConfig{APIKey: "sk-test", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vecs) != 3 || vecs[2][0] != 2 || vecs[0][0] != 0 {
		t.Fatalf("Embed() = %v", vecs)
	}
}

func TestGeminiEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":batchEmbedContents") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.5,0.5]},{"values":[1,0]}]}`))
	}))
	defer server.Close()

	e, err := NewGeminiEmbedder(context.Background(), EmbedderConfig{APIKey: "g-test", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.Embed(context.Background(), []string{"x", "y"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 1 {
		t.Fatalf("Embed() = %v", vecs)
	}
}

func TestNewEmbedder(t *testing.T) {
	if _, err := NewEmbedder(context.Background(), EmbedderConfig{Provider: "openai"}); err == nil {
		t.Fatal("missing key should fail")
	}
	if _, err := NewEmbedder(context.Background(), EmbedderConfig{Provider: "cohere", APIKey: "k"}); err == nil {
		t.Fatal("unknown provider should fail")
	}
	e, err := NewEmbedder(context.Background(), EmbedderConfig{Provider: "gemini", APIKey: "k"})
	if err != nil || e.Name() != "gemini" {
		t.Fatalf("NewEmbedder(gemini) = %v, %v", e, err)
	}
}
