package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
)

func TestOpenAIProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test-model",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float64{0.4, 0.5, 0.6}},
				{"object": "embedding", "index": 0, "embedding": []float64{0.1, 0.2, 0.3}},
			},
			"usage": map[string]any{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{Endpoint: srv.URL, Model: "test-model", APIKey: "k"}, option.WithMaxRetries(0))
	vectors, err := p.Embed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 || len(vectors[0]) != 3 {
		t.Fatalf("unexpected vectors %v", vectors)
	}
	if vectors[0][0] != float32(0.1) || vectors[1][0] != float32(0.4) {
		t.Errorf("vectors not ordered by index: %v", vectors)
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestOllamaProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		inputs, _ := req["input"].([]any)
		vecs := make([][]float32, len(inputs))
		for i := range vecs {
			vecs[i] = []float32{1, 0, 0, 0}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"model": "nomic-embed-text", "embeddings": vecs})
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	vectors, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 3 || p.Dimension() != 4 {
		t.Errorf("got %d vectors of dimension %d", len(vectors), p.Dimension())
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	p := NewOpenAIProvider(Config{Endpoint: "http://unused", Dimension: 128})
	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
	if d := p.Dimension(); d != 128 {
		t.Errorf("got dimension %d, want configured default 128", d)
	}
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{"openai", "api", "ollama", "local"} {
		if _, err := New(Config{Provider: name}); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if _, err := New(Config{Provider: "word2vec"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing provider")
	}
}
