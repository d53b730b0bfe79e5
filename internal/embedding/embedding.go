// Package embedding turns memory text into vectors for semantic recall.
package embedding

import (
	"context"
	"fmt"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "openai" or "ollama"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New builds the provider named by cfg.Provider. "api" and "local" are
// accepted as aliases for openai and ollama.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai", "api":
		return NewOpenAIProvider(cfg), nil
	case "ollama", "local":
		return NewOllamaProvider(cfg)
	case "":
		return nil, fmt.Errorf("embedding: no provider configured")
	}
	return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
}

// dimensionCache remembers the vector width reported by the first
// successful call, falling back to the configured value.
type dimensionCache struct {
	configured int
	observed   int
}

func (d *dimensionCache) observe(vectors [][]float32) {
	if d.observed == 0 && len(vectors) > 0 && len(vectors[0]) > 0 {
		d.observed = len(vectors[0])
	}
}

func (d *dimensionCache) Dimension() int {
	if d.observed > 0 {
		return d.observed
	}
	return d.configured
}
