package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/ollama/ollama/api"
)

// OllamaProvider embeds with a local Ollama server.
type OllamaProvider struct {
	client *api.Client
	model  string

	mu  sync.Mutex
	dim dimensionCache
}

// NewOllamaProvider creates a provider from cfg. Endpoint defaults to the
// standard local Ollama address.
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("embedding: parse endpoint %q: %w", endpoint, err)
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaProvider{
		client: api.NewClient(u, http.DefaultClient),
		model:  model,
		dim:    dimensionCache{configured: cfg.Dimension},
	}, nil
}

func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}

	p.mu.Lock()
	p.dim.observe(resp.Embeddings)
	p.mu.Unlock()
	return resp.Embeddings, nil
}

func (p *OllamaProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim.Dimension()
}
