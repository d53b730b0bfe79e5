package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider embeds through any OpenAI-compatible /embeddings endpoint.
type OpenAIProvider struct {
	client openai.Client
	model  string

	mu  sync.Mutex
	dim dimensionCache
}

// NewOpenAIProvider creates a provider from cfg. Endpoint overrides the
// base URL.
func NewOpenAIProvider(cfg Config, opts ...option.RequestOption) *OpenAIProvider {
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		base = append(base, option.WithBaseURL(cfg.Endpoint))
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAIProvider{
		client: openai.NewClient(append(base, opts...)...),
		model:  model,
		dim:    dimensionCache{configured: cfg.Dimension},
	}
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(p.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vectors) {
			return nil, fmt.Errorf("embedding: index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		vectors[d.Index] = vec
	}

	p.mu.Lock()
	p.dim.observe(vectors)
	p.mu.Unlock()
	return vectors, nil
}

func (p *OpenAIProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim.Dimension()
}
