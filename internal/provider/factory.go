package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Provider types accepted by New.
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeGemini    = "gemini"
	TypeOllama    = "ollama"
)

// New builds a provider from its configuration.
func New(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	switch cfg.Type {
	case TypeOpenAI:
		return NewOpenAIProvider(cfg, logger), nil
	case TypeAnthropic:
		return NewAnthropicProvider(cfg, logger), nil
	case TypeGemini, "google":
		return NewGeminiProvider(ctx, cfg, logger)
	case TypeOllama:
		return NewOllamaProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
