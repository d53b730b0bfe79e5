package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// OllamaProvider implements Provider for a local Ollama server.
type OllamaProvider struct {
	config ProviderConfig
	client *api.Client
	logger *zap.Logger
}

// NewOllamaProvider creates an Ollama provider. Endpoint defaults to the
// standard local address.
func NewOllamaProvider(cfg ProviderConfig, logger *zap.Logger) (*OllamaProvider, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ollama endpoint: %w", err)
	}
	return &OllamaProvider{
		config: cfg,
		client: api.NewClient(base, &http.Client{Timeout: cfg.timeout()}),
		logger: logger,
	}, nil
}

func (p *OllamaProvider) ID() string   { return p.config.ID }
func (p *OllamaProvider) Name() string { return p.config.Name }

// Chat sends a non-streaming chat request.
func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	messages := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, api.Message{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := false
	model := p.config.model(req)
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": p.config.maxTokens(req),
		},
	}

	var content strings.Builder
	var finish string
	err := p.client.Chat(ctx, chatReq, func(chunk api.ChatResponse) error {
		content.WriteString(chunk.Message.Content)
		if chunk.Done {
			finish = chunk.DoneReason
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	return &ChatResponse{
		Model:        model,
		Content:      content.String(),
		FinishReason: finish,
	}, nil
}

// HealthCheck pings the Ollama server.
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama health check: %w", err)
	}
	return nil
}
