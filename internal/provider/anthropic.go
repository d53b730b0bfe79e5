package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// AnthropicProvider implements Provider for the Anthropic Messages API.
type AnthropicProvider struct {
	config ProviderConfig
	client anthropic.Client
	logger *zap.Logger
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg ProviderConfig, logger *zap.Logger, opts ...option.RequestOption) *AnthropicProvider {
	if cfg.Model == "" {
		cfg.Model = string(anthropic.ModelClaude3_5Sonnet20241022)
	}
	clientOpts := []option.RequestOption{option.WithRequestTimeout(cfg.timeout())}
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.Endpoint))
	}
	clientOpts = append(clientOpts, opts...)
	return &AnthropicProvider{
		config: cfg,
		client: anthropic.NewClient(clientOpts...),
		logger: logger,
	}
}

func (p *AnthropicProvider) ID() string   { return p.config.ID }
func (p *AnthropicProvider) Name() string { return p.config.Name }

// Chat sends a Messages API request. System messages are folded into the
// top-level system prompt since the API does not accept them inline.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var system []anthropic.TextBlockParam
	if req.System != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.System})
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.config.model(req)),
		Messages:    messages,
		MaxTokens:   int64(p.config.maxTokens(req)),
		Temperature: anthropic.Float(req.Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	return &ChatResponse{
		ID:           resp.ID,
		Model:        string(resp.Model),
		Content:      text.String(),
		FinishReason: string(resp.StopReason),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// HealthCheck sends a one-token request.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	_, err := p.Chat(ctx, &ChatRequest{
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}
