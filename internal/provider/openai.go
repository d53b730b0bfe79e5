package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// OpenAIProvider implements Provider for OpenAI-compatible APIs.
type OpenAIProvider struct {
	config ProviderConfig
	client openai.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI-compatible provider. Endpoint may
// point at any server speaking the chat completions protocol.
func NewOpenAIProvider(cfg ProviderConfig, logger *zap.Logger, opts ...option.RequestOption) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4oMini)
	}
	clientOpts := []option.RequestOption{option.WithRequestTimeout(cfg.timeout())}
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.Endpoint))
	}
	clientOpts = append(clientOpts, opts...)
	return &OpenAIProvider{
		config: cfg,
		client: openai.NewClient(clientOpts...),
		logger: logger,
	}
}

func (p *OpenAIProvider) ID() string   { return p.config.ID }
func (p *OpenAIProvider) Name() string { return p.config.Name }

// Chat sends a non-streaming chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(p.config.model(req)),
		Messages:            messages,
		Temperature:         openai.Float(req.Temperature),
		MaxCompletionTokens: openai.Int(int64(p.config.maxTokens(req))),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat: no choices returned")
	}

	choice := resp.Choices[0]
	p.logger.Debug("openai completion",
		zap.String("model", resp.Model),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens))

	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// HealthCheck lists models to verify the endpoint and key.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai health check: %w", err)
	}
	return nil
}
