package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiProvider implements Provider for the Google Gemini API.
type GeminiProvider struct {
	config ProviderConfig
	client *genai.Client
	logger *zap.Logger
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (*GeminiProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{config: cfg, client: client, logger: logger}, nil
}

func (p *GeminiProvider) ID() string   { return p.config.ID }
func (p *GeminiProvider) Name() string { return p.config.Name }

// Chat sends a GenerateContent request.
func (p *GeminiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.timeout())
	defer cancel()

	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(p.config.maxTokens(req)),
	}
	system := req.System
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system += "\n\n" + m.Content
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	model := p.config.model(req)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, gc)
	if err != nil {
		return nil, fmt.Errorf("gemini chat: %w", err)
	}

	out := &ChatResponse{Model: model, Content: resp.Text()}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// HealthCheck fetches the configured model's metadata.
func (p *GeminiProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.Models.Get(ctx, p.config.Model, nil); err != nil {
		return fmt.Errorf("gemini health check: %w", err)
	}
	return nil
}
