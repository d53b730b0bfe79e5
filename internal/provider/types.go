package provider

import (
	"context"
	"errors"
	"time"
)

// Provider defines the interface for LLM providers.
type Provider interface {
	ID() string
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	HealthCheck(ctx context.Context) error
}

// ErrNoProvider is returned when no provider is registered for a caller.
var ErrNoProvider = errors.New("no provider available")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest represents a request to an LLM provider.
type ChatRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse represents a response from an LLM provider.
type ChatResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderConfig holds configuration for a provider instance.
type ProviderConfig struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Name      string            `json:"name"`
	Endpoint  string            `json:"endpoint"`
	APIKey    string            `json:"api_key"`
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
	Timeout   time.Duration     `json:"timeout,omitempty"`
}

func (c ProviderConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 120 * time.Second
}

func (c ProviderConfig) maxTokens(req *ChatRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 4096
}

func (c ProviderConfig) model(req *ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.Model
}
