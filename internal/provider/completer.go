package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
	"go.uber.org/zap"
)

// ChatRouter is the subset of Router a Completer needs.
type ChatRouter interface {
	Route(ctx context.Context, role string, req *ChatRequest) (*ChatResponse, error)
}

// CompleterConfig fixes the model settings for one agent. It is passed in
// explicitly instead of being read from process-wide state.
type CompleterConfig struct {
	Role             string
	Model            string
	Temperature      float64
	MaxTokens        int
	Timeout          time.Duration
	RetryAttempts    int
	RetryDelay       time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// Completer turns a system prompt plus message history into one completion.
// Every call carries a timeout and goes through a circuit breaker wrapping a
// retry loop.
type Completer struct {
	router  ChatRouter
	cfg     CompleterConfig
	breaker circuitbreaker.CircuitBreaker[*ChatResponse]
	retry   retry.Retry[*ChatResponse]
	logger  *zap.Logger
}

// NewCompleter creates a Completer for one agent.
func NewCompleter(router ChatRouter, cfg CompleterConfig, logger *zap.Logger) *Completer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 250 * time.Millisecond
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	threshold := uint32(cfg.BreakerThreshold) // #nosec G115 -- positive, checked above

	return &Completer{
		router: router,
		cfg:    cfg,
		breaker: circuitbreaker.New[*ChatResponse](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    cfg.BreakerTimeout,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
		retry: retry.New[*ChatResponse](retry.Config{
			MaxAttempts:        cfg.RetryAttempts,
			InitialDelay:       cfg.RetryDelay,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         2.0,
			NonRetryableErrors: []error{context.Canceled, context.DeadlineExceeded, ErrNoProvider},
		}),
		logger: logger,
	}
}

// Complete returns the model's text for the given prompt and history.
func (c *Completer) Complete(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := &ChatRequest{
		Model:       c.cfg.Model,
		System:      systemPrompt,
		Messages:    history,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	start := time.Now()
	resp, err := c.breaker.Execute(ctx, func(ctx context.Context) (*ChatResponse, error) {
		return c.retry.Do(ctx, func(ctx context.Context) (*ChatResponse, error) {
			return c.router.Route(ctx, c.cfg.Role, req)
		})
	})
	if err != nil {
		return "", fmt.Errorf("completion for %s: %w", c.cfg.Role, err)
	}

	c.logger.Debug("completion received",
		zap.String("role", c.cfg.Role),
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("took", time.Since(start)))
	return resp.Content, nil
}

// BreakerState reports the circuit breaker state for status endpoints.
func (c *Completer) BreakerState() string {
	return c.breaker.State().String()
}
