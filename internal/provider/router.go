package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router manages multiple LLM providers and picks one per caller. Callers are
// identified by agent role.
type Router struct {
	providers map[string]Provider
	order     []string
	bindings  map[string]string   // role -> providerID
	fallbacks map[string][]string // role -> fallback provider chain
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider. The first registered provider becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.ID()]; !exists {
		r.order = append(r.order, p.ID())
	}
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Bind associates a role with a specific provider.
func (r *Router) Bind(role, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[role] = providerID
}

// SetFallbacks configures fallback providers for a role.
func (r *Router) SetFallbacks(role string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[role] = providerIDs
}

// Route sends a chat request through the provider bound to role, walking the
// fallback chain when it fails.
func (r *Router) Route(ctx context.Context, role string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.getProvider(role)
	chain := make([]Provider, 0, len(r.fallbacks[role]))
	for _, id := range r.fallbacks[role] {
		if p, ok := r.providers[id]; ok {
			chain = append(chain, p)
		}
	}
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoProvider, role)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("role", role), zap.String("provider", primary.ID()), zap.Error(err))

	for _, fb := range chain {
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fb.ID()), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for %s: %w", role, err)
}

func (r *Router) getProvider(role string) Provider {
	if pid, ok := r.bindings[role]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers in registration order.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.providers[id])
	}
	return result
}

// HealthCheck checks every provider and returns per-provider errors.
func (r *Router) HealthCheck(ctx context.Context) map[string]string {
	status := make(map[string]string)
	for _, p := range r.ListProviders() {
		if err := p.HealthCheck(ctx); err != nil {
			status[p.ID()] = err.Error()
			continue
		}
		status[p.ID()] = "ok"
	}
	return status
}
