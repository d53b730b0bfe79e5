// Package router owns the agent roster and hands each request to exactly
// one agent.
package router

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nidhogg/aibrain/internal/agent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Routing policies.
const (
	PolicyPrimary    = "primary"
	PolicyConfidence = "confidence"
)

// Decisions recorded on routed responses.
const (
	DecisionPrimary    = "primary_agent"
	DecisionConfidence = "confidence"
)

const (
	fallbackAgent   = "system_fallback"
	fallbackMessage = "I'm sorry, but I'm currently unable to process your request. No agents are available for routing. Please try again later."
	fallbackError   = "No agents available for routing"
)

// Router holds named agents, designates one as coordinator and dispatches
// requests. Registration happens at startup; routing is safe for
// concurrent use.
type Router struct {
	mu      sync.RWMutex
	agents  map[string]*agent.Agent
	order   []string
	primary *agent.Agent
	policy  string

	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New creates an empty router using policy ("" means primary).
func New(policy string, logger *zap.Logger) *Router {
	if policy == "" {
		policy = PolicyPrimary
	}
	return &Router{
		agents: make(map[string]*agent.Agent),
		policy: policy,
		logger: logger,
		tracer: otel.Tracer("github.com/nidhogg/aibrain/internal/router"),
		now:    time.Now,
	}
}

// Register adds a under its role. A primary agent becomes the coordinator
// and, if it delegates, learns every other registered agent as a peer.
func (r *Router) Register(a *agent.Agent, primary bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	role := a.Role()
	if _, ok := r.agents[role]; !ok {
		r.order = append(r.order, role)
	}
	r.agents[role] = a

	if primary {
		r.primary = a
		if a.CanDelegate() {
			for _, name := range r.order {
				if name != role {
					a.RegisterPeer(r.agents[name])
				}
			}
		}
	} else if r.primary != nil && r.primary != a && r.primary.CanDelegate() {
		r.primary.RegisterPeer(a)
	}
	r.logger.Info("registered agent", zap.String("role", role), zap.Bool("primary", primary))
}

// Get returns the agent registered for role.
func (r *Router) Get(role string) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrAgentNotFound, role)
	}
	return a, nil
}

// List returns agents in registration order.
func (r *Router) List() []*agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*agent.Agent, 0, len(r.order))
	for _, role := range r.order {
		out = append(out, r.agents[role])
	}
	return out
}

// Roles lists registered roles in registration order.
func (r *Router) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Infos describes every agent. It satisfies agent.Directory.
func (r *Router) Infos() []agent.Info {
	agents := r.List()
	out := make([]agent.Info, len(agents))
	for i, a := range agents {
		out[i] = a.Info()
	}
	return out
}

// Primary returns the coordinator, or nil.
func (r *Router) Primary() *agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary
}

// Policy returns the configured routing policy.
func (r *Router) Policy() string { return r.policy }

// Route hands request to one agent according to the router's policy. It
// never returns nil and never panics.
func (r *Router) Route(ctx context.Context, request, userID, iface string, rctx map[string]any) *agent.Response {
	ctx, span := r.tracer.Start(ctx, "router.route", trace.WithAttributes(
		attribute.String("router.policy", r.policy),
		attribute.String("router.interface", iface)))
	defer span.End()

	routed := r.routingContext(userID, iface, rctx)
	var resp *agent.Response
	if r.policy == PolicyConfidence {
		resp = r.routeByConfidence(ctx, request, routed)
	} else {
		resp = r.routePrimary(ctx, request, routed)
	}
	span.SetAttributes(attribute.String("router.selected", resp.Agent))
	return resp
}

// RouteByConfidence scores every agent and hands request to the best one,
// regardless of the configured policy.
func (r *Router) RouteByConfidence(ctx context.Context, request, userID, iface string, rctx map[string]any) *agent.Response {
	return r.routeByConfidence(ctx, request, r.routingContext(userID, iface, rctx))
}

func (r *Router) routingContext(userID, iface string, rctx map[string]any) map[string]any {
	out := make(map[string]any, len(rctx)+3)
	for k, v := range rctx {
		out[k] = v
	}
	out["user_id"] = userID
	out["interface"] = iface
	out["router_timestamp"] = r.now().UTC().Format(time.RFC3339Nano)
	return out
}

func (r *Router) routePrimary(ctx context.Context, request string, rctx map[string]any) *agent.Response {
	primary := r.Primary()
	if primary == nil {
		r.logger.Error("no primary agent registered")
		return r.fallback()
	}
	r.logger.Info("routing to primary agent", zap.String("agent", primary.Role()))
	resp := r.invoke(ctx, primary, request, rctx)
	resp.RouterDecision = DecisionPrimary
	resp.SelectedAgent = primary.Role()
	resp.RoutingConfidence = 1.0
	return resp
}

func (r *Router) routeByConfidence(ctx context.Context, request string, rctx map[string]any) *agent.Response {
	agents := r.List()
	if len(agents) == 0 {
		r.logger.Error("no agents registered")
		return r.fallback()
	}
	best, bestScore := agents[0], r.score(agents[0], request, rctx)
	for _, a := range agents[1:] {
		score := r.score(a, request, rctx)
		if score > bestScore {
			best, bestScore = a, score
		}
	}
	r.logger.Info("routing by confidence",
		zap.String("agent", best.Role()),
		zap.Float64("score", bestScore))
	resp := r.invoke(ctx, best, request, rctx)
	resp.RouterDecision = DecisionConfidence
	resp.SelectedAgent = best.Role()
	resp.RoutingConfidence = bestScore
	return resp
}

// score asks a for its confidence, kept within [0,1]. A panicking scorer
// or one answering NaN counts as 0.
func (r *Router) score(a *agent.Agent, request string, rctx map[string]any) (score float64) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("agent scorer panicked", zap.String("agent", a.Role()), zap.Any("panic", rec))
			score = 0
		}
	}()
	score = a.ShouldHandle(request, rctx)
	switch {
	case math.IsNaN(score) || score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// invoke runs the agent once. A panic becomes a routed-but-failed response
// naming the agent; it is not retried elsewhere.
func (r *Router) invoke(ctx context.Context, a *agent.Agent, request string, rctx map[string]any) (resp *agent.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("agent panicked", zap.String("agent", a.Role()), zap.Any("panic", rec))
			resp = &agent.Response{
				Response: fmt.Sprintf("The %s agent failed while handling your request.", a.Role()),
				Agent:    a.Role(),
				Actions:  []string{"agent_failed"},
				Error:    fmt.Sprintf("agent %s panicked: %v", a.Role(), rec),
			}
		}
	}()
	resp = a.Handle(ctx, request, rctx)
	if resp == nil {
		resp = &agent.Response{Agent: a.Role(), Actions: []string{"agent_failed"}, Error: "agent returned no response"}
	}
	return resp
}

func (r *Router) fallback() *agent.Response {
	return &agent.Response{
		Response:        fallbackMessage,
		Agent:           fallbackAgent,
		Actions:         []string{"emergency_fallback"},
		Error:           fallbackError,
		AvailableAgents: r.Roles(),
	}
}

// Status summarises the roster.
type Status struct {
	TotalAgents     int          `json:"total_agents"`
	PrimaryAgent    string       `json:"primary_agent,omitempty"`
	RoutingPolicy   string       `json:"routing_policy"`
	AvailableAgents []agent.Info `json:"available_agents"`
	RouterStatus    string       `json:"router_status"`
}

// Status reports the roster and policy.
func (r *Router) Status() Status {
	st := Status{
		RoutingPolicy:   r.policy,
		AvailableAgents: r.Infos(),
		RouterStatus:    "operational",
	}
	st.TotalAgents = len(st.AvailableAgents)
	if p := r.Primary(); p != nil {
		st.PrimaryAgent = p.Role()
	}
	return st
}
