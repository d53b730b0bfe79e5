// Package agent implements the specialised agents requests are routed to.
// Each agent answers directly or escalates to the reasoning engine.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/aibrain/internal/memory"
	"github.com/nidhogg/aibrain/internal/provider"
	"github.com/nidhogg/aibrain/internal/reasoning"
	"go.uber.org/zap"
)

// ErrAgentNotFound is returned when no agent is registered for a role.
var ErrAgentNotFound = errors.New("agent not found")

// Notifier delivers a message to an outside channel.
type Notifier interface {
	Notify(ctx context.Context, platform, channelID, text string) error
}

// Deps are the collaborators an Agent is built with.
type Deps struct {
	// Completer answers model prompts for this agent.
	Completer reasoning.CompletionPort
	Tools     *ToolRegistry
	Notifier  Notifier
	Memory    *memory.Client
	// MemoryEnabled gates lazy memory initialisation.
	MemoryEnabled bool
	Reasoning     reasoning.Config
	// ProfileDir holds optional <role>/SOUL.md prompt overrides.
	ProfileDir string
	// MaxSteps and Temperature override the persona defaults when non-zero.
	MaxSteps    int
	Temperature *float64
}

// Response is what an agent returns for one request.
type Response struct {
	Response          string                `json:"response"`
	Agent             string                `json:"agent"`
	Actions           []string              `json:"actions_taken"`
	Confidence        float64               `json:"confidence"`
	Chain             []reasoning.Step      `json:"reasoning_chain,omitempty"`
	StepsTaken        int                   `json:"steps_taken"`
	Error             string                `json:"error,omitempty"`
	Failure           reasoning.FailureKind `json:"failure,omitempty"`
	Metadata          map[string]any        `json:"metadata,omitempty"`
	RouterDecision    string                `json:"router_decision,omitempty"`
	SelectedAgent     string                `json:"selected_agent,omitempty"`
	RoutingConfidence float64               `json:"routing_confidence,omitempty"`
	AvailableAgents   []string              `json:"available_agents,omitempty"`
}

// Info is the public description of an agent.
type Info struct {
	Role              string   `json:"role"`
	Personality       string   `json:"personality"`
	Tools             []string `json:"tools"`
	Authority         string   `json:"authority"`
	AgentID           string   `json:"agent_id"`
	Status            string   `json:"status"`
	MemoryInitialized bool     `json:"memory_initialized"`
	MaxSteps          int      `json:"max_steps"`
	Temperature       float64  `json:"temperature"`
	Coordinator       bool     `json:"coordinator"`
	Peers             []string `json:"peers,omitempty"`
}

// memoryRetry spaces out health checks after the memory service failed one.
const memoryRetry = time.Minute

// Agent is a persona bound to a completer, tools and optional memory. It is
// shared across requests; mutable state sits behind mu.
type Agent struct {
	persona  Persona
	profile  Profile
	id       string
	system   string
	engine   *reasoning.Engine
	complete reasoning.CompletionPort
	tools    *ToolRegistry
	notifier Notifier
	logger   *zap.Logger

	initMu sync.Mutex

	mu         sync.RWMutex
	mem        *memory.Client
	memEnabled bool
	memReady   bool
	memChecked time.Time
	recent     []memory.Record
	peers      map[string]*Agent
	peerOrder  []string
}

// New builds an agent and its reasoning engine from persona and deps.
func New(persona Persona, deps Deps, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	profile := persona.Profile()
	if deps.MaxSteps > 0 {
		profile.MaxSteps = deps.MaxSteps
	}
	if deps.Temperature != nil {
		profile.Temperature = *deps.Temperature
	}
	system := profile.SystemPrompt
	if override := LoadProfile(deps.ProfileDir, profile.Role); override != "" {
		system = override
	}
	if deps.Tools == nil {
		deps.Tools = NewToolRegistry()
	}

	a := &Agent{
		persona:    persona,
		profile:    profile,
		id:         fmt.Sprintf("%s_%s", profile.Role, strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		system:     system,
		complete:   deps.Completer,
		tools:      deps.Tools,
		notifier:   deps.Notifier,
		logger:     logger.With(zap.String("agent", profile.Role)),
		mem:        deps.Memory,
		memEnabled: deps.MemoryEnabled,
		peers:      make(map[string]*Agent),
	}

	cfg := deps.Reasoning
	cfg.MaxSteps = profile.MaxSteps
	cfg.Temperature = profile.Temperature
	preamble := reasoning.Preamble(system, a.toolNames(), profile.Guide)
	a.engine = reasoning.NewEngine(deps.Completer, persona.Actions(a), preamble, cfg, a.logger)
	return a
}

func (a *Agent) Role() string         { return a.profile.Role }
func (a *Agent) ID() string           { return a.id }
func (a *Agent) Profile() Profile     { return a.profile }
func (a *Agent) SystemPrompt() string { return a.system }

// Engine exposes the agent's reasoning engine.
func (a *Agent) Engine() *reasoning.Engine { return a.engine }

// Tools returns the shared tool registry.
func (a *Agent) Tools() *ToolRegistry { return a.tools }

// toolNames merges declared capabilities with registered tools.
func (a *Agent) toolNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, n := range append(append([]string(nil), a.profile.Tools...), a.tools.Names()...) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names
}

// ShouldEscalate reports whether request needs step-by-step reasoning.
func (a *Agent) ShouldEscalate(request string, rctx map[string]any) bool {
	return a.persona.Escalates(request, rctx) || baseEscalates(request, rctx)
}

// ShouldHandle is the persona's confidence that it suits request.
func (a *Agent) ShouldHandle(request string, rctx map[string]any) float64 {
	return a.persona.Score(request, rctx)
}

// Handle answers request. It never returns nil.
func (a *Agent) Handle(ctx context.Context, request string, rctx map[string]any) *Response {
	rctx = copyContext(rctx)
	if a.initMemory(ctx) {
		a.attachRecall(ctx, request, rctx)
	}

	var resp *Response
	if a.ShouldEscalate(request, rctx) {
		resp = a.reason(ctx, request, rctx)
	} else {
		resp = &Response{
			Response:   a.persona.Respond(ctx, a, request, rctx),
			Agent:      a.profile.Role,
			Actions:    []string{"direct_response"},
			Confidence: 1.0,
		}
	}

	if a.MemoryReady() {
		content := fmt.Sprintf("User request: %s | Agent response: %s", request, resp.Response)
		if err := a.Remember(ctx, content, "conversation"); err != nil {
			a.logger.Warn("store interaction", zap.Error(err))
		}
	}
	return resp
}

func (a *Agent) reason(ctx context.Context, request string, rctx map[string]any) *Response {
	enriched := a.persona.Enrich(request, rctx)
	a.logger.Info("escalating to reasoning", zap.String("request", truncate(request, 80)))
	res := a.engine.Run(ctx, request, enriched)

	if res.Success {
		return &Response{
			Response:   a.persona.Present(res, enriched),
			Agent:      a.profile.Role,
			Actions:    []string{"react_reasoning"},
			Confidence: res.Confidence,
			Chain:      res.Chain,
			StepsTaken: res.StepsTaken,
		}
	}

	a.logger.Warn("reasoning failed",
		zap.String("failure", string(res.Failure)),
		zap.String("error", res.Error),
		zap.Int("steps", res.StepsTaken))
	text := a.persona.Present(res, enriched)
	if direct := a.persona.Respond(ctx, a, request, rctx); direct != "" {
		text += "\n\n" + direct
	}
	return &Response{
		Response:   text,
		Agent:      a.profile.Role,
		Actions:    []string{"reasoning_failed"},
		Confidence: 0,
		Chain:      res.Chain,
		StepsTaken: res.StepsTaken,
		Error:      res.Error,
		Failure:    res.Failure,
	}
}

// Ask sends one prompt to the agent's completer with its system prompt,
// recent memory and any recalled memories in rctx.
func (a *Agent) Ask(ctx context.Context, request string, rctx map[string]any) (string, error) {
	if a.complete == nil {
		return "", provider.ErrNoProvider
	}
	system := a.system
	if a.MemoryReady() {
		system += "\n\n" + a.MemorySummary()
	}
	if recalled, ok := rctx["relevant_memories"].([]string); ok && len(recalled) > 0 {
		system += "\n\nRelated memories:\n- " + strings.Join(recalled, "\n- ")
	}
	return a.complete.Complete(ctx, system, []provider.Message{{Role: provider.RoleUser, Content: request}})
}

// RegisterPeer makes peer reachable through DELEGATE. Only coordinators
// keep peers.
func (a *Agent) RegisterPeer(peer *Agent) {
	if peer == nil || peer == a || !a.profile.Coordinator {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.peers[peer.Role()]; !ok {
		a.peerOrder = append(a.peerOrder, peer.Role())
	}
	a.peers[peer.Role()] = peer
}

// Peer returns the registered peer for role.
func (a *Agent) Peer(role string) (*Agent, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.peers[role]
	return p, ok
}

// Peers lists peer roles in registration order.
func (a *Agent) Peers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.peerOrder...)
}

// CanDelegate reports whether the agent coordinates others.
func (a *Agent) CanDelegate() bool { return a.profile.Coordinator }

// Collaborate hands request to peer with a note on who asked and why.
func (a *Agent) Collaborate(ctx context.Context, peer *Agent, request, reason string, rctx map[string]any) *Response {
	cctx := copyContext(rctx)
	cctx["collaborating_agent"] = a.profile.Role
	if reason == "" {
		reason = fmt.Sprintf("Request delegated from %s to %s", a.profile.Role, peer.Role())
	}
	cctx["collaboration_reason"] = reason
	return peer.Handle(ctx, request, cctx)
}

// Info describes the agent.
func (a *Agent) Info() Info {
	peers := a.Peers()
	sort.Strings(peers)
	return Info{
		Role:              a.profile.Role,
		Personality:       a.profile.Personality,
		Tools:             a.toolNames(),
		Authority:         a.profile.Authority,
		AgentID:           a.id,
		Status:            "active",
		MemoryInitialized: a.MemoryReady(),
		MaxSteps:          a.profile.MaxSteps,
		Temperature:       a.profile.Temperature,
		Coordinator:       a.profile.Coordinator,
		Peers:             peers,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
