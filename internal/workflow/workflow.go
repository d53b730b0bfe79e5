package workflow

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/google/uuid"
	"github.com/nidhogg/aibrain/internal/agent"
	"github.com/nidhogg/aibrain/internal/reasoning"
	"github.com/nidhogg/aibrain/internal/router"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Node names.
const (
	NodeRoute   = "route_to_agent"
	NodeProcess = "agent_processing"
)

const (
	errorAgent      = "error_handler"
	noResponse      = "No response from agent"
	defaultParallel = 32
)

// Router is the part of the agent router the workflow drives.
type Router interface {
	Route(ctx context.Context, request, userID, iface string, rctx map[string]any) *agent.Response
	Status() router.Status
}

// Recorder persists a finished conversation.
type Recorder interface {
	RecordRun(ctx context.Context, st *State, res *Result) error
}

// Publisher announces a finished conversation.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// HealthChecker reports whether the memory service answers.
type HealthChecker interface {
	Health(ctx context.Context) bool
}

// Request is one inbound message.
type Request struct {
	Message   string         `json:"message"`
	UserID    string         `json:"user_id"`
	Interface string         `json:"interface"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// Result is what every surface returns for a request.
type Result struct {
	Response       string         `json:"response"`
	Agent          string         `json:"agent"`
	ActionsTaken   []Action       `json:"actions_taken"`
	ContextUpdated bool           `json:"context_updated"`
	SessionID      string         `json:"session_id"`
	AgentInfo      map[string]any `json:"agent_info,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Event is published after each request.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Interface string    `json:"interface"`
	Agent     string    `json:"agent"`
	Response  string    `json:"response"`
	Actions   int       `json:"actions"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Options configures a Workflow.
type Options struct {
	MaxConcurrent int
	Recorder      Recorder
	Publisher     Publisher
	Memory        HealthChecker
}

// Workflow runs route_to_agent then agent_processing for every request.
type Workflow struct {
	router    Router
	graph     *Compiled
	bulkhead  bulkhead.Bulkhead[*Result]
	limit     int
	recorder  Recorder
	publisher Publisher
	memory    HealthChecker
	active    atomic.Int64
	processed atomic.Int64
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New compiles the workflow graph around r.
func New(r Router, opts Options, logger *zap.Logger) (*Workflow, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultParallel
	}
	w := &Workflow{
		router:    r,
		limit:     opts.MaxConcurrent,
		recorder:  opts.Recorder,
		publisher: opts.Publisher,
		memory:    opts.Memory,
		logger:    logger,
		tracer:    otel.Tracer("github.com/nidhogg/aibrain/internal/workflow"),
		bulkhead: bulkhead.New[*Result](bulkhead.Config{
			MaxConcurrent: opts.MaxConcurrent,
		}),
	}

	g := NewGraph()
	g.AddNode(NodeRoute, w.routeToAgent)
	g.AddNode(NodeProcess, w.agentProcessing)
	g.SetEntry(NodeRoute)
	g.AddEdge(NodeRoute, NodeProcess)
	g.AddEdge(NodeProcess, End)
	compiled, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile workflow: %w", err)
	}
	w.graph = compiled
	return w, nil
}

func (w *Workflow) routeToAgent(ctx context.Context, st *State) error {
	resp := w.router.Route(ctx, st.CurrentMessage, st.UserID, string(st.Interface), st.Context)
	if resp == nil {
		return fmt.Errorf("router returned no response")
	}
	selected := resp.SelectedAgent
	if selected == "" {
		selected = resp.Agent
	}
	if selected == "" {
		selected = "unknown"
	}
	st.SetContext("agent_response", resp)
	st.SetContext("selected_agent", selected)
	st.SetContext("agent_info", map[string]any{
		"routing_confidence":    resp.RoutingConfidence,
		"router_decision":       resp.RouterDecision,
		"coordination_required": coordinated(resp),
	})
	st.SelectedAgent = selected
	return nil
}

// coordinated reports whether the answer involved another agent.
func coordinated(resp *agent.Response) bool {
	if resp.SelectedAgent != "" && resp.Agent != resp.SelectedAgent {
		return true
	}
	for _, s := range resp.Chain {
		if s.Action == reasoning.ActionDelegate {
			return true
		}
	}
	return false
}

func (w *Workflow) agentProcessing(_ context.Context, st *State) error {
	resp, _ := st.Context["agent_response"].(*agent.Response)
	if resp == nil {
		resp = &agent.Response{}
	}
	st.Response = resp.Response
	if st.Response == "" {
		st.Response = noResponse
	}
	tool := resp.Agent
	if tool == "" {
		tool = st.SelectedAgent
	}
	for _, name := range resp.Actions {
		st.AddAction(tool, name, resp.Error, resp.Error == "")
	}
	if resp.Error != "" {
		st.AddError(resp.Error)
	}
	st.AddMessage("assistant", st.Response)
	return nil
}

// Process runs req through the graph. It never returns nil and never
// panics; failures come back as an apology with Error set.
func (w *Workflow) Process(ctx context.Context, req Request) *Result {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	iface := NormalizeInterface(req.Interface)
	st := NewState(req.UserID, sessionID, iface, req.Message, req.Context)

	ctx, span := w.tracer.Start(ctx, "workflow.process", trace.WithAttributes(
		attribute.String("workflow.session_id", sessionID),
		attribute.String("workflow.interface", string(iface))))
	defer span.End()

	var ran bool
	res, err := w.bulkhead.Execute(ctx, func(ctx context.Context) (*Result, error) {
		ran = true
		w.active.Add(1)
		defer w.active.Add(-1)
		return w.run(ctx, st)
	})
	if err != nil {
		if !ran {
			err = fmt.Errorf("too many concurrent requests: %w", err)
		}
		w.logger.Error("workflow failed",
			zap.String("session_id", sessionID),
			zap.String("user_id", req.UserID),
			zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		st.AddError(err.Error())
		res = errorResult(sessionID, err)
	}
	w.processed.Add(1)
	span.SetAttributes(attribute.String("workflow.agent", res.Agent))

	w.after(ctx, st, res)
	return res
}

func (w *Workflow) run(ctx context.Context, st *State) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("workflow panic: %v", rec)
		}
	}()
	if err := w.graph.Run(ctx, st); err != nil {
		return nil, err
	}
	info, _ := st.Context["agent_info"].(map[string]any)
	actions := st.Actions
	if actions == nil {
		actions = []Action{}
	}
	return &Result{
		Response:       st.Response,
		Agent:          st.SelectedAgent,
		ActionsTaken:   actions,
		ContextUpdated: len(actions) > 0,
		SessionID:      st.SessionID,
		AgentInfo:      info,
	}, nil
}

func errorResult(sessionID string, err error) *Result {
	return &Result{
		Response:       fmt.Sprintf("I apologize, but I encountered an error: %v", err),
		Agent:          errorAgent,
		ActionsTaken:   []Action{},
		ContextUpdated: false,
		SessionID:      sessionID,
		Error:          err.Error(),
	}
}

// after hands the finished conversation to the recorder and publisher.
// Their failures are logged and otherwise ignored.
func (w *Workflow) after(ctx context.Context, st *State, res *Result) {
	sum := st.Summary()
	w.logger.Info("request processed",
		zap.String("session_id", sum.SessionID),
		zap.String("agent", res.Agent),
		zap.Int("actions", sum.Actions),
		zap.Int("errors", sum.Errors),
		zap.Duration("duration", sum.Duration))

	if w.recorder != nil {
		if err := w.recorder.RecordRun(ctx, st, res); err != nil {
			w.logger.Warn("record conversation", zap.String("session_id", st.SessionID), zap.Error(err))
		}
	}
	if w.publisher != nil {
		ev := Event{
			Type:      "request.processed",
			SessionID: st.SessionID,
			UserID:    st.UserID,
			Interface: string(st.Interface),
			Agent:     res.Agent,
			Response:  res.Response,
			Actions:   len(res.ActionsTaken),
			Error:     res.Error,
			Duration:  sum.Duration.Milliseconds(),
			Timestamp: time.Now().UTC(),
		}
		if err := w.publisher.Publish(ctx, ev); err != nil {
			w.logger.Warn("publish event", zap.String("session_id", st.SessionID), zap.Error(err))
		}
	}
}

// Status describes the workflow and the agents behind it.
type Status struct {
	BrainStatus   string        `json:"brain_status"`
	Memory        string        `json:"memory"`
	AgentSystem   router.Status `json:"agent_system"`
	GraphNodes    []string      `json:"graph_nodes"`
	MaxConcurrent int           `json:"max_concurrent"`
	Active        int64         `json:"active_workflows"`
	Processed     int64         `json:"processed"`
}

func (w *Workflow) Status(ctx context.Context) Status {
	mem := "disabled"
	if w.memory != nil {
		mem = "unhealthy"
		if w.memory.Health(ctx) {
			mem = "healthy"
		}
	}
	return Status{
		BrainStatus:   "multi_agent_operational",
		Memory:        mem,
		AgentSystem:   w.router.Status(),
		GraphNodes:    []string{NodeRoute, NodeProcess},
		MaxConcurrent: w.limit,
		Active:        w.active.Load(),
		Processed:     w.processed.Load(),
	}
}
