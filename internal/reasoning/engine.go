package reasoning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nidhogg/aibrain/internal/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CompletionPort produces one model completion for a system prompt and a
// message history.
type CompletionPort interface {
	Complete(ctx context.Context, systemPrompt string, history []provider.Message) (string, error)
}

// Config bounds a run.
type Config struct {
	MaxSteps          int
	Temperature       float64
	HistoryWindow     int
	CompletionTimeout time.Duration
	ActionTimeout     time.Duration
	// RunTimeout caps the whole run. Zero leaves the step budget as the
	// only bound.
	RunTimeout time.Duration
}

const (
	thinkObservation    = "Thought recorded. Continue reasoning."
	concludeObservation = "Conclusion reached."
	noConclusion        = "No conclusion provided"
	defaultConfidence   = 0.5
)

// Engine drives the think/act/observe loop for one agent.
type Engine struct {
	port       CompletionPort
	dispatcher *Dispatcher
	preamble   string
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewEngine creates an engine. preamble is the full system prompt, usually
// built with Preamble.
func NewEngine(port CompletionPort, actions Actions, preamble string, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 5
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 3
	}
	return &Engine{
		port:       port,
		dispatcher: NewDispatcher(actions),
		preamble:   preamble,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("github.com/nidhogg/aibrain/internal/reasoning"),
	}
}

// Config returns the engine's bounds.
func (e *Engine) Config() Config { return e.cfg }

// Preamble returns the system prompt sent on every iteration.
func (e *Engine) Preamble() string { return e.preamble }

// Run reasons about task until the model concludes, the step budget runs
// out, or a completion cannot be obtained. It never panics on model output
// or handler failures.
func (e *Engine) Run(ctx context.Context, task string, taskCtx map[string]any) *Result {
	start := time.Now()
	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}
	ctx, span := e.tracer.Start(ctx, "reasoning.run",
		trace.WithAttributes(attribute.Int("reasoning.max_steps", e.cfg.MaxSteps)))
	defer span.End()

	res := &Result{Chain: make([]Step, 0, e.cfg.MaxSteps)}
	finish := func() *Result {
		res.StepsTaken = len(res.Chain)
		res.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Int("reasoning.steps_taken", res.StepsTaken),
			attribute.Bool("reasoning.success", res.Success))
		if !res.Success {
			span.SetStatus(codes.Error, res.Error)
		}
		e.logger.Debug("reasoning run finished",
			zap.Bool("success", res.Success),
			zap.Int("steps", res.StepsTaken),
			zap.String("failure", string(res.Failure)),
			zap.Duration("took", res.Duration))
		return res
	}

	prompt := taskPrompt(task, taskCtx)
	for n := 1; n <= e.cfg.MaxSteps; n++ {
		if err := ctx.Err(); err != nil {
			e.fail(ctx, res, err)
			return finish()
		}

		text, err := e.complete(ctx, prompt, res.Chain)
		if err != nil {
			e.fail(ctx, res, err)
			return finish()
		}

		step := e.execute(ctx, n, text)
		res.Chain = append(res.Chain, step)
		if step.Final {
			res.Success = true
			res.FinalAnswer = answerOf(step.Input)
			res.Confidence = confidenceOf(step.Input)
			return finish()
		}
		prompt = continuationPrompt(step)
	}

	res.Failure = FailureBudgetExhausted
	res.Error = ErrBudgetExhausted.Error()
	return finish()
}

func (e *Engine) fail(ctx context.Context, res *Result, err error) {
	res.Error = err.Error()
	res.Failure = FailureCompletion
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.Failure = FailureDeadlineExceeded
	}
}

func (e *Engine) complete(ctx context.Context, prompt string, chain []Step) (string, error) {
	history := []provider.Message{{Role: provider.RoleUser, Content: prompt}}
	if len(chain) > 0 {
		window := chain
		if len(window) > e.cfg.HistoryWindow {
			window = window[len(window)-e.cfg.HistoryWindow:]
		}
		history = append(history, provider.Message{Role: provider.RoleUser, Content: historyPrompt(window)})
	}

	if e.cfg.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CompletionTimeout)
		defer cancel()
	}
	if e.port == nil {
		return "", provider.ErrNoProvider
	}
	return e.port.Complete(ctx, e.preamble, history)
}

// execute parses one completion and records the observation for it.
func (e *Engine) execute(ctx context.Context, n int, text string) Step {
	start := time.Now()
	parsed := Parse(text)
	step := Step{
		Number:     n,
		Thought:    parsed.Thought,
		Action:     parsed.Action,
		Input:      parsed.Input,
		Parse:      parsed.Status,
		ParseNotes: parsed.Notes,
	}

	ctx, span := e.tracer.Start(ctx, "reasoning.step", trace.WithAttributes(
		attribute.Int("reasoning.step", n),
		attribute.String("reasoning.action", string(step.Action))))
	defer span.End()

	switch step.Action {
	case ActionThink:
		step.Observation = thinkObservation
	case ActionConclude:
		step.Observation = concludeObservation
		step.Final = true
	default:
		obs, err := e.dispatch(ctx, step.Action, step.Input)
		if err != nil {
			span.RecordError(err)
			obs = fmt.Sprintf("Error executing action: %v", err)
		}
		step.Observation = obs
	}
	step.Duration = time.Since(start)

	e.logger.Debug("reasoning step",
		zap.Int("step", n),
		zap.String("action", step.Action.Label()),
		zap.String("parse", string(step.Parse)),
		zap.Strings("notes", step.ParseNotes))
	return step
}

// dispatch runs a handler under the action timeout. A handler that ignores
// its context still cannot hold the loop past the deadline.
func (e *Engine) dispatch(ctx context.Context, kind ActionKind, params map[string]any) (string, error) {
	if e.cfg.ActionTimeout <= 0 {
		return e.dispatcher.Dispatch(ctx, kind, params)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	type outcome struct {
		obs string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		obs, err := e.dispatcher.Dispatch(ctx, kind, params)
		done <- outcome{obs, err}
	}()
	select {
	case o := <-done:
		return o.obs, o.err
	case <-ctx.Done():
		return "", fmt.Errorf("action %s timed out: %w", kind.Label(), ctx.Err())
	}
}

func answerOf(input map[string]any) string {
	switch v := input["result"].(type) {
	case nil:
		return noConclusion
	case string:
		if v == "" {
			return noConclusion
		}
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

func confidenceOf(input map[string]any) float64 {
	c := defaultConfidence
	switch v := input["confidence"].(type) {
	case float64:
		c = v
	case int:
		c = float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c = f
		}
	}
	switch {
	case math.IsNaN(c) || math.IsInf(c, 0):
		return defaultConfidence
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
