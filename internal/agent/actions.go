package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/aibrain/internal/memory"
	"github.com/nidhogg/aibrain/internal/reasoning"
)

// baseActions is the action set every agent starts from. Personas embed it
// and override what they handle differently.
type baseActions struct {
	a *Agent
}

var _ reasoning.Actions = baseActions{}

func stringParam(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := params[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func (b baseActions) Search(ctx context.Context, params map[string]any) (string, error) {
	query := stringParam(params, "query", "q", "topic")
	if query == "" {
		return "", fmt.Errorf("search needs a query")
	}
	records, err := b.a.Recall(ctx, query, 5)
	if errors.Is(err, memory.ErrUnavailable) {
		return fmt.Sprintf("Memory is not available; could not search for '%s'.", query), nil
	}
	if err != nil {
		return "", fmt.Errorf("memory search: %w", err)
	}
	return summarizeRecords(records), nil
}

func summarizeRecords(records []memory.Record) string {
	if len(records) == 0 {
		return "No relevant memories found."
	}
	top := records
	if len(top) > 3 {
		top = top[:3]
	}
	parts := make([]string, len(top))
	for i, r := range top {
		parts[i] = fmt.Sprintf("%s (%s)", truncate(r.Text(), 120), r.EntityName)
	}
	return fmt.Sprintf("Found %d relevant memories. Top results: %s", len(records), strings.Join(parts, "; "))
}

func (b baseActions) Calculate(ctx context.Context, params map[string]any) (string, error) {
	expr := stringParam(params, "expression", "expr", "formula")
	if expr == "" {
		return "", fmt.Errorf("calculate needs an expression")
	}
	v, err := evalArithmetic(expr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = %s", expr, formatNumber(v)), nil
}

func (b baseActions) Communicate(ctx context.Context, params map[string]any) (string, error) {
	msg := stringParam(params, "message", "text", "content")
	if msg == "" {
		return "", fmt.Errorf("communicate needs a message")
	}
	recipient := stringParam(params, "recipient", "to")
	if recipient == "" {
		recipient = "user"
	}
	platform := stringParam(params, "platform")
	channel := stringParam(params, "channel", "channel_id")
	if platform != "" && channel != "" && b.a.notifier != nil {
		if err := b.a.notifier.Notify(ctx, platform, channel, msg); err != nil {
			return "", fmt.Errorf("send via %s: %w", platform, err)
		}
		return fmt.Sprintf("Message sent to %s on %s.", channel, platform), nil
	}
	method := stringParam(params, "method")
	if method == "" {
		method = "default"
	}
	return fmt.Sprintf("Message prepared for %s via %s: '%s'", recipient, method, msg), nil
}

func (b baseActions) Delegate(ctx context.Context, params map[string]any) (string, error) {
	role := stringParam(params, "agent", "specialist", "to", "role")
	task := stringParam(params, "task", "request", "message")
	if role == "" || task == "" {
		return "", fmt.Errorf("delegate needs an agent and a task")
	}
	peer, ok := b.a.Peer(role)
	if !ok {
		avail := b.a.Peers()
		if len(avail) == 0 {
			return fmt.Sprintf("Specialist %s not available. Available agents: none", role), nil
		}
		return fmt.Sprintf("Specialist %s not available. Available agents: %s", role, strings.Join(avail, ", ")), nil
	}
	reason := stringParam(params, "reason")
	resp := b.a.Collaborate(ctx, peer, task, reason, nil)
	if resp.Error != "" {
		return fmt.Sprintf("%s could not complete the task: %s", role, resp.Error), nil
	}
	return fmt.Sprintf("%s responded: %s", role, resp.Response), nil
}

func (b baseActions) UseTool(ctx context.Context, params map[string]any) (string, error) {
	name := stringParam(params, "tool", "name")
	if name == "" {
		return "", fmt.Errorf("use_tool needs a tool name")
	}
	args, _ := params["args"].(map[string]any)
	if args == nil {
		args, _ = params["arguments"].(map[string]any)
	}
	return b.a.tools.Execute(ctx, name, args)
}
