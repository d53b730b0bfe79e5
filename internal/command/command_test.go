package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nidhogg/aibrain/internal/agent"
	"github.com/nidhogg/aibrain/internal/memory"
	"github.com/nidhogg/aibrain/internal/router"
	"github.com/nidhogg/aibrain/internal/session"
	"github.com/nidhogg/aibrain/internal/workflow"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name:        "ping",
		Description: "Ping test",
		Usage:       "/ping",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: "pong: " + args}, nil
		},
	})

	ctx := context.Background()
	cc := &CommandContext{Platform: "test"}

	// Test known command
	result, err := reg.Dispatch(ctx, "/ping hello", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "pong: hello" {
		t.Errorf("got %q, want %q", result.Content, "pong: hello")
	}

	// Test unknown command
	result, err = reg.Dispatch(ctx, "/unknown", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "Unknown command: /unknown. Type /help for available commands." {
		t.Errorf("got %q", result.Content)
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "beta"})
	reg.Register(&Command{Name: "alpha"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("got %d commands, want 2", len(list))
	}
	if list[0].Name != "alpha" {
		t.Errorf("got %q first, want %q", list[0].Name, "alpha")
	}
}

func TestIsCommand(t *testing.T) {
	for in, want := range map[string]bool{
		"/help":       true,
		"  /status":   true,
		"/":           false,
		"/ not":       false,
		"hello /help": false,
	} {
		if got := IsCommand(in); got != want {
			t.Errorf("IsCommand(%q) = %v", in, got)
		}
	}
}

type agentList []agent.Info

func (l agentList) Infos() []agent.Info { return l }

type adapterList []AdapterStatus

func (l adapterList) StatusAll() []AdapterStatus { return l }

type wfStatus struct{}

func (wfStatus) Status(context.Context) workflow.Status {
	return workflow.Status{
		BrainStatus:   "multi_agent_operational",
		Memory:        "disabled",
		AgentSystem:   router.Status{TotalAgents: 2, PrimaryAgent: "personal_assistant", RoutingPolicy: "primary"},
		MaxConcurrent: 8,
	}
}

func TestBuiltins(t *testing.T) {
	ctx := context.Background()
	sessions := session.NewMemory()
	tools := agent.NewToolRegistry()
	tools.Register(agent.Tool{Name: "get_current_time", Source: "builtin"}, nil)

	reg := NewRegistry()
	RegisterBuiltins(reg, Builtins{
		Agents:   agentList{{Role: "personal_assistant", AgentID: "personal_assistant_1234abcd", Authority: "high", Status: "active"}},
		Tools:    tools,
		Adapters: adapterList{{Name: "slack", Platform: "slack", Connected: true}},
		Workflow: wfStatus{},
		Sessions: sessions,
	})

	res, _ := reg.Dispatch(ctx, "/help", nil)
	for _, name := range []string{"/agents", "/tools", "/status", "/clear", "/help"} {
		if !strings.Contains(res.Content, name) {
			t.Errorf("help is missing %s:\n%s", name, res.Content)
		}
	}

	res, _ = reg.Dispatch(ctx, "/agents", nil)
	if !strings.Contains(res.Content, "[personal_assistant_1234abcd] personal_assistant") {
		t.Errorf("agents: %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/tools", nil)
	if !strings.Contains(res.Content, "builtin (1 tools)") || !strings.Contains(res.Content, "get_current_time") {
		t.Errorf("tools: %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/STATUS", nil)
	if !strings.Contains(res.Content, "Agents: 2 (primary: personal_assistant") || !strings.Contains(res.Content, "slack (slack): connected") {
		t.Errorf("status: %q", res.Content)
	}

	cc := &CommandContext{Platform: "telegram", ChannelID: "42"}
	res, _ = reg.Dispatch(ctx, "/clear", cc)
	if res.Content != "No active conversation to clear." {
		t.Errorf("clear: %q", res.Content)
	}
	sessions.Resolve(ctx, "telegram", "42")
	res, _ = reg.Dispatch(ctx, "/clear", cc)
	if res.Content != "Conversation cleared. Starting fresh." {
		t.Errorf("clear: %q", res.Content)
	}
}

func TestBuiltinsSkipMissingDeps(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, Builtins{})
	if len(reg.List()) != 1 {
		t.Errorf("only /help expected, got %d commands", len(reg.List()))
	}
}

type fakeMemory struct {
	stored  []string
	records []memory.Record
	err     error
}

func (f *fakeMemory) Remember(_ context.Context, agentID, content, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.stored = append(f.stored, agentID+":"+content)
	return "note_1", nil
}

func (f *fakeMemory) Search(context.Context, string, int, string) ([]memory.Record, error) {
	return f.records, f.err
}

func (f *fakeMemory) Stats(context.Context) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"entities": 3, "relations": 1}, nil
}

func TestMemoryCommands(t *testing.T) {
	ctx := context.Background()
	m := &fakeMemory{records: []memory.Record{{EntityName: "q3", Observations: []string{"budget approved"}}}}
	reg := NewRegistry()
	RegisterMemoryCommands(reg, m)

	res, _ := reg.Dispatch(ctx, "/remember buy milk", &CommandContext{UserID: "sam"})
	if res.Content != `Remembered as "note_1".` || m.stored[0] != "sam:buy milk" {
		t.Errorf("remember: %q %v", res.Content, m.stored)
	}
	res, _ = reg.Dispatch(ctx, "/remember", nil)
	if !strings.HasPrefix(res.Content, "Usage:") {
		t.Errorf("remember without args: %q", res.Content)
	}
	res, _ = reg.Dispatch(ctx, "/recall budget", nil)
	if !strings.Contains(res.Content, "q3: budget approved") {
		t.Errorf("recall: %q", res.Content)
	}
	res, _ = reg.Dispatch(ctx, "/memory", nil)
	if !strings.Contains(res.Content, "entities: 3") {
		t.Errorf("memory: %q", res.Content)
	}

	m.err = memory.ErrUnavailable
	res, _ = reg.Dispatch(ctx, "/memory", nil)
	if !strings.Contains(res.Content, "Memory unavailable") {
		t.Errorf("memory down: %q", res.Content)
	}
}

func TestBridgeCommands(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "echo", Description: "Echo", Usage: "/echo <text>",
		Handler: func(_ context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: cc.Platform + ":" + args}, nil
		}})
	reg.Register(&Command{Name: "boom", Handler: func(context.Context, string, *CommandContext) (*CommandResult, error) {
		return nil, errors.New("boom")
	}})

	tools := agent.NewToolRegistry()
	if n := BridgeCommands(reg, tools, &CommandContext{Platform: "tool"}, "echo"); n != 1 {
		t.Fatalf("bridged %d commands", n)
	}
	out, err := tools.Execute(context.Background(), "cmd_echo", map[string]any{"args": "hi"})
	if err != nil || out != "tool:hi" {
		t.Errorf("cmd_echo = %q, %v", out, err)
	}

	BridgeCommands(reg, tools, &CommandContext{})
	if _, err := tools.Execute(context.Background(), "cmd_boom", nil); err == nil {
		t.Error("expected handler error")
	}
}
