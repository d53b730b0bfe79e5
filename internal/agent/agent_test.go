package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nidhogg/aibrain/internal/config"
	"github.com/nidhogg/aibrain/internal/memory"
	"github.com/nidhogg/aibrain/internal/provider"
	"github.com/nidhogg/aibrain/internal/reasoning"
	"go.uber.org/zap"
)

type scriptedPort struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (s *scriptedPort) Complete(context.Context, string, []provider.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "Thought: ok\nAction: THINK\nAction Input: {}", nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

type recordingNotifier struct {
	platform, channel, text string
}

func (n *recordingNotifier) Notify(_ context.Context, platform, channel, text string) error {
	n.platform, n.channel, n.text = platform, channel, text
	return nil
}

func TestShouldEscalate(t *testing.T) {
	assistant := New(Assistant{}, Deps{}, zap.NewNop())
	analyst := New(Analyst{}, Deps{}, zap.NewNop())
	dev := New(DevLead{}, Deps{}, zap.NewNop())

	long := strings.Repeat("word ", 21)
	cases := []struct {
		name    string
		agent   *Agent
		request string
		ctx     map[string]any
		want    bool
	}{
		{"base keyword", dev, "Please investigate the outage", nil, true},
		{"requires analysis", dev, "hello", map[string]any{"requires_analysis": true}, true},
		{"long request", dev, long, nil, true},
		{"short greeting", dev, "hello there", nil, false},
		{"assistant phrase", assistant, "Help me decide on a venue", nil, true},
		{"assistant plain", assistant, "what time is it", nil, false},
		{"analyst phrase", analyst, "build a forecast for Q3", nil, true},
		{"analyst volume", analyst, "look at sales", map[string]any{"data_volume": "massive"}, true},
		{"analyst small", analyst, "look at sales", map[string]any{"data_volume": "small"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.agent.ShouldEscalate(tc.request, tc.ctx); got != tc.want {
				t.Errorf("ShouldEscalate(%q) = %v, want %v", tc.request, got, tc.want)
			}
		})
	}
}

func TestShouldHandleTiers(t *testing.T) {
	dev := New(DevLead{}, Deps{}, zap.NewNop())
	ops := New(Operations{}, Deps{}, zap.NewNop())
	if got := dev.ShouldHandle("review this code", nil); got != 0.9 {
		t.Errorf("dev high tier = %v", got)
	}
	if got := dev.ShouldHandle("which framework", nil); got != 0.7 {
		t.Errorf("dev mid tier = %v", got)
	}
	if got := ops.ShouldHandle("plan the vendor budget", nil); got != 0.9 {
		t.Errorf("ops high tier = %v", got)
	}
	if got := ops.ShouldHandle("nice weather", nil); got != 0.1 {
		t.Errorf("ops floor = %v", got)
	}
}

func TestHandleDirect(t *testing.T) {
	dev := New(DevLead{}, Deps{}, zap.NewNop())
	resp := dev.Handle(context.Background(), "how should we deploy to kubernetes", map[string]any{"user_name": "Ada"})

	if !strings.HasPrefix(resp.Response, "Hi Ada! I'll help you with deployment") {
		t.Errorf("unexpected response: %q", resp.Response)
	}
	if len(resp.Actions) != 1 || resp.Actions[0] != "direct_response" {
		t.Errorf("actions = %v", resp.Actions)
	}
	if resp.Confidence != 1.0 || resp.Agent != RoleDevLead {
		t.Errorf("confidence/agent = %v/%s", resp.Confidence, resp.Agent)
	}
}

func TestHandleReasoningSuccess(t *testing.T) {
	port := &scriptedPort{responses: []string{
		"Thought: weigh the report\nAction: CALCULATE\nAction Input: {\"type\": \"priority_score\", \"urgency\": 8, \"importance\": 6}",
		"Thought: done\nAction: CONCLUDE\nAction Input: {\"result\": \"Do the report first\", \"confidence\": 0.6}",
	}}
	pa := New(Assistant{}, Deps{Completer: port}, zap.NewNop())

	resp := pa.Handle(context.Background(), "Help me decide what to tackle first", nil)
	if resp.Actions[0] != "react_reasoning" {
		t.Fatalf("actions = %v (error %q)", resp.Actions, resp.Error)
	}
	if !strings.HasPrefix(resp.Response, "Do the report first") {
		t.Errorf("response = %q", resp.Response)
	}
	if !strings.Contains(resp.Response, "I went through 2 reasoning steps") || !strings.Contains(resp.Response, "Confidence level: 60%") {
		t.Errorf("missing confidence note: %q", resp.Response)
	}
	if resp.StepsTaken != 2 || len(resp.Chain) != 2 {
		t.Fatalf("steps = %d chain = %d", resp.StepsTaken, len(resp.Chain))
	}
	if obs := resp.Chain[0].Observation; obs != "Priority score: 7.2/10" {
		t.Errorf("calculate observation = %q", obs)
	}
}

func TestHandleReasoningFailure(t *testing.T) {
	port := &scriptedPort{err: errors.New("provider down")}
	da := New(Analyst{}, Deps{Completer: port}, zap.NewNop())

	resp := da.Handle(context.Background(), "run a statistical analysis of churn", nil)
	if resp.Actions[0] != "reasoning_failed" {
		t.Fatalf("actions = %v", resp.Actions)
	}
	if resp.Failure != reasoning.FailureCompletion || resp.Error != "provider down" {
		t.Errorf("failure = %q error = %q", resp.Failure, resp.Error)
	}
	if !strings.HasPrefix(resp.Response, "I encountered challenges analyzing this data. Error: provider down") {
		t.Errorf("response = %q", resp.Response)
	}
	if !strings.Contains(resp.Response, "\n\nHi there!") {
		t.Errorf("fallback answer not appended: %q", resp.Response)
	}
	if resp.Confidence != 0 {
		t.Errorf("confidence = %v", resp.Confidence)
	}
}

func TestAnalystPresentReport(t *testing.T) {
	res := &reasoning.Result{
		Success:     true,
		FinalAnswer: "Revenue grew 21%.",
		Confidence:  0.9,
		Chain: []reasoning.Step{
			{Action: reasoning.ActionSearch, Thought: "look for prior work"},
			{Action: reasoning.ActionCalculate, Thought: "compute growth"},
			{Action: reasoning.ActionConclude, Thought: "done"},
		},
	}
	out := Analyst{}.Present(res, Analyst{}.Enrich("show the trend over time", nil))
	for _, want := range []string{
		"**Data Analysis Report**",
		"Revenue grew 21%.",
		"Analysis Type: Trend Analysis",
		"Data Points Analyzed: 1",
		"Data Sources Queried: 1",
		"Confidence Level: 90%",
		"- compute growth",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestAnalystEnrichDefaults(t *testing.T) {
	out := Analyst{}.Enrich("compare regions", map[string]any{"output_format": "table"})
	if out["analysis_type"] != "comparative_analysis" {
		t.Errorf("analysis_type = %v", out["analysis_type"])
	}
	if out["output_format"] != "table" {
		t.Errorf("output_format overwritten: %v", out["output_format"])
	}
	if src, _ := out["data_sources"].([]string); len(src) != 3 {
		t.Errorf("data_sources = %v", out["data_sources"])
	}
}

func TestAnalystCalculate(t *testing.T) {
	acts := Analyst{}.Actions(nil)
	ctx := context.Background()
	series := func(v ...float64) []any {
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out
	}

	cases := []struct {
		params map[string]any
		want   string
	}{
		{map[string]any{"type": "basic_stats", "data": series(1, 2, 3, 4)}, "mean 2.50"},
		{map[string]any{"type": "trend", "data": series(1, 2, 3, 4)}, "upward, slope 1.000"},
		{map[string]any{"type": "correlation", "x": series(1, 2, 3), "y": series(2, 4, 6)}, "1.00 (strong positive)"},
		{map[string]any{"type": "growth_rate", "data": series(100, 121)}, "Growth: 21.0%"},
		{map[string]any{"type": "anomaly", "data": series(10, 10, 10, 10, 10, 10, 10, 10, 10, 50)}, "Detected 1 anomalies: index 9 value 50.00 (z=3.00)"},
		{map[string]any{"type": "aggregate", "groups": map[string]any{"a": series(1, 1), "b": 2.0}}, "a: 2.00 (50%), b: 2.00 (50%)"},
		{map[string]any{"expression": "(2+3)*4"}, "(2+3)*4 = 20"},
	}
	for _, tc := range cases {
		out, err := acts.Calculate(ctx, tc.params)
		if err != nil {
			t.Errorf("%v: %v", tc.params["type"], err)
			continue
		}
		if !strings.Contains(out, tc.want) {
			t.Errorf("%v: got %q, want %q", tc.params["type"], out, tc.want)
		}
	}

	if _, err := acts.Calculate(ctx, map[string]any{"type": "correlation", "x": series(1, 2), "y": series(1)}); err == nil {
		t.Error("expected error for mismatched series")
	}
}

func TestEvalArithmetic(t *testing.T) {
	good := map[string]float64{
		"2*(3+4)": 14,
		"2**10":   1024,
		"-3+1.5":  -1.5,
		"10 % 4":  2,
		"1/4":     0.25,
		"(((1)))": 1,
	}
	for expr, want := range good {
		got, err := evalArithmetic(expr)
		if err != nil || got != want {
			t.Errorf("%s = %v, %v; want %v", expr, got, err, want)
		}
	}
	for _, expr := range []string{"", "7/0", "os.Exit(1)", "x+1", `"a"+"b"`, "1 <<"} {
		if _, err := evalArithmetic(expr); err == nil {
			t.Errorf("%q: expected error", expr)
		}
	}
}

func TestDelegateToPeer(t *testing.T) {
	pa := New(Assistant{}, Deps{}, zap.NewNop())
	dev := New(DevLead{}, Deps{}, zap.NewNop())
	pa.RegisterPeer(dev)
	dev.RegisterPeer(pa) // non-coordinators keep no peers

	if got := dev.Peers(); len(got) != 0 {
		t.Errorf("dev_lead should not hold peers: %v", got)
	}
	acts := pa.persona.Actions(pa)
	out, err := acts.Delegate(context.Background(), map[string]any{"agent": "dev_lead", "task": "review my pull request"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "dev_lead responded: Hi there! I'll help you with code review") {
		t.Errorf("delegate observation = %q", out)
	}

	out, err = acts.Delegate(context.Background(), map[string]any{"agent": "hr_director", "task": "hire"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Specialist hr_director not available. Available agents: dev_lead" {
		t.Errorf("missing-peer observation = %q", out)
	}
}

func TestCollaborateAnnotatesContext(t *testing.T) {
	pa := New(Assistant{}, Deps{}, zap.NewNop())
	ops := New(Operations{}, Deps{}, zap.NewNop())
	resp := pa.Collaborate(context.Background(), ops, "draft a vendor contract checklist", "", map[string]any{"user_name": "Lee"})
	if resp.Agent != RoleOperationsManager || !strings.HasPrefix(resp.Response, "Hi Lee! I'll help you with vendor management") {
		t.Errorf("collaborate response = %+v", resp)
	}
}

func TestCommunicate(t *testing.T) {
	n := &recordingNotifier{}
	pa := New(Assistant{}, Deps{Notifier: n}, zap.NewNop())
	acts := pa.persona.Actions(pa)

	out, err := acts.Communicate(context.Background(), map[string]any{"message": "standup moved", "platform": "slack", "channel": "C1"})
	if err != nil {
		t.Fatal(err)
	}
	if n.platform != "slack" || n.channel != "C1" || n.text != "standup moved" {
		t.Errorf("notifier got %+v", n)
	}
	if out != "Message sent to C1 on slack." {
		t.Errorf("observation = %q", out)
	}

	out, _ = acts.Communicate(context.Background(), map[string]any{"message": "hi", "recipient": "Sam", "method": "email"})
	if out != "Message prepared for Sam via email: 'hi'" {
		t.Errorf("prepared observation = %q", out)
	}
}

func TestSchedulePriorityCalculations(t *testing.T) {
	acts := Assistant{}.Actions(nil)
	out, err := acts.Calculate(context.Background(), map[string]any{
		"type":  "schedule_estimate",
		"tasks": []any{map[string]any{"duration": 45.0}, map[string]any{}},
	})
	if err != nil || out != "Estimated total time: 75 minutes (1.2 hours)" {
		t.Errorf("schedule_estimate = %q, %v", out, err)
	}
}

type stubDirectory []Info

func (d stubDirectory) Infos() []Info { return d }

func TestToolRegistry(t *testing.T) {
	reg := NewToolRegistry()
	RegisterBuiltinTools(reg, stubDirectory{{Role: "dev_lead", Authority: "high"}}, nil)

	names := reg.Names()
	if len(names) != 4 || names[0] != "get_current_time" {
		t.Fatalf("names = %v", names)
	}
	out, err := reg.Execute(context.Background(), "list_agents", nil)
	if err != nil || !strings.Contains(out, `"role":"dev_lead"`) {
		t.Errorf("list_agents = %q, %v", out, err)
	}
	if _, err := reg.Execute(context.Background(), "memory_stats", nil); !errors.Is(err, memory.ErrUnavailable) {
		t.Errorf("memory_stats without memory: %v", err)
	}
	_, err = reg.Execute(context.Background(), "nope", nil)
	if err == nil || !strings.Contains(err.Error(), "available: get_current_time, list_agents") {
		t.Errorf("unknown tool error = %v", err)
	}

	dev := New(DevLead{}, Deps{Tools: reg}, zap.NewNop())
	out, err = dev.persona.Actions(dev).UseTool(context.Background(), map[string]any{"tool": "get_current_time"})
	if err != nil || !strings.Contains(out, "utc_time") {
		t.Errorf("use_tool = %q, %v", out, err)
	}
	if info := dev.Info(); !strings.Contains(strings.Join(info.Tools, ","), "get_current_time") {
		t.Errorf("registered tools not listed: %v", info.Tools)
	}
}

func TestMemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewClient(memory.NewLocalBridge(), memory.Options{}, zap.NewNop())
	dev := New(DevLead{}, Deps{Memory: mem, MemoryEnabled: true}, zap.NewNop())

	if dev.MemoryReady() {
		t.Fatal("memory must initialise lazily")
	}
	dev.Handle(ctx, "how do we deploy the api", nil)
	if !dev.Info().MemoryInitialized {
		t.Fatal("memory not initialised after first request")
	}
	recent := dev.RecentMemories()
	if len(recent) != 1 || !strings.HasPrefix(recent[0].Observations[0], "User request: how do we deploy the api | Agent response: Hi there!") {
		t.Fatalf("recent = %+v", recent)
	}
	found, err := dev.Recall(ctx, "deploy", 3)
	if err != nil || len(found) != 1 {
		t.Errorf("recall = %v, %v", found, err)
	}
	if !strings.HasPrefix(dev.MemorySummary(), "Recent memories:\n- dev_lead_") {
		t.Errorf("summary = %q", dev.MemorySummary())
	}

	if err := dev.CreateEntity(ctx, "payments_service", "service", []string{"owns billing"}, nil); err != nil {
		t.Fatal(err)
	}
	rec, err := mem.Get(ctx, "payments_service")
	if err != nil || rec == nil || rec.Metadata["agent_role"] != RoleDevLead {
		t.Errorf("entity metadata = %+v, %v", rec, err)
	}

	dev.DetachMemory()
	if dev.MemoryReady() {
		t.Error("still ready after detach")
	}
	if err := dev.Remember(ctx, "x", ""); !errors.Is(err, memory.ErrUnavailable) {
		t.Errorf("remember after detach = %v", err)
	}
	if dev.MemorySummary() != "No recent memories available." {
		t.Errorf("summary after detach = %q", dev.MemorySummary())
	}
	resp := dev.Handle(ctx, "how do we deploy the api", nil)
	if resp.Actions[0] != "direct_response" {
		t.Errorf("detached agent should still answer: %+v", resp)
	}
}

func TestBuildRoster(t *testing.T) {
	off := false
	temp := 0.9
	cfg := config.AgentsConfig{Roster: []config.AgentConfig{
		{Role: RoleDataAnalyst, Enabled: &off},
		{Role: RoleDevLead, MaxSteps: 3, Temperature: &temp},
	}}
	var seen []string
	agents, err := BuildRoster(cfg, Deps{}, func(p Profile, _ config.AgentConfig) reasoning.CompletionPort {
		seen = append(seen, p.Role)
		return &scriptedPort{}
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if len(agents) != 3 || agents[0].Role() != RolePersonalAssistant || !agents[0].CanDelegate() {
		t.Fatalf("roster = %v", seen)
	}
	dev := agents[1]
	if dev.Role() != RoleDevLead || dev.Profile().MaxSteps != 3 || dev.Profile().Temperature != 0.9 {
		t.Errorf("overrides not applied: %+v", dev.Profile())
	}
	if dev.Engine().Config().MaxSteps != 3 {
		t.Errorf("engine max steps = %d", dev.Engine().Config().MaxSteps)
	}

	_, err = BuildRoster(config.AgentsConfig{Roster: []config.AgentConfig{{Role: "hr_director"}}}, Deps{}, nil, zap.NewNop())
	if err == nil {
		t.Error("expected unknown role error")
	}
}

func TestLoadProfileOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, RoleDevLead), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, RoleDevLead, "SOUL.md"), []byte("You are terse.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, RoleDevLead, "GOALS.md"), []byte("Ship weekly."), 0o644); err != nil {
		t.Fatal(err)
	}
	dev := New(DevLead{}, Deps{ProfileDir: dir}, zap.NewNop())
	if got := dev.SystemPrompt(); got != "You are terse.\n\n---\n\nShip weekly." {
		t.Errorf("system prompt = %q", got)
	}
	if !strings.HasPrefix(dev.Engine().Preamble(), "You are terse.") {
		t.Error("preamble does not use the override")
	}
	if LoadProfile("", RoleDevLead) != "" {
		t.Error("empty dir should yield no override")
	}
}
