package reasoning

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/aibrain/internal/provider"
	"go.uber.org/zap"
)

// scriptedPort replays canned completions and records every call.
type scriptedPort struct {
	mu        sync.Mutex
	responses []string
	repeat    string
	err       error
	calls     int
	histories [][]provider.Message
	system    string
}

func (s *scriptedPort) Complete(_ context.Context, system string, history []provider.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.system = system
	s.histories = append(s.histories, history)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) > 0 {
		r := s.responses[0]
		s.responses = s.responses[1:]
		return r, nil
	}
	return s.repeat, nil
}

type stubActions struct {
	searchErr   error
	panicOnCalc bool
	block       bool
	seen        []map[string]any
}

func (a *stubActions) Search(_ context.Context, p map[string]any) (string, error) {
	a.seen = append(a.seen, p)
	if a.searchErr != nil {
		return "", a.searchErr
	}
	return "found 2 notes", nil
}

func (a *stubActions) Calculate(ctx context.Context, _ map[string]any) (string, error) {
	if a.panicOnCalc {
		panic("divide by zero")
	}
	if a.block {
		time.Sleep(time.Second)
	}
	return "42", nil
}

func (a *stubActions) Communicate(context.Context, map[string]any) (string, error) { return "sent", nil }
func (a *stubActions) Delegate(context.Context, map[string]any) (string, error)    { return "delegated", nil }
func (a *stubActions) UseTool(context.Context, map[string]any) (string, error)     { return "tool ok", nil }

func newTestEngine(port CompletionPort, actions Actions, cfg Config) *Engine {
	return NewEngine(port, actions, Preamble("You are a test agent.", []string{"calendar"}, nil), cfg, zap.NewNop())
}

const thinkReply = "Thought: ok\nAction: THINK\nAction Input: {}"

func concludeReply(result string, confidence string) string {
	return "Thought: done\nAction: CONCLUDE\nAction Input: {\"result\": \"" + result + "\", \"confidence\": " + confidence + "}"
}

func TestRunConcludesImmediately(t *testing.T) {
	port := &scriptedPort{responses: []string{concludeReply("42", "0.9")}}
	res := newTestEngine(port, &stubActions{}, Config{MaxSteps: 5}).Run(context.Background(), "what is 6*7", nil)

	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.StepsTaken != 1 || res.FinalAnswer != "42" || res.Confidence != 0.9 {
		t.Errorf("unexpected result %+v", res)
	}
	if !res.Chain[0].Final || res.Chain[0].Action != ActionConclude {
		t.Errorf("expected terminal conclude step, got %+v", res.Chain[0])
	}
}

func TestRunBudgetExhausted(t *testing.T) {
	port := &scriptedPort{repeat: thinkReply}
	res := newTestEngine(port, &stubActions{}, Config{MaxSteps: 3}).Run(context.Background(), "summarize X", nil)

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.StepsTaken != 3 {
		t.Errorf("expected 3 steps, got %d", res.StepsTaken)
	}
	if port.calls != 3 {
		t.Errorf("expected exactly 3 completions, got %d", port.calls)
	}
	if res.Failure != FailureBudgetExhausted || res.Error != ErrBudgetExhausted.Error() {
		t.Errorf("expected budget exhaustion, got %s / %q", res.Failure, res.Error)
	}
	for _, s := range res.Chain {
		if s.Observation != "Thought recorded. Continue reasoning." {
			t.Errorf("unexpected think observation %q", s.Observation)
		}
	}
}

func TestRunConcludesAtEveryPosition(t *testing.T) {
	const maxSteps = 6
	for n := 1; n <= maxSteps; n++ {
		responses := make([]string, 0, n)
		for i := 1; i < n; i++ {
			responses = append(responses, thinkReply)
		}
		responses = append(responses, concludeReply("done", "0.7"))

		res := newTestEngine(&scriptedPort{responses: responses}, &stubActions{}, Config{MaxSteps: maxSteps}).
			Run(context.Background(), "task", nil)
		if !res.Success || res.StepsTaken != n {
			t.Errorf("conclude at %d: success=%v steps=%d", n, res.Success, res.StepsTaken)
		}
	}
}

func TestRunStepNumbersAreGapless(t *testing.T) {
	port := &scriptedPort{responses: []string{
		"Thought: look\nAction: SEARCH\nAction Input: {\"query\": \"q\"}",
		"Thought: math\nAction: CALCULATE\nAction Input: {}",
		"Thought: garbage\nAction: FOOBAR",
		"no markers at all",
		"Thought: tool\nAction: USE_TOOL\nAction Input: {\"tool\": \"calendar\"}",
		concludeReply("ok", "0.8"),
	}}
	actions := &stubActions{searchErr: errors.New("memory offline"), panicOnCalc: true}
	res := newTestEngine(port, actions, Config{MaxSteps: 10}).Run(context.Background(), "task", nil)

	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	for i, s := range res.Chain {
		if s.Number != i+1 {
			t.Fatalf("step %d has number %d", i, s.Number)
		}
	}
	if got := res.Chain[0].Observation; got != "Error executing action: memory offline" {
		t.Errorf("unexpected search observation %q", got)
	}
	if got := res.Chain[1].Observation; !strings.HasPrefix(got, "Error executing action:") {
		t.Errorf("expected panic converted to observation, got %q", got)
	}
	if res.Chain[2].Action != ActionThink || res.Chain[2].Parse != StatusMalformed {
		t.Errorf("expected malformed think, got %+v", res.Chain[2])
	}
	if res.Chain[4].Observation != "tool ok" {
		t.Errorf("unexpected tool observation %q", res.Chain[4].Observation)
	}
}

func TestRunHistoryWindow(t *testing.T) {
	port := &scriptedPort{repeat: thinkReply}
	newTestEngine(port, &stubActions{}, Config{MaxSteps: 5}).
		Run(context.Background(), "plan my week", map[string]any{"user_id": "u1"})

	first := port.histories[0]
	if len(first) != 1 || !strings.HasPrefix(first[0].Content, "Task: plan my week\nContext: {") {
		t.Fatalf("unexpected first prompt %+v", first)
	}
	if !strings.Contains(first[0].Content, `"user_id": "u1"`) {
		t.Errorf("context not rendered: %s", first[0].Content)
	}

	last := port.histories[4]
	if len(last) != 2 {
		t.Fatalf("expected continuation plus history, got %d messages", len(last))
	}
	if !strings.HasPrefix(last[0].Content, "Previous thought: ok") {
		t.Errorf("unexpected continuation %q", last[0].Content)
	}
	window := last[1].Content
	if strings.Contains(window, "Step 1:") || !strings.Contains(window, "Step 2:") || !strings.Contains(window, "Step 4:") {
		t.Errorf("expected steps 2-4 only, got %q", window)
	}
	if !strings.Contains(port.system, "USE_TOOL") || !strings.Contains(port.system, "calendar") {
		t.Errorf("preamble missing actions or tools: %q", port.system)
	}
}

func TestRunCompletionError(t *testing.T) {
	port := &scriptedPort{err: errors.New("provider down")}
	res := newTestEngine(port, &stubActions{}, Config{MaxSteps: 3}).Run(context.Background(), "task", nil)

	if res.Success || res.Failure != FailureCompletion {
		t.Fatalf("expected completion failure, got %+v", res)
	}
	if res.StepsTaken != 0 || res.Error != "provider down" {
		t.Errorf("unexpected result %+v", res)
	}
}

type slowPort struct{}

func (slowPort) Complete(ctx context.Context, _ string, _ []provider.Message) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRunDeadline(t *testing.T) {
	res := newTestEngine(slowPort{}, &stubActions{}, Config{MaxSteps: 3, RunTimeout: 20 * time.Millisecond}).
		Run(context.Background(), "task", nil)
	if res.Failure != FailureDeadlineExceeded {
		t.Fatalf("expected deadline failure, got %s (%s)", res.Failure, res.Error)
	}
}

func TestRunActionTimeoutBecomesObservation(t *testing.T) {
	port := &scriptedPort{responses: []string{
		"Thought: slow\nAction: CALCULATE\nAction Input: {}",
		concludeReply("fine", "0.6"),
	}}
	res := newTestEngine(port, &stubActions{block: true}, Config{MaxSteps: 3, ActionTimeout: 10 * time.Millisecond}).
		Run(context.Background(), "task", nil)
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if !strings.Contains(res.Chain[0].Observation, "timed out") {
		t.Errorf("expected timeout observation, got %q", res.Chain[0].Observation)
	}
}

func TestConcludeDefaults(t *testing.T) {
	port := &scriptedPort{responses: []string{"Thought: t\nAction: CONCLUDE\nAction Input: {}"}}
	res := newTestEngine(port, &stubActions{}, Config{MaxSteps: 2}).Run(context.Background(), "task", nil)
	if res.FinalAnswer != "No conclusion provided" || res.Confidence != 0.5 {
		t.Errorf("unexpected defaults: %q %v", res.FinalAnswer, res.Confidence)
	}

	port = &scriptedPort{responses: []string{concludeReply("x", "\"1.7\"")}}
	res = newTestEngine(port, &stubActions{}, Config{MaxSteps: 2}).Run(context.Background(), "task", nil)
	if res.Confidence != 1 {
		t.Errorf("expected clamped confidence, got %v", res.Confidence)
	}

	for _, raw := range []string{`"NaN"`, `"nan"`, `"-Inf"`, `"+Inf"`} {
		port = &scriptedPort{responses: []string{concludeReply("x", raw)}}
		res = newTestEngine(port, &stubActions{}, Config{MaxSteps: 2}).Run(context.Background(), "task", nil)
		if !res.Success || res.Confidence != 0.5 {
			t.Errorf("confidence %s: expected default 0.5, got %v (success=%v)", raw, res.Confidence, res.Success)
		}
	}
}
