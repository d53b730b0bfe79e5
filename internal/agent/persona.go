package agent

import (
	"context"
	"strings"

	"github.com/nidhogg/aibrain/internal/reasoning"
)

// Persona supplies everything that differs between agents. The Agent
// holds the shared machinery and asks its persona at each decision point.
type Persona interface {
	Profile() Profile
	// Escalates reports persona-specific reasons to reason step by step.
	Escalates(request string, rctx map[string]any) bool
	// Score is how well suited the persona is to request, in [0,1].
	Score(request string, rctx map[string]any) float64
	// Enrich returns the context handed to the reasoning engine.
	Enrich(request string, rctx map[string]any) map[string]any
	// Present turns a reasoning result into the reply text. For failed
	// results it returns the apology that precedes the direct answer.
	Present(res *reasoning.Result, rctx map[string]any) string
	// Respond answers without reasoning.
	Respond(ctx context.Context, a *Agent, request string, rctx map[string]any) string
	Actions(a *Agent) reasoning.Actions
}

// Profile describes an agent's identity and reasoning budget.
type Profile struct {
	Role         string   `json:"role"`
	Personality  string   `json:"personality"`
	Tools        []string `json:"tools"`
	Authority    string   `json:"authority"`
	SystemPrompt string   `json:"-"`
	MaxSteps     int      `json:"max_steps"`
	Temperature  float64  `json:"temperature"`
	// Coordinator agents may delegate to peers.
	Coordinator bool `json:"coordinator"`
	// Guide overrides the per-action descriptions in the reasoning preamble.
	Guide map[reasoning.ActionKind]string `json:"-"`
}

// escalationKeywords mark requests that benefit from step-by-step
// reasoning regardless of persona.
var escalationKeywords = []string{
	"analyze", "calculate", "compare", "investigate",
	"research", "find out", "determine", "figure out",
	"multiple", "steps", "complex", "detailed",
}

const escalationWordLimit = 20

func baseEscalates(request string, rctx map[string]any) bool {
	if containsAny(strings.ToLower(request), escalationKeywords) {
		return true
	}
	if v, ok := rctx["requires_analysis"].(bool); ok && v {
		return true
	}
	return len(strings.Fields(request)) > escalationWordLimit
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// classify returns the label of the first group whose words appear in
// text, or fallback.
func classify(text string, groups []keywordGroup, fallback string) string {
	lower := strings.ToLower(text)
	for _, g := range groups {
		if containsAny(lower, g.words) {
			return g.label
		}
	}
	return fallback
}

type keywordGroup struct {
	label string
	words []string
}

// tieredScore returns high when text hits the first list, mid for the
// second, and floor otherwise.
func tieredScore(text string, high, mid []string) float64 {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, high):
		return 0.9
	case containsAny(lower, mid):
		return 0.7
	}
	return 0.1
}

func copyContext(rctx map[string]any) map[string]any {
	out := make(map[string]any, len(rctx)+4)
	for k, v := range rctx {
		out[k] = v
	}
	return out
}

func userName(rctx map[string]any) string {
	if s, ok := rctx["user_name"].(string); ok && s != "" {
		return s
	}
	if s, ok := rctx["user_id"].(string); ok && s != "" {
		return s
	}
	return "there"
}
