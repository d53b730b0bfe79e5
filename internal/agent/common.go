package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/aibrain/internal/reasoning"
	"go.uber.org/zap"
)

// defaultSystemPrompt is used by personas that ship no prompt of their own.
func defaultSystemPrompt(p Profile) string {
	return fmt.Sprintf(`You are the %s agent in a personal AI brain system.

Your role: %s
Your personality: %s
Your available tools: %s
Your authority level: %s

Key principles:
- Maintain your distinct personality in all responses
- Use only tools available to your role
- Collaborate with other agents when needed
- Be helpful, proactive, and aligned with the user's goals

Respond in character with your specialized expertise.`,
		p.Role, p.Role, p.Personality, strings.Join(p.Tools, ", "), p.Authority)
}

// domainReply is a canned direct answer for one request domain.
type domainReply struct {
	intro  string
	offers []string
	close  string
}

func (d domainReply) render(user string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s! %s\n\nI can help you:\n", user, d.intro)
	for _, o := range d.offers {
		b.WriteString("- " + o + "\n")
	}
	b.WriteString("\n" + d.close)
	return b.String()
}

// concluded is the plain presentation: the final answer, or an apology
// carrying the error when the run failed.
func concluded(res *reasoning.Result) string {
	if res.Success {
		return res.FinalAnswer
	}
	return fmt.Sprintf("I wasn't able to finish reasoning through that (%s).", res.Error)
}

// llmReply asks the agent's model and falls back to text on failure.
func llmReply(ctx context.Context, a *Agent, request string, rctx map[string]any, fallback string) string {
	out, err := a.Ask(ctx, request, rctx)
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			a.logger.Warn("direct completion failed", zap.Error(err))
		}
		return fallback
	}
	return strings.TrimSpace(out)
}

func floatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := evalArithmetic(v); err == nil {
			return f
		}
	}
	return def
}
