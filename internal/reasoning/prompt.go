package reasoning

import (
	"fmt"
	"strings"
)

// DefaultGuide describes each action in the preamble. Agents may override
// individual entries to steer the model toward their own handlers.
var DefaultGuide = map[ActionKind]string{
	ActionThink:       "Reason about the problem without taking an external action",
	ActionSearch:      "Look up information in memory or the knowledge base",
	ActionCalculate:   "Run a calculation or analyze numbers",
	ActionCommunicate: "Prepare or send a message or notification",
	ActionDelegate:    "Hand part of the task to another specialist agent",
	ActionUseTool:     "Call one of your tools",
	ActionConclude:    "Give the final answer",
}

// Preamble builds the fixed system prompt for an engine: the agent's own
// prompt, the closed action set and the required output layout.
func Preamble(systemPrompt string, tools []string, guide map[ActionKind]string) string {
	var b strings.Builder
	if systemPrompt != "" {
		b.WriteString(strings.TrimSpace(systemPrompt))
		b.WriteString("\n\n")
	}
	b.WriteString("Work through problems step by step. In each step, think about where you are, ")
	b.WriteString("pick exactly one action, then read its observation before the next step.\n\n")
	b.WriteString("Available Actions:\n")
	for _, k := range AllActions {
		desc := guide[k]
		if desc == "" {
			desc = DefaultGuide[k]
		}
		if k == ActionUseTool && len(tools) > 0 {
			desc += ": " + strings.Join(tools, ", ")
		}
		fmt.Fprintf(&b, "- %s: %s\n", k.Label(), desc)
	}
	b.WriteString("\nRespond in exactly this format:\n")
	b.WriteString("Thought: [your reasoning]\n")
	b.WriteString("Action: [ACTION_TYPE]\n")
	b.WriteString("Action Input: {\"key\": \"value\"}\n\n")
	b.WriteString("When you are done, respond with:\n")
	b.WriteString("Action: CONCLUDE\n")
	b.WriteString("Action Input: {\"result\": \"your final answer\", \"confidence\": 0.95}")
	return b.String()
}

// taskPrompt seeds the first iteration.
func taskPrompt(task string, taskCtx map[string]any) string {
	ctxJSON := "{}"
	if len(taskCtx) > 0 {
		if data, err := json.MarshalIndent(taskCtx, "", "  "); err == nil {
			ctxJSON = string(data)
		}
	}
	return fmt.Sprintf("Task: %s\nContext: %s\n\nBegin your reasoning to accomplish this task.", task, ctxJSON)
}

// continuationPrompt asks for the step after last.
func continuationPrompt(last Step) string {
	return fmt.Sprintf("Previous thought: %s\nPrevious action: %s\nObservation: %s\n\n"+
		"Based on this observation, what should be the next step? Continue reasoning.",
		last.Thought, last.Action, last.Observation)
}

// historyPrompt renders the sliding window of recent steps.
func historyPrompt(steps []Step) string {
	var b strings.Builder
	b.WriteString("\n\nPrevious steps:\n")
	for _, s := range steps {
		fmt.Fprintf(&b, "\nStep %d:\nThought: %s\nAction: %s\nObservation: %s\n",
			s.Number, s.Thought, s.Action, s.Observation)
	}
	return b.String()
}
