package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/aibrain/internal/memory"
	"github.com/nidhogg/aibrain/internal/reasoning"
)

// RolePersonalAssistant is the coordinator role.
const RolePersonalAssistant = "personal_assistant"

const assistantPrompt = `You are the Personal Assistant Agent, the user's primary AI coordinator and chief of staff.

PERSONALITY: Proactive, organized, detail-oriented, anticipates needs
COMMUNICATION STYLE: Professional but warm, addresses the user by name, offers next steps

YOUR RESPONSIBILITIES:
- Daily briefings and agenda management
- Communication triage and routing
- Meeting preparation and follow-up
- Cross-agent workflow coordination
- Proactive suggestions and reminders

COORDINATION AUTHORITY:
- You can delegate to specialized agents (data_analyst, dev_lead, operations_manager)
- You coordinate multi-agent workflows for complex requests
- You maintain context across all agent interactions

RESPONSE PATTERN:
1. Acknowledge the request personally
2. Provide a direct answer or coordinate with specialists
3. Offer proactive next steps`

var assistantEscalation = []string{
	"coordinate with", "work with", "involve multiple",
	"across teams", "different departments",
	"create a plan", "develop strategy", "organize project",
	"schedule multiple", "complex workflow",
	"analyze and report", "investigate and summarize",
	"research and present", "gather and compile",
	"help me decide", "what should i", "recommend based on",
	"evaluate options", "compare alternatives",
}

var assistantKeywords = []string{
	"schedule", "calendar", "meeting", "remind", "email", "task",
	"todo", "plan", "organize", "briefing", "agenda",
}

// Assistant is the personal_assistant persona. It coordinates the other
// agents and answers general requests through the model.
type Assistant struct{}

func (Assistant) Profile() Profile {
	return Profile{
		Role:         RolePersonalAssistant,
		Personality:  "proactive, organized, detail-oriented",
		Tools:        []string{"calendar", "task_management", "email", "memory", "filesystem", "communication"},
		Authority:    "high",
		SystemPrompt: assistantPrompt,
		MaxSteps:     7,
		Temperature:  0.3,
		Coordinator:  true,
		Guide: map[reasoning.ActionKind]string{
			reasoning.ActionThink:       "Reason about the user's needs and priorities",
			reasoning.ActionSearch:      `Search memory for context or preferences. Input: {"query": "...", "type": "memory|preferences"}`,
			reasoning.ActionCalculate:   `Estimate time or priorities. Input: {"type": "schedule_estimate", "tasks": [{"duration": 30}]} or {"type": "priority_score", "urgency": 8, "importance": 6} or {"expression": "2*(3+4)"}`,
			reasoning.ActionCommunicate: `Draft or send a message. Input: {"message": "...", "recipient": "...", "platform": "slack|discord|telegram", "channel": "..."}`,
			reasoning.ActionDelegate:    `Route to a specialist. Input: {"agent": "data_analyst|dev_lead|operations_manager", "task": "..."}`,
		},
	}
}

func (Assistant) Escalates(request string, _ map[string]any) bool {
	return containsAny(strings.ToLower(request), assistantEscalation)
}

func (Assistant) Score(request string, _ map[string]any) float64 {
	if containsAny(strings.ToLower(request), assistantKeywords) {
		return 0.8
	}
	return 0.5
}

func (Assistant) Enrich(_ string, rctx map[string]any) map[string]any {
	return copyContext(rctx)
}

func (Assistant) Present(res *reasoning.Result, _ map[string]any) string {
	if !res.Success {
		return concluded(res)
	}
	out := res.FinalAnswer
	if res.Confidence < 0.8 {
		out += fmt.Sprintf("\n\n(I went through %d reasoning steps to arrive at this answer. Confidence level: %.0f%%)",
			res.StepsTaken, res.Confidence*100)
	}
	return out
}

func (Assistant) Respond(ctx context.Context, a *Agent, request string, rctx map[string]any) string {
	fallback := fmt.Sprintf("Hi %s! I'm having trouble reaching my language model right now. "+
		"I've noted your request and can try again shortly.", userName(rctx))
	return llmReply(ctx, a, request, rctx, fallback)
}

func (Assistant) Actions(a *Agent) reasoning.Actions {
	return assistantActions{baseActions{a}}
}

type assistantActions struct {
	baseActions
}

func (s assistantActions) Search(ctx context.Context, params map[string]any) (string, error) {
	if stringParam(params, "type") != "preferences" {
		return s.baseActions.Search(ctx, params)
	}
	category := stringParam(params, "category")
	query := "preference"
	if category != "" {
		query = category + " preference"
	}
	mem := s.a.memoryClient()
	if mem == nil {
		return "Memory is not available; no preferences could be loaded.", nil
	}
	records, err := mem.Search(ctx, query, 10, "preference")
	if err != nil && !errors.Is(err, memory.ErrUnavailable) {
		return "", fmt.Errorf("preference lookup: %w", err)
	}
	if len(records) == 0 {
		return "No preferences found for this category.", nil
	}
	if category == "" {
		category = "all"
	}
	return fmt.Sprintf("Found %d user preferences in category '%s'. %s", len(records), category, summarizeRecords(records)), nil
}

func (s assistantActions) Calculate(ctx context.Context, params map[string]any) (string, error) {
	switch stringParam(params, "type") {
	case "schedule_estimate":
		tasks, _ := params["tasks"].([]any)
		total := 0.0
		for _, t := range tasks {
			task, _ := t.(map[string]any)
			total += floatParam(task, "duration", 30)
		}
		return fmt.Sprintf("Estimated total time: %s minutes (%.1f hours)", formatNumber(total), total/60), nil
	case "priority_score":
		urgency := floatParam(params, "urgency", 5)
		importance := floatParam(params, "importance", 5)
		return fmt.Sprintf("Priority score: %.1f/10", urgency*0.6+importance*0.4), nil
	}
	return s.baseActions.Calculate(ctx, params)
}
