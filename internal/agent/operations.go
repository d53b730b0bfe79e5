package agent

import (
	"context"

	"github.com/nidhogg/aibrain/internal/reasoning"
)

// RoleOperationsManager is the operations specialist.
const RoleOperationsManager = "operations_manager"

var (
	opsHigh = []string{"project", "operations", "process", "planning", "strategy", "resource", "budget", "vendor", "risk", "compliance"}
	opsMid  = []string{"management", "organize", "coordinate", "schedule", "workflow", "efficiency", "optimize"}
)

var opsDomains = []keywordGroup{
	{"project_management", []string{"project", "timeline", "milestone", "task", "deliverable", "gantt"}},
	{"resource_allocation", []string{"resource", "allocation", "capacity", "staffing", "workload"}},
	{"process_optimization", []string{"process", "workflow", "optimization", "efficiency", "automation"}},
	{"strategic_planning", []string{"strategy", "strategic", "planning", "roadmap", "vision", "goals"}},
	{"risk_management", []string{"risk", "mitigation", "contingency", "threat", "vulnerability"}},
	{"compliance", []string{"compliance", "regulation", "audit", "policy", "standard"}},
	{"vendor_management", []string{"vendor", "supplier", "contract", "procurement", "outsource"}},
	{"budgeting", []string{"budget", "cost", "expense", "financial", "roi", "investment"}},
}

var opsReplies = map[string]domainReply{
	"project_management": {
		intro:  "I'll help you with project management and coordination.",
		offers: []string{"Create comprehensive project plans", "Define scope and deliverables", "Set up timelines and milestones", "Track progress and surface risks"},
		close:  "What project are you working on?",
	},
	"resource_allocation": {
		intro:  "I'll help you with resource allocation and capacity planning.",
		offers: []string{"Assess team capacity and workload", "Balance assignments across projects", "Plan staffing for upcoming work", "Spot over-allocation early"},
		close:  "Which team or project needs resourcing?",
	},
	"process_optimization": {
		intro:  "I'll help you optimize processes and workflows.",
		offers: []string{"Map current workflows", "Identify bottlenecks and waste", "Recommend automation opportunities", "Define metrics to track improvement"},
		close:  "Which process would you like to improve?",
	},
	"strategic_planning": {
		intro:  "I'll help you with strategic planning and execution.",
		offers: []string{"Turn goals into a roadmap", "Set measurable objectives", "Prioritize initiatives", "Plan quarterly reviews"},
		close:  "What goals are you planning around?",
	},
	"risk_management": {
		intro:  "I'll help you identify and manage risks.",
		offers: []string{"Build a risk register", "Assess likelihood and impact", "Draft mitigation and contingency plans", "Set up risk reviews"},
		close:  "What risks are you most concerned about?",
	},
	"compliance": {
		intro:  "I'll help you with compliance and governance.",
		offers: []string{"Review policies against requirements", "Prepare for audits", "Track compliance deadlines", "Document controls and standards"},
		close:  "Which regulation or policy are you working with?",
	},
	"vendor_management": {
		intro:  "I'll help you with vendor management and procurement.",
		offers: []string{"Evaluate and compare vendors", "Review contract terms", "Track vendor performance", "Plan procurement timelines"},
		close:  "Which vendor or purchase are you considering?",
	},
	"budgeting": {
		intro:  "I'll help you with budgeting and financial planning.",
		offers: []string{"Build and review budgets", "Track expenses against plan", "Estimate ROI for investments", "Find cost optimization opportunities"},
		close:  "What budget are you working on?",
	},
	"general": {
		intro:  "I'm your Operations Manager, ready to help with all aspects of business operations.",
		offers: []string{"Operational strategy and planning", "Business process improvement", "Resource optimization and allocation", "Risk, compliance, and vendor management"},
		close:  "What operational challenge are you working on?",
	},
}

// Operations is the operations_manager persona.
type Operations struct{}

func (Operations) Profile() Profile {
	p := Profile{
		Role:        RoleOperationsManager,
		Personality: "strategic, organized, efficient, results-driven",
		Tools:       []string{"project_management", "resource_planning", "budgeting", "analytics", "compliance_tracking", "vendor_systems", "scheduling", "reporting"},
		Authority:   "high",
		MaxSteps:    5,
		Temperature: 0.2,
	}
	p.SystemPrompt = defaultSystemPrompt(p)
	return p
}

func (Operations) Escalates(string, map[string]any) bool { return false }

func (Operations) Score(request string, _ map[string]any) float64 {
	return tieredScore(request, opsHigh, opsMid)
}

func (Operations) Enrich(request string, rctx map[string]any) map[string]any {
	out := copyContext(rctx)
	out["operations_domain"] = OperationsDomain(request)
	return out
}

func (Operations) Present(res *reasoning.Result, _ map[string]any) string { return concluded(res) }

func (Operations) Respond(_ context.Context, _ *Agent, request string, rctx map[string]any) string {
	return opsReplies[OperationsDomain(request)].render(userName(rctx))
}

func (Operations) Actions(a *Agent) reasoning.Actions { return baseActions{a} }

// OperationsDomain classifies an operations request.
func OperationsDomain(request string) string {
	return classify(request, opsDomains, "general")
}
