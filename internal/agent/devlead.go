package agent

import (
	"context"

	"github.com/nidhogg/aibrain/internal/reasoning"
)

// RoleDevLead is the engineering specialist.
const RoleDevLead = "dev_lead"

var (
	devHigh = []string{"code", "development", "programming", "architecture", "deploy", "deployment", "security", "performance", "review", "api", "database"}
	devMid  = []string{"technical", "system", "software", "application", "server", "client", "framework", "library"}
)

var devDomains = []keywordGroup{
	{"architecture", []string{"architecture", "design", "system", "microservices", "api", "database design"}},
	{"code_review", []string{"review", "code review", "pull request", "merge", "refactor"}},
	{"deployment", []string{"deploy", "deployment", "docker", "kubernetes", "ci/cd", "devops"}},
	{"performance", []string{"performance", "optimize", "scaling", "bottleneck", "speed"}},
	{"security", []string{"security", "vulnerability", "auth", "encryption", "secure"}},
	{"process", []string{"process", "workflow", "agile", "scrum", "methodology"}},
	{"mentoring", []string{"mentoring", "teach", "learn", "explain", "guide", "junior"}},
}

var devReplies = map[string]domainReply{
	"architecture": {
		intro:  "I'll help you with software architecture and system design.",
		offers: []string{"Design scalable system architectures", "Choose appropriate technology stacks", "Plan API structures and data flows", "Design for high availability and fault tolerance"},
		close:  "What specific architecture challenge are you working on?",
	},
	"code_review": {
		intro:  "I'll help you with code review and quality assurance.",
		offers: []string{"Review code for quality, security, and performance", "Establish code review standards", "Create code review checklists", "Suggest improvements and refactorings"},
		close:  "Do you have specific code you'd like reviewed, or should we set up a review process for your team?",
	},
	"deployment": {
		intro:  "I'll help you with deployment and DevOps strategies.",
		offers: []string{"Design containerization strategies", "Set up CI/CD pipelines", "Plan cloud deployment architectures", "Implement monitoring and logging"},
		close:  "What deployment challenge are you facing?",
	},
	"performance": {
		intro:  "I'll help you with performance optimization and scaling.",
		offers: []string{"Identify performance bottlenecks", "Optimize database queries and schemas", "Implement caching strategies", "Set up performance monitoring"},
		close:  "What performance issues are you seeing?",
	},
	"security": {
		intro:  "I'll help you with security best practices and vulnerability management.",
		offers: []string{"Implement secure authentication systems", "Conduct security code reviews", "Design secure API architectures", "Address known vulnerabilities"},
		close:  "What security concerns do you have?",
	},
	"process": {
		intro:  "I'll help you with development processes and methodologies.",
		offers: []string{"Implement agile development practices", "Design efficient development workflows", "Establish testing and QA processes", "Plan release timelines and milestones"},
		close:  "What development process challenges are you facing?",
	},
	"mentoring": {
		intro:  "I'll help you with technical mentoring and guidance.",
		offers: []string{"Explain technical concepts step by step", "Build learning paths for engineers", "Pair on design decisions", "Set up mentoring programs for the team"},
		close:  "What would you like to learn or explain?",
	},
	"general": {
		intro:  "I'm your Dev Lead, ready to help with all aspects of software development.",
		offers: []string{"Technical architecture and design decisions", "Code quality and best practices", "Technology stack selection", "Performance, scalability, and security planning"},
		close:  "What technical challenge are you working on?",
	},
}

// DevLead is the dev_lead persona. Direct answers come from a per-domain
// table; escalated requests go through the reasoning engine.
type DevLead struct{}

func (DevLead) Profile() Profile {
	p := Profile{
		Role:        RoleDevLead,
		Personality: "technical, strategic, detail-oriented, mentoring",
		Tools:       []string{"github", "gitlab", "docker", "kubernetes", "ci_cd", "code_analysis", "monitoring", "database", "cloud_services"},
		Authority:   "high",
		MaxSteps:    5,
		Temperature: 0.2,
	}
	p.SystemPrompt = defaultSystemPrompt(p)
	return p
}

func (DevLead) Escalates(string, map[string]any) bool { return false }

func (DevLead) Score(request string, _ map[string]any) float64 {
	return tieredScore(request, devHigh, devMid)
}

func (DevLead) Enrich(request string, rctx map[string]any) map[string]any {
	out := copyContext(rctx)
	out["dev_domain"] = DevDomain(request)
	return out
}

func (DevLead) Present(res *reasoning.Result, _ map[string]any) string { return concluded(res) }

func (DevLead) Respond(_ context.Context, _ *Agent, request string, rctx map[string]any) string {
	return devReplies[DevDomain(request)].render(userName(rctx))
}

func (DevLead) Actions(a *Agent) reasoning.Actions { return baseActions{a} }

// DevDomain classifies an engineering request.
func DevDomain(request string) string {
	return classify(request, devDomains, "general")
}
