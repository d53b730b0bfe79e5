package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/aibrain/internal/memory"
	"github.com/nidhogg/aibrain/internal/reasoning"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RoleDataAnalyst is the analytics specialist.
const RoleDataAnalyst = "data_analyst"

const analystPrompt = `You are the Data Analyst Agent, the specialist for data analysis, insights, and reporting.

PERSONALITY: Analytical, detail-oriented, data-driven, insightful
COMMUNICATION STYLE: Clear, precise, uses data to support recommendations

YOUR EXPERTISE:
- BigQuery and SQL Server analysis
- Statistical analysis and forecasting
- Report generation and KPI monitoring

RESPONSE PATTERN:
1. Acknowledge the data request
2. Identify relevant data sources
3. Present findings clearly with numbers
4. Provide insights and recommendations
5. Suggest follow-up analyses

Always support conclusions with data.`

var analystEscalation = []string{
	"analyze and visualize", "explore and report",
	"investigate patterns", "deep dive",
	"statistical analysis", "correlation", "regression",
	"forecast", "predict", "model",
	"combine data", "merge datasets", "cross-reference",
	"multiple sources", "integrate data",
	"comprehensive report", "detailed analysis",
	"executive summary", "insights and recommendations",
}

var analysisTypes = []keywordGroup{
	{"trend_analysis", []string{"trend", "pattern", "over time"}},
	{"comparative_analysis", []string{"compare", "versus", "difference"}},
	{"predictive_analysis", []string{"forecast", "predict", "projection"}},
	{"summary_analysis", []string{"summary", "overview", "report"}},
	{"anomaly_detection", []string{"anomaly", "outlier", "unusual"}},
}

var (
	analystHigh = []string{"data", "analysis", "analyze", "metrics", "statistics", "report", "kpi", "dashboard", "sql", "query"}
	analystMid  = []string{"numbers", "trend", "chart", "insight", "measure", "average", "growth"}
)

// Analyst is the data_analyst persona. Its CALCULATE action computes real
// statistics over numbers supplied in the action input.
type Analyst struct{}

func (Analyst) Profile() Profile {
	return Profile{
		Role:         RoleDataAnalyst,
		Personality:  "analytical, detail-oriented, data-driven",
		Tools:        []string{"bigquery", "sql_server", "database", "data_analysis", "reporting", "memory"},
		Authority:    "medium",
		SystemPrompt: analystPrompt,
		MaxSteps:     10,
		Temperature:  0.1,
		Guide: map[reasoning.ActionKind]string{
			reasoning.ActionThink:     "Plan the analytical approach or interpret findings",
			reasoning.ActionSearch:    `Look for previous analyses or related data. Input: {"query": "...", "type": "previous_analysis|data"}`,
			reasoning.ActionCalculate: `Compute statistics. Input: {"type": "basic_stats|trend|growth_rate|anomaly", "data": [1, 2, 3]} or {"type": "correlation", "x": [...], "y": [...]} or {"type": "aggregate", "groups": {"a": [1, 2]}}`,
			reasoning.ActionConclude:  "Give the final analysis with key insights and recommendations",
		},
	}
}

func (Analyst) Escalates(request string, rctx map[string]any) bool {
	if containsAny(strings.ToLower(request), analystEscalation) {
		return true
	}
	switch rctx["data_volume"] {
	case "large", "massive":
		return true
	}
	return false
}

func (Analyst) Score(request string, _ map[string]any) float64 {
	return tieredScore(request, analystHigh, analystMid)
}

// AnalysisType classifies request into one of the supported analysis kinds.
func AnalysisType(request string) string {
	return classify(request, analysisTypes, "exploratory_analysis")
}

func (Analyst) Enrich(request string, rctx map[string]any) map[string]any {
	out := copyContext(rctx)
	out["analysis_type"] = AnalysisType(request)
	if _, ok := out["data_sources"]; !ok {
		out["data_sources"] = []string{"bigquery", "memory", "files"}
	}
	if _, ok := out["output_format"]; !ok {
		out["output_format"] = "detailed_report"
	}
	return out
}

func (Analyst) Present(res *reasoning.Result, rctx map[string]any) string {
	if !res.Success {
		return fmt.Sprintf("I encountered challenges analyzing this data. Error: %s", res.Error)
	}
	kind, _ := rctx["analysis_type"].(string)
	if kind == "" {
		kind = "exploratory"
	}
	title := cases.Title(language.English).String(strings.ReplaceAll(kind, "_", " "))

	var b strings.Builder
	b.WriteString("**Data Analysis Report**\n\n**Analysis Summary:**\n")
	b.WriteString(res.FinalAnswer)
	b.WriteString("\n\n**Methodology:**\n")
	fmt.Fprintf(&b, "- Analysis Type: %s\n", title)
	fmt.Fprintf(&b, "- Data Points Analyzed: %d\n", res.Count(reasoning.ActionCalculate))
	fmt.Fprintf(&b, "- Data Sources Queried: %d\n", res.Count(reasoning.ActionSearch))
	fmt.Fprintf(&b, "- Confidence Level: %.0f%%\n", res.Confidence*100)

	var process []string
	for _, s := range res.Chain {
		switch s.Action {
		case reasoning.ActionCalculate, reasoning.ActionSearch, reasoning.ActionUseTool:
			process = append(process, truncate(s.Thought, 100))
		}
		if len(process) == 3 {
			break
		}
	}
	if len(process) > 0 {
		b.WriteString("\n**Key Process Steps:**\n")
		for _, p := range process {
			b.WriteString("- " + p + "\n")
		}
	}
	b.WriteString("\n**Recommendations:**\nBased on this analysis, I recommend focusing on the insights above. Would you like me to dive deeper into any specific aspect?")
	return b.String()
}

func (Analyst) Respond(ctx context.Context, a *Agent, request string, rctx map[string]any) string {
	fallback := fmt.Sprintf("Hi %s! I can help with %s. Share the numbers or the data source "+
		"you'd like me to look at and I'll put together the analysis.",
		userName(rctx), strings.ReplaceAll(AnalysisType(request), "_", " "))
	return llmReply(ctx, a, request, rctx, fallback)
}

func (Analyst) Actions(a *Agent) reasoning.Actions {
	return analystActions{baseActions{a}}
}

type analystActions struct {
	baseActions
}

func (s analystActions) Search(ctx context.Context, params map[string]any) (string, error) {
	query := stringParam(params, "query", "q", "topic")
	if stringParam(params, "type") != "previous_analysis" {
		if s.a.MemoryReady() {
			return s.baseActions.Search(ctx, params)
		}
		return fmt.Sprintf("No connected data source returned results for '%s'. Ask the user for the figures or a dataset.", query), nil
	}
	mem := s.a.memoryClient()
	if mem == nil {
		return "Memory is not available; no previous analyses could be loaded.", nil
	}
	records, err := mem.Search(ctx, query, 5, "analysis")
	if err != nil && !errors.Is(err, memory.ErrUnavailable) {
		return "", fmt.Errorf("previous analysis lookup: %w", err)
	}
	if len(records) == 0 {
		return "No previous analyses found.", nil
	}
	return summarizeRecords(records), nil
}

func (s analystActions) Calculate(ctx context.Context, params map[string]any) (string, error) {
	switch stringParam(params, "type") {
	case "basic_stats":
		return basicStats(numbers(params, "data", "values"))
	case "correlation":
		return correlation(numbers(params, "x"), numbers(params, "y"))
	case "trend", "trend_analysis":
		return trend(numbers(params, "data", "values"))
	case "growth_rate":
		return growthRate(numbers(params, "data", "values"))
	case "anomaly", "anomaly_detection":
		return anomalies(numbers(params, "data", "values"))
	case "aggregate", "aggregation":
		groups, _ := params["groups"].(map[string]any)
		return aggregate(groups)
	}
	return s.baseActions.Calculate(ctx, params)
}
