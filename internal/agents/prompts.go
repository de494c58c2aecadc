package agents

import (
	"fmt"
	"strings"
)

const analyzerSystemPrompt = `You are the "Analyzer" agent for ProbeAI.
Your task is to analyze the user's research query and determine the appropriate research mode.

Modes:
- quick_scan: simple, direct questions or topics that need a high-level overview.
- deep_probe: complex, multi-faceted questions, technical deep-dives, or topics requiring extensive investigation.

Respond with a JSON object: {"mode": "quick_scan" | "deep_probe", "rationale": "<one or two sentences>"}.`

const plannerSystemPrompt = `You are the "Planner" agent for ProbeAI.
Your task is to generate a structured research plan for the user's query.

Generate 5-7 detailed steps for a thorough investigation, mixing search steps and analysis steps.
Each step MUST be verifiable: say what to look for to confirm or refute the information.
Search steps carry one to three focused web search queries.

Respond with a JSON object:
{"rationale": "<why this plan>", "steps": [{"id": "1", "type": "search" | "analyze", "description": "...", "searchQueries": ["..."]}]}`

func plannerPrompt(req PlanRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\nMode: %s\n", req.Query, req.Mode)
	if req.PreviousPlan == nil || len(req.FeedbackHistory) == 0 {
		return sb.String()
	}

	sb.WriteString("\nThe user reviewed the previous plan and asked for changes.\n\nPrevious plan:\n")
	for _, st := range req.PreviousPlan.Steps {
		fmt.Fprintf(&sb, "- [%s] (%s) %s", st.ID, st.Kind(), st.Description)
		if qs := st.SearchQueries(); len(qs) > 0 {
			fmt.Fprintf(&sb, " | queries: %s", strings.Join(qs, "; "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nFeedback, oldest first:\n")
	for i, fb := range req.FeedbackHistory {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, fb.Timestamp.Format("2006-01-02T15:04:05Z07:00"), fb.Content)
	}
	sb.WriteString("\nProduce a revised plan. The rationale must state how the feedback was incorporated.\n")
	return sb.String()
}

func isRegeneration(req PlanRequest) bool {
	return req.PreviousPlan != nil && len(req.FeedbackHistory) > 0
}
