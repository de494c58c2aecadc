// Package agents holds the language model agents that run before research:
// the mode analyzer and the plan generator.
package agents

// Caller labels passed to llm.Request.Caller. They name the agent in metrics
// and logs.
const (
	CallerAnalyzer   = "analyzer"
	CallerPlanner    = "planner"
	CallerConflicts  = "conflicts"
	CallerSynthesis  = "synthesis"
	CallerVisualizer = "visualizer"
)
