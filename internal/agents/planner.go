package agents

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/llm"
	"github.com/probeai/orchestrator/internal/metrics"
	"github.com/probeai/orchestrator/internal/session"
	"github.com/probeai/orchestrator/internal/validation"
)

// PlanRequest asks for a plan. PreviousPlan and FeedbackHistory together
// request a regeneration.
type PlanRequest struct {
	Query           string
	Mode            session.Mode
	PreviousPlan    *session.ResearchPlan
	FeedbackHistory []session.Feedback
}

// PlanResult is a generated plan, not yet attached to a session.
type PlanResult struct {
	Rationale string
	Steps     []session.PlanStep
	// Fallback is set when the deterministic default plan was returned.
	Fallback bool
}

var errEmptyPlan = errors.New("generated plan has no usable steps")

// Planner turns a query into research steps.
type Planner struct {
	gen    llm.Generator
	logger *zap.Logger
}

func NewPlanner(gen llm.Generator, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{gen: gen, logger: logger}
}

// Generate never fails. quick_scan plans are a single search for the query
// itself; deep_probe plans come from the model, with a two-step default when
// the model is unavailable or its answer is unusable.
func (p *Planner) Generate(ctx context.Context, req PlanRequest) PlanResult {
	if req.Mode == session.ModeQuickScan && !isRegeneration(req) {
		return PlanResult{
			Rationale: "Quick scan: a single search for the query.",
			Steps:     []session.PlanStep{session.NewSearchStep("1", "Search for: "+req.Query, req.Query)},
		}
	}
	if p.gen == nil || !p.gen.Enabled() {
		metrics.GeneratorFallbacks.WithLabelValues(CallerPlanner).Inc()
		return fallbackPlan(req.Query, "Language model is disabled. Providing a default plan.")
	}

	res, err := p.generate(ctx, req)
	if err != nil {
		metrics.GeneratorFallbacks.WithLabelValues(CallerPlanner).Inc()
		p.logger.Warn("Plan generation fell back to the default plan",
			zap.String("mode", string(req.Mode)),
			zap.Bool("regeneration", isRegeneration(req)),
			zap.Error(err),
		)
		return fallbackPlan(req.Query, "Plan generation failed. Providing a default plan.")
	}
	return res
}

func (p *Planner) generate(ctx context.Context, req PlanRequest) (PlanResult, error) {
	var out struct {
		Rationale string             `json:"rationale"`
		Steps     []session.PlanStep `json:"steps"`
	}
	_, err := llm.GenerateJSON(ctx, p.gen, llm.Request{
		System:      plannerSystemPrompt,
		Prompt:      plannerPrompt(req),
		Model:       llm.ModelFlash,
		Temperature: llm.Temperature(0.3),
		Caller:      CallerPlanner,
	}, &out)
	if err != nil {
		return PlanResult{}, err
	}
	steps := validation.NormalizeGenerated(out.Steps)
	if len(steps) == 0 {
		return PlanResult{}, errEmptyPlan
	}
	if err := validation.Steps(steps); err != nil {
		return PlanResult{}, fmt.Errorf("%w: %v", errEmptyPlan, err)
	}
	if !(&session.ResearchPlan{Steps: steps}).Runnable() {
		return PlanResult{}, errEmptyPlan
	}
	rationale := out.Rationale
	if rationale == "" {
		rationale = "Plan generated for the query."
	}
	return PlanResult{Rationale: rationale, Steps: steps}, nil
}

func fallbackPlan(query, rationale string) PlanResult {
	return PlanResult{
		Rationale: rationale,
		Steps: []session.PlanStep{
			session.NewSearchStep("1", "Search for information about: "+query, query),
			session.NewAnalyzeStep("2", "Analyze the search results."),
		},
		Fallback: true,
	}
}
