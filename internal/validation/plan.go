// Package validation checks user and model supplied research input.
package validation

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/probeai/orchestrator/internal/session"
)

const (
	// MinQueryLength is the shortest accepted research query, after trimming.
	MinQueryLength = 3
	// MaxQueryLength bounds what is sent to providers.
	MaxQueryLength = 2000
	// MaxPlanSteps is the largest plan kept after normalization.
	MaxPlanSteps = 7
)

// Query trims q and checks its length.
func Query(q string) (string, error) {
	q = strings.TrimSpace(q)
	n := utf8.RuneCountInString(q)
	if n < MinQueryLength {
		return "", &session.ValidationError{Field: "query", Reason: fmt.Sprintf("must be at least %d characters", MinQueryLength)}
	}
	if n > MaxQueryLength {
		return "", &session.ValidationError{Field: "query", Reason: fmt.Sprintf("must be at most %d characters", MaxQueryLength)}
	}
	return q, nil
}

// Feedback trims text and requires it to be non-empty.
func Feedback(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &session.ValidationError{Field: "feedback", Reason: "must not be empty"}
	}
	return text, nil
}

// Steps checks a user supplied step list: it must be non-empty, ids must be
// present and unique, and every search step needs a non-blank query.
// Unknown step types are rejected when the steps are decoded.
func Steps(steps []session.PlanStep) error {
	if len(steps) == 0 {
		return &session.ValidationError{Field: "steps", Reason: "plan must contain at least one step"}
	}
	seen := make(map[string]struct{}, len(steps))
	for i, st := range steps {
		id := strings.TrimSpace(st.ID)
		if id == "" {
			return &session.ValidationError{Field: "steps", Reason: fmt.Sprintf("step %d has no id", i+1)}
		}
		if _, dup := seen[id]; dup {
			return &session.ValidationError{Field: "steps", Reason: fmt.Sprintf("duplicate step id %q", id)}
		}
		seen[id] = struct{}{}

		switch st.Action.(type) {
		case session.SearchAction:
			if len(nonBlank(st.SearchQueries())) == 0 {
				return &session.ValidationError{Field: "steps", Reason: fmt.Sprintf("search step %q has no queries", id)}
			}
		case session.AnalyzeAction:
		default:
			return &session.ValidationError{Field: "steps", Reason: fmt.Sprintf("step %q has unknown type", id)}
		}
	}
	return nil
}

// ResetSteps returns a copy of steps with every status set to queued, source
// counts cleared and blank queries dropped.
func ResetSteps(steps []session.PlanStep) []session.PlanStep {
	out := make([]session.PlanStep, len(steps))
	for i, st := range steps {
		st.ID = strings.TrimSpace(st.ID)
		st.Status = session.StepQueued
		st.SourceCount = nil
		if st.Kind() == session.StepSearch {
			st.Action = session.SearchAction{Queries: nonBlank(st.SearchQueries())}
		}
		out[i] = st
	}
	return out
}

// NormalizeGenerated repairs a model generated plan: steps beyond MaxPlanSteps
// are dropped, every step is queued, missing or duplicate ids are replaced by
// positional ids 1..n, and search steps without queries search for their description.
func NormalizeGenerated(steps []session.PlanStep) []session.PlanStep {
	if len(steps) > MaxPlanSteps {
		steps = steps[:MaxPlanSteps]
	}
	renumber := false
	seen := make(map[string]struct{}, len(steps))
	for _, st := range steps {
		id := strings.TrimSpace(st.ID)
		if _, dup := seen[id]; id == "" || dup {
			renumber = true
			break
		}
		seen[id] = struct{}{}
	}

	out := make([]session.PlanStep, 0, len(steps))
	for i, st := range steps {
		id := strings.TrimSpace(st.ID)
		if renumber {
			id = strconv.Itoa(i + 1)
		}
		desc := strings.TrimSpace(st.Description)
		var step session.PlanStep
		if st.Kind() == session.StepSearch {
			queries := nonBlank(st.SearchQueries())
			if len(queries) == 0 && desc != "" {
				queries = []string{desc}
			}
			step = session.NewSearchStep(id, desc, queries...)
		} else {
			step = session.NewAnalyzeStep(id, desc)
		}
		out = append(out, step)
	}
	return out
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
