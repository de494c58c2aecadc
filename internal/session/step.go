package session

import (
	"encoding/json"
	"fmt"
)

// StepKind names the variant of a PlanStep.
type StepKind string

const (
	StepSearch  StepKind = "search"
	StepAnalyze StepKind = "analyze"
)

// StepStatus tracks a single step through execution.
type StepStatus string

const (
	StepQueued    StepStatus = "queued"
	StepSearching StepStatus = "searching"
	StepScraped   StepStatus = "scraped"
	StepFailed    StepStatus = "failed"
	StepCompleted StepStatus = "completed"
)

// StepAction is the closed set of things a step can do.
type StepAction interface {
	Kind() StepKind
	isStepAction()
}

// SearchAction issues one search per query.
type SearchAction struct {
	Queries []string
}

func (SearchAction) Kind() StepKind { return StepSearch }
func (SearchAction) isStepAction()  {}

// AnalyzeAction asks the synthesizer to reason over gathered sources.
type AnalyzeAction struct{}

func (AnalyzeAction) Kind() StepKind { return StepAnalyze }
func (AnalyzeAction) isStepAction()  {}

// PlanStep is one unit of work in a ResearchPlan.
type PlanStep struct {
	ID          string
	Description string
	Status      StepStatus
	SourceCount *int
	Action      StepAction
}

// NewSearchStep builds a queued search step.
func NewSearchStep(id, description string, queries ...string) PlanStep {
	return PlanStep{
		ID:          id,
		Description: description,
		Status:      StepQueued,
		Action:      SearchAction{Queries: append([]string(nil), queries...)},
	}
}

// NewAnalyzeStep builds a queued analyze step.
func NewAnalyzeStep(id, description string) PlanStep {
	return PlanStep{
		ID:          id,
		Description: description,
		Status:      StepQueued,
		Action:      AnalyzeAction{},
	}
}

// Kind returns the step variant. A step without an action is treated as analyze.
func (s PlanStep) Kind() StepKind {
	if s.Action == nil {
		return StepAnalyze
	}
	return s.Action.Kind()
}

// SearchQueries returns the queries of a search step, nil otherwise.
func (s PlanStep) SearchQueries() []string {
	if a, ok := s.Action.(SearchAction); ok {
		return a.Queries
	}
	return nil
}

// SetSourceCount records how many new sources the step contributed.
func (s *PlanStep) SetSourceCount(n int) {
	s.SourceCount = &n
}

func (s PlanStep) clone() PlanStep {
	out := s
	if s.SourceCount != nil {
		n := *s.SourceCount
		out.SourceCount = &n
	}
	if a, ok := s.Action.(SearchAction); ok {
		out.Action = SearchAction{Queries: append([]string(nil), a.Queries...)}
	}
	return out
}

type planStepJSON struct {
	ID            string     `json:"id"`
	Type          StepKind   `json:"type"`
	Description   string     `json:"description"`
	Status        StepStatus `json:"status,omitempty"`
	SearchQueries []string   `json:"searchQueries,omitempty"`
	SourceCount   *int       `json:"sourceCount,omitempty"`
}

// MarshalJSON encodes the flat wire shape used by the API.
func (s PlanStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(planStepJSON{
		ID:            s.ID,
		Type:          s.Kind(),
		Description:   s.Description,
		Status:        s.Status,
		SearchQueries: s.SearchQueries(),
		SourceCount:   s.SourceCount,
	})
}

// UnmarshalJSON decodes the flat wire shape and rejects unknown step types.
func (s *PlanStep) UnmarshalJSON(data []byte) error {
	var raw planStepJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	step := PlanStep{
		ID:          raw.ID,
		Description: raw.Description,
		Status:      raw.Status,
		SourceCount: raw.SourceCount,
	}
	switch raw.Type {
	case StepSearch:
		step.Action = SearchAction{Queries: raw.SearchQueries}
	case StepAnalyze:
		step.Action = AnalyzeAction{}
	default:
		return fmt.Errorf("unknown step type %q", raw.Type)
	}
	if step.Status == "" {
		step.Status = StepQueued
	}
	*s = step
	return nil
}
