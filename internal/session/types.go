package session

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how much work a research session performs.
type Mode string

const (
	ModeQuickScan Mode = "quick_scan"
	ModeDeepProbe Mode = "deep_probe"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeQuickScan || m == ModeDeepProbe
}

// DefaultAutoPilot returns the auto-pilot setting a new session of this mode gets
// when the caller does not override it.
func (m Mode) DefaultAutoPilot() bool {
	return m == ModeQuickScan
}

// ParseMode converts user input into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.TrimSpace(s))
	if !m.Valid() {
		return "", &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", s)}
	}
	return m, nil
}

// Status is a state of the session state machine.
type Status string

const (
	StatusIdle                   Status = "idle"
	StatusAnalyzing              Status = "analyzing"
	StatusPlanning               Status = "planning"
	StatusReviewPending          Status = "review_pending"
	StatusClarificationRequested Status = "clarification_requested"
	StatusExecuting              Status = "executing"
	StatusCompleted              Status = "completed"
	StatusError                  Status = "error"
)

// ResearchSession is the aggregate root persisted by a Store.
//
// Plan, Report and Visualizations are nil until the stage that produces them has run.
type ResearchSession struct {
	ID              string           `json:"id"`
	UserID          string           `json:"userId,omitempty"`
	Query           string           `json:"query"`
	Mode            Mode             `json:"mode"`
	Status          Status           `json:"status"`
	AutoPilot       bool             `json:"autoPilot"`
	Plan            *ResearchPlan    `json:"plan,omitempty"`
	Results         []ResearchResult `json:"results,omitempty"`
	Report          *Report          `json:"report,omitempty"`
	Visualizations  []Visualization  `json:"visualizations,omitempty"`
	FeedbackHistory []Feedback       `json:"feedbackHistory,omitempty"`
	TavilyAnswer    string           `json:"tavilyAnswer,omitempty"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Touch refreshes UpdatedAt.
func (s *ResearchSession) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// HasPlan reports whether a plan has been produced.
func (s *ResearchSession) HasPlan() bool { return s.Plan != nil }

// HasReport reports whether a report has been synthesized.
func (s *ResearchSession) HasReport() bool { return s.Report != nil }

// AddFeedback appends a feedback entry with the current time.
func (s *ResearchSession) AddFeedback(content string) Feedback {
	fb := Feedback{Timestamp: time.Now().UTC(), Content: content}
	s.FeedbackHistory = append(s.FeedbackHistory, fb)
	s.Touch()
	return fb
}

// Clone returns a deep copy so stores never share memory with callers.
func (s *ResearchSession) Clone() *ResearchSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.Plan != nil {
		plan := *s.Plan
		plan.Steps = make([]PlanStep, len(s.Plan.Steps))
		for i, st := range s.Plan.Steps {
			plan.Steps[i] = st.clone()
		}
		out.Plan = &plan
	}
	out.Results = append([]ResearchResult(nil), s.Results...)
	if s.Report != nil {
		out.Report = s.Report.clone()
	}
	if s.Visualizations != nil {
		out.Visualizations = make([]Visualization, len(s.Visualizations))
		for i, v := range s.Visualizations {
			out.Visualizations[i] = v.clone()
		}
	}
	out.FeedbackHistory = append([]Feedback(nil), s.FeedbackHistory...)
	return &out
}

// Feedback is one entry of user feedback on a plan.
type Feedback struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

// ResearchPlan is an ordered list of steps produced by the planner.
type ResearchPlan struct {
	SessionID string     `json:"sessionId"`
	Rationale string     `json:"rationale"`
	Steps     []PlanStep `json:"steps"`
}

// SearchSteps returns pointers to the search steps of the plan, in order.
func (p *ResearchPlan) SearchSteps() []*PlanStep {
	if p == nil {
		return nil
	}
	var out []*PlanStep
	for i := range p.Steps {
		if p.Steps[i].Kind() == StepSearch {
			out = append(out, &p.Steps[i])
		}
	}
	return out
}

// Runnable reports whether the plan has at least one search step with queries.
func (p *ResearchPlan) Runnable() bool {
	for _, st := range p.SearchSteps() {
		if len(st.SearchQueries()) > 0 {
			return true
		}
	}
	return false
}

// ResearchResult is one deduplicated source gathered during execution.
type ResearchResult struct {
	ID         string    `json:"id,omitempty"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	QueryMatch string    `json:"queryMatch"`
	Timestamp  time.Time `json:"timestamp"`
	Score      float64   `json:"score"`
}

// Report is the synthesized output of a session.
type Report struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"sessionId"`
	Title      string           `json:"title"`
	Summary    string           `json:"summary,omitempty"`
	Sections   []ReportSection  `json:"sections"`
	References []ResearchResult `json:"references"`
	Metadata   ReportMetadata   `json:"metadata"`
}

// ReportMetadata records how a report was produced.
type ReportMetadata struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Model       string    `json:"model"`
	TokenUsage  *int      `json:"tokenUsage,omitempty"`
}

// ReferenceIDs returns the set of source identifiers listed in the references.
func (r *Report) ReferenceIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(r.References))
	for _, ref := range r.References {
		if ref.ID != "" {
			ids[ref.ID] = struct{}{}
		}
	}
	return ids
}

func (r *Report) clone() *Report {
	out := *r
	out.Sections = cloneSections(r.Sections)
	out.References = append([]ResearchResult(nil), r.References...)
	if r.Metadata.TokenUsage != nil {
		n := *r.Metadata.TokenUsage
		out.Metadata.TokenUsage = &n
	}
	return &out
}

func cloneSections(in []ReportSection) []ReportSection {
	if in == nil {
		return nil
	}
	out := make([]ReportSection, len(in))
	for i, sec := range in {
		out[i] = sec
		out[i].Citations = append(make([]string, 0, len(sec.Citations)), sec.Citations...)
		out[i].Subsections = cloneSections(sec.Subsections)
		if sec.Conflicts != nil {
			out[i].Conflicts = make([]Conflict, len(sec.Conflicts))
			for j, c := range sec.Conflicts {
				out[i].Conflicts[j] = c
				out[i].Conflicts[j].CompetingClaims = make([]Claim, len(c.CompetingClaims))
				for k, cl := range c.CompetingClaims {
					out[i].Conflicts[j].CompetingClaims[k] = Claim{Claim: cl.Claim, SourceIDs: append(make([]string, 0, len(cl.SourceIDs)), cl.SourceIDs...)}
				}
			}
		}
	}
	return out
}

// ReportSection is a node of the report tree. Children are owned by their parent.
type ReportSection struct {
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	Citations   []string        `json:"citations"`
	Subsections []ReportSection `json:"subsections"`
	Conflicts   []Conflict      `json:"conflicts,omitempty"`
}

// WalkSections visits every section depth-first, parents before children.
// depth is 1 for top-level sections.
func WalkSections(sections []ReportSection, fn func(depth int, s *ReportSection)) {
	var walk func(level int, list []ReportSection)
	walk = func(level int, list []ReportSection) {
		for i := range list {
			fn(level, &list[i])
			walk(level+1, list[i].Subsections)
		}
	}
	walk(1, sections)
}

// Conflict is a disagreement between sources on a factual point.
type Conflict struct {
	Topic           string  `json:"topic"`
	Description     string  `json:"description"`
	CompetingClaims []Claim `json:"competingClaims"`
}

// Claim is one side of a Conflict.
type Claim struct {
	Claim     string   `json:"claim"`
	SourceIDs []string `json:"sourceIds"`
}
