package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/agents"
	"github.com/probeai/orchestrator/internal/llm"
	"github.com/probeai/orchestrator/internal/metadata"
	"github.com/probeai/orchestrator/internal/metrics"
	"github.com/probeai/orchestrator/internal/session"
	"github.com/probeai/orchestrator/internal/streaming"
	"github.com/probeai/orchestrator/internal/tracing"
	"github.com/probeai/orchestrator/internal/util"
)

// Required top-level section titles.
const (
	SectionOverview = "Overview"
	SectionAnalysis = "Detailed Analysis"
	SectionConclude = "Conclusion"
)

// ExtractiveModel is recorded as the model of reports built without a generator.
const ExtractiveModel = "extractive"

const excerptLength = 600

// Synthesizer turns the results of a session into a report.
type Synthesizer struct {
	gen    llm.Generator
	store  session.Store
	events streaming.Publisher
	logger *zap.Logger
}

// NewSynthesizer creates a Synthesizer. events may be nil.
func NewSynthesizer(gen llm.Generator, store session.Store, events streaming.Publisher, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{gen: gen, store: store, events: events, logger: logger}
}

type synthesisOutput struct {
	Title    string                  `json:"title"`
	Summary  string                  `json:"summary"`
	Sections []session.ReportSection `json:"sections"`
}

// Synthesize loads the session, builds its report and saves the session with
// the report attached and status completed.
func (y *Synthesizer) Synthesize(ctx context.Context, sessionID string) (*session.Report, error) {
	s, err := y.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(s.Results) == 0 {
		return nil, &session.PreconditionError{Condition: session.ConditionNoResults}
	}

	ctx, span := tracing.StartStageSpan(ctx, "synthesize", s.ID, string(s.Mode))
	start := time.Now()
	defer metrics.ObserveStage("synthesize", string(s.Mode), start)

	results := append([]session.ResearchResult(nil), s.Results...)
	metadata.AssignSourceIDs(results)

	report := y.build(ctx, s, results)
	y.ValidateCitations(report)

	s.Results = results
	s.Report = report
	if err := s.TransitionTo(session.StatusCompleted); err != nil {
		tracing.End(span, err)
		return nil, err
	}
	if err := y.store.Save(ctx, s); err != nil {
		tracing.End(span, err)
		return nil, err
	}
	tracing.End(span, nil)

	y.logger.Info("Report synthesized",
		zap.String("session_id", s.ID),
		zap.String("model", report.Metadata.Model),
		zap.Int("sections", len(report.Sections)),
		zap.Int("references", len(report.References)),
	)
	streaming.Emit(y.events, s.ID, streaming.Event{
		Type:    streaming.EventReportReady,
		Status:  string(s.Status),
		Message: report.Title,
	})
	return report, nil
}

func (y *Synthesizer) build(ctx context.Context, s *session.ResearchSession, results []session.ResearchResult) *session.Report {
	prompt := sourcesPrompt(s.Query, results)
	enabled := y.gen != nil && y.gen.Enabled()

	var conflicts []session.Conflict
	tokens := 0
	if enabled && s.Mode == session.ModeDeepProbe {
		var out struct {
			Conflicts []session.Conflict `json:"conflicts"`
		}
		resp, err := llm.GenerateJSON(ctx, y.gen, llm.Request{
			System: conflictSystemPrompt,
			Prompt: prompt,
			Model:  llm.ModelPro,
			Caller: agents.CallerConflicts,
		}, &out)
		if err != nil {
			y.logger.Warn("Conflict detection failed", zap.String("session_id", s.ID), zap.Error(err))
		} else {
			conflicts = out.Conflicts
			tokens += resp.TokenUsage
		}
		if len(conflicts) > 0 {
			b, _ := json.Marshal(conflicts)
			prompt += "\n\nInclude the following detected conflicts in the report:\n" + string(b)
		}
	}

	report := &session.Report{
		ID:         uuid.New().String(),
		SessionID:  s.ID,
		References: results,
		Metadata:   session.ReportMetadata{GeneratedAt: time.Now().UTC()},
	}

	var out synthesisOutput
	var resp *llm.Response
	var err error
	if enabled {
		resp, err = llm.GenerateJSON(ctx, y.gen, llm.Request{
			System: synthesisSystemPrompt,
			Prompt: prompt,
			Model:  llm.ModelPro,
			Caller: agents.CallerSynthesis,
		}, &out)
		if err == nil && len(out.Sections) == 0 {
			err = fmt.Errorf("synthesis returned no sections")
		}
	}
	if !enabled || err != nil {
		if err != nil {
			y.logger.Warn("Synthesis fell back to the extractive report", zap.String("session_id", s.ID), zap.Error(err))
		}
		metrics.GeneratorFallbacks.WithLabelValues(agents.CallerSynthesis).Inc()
		out = extractive(s, results)
		report.Metadata.Model = ExtractiveModel
	} else {
		tokens += resp.TokenUsage
		report.Metadata.Model = resp.Model
	}

	report.Title = util.FirstNonEmpty(out.Title, "Research Report: "+s.Query)
	report.Summary = out.Summary
	report.Sections = ensureShape(out.Sections)
	placeConflicts(report.Sections, conflicts)
	if tokens > 0 {
		report.Metadata.TokenUsage = &tokens
	}
	return report
}

// ValidateCitations logs every section citation that has no reference and
// returns them. It never fails.
func (y *Synthesizer) ValidateCitations(report *session.Report) []metadata.InvalidCitation {
	invalid := metadata.ValidateReportCitations(report)
	for _, ic := range invalid {
		y.logger.Warn("Invalid citation",
			zap.String("report_id", report.ID),
			zap.String("section", ic.Section),
			zap.String("source_id", ic.SourceID),
		)
	}
	return invalid
}

// extractive builds a report from the sources alone.
func extractive(s *session.ResearchSession, results []session.ResearchResult) synthesisOutput {
	ids := make([]string, len(results))
	subsections := make([]session.ReportSection, len(results))
	for i, r := range results {
		ids[i] = r.ID
		subsections[i] = session.ReportSection{
			Title:       r.Title,
			Content:     util.LeadingSentences(r.Content, excerptLength),
			Citations:   []string{r.ID},
			Subsections: []session.ReportSection{},
		}
	}

	overview := fmt.Sprintf("This report collects %d sources on %q.", len(results), s.Query)
	if s.TavilyAnswer != "" {
		overview = s.TavilyAnswer + "\n\n" + overview
	}
	return synthesisOutput{
		Title:   "Research Report: " + s.Query,
		Summary: util.LeadingSentences(util.FirstNonEmpty(s.TavilyAnswer, results[0].Content), excerptLength),
		Sections: []session.ReportSection{
			{Title: SectionOverview, Content: overview, Citations: ids, Subsections: []session.ReportSection{}},
			{Title: SectionAnalysis, Content: "Key excerpts from each source follow.", Citations: []string{}, Subsections: subsections},
			{
				Title:       SectionConclude,
				Content:     "This report was assembled from source excerpts without model synthesis. Review the cited sources for detail.",
				Citations:   []string{},
				Subsections: []session.ReportSection{},
			},
		},
	}
}

func sectionMatches(title, required string) bool {
	t := strings.ToLower(title)
	switch required {
	case SectionOverview:
		return strings.Contains(t, "overview") || strings.Contains(t, "introduction")
	case SectionAnalysis:
		return strings.Contains(t, "analysis") || strings.Contains(t, "detail")
	case SectionConclude:
		return strings.Contains(t, "conclusion")
	}
	return false
}

func indexOfSection(sections []session.ReportSection, required string) int {
	for i, sec := range sections {
		if sectionMatches(sec.Title, required) {
			return i
		}
	}
	return -1
}

// ensureShape fills nil slices and adds any missing required section with an
// empty body: the overview first, the analysis before the conclusion, the
// conclusion last.
func ensureShape(sections []session.ReportSection) []session.ReportSection {
	session.WalkSections(sections, func(_ int, sec *session.ReportSection) {
		if sec.Citations == nil {
			sec.Citations = []string{}
		}
		if sec.Subsections == nil {
			sec.Subsections = []session.ReportSection{}
		}
	})
	empty := func(title string) session.ReportSection {
		return session.ReportSection{Title: title, Citations: []string{}, Subsections: []session.ReportSection{}}
	}
	if indexOfSection(sections, SectionOverview) < 0 {
		sections = append([]session.ReportSection{empty(SectionOverview)}, sections...)
	}
	if indexOfSection(sections, SectionAnalysis) < 0 {
		if c := indexOfSection(sections, SectionConclude); c >= 0 {
			sections = append(sections[:c], append([]session.ReportSection{empty(SectionAnalysis)}, sections[c:]...)...)
		} else {
			sections = append(sections, empty(SectionAnalysis))
		}
	}
	if indexOfSection(sections, SectionConclude) < 0 {
		sections = append(sections, empty(SectionConclude))
	}
	return sections
}

// placeConflicts attaches the conflicts no section mentions to the detailed
// analysis section.
func placeConflicts(sections []session.ReportSection, conflicts []session.Conflict) {
	if len(conflicts) == 0 {
		return
	}
	placed := map[string]struct{}{}
	session.WalkSections(sections, func(_ int, sec *session.ReportSection) {
		for _, c := range sec.Conflicts {
			placed[strings.ToLower(strings.TrimSpace(c.Topic))] = struct{}{}
		}
	})
	i := indexOfSection(sections, SectionAnalysis)
	if i < 0 {
		return
	}
	for _, c := range conflicts {
		if _, ok := placed[strings.ToLower(strings.TrimSpace(c.Topic))]; ok {
			continue
		}
		sections[i].Conflicts = append(sections[i].Conflicts, c)
	}
}
