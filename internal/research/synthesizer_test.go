package research

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/probeai/orchestrator/internal/agents"
	"github.com/probeai/orchestrator/internal/session"
)

func completedSession(t *testing.T, store session.Store, mode session.Mode) *session.ResearchSession {
	t.Helper()
	now := time.Now().UTC()
	s := &session.ResearchSession{
		ID:     "s1",
		Query:  "Explain quantum entanglement in 50 words",
		Mode:   mode,
		Status: session.StatusCompleted,
		Results: []session.ResearchResult{
			{URL: "https://a.example", Title: "Entanglement basics", Content: "Entangled particles share one state. Measuring one fixes the other.", Score: 0.9},
			{ID: "custom", URL: "https://b.example", Title: "Bell tests", Content: "Bell tests rule out local hidden variables.", Score: 0.8},
		},
		TavilyAnswer: "Entangled particles have correlated properties.",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.Save(context.Background(), s))
	return s
}

func TestSynthesizeRequiresResults(t *testing.T) {
	store := session.NewMemoryStore()
	s := completedSession(t, store, session.ModeQuickScan)
	s.Results = nil
	require.NoError(t, store.Save(context.Background(), s))

	y := NewSynthesizer(&fakeGenerator{disabled: true}, store, nil, zaptest.NewLogger(t))
	_, err := y.Synthesize(context.Background(), "s1")
	var pe *session.PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, session.ConditionNoResults, pe.Condition)

	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, got.Report)

	_, err = y.Synthesize(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestSynthesizeExtractiveFallback(t *testing.T) {
	store := session.NewMemoryStore()
	completedSession(t, store, session.ModeQuickScan)
	pub := &recordingPublisher{}
	y := NewSynthesizer(&fakeGenerator{disabled: true}, store, pub, zaptest.NewLogger(t))

	report, err := y.Synthesize(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, ExtractiveModel, report.Metadata.Model)
	require.Len(t, report.Sections, 3)
	assert.Equal(t, SectionOverview, report.Sections[0].Title)
	assert.Equal(t, []string{"source_0", "custom"}, report.Sections[0].Citations)
	assert.Len(t, report.Sections[1].Subsections, 2)
	assert.Equal(t, []string{"custom"}, report.Sections[1].Subsections[1].Citations)
	assert.Equal(t, SectionConclude, report.Sections[2].Title)
	assert.Empty(t, y.ValidateCitations(report))

	saved, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, saved.Status)
	require.NotNil(t, saved.Report)
	assert.Equal(t, report.ID, saved.Report.ID)
	assert.Equal(t, "source_0", saved.Results[0].ID)
	assert.Equal(t, "report.ready", pub.types())
}

func TestSynthesizeQuickScanSinglePass(t *testing.T) {
	store := session.NewMemoryStore()
	completedSession(t, store, session.ModeQuickScan)
	gen := &fakeGenerator{answers: map[string]string{
		agents.CallerSynthesis: `{"title":"Entanglement","summary":"s","sections":[
			{"title":"Overview","content":"o","citations":["source_0"]},
			{"title":"Conclusion","content":"c","citations":["source_9"]}
		]}`,
	}}
	y := NewSynthesizer(gen, store, nil, zaptest.NewLogger(t))

	report, err := y.Synthesize(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{agents.CallerSynthesis}, gen.callers())
	assert.Equal(t, "Entanglement", report.Title)
	assert.Equal(t, "fake-pro", report.Metadata.Model)
	require.NotNil(t, report.Metadata.TokenUsage)

	require.Len(t, report.Sections, 3)
	assert.Equal(t, SectionAnalysis, report.Sections[1].Title, "missing section inserted before the conclusion")
	assert.Empty(t, report.Sections[1].Content)
	assert.NotNil(t, report.Sections[1].Citations)

	invalid := y.ValidateCitations(report)
	require.Len(t, invalid, 1)
	assert.Equal(t, "source_9", invalid[0].SourceID)
}

func TestSynthesizeDeepProbeConflictPass(t *testing.T) {
	store := session.NewMemoryStore()
	completedSession(t, store, session.ModeDeepProbe)
	gen := &fakeGenerator{answers: map[string]string{
		agents.CallerConflicts: `{"conflicts":[
			{"topic":"Speed","description":"disagree on signalling","competingClaims":[{"claim":"no signal","sourceIds":["source_0"]},{"claim":"instant","sourceIds":["custom"]}]},
			{"topic":"Placed","description":"already in a section","competingClaims":[]}
		]}`,
		agents.CallerSynthesis: `{"title":"T","sections":[
			{"title":"Overview","content":"o","citations":[],"conflicts":[{"topic":"placed","description":"d","competingClaims":[]}]},
			{"title":"Detailed Analysis","content":"d","citations":["custom"],"subsections":[{"title":"Sub","content":"x","citations":["source_0"]}]},
			{"title":"Conclusion","content":"c","citations":[]}
		]}`,
	}}
	y := NewSynthesizer(gen, store, nil, zaptest.NewLogger(t))

	report, err := y.Synthesize(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{agents.CallerConflicts, agents.CallerSynthesis}, gen.callers())
	assert.Contains(t, gen.requests[1].Prompt, "Include the following detected conflicts")
	assert.Contains(t, gen.requests[1].Prompt, `"topic":"Speed"`)

	analysis := report.Sections[1]
	require.Len(t, analysis.Conflicts, 1)
	assert.Equal(t, "Speed", analysis.Conflicts[0].Topic)
	assert.Empty(t, y.ValidateCitations(report))
	assert.Equal(t, 20, *report.Metadata.TokenUsage)
}

func TestSynthesizeGeneratorFailureFallsBack(t *testing.T) {
	store := session.NewMemoryStore()
	completedSession(t, store, session.ModeDeepProbe)
	gen := &fakeGenerator{errs: map[string]error{
		agents.CallerConflicts: errors.New("quota"),
		agents.CallerSynthesis: errors.New("quota"),
	}}
	y := NewSynthesizer(gen, store, nil, zaptest.NewLogger(t))
	report, err := y.Synthesize(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, ExtractiveModel, report.Metadata.Model)
	assert.Len(t, report.Sections, 3)
}

func TestSynthesizeFromErrorIsIllegal(t *testing.T) {
	store := session.NewMemoryStore()
	s := completedSession(t, store, session.ModeQuickScan)
	s.Status = session.StatusError
	require.NoError(t, store.Save(context.Background(), s))

	y := NewSynthesizer(&fakeGenerator{disabled: true}, store, nil, zaptest.NewLogger(t))
	_, err := y.Synthesize(context.Background(), "s1")
	var ite *session.IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	saved, _ := store.Get(context.Background(), "s1")
	assert.Nil(t, saved.Report)
}
