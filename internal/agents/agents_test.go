package agents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/probeai/orchestrator/internal/llm"
	"github.com/probeai/orchestrator/internal/session"
)

type scriptedGenerator struct {
	mu       sync.Mutex
	enabled  bool
	text     string
	err      error
	block    bool
	requests []llm.Request
}

func (g *scriptedGenerator) Enabled() bool { return g.enabled }

func (g *scriptedGenerator) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Response{Text: g.text}, nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func TestAnalyzerClassifies(t *testing.T) {
	gen := &scriptedGenerator{enabled: true, text: "```json\n{\"mode\":\"deep_probe\",\"rationale\":\"multi-faceted\"}\n```"}
	a := NewAnalyzer(gen, time.Second, zaptest.NewLogger(t))

	got := a.Analyze(context.Background(), "Compare lithium and sodium battery chemistries")
	assert.Equal(t, session.ModeDeepProbe, got.Mode)
	assert.Equal(t, "multi-faceted", got.Rationale)
	require.Len(t, gen.requests, 1)
	assert.True(t, gen.requests[0].JSON)
	assert.Equal(t, CallerAnalyzer, gen.requests[0].Caller)
}

func TestAnalyzerFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		gen      *scriptedGenerator
		contains string
	}{
		{"disabled", &scriptedGenerator{}, "disabled"},
		{"provider error", &scriptedGenerator{enabled: true, err: errors.New("boom")}, "failed"},
		{"invalid json", &scriptedGenerator{enabled: true, text: "not json"}, "failed"},
		{"unknown mode", &scriptedGenerator{enabled: true, text: `{"mode":"thorough","rationale":"x"}`}, "failed"},
		{"timeout", &scriptedGenerator{enabled: true, block: true}, "timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(tt.gen, 20*time.Millisecond, zaptest.NewLogger(t))
			start := time.Now()
			got := a.Analyze(context.Background(), "what is rust")
			assert.Less(t, time.Since(start), time.Second)
			assert.Equal(t, session.ModeQuickScan, got.Mode)
			assert.Contains(t, got.Rationale, tt.contains)
		})
	}
}

func TestPlannerQuickScanIsDeterministic(t *testing.T) {
	gen := &scriptedGenerator{enabled: true}
	p := NewPlanner(gen, zaptest.NewLogger(t))
	q := "Explain quantum entanglement in 50 words"

	res := p.Generate(context.Background(), PlanRequest{Query: q, Mode: session.ModeQuickScan})
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "1", res.Steps[0].ID)
	assert.Equal(t, session.StepSearch, res.Steps[0].Kind())
	assert.Equal(t, []string{q}, res.Steps[0].SearchQueries())
	assert.Equal(t, session.StepQueued, res.Steps[0].Status)
	assert.Zero(t, gen.calls())
}

func TestPlannerDeepProbeNormalizes(t *testing.T) {
	gen := &scriptedGenerator{enabled: true, text: `{
		"rationale": "verify from several angles",
		"steps": [
			{"id": "a", "type": "search", "description": "Find primary sources", "searchQueries": ["primary"], "status": "completed"},
			{"id": "a", "type": "search", "description": "Find critiques"},
			{"type": "analyze", "description": "Compare claims"},
			{"id": "4", "type": "search", "description": "s4", "searchQueries": ["q4"]},
			{"id": "5", "type": "search", "description": "s5", "searchQueries": ["q5"]},
			{"id": "6", "type": "search", "description": "s6", "searchQueries": ["q6"]},
			{"id": "7", "type": "analyze", "description": "s7"},
			{"id": "8", "type": "analyze", "description": "s8"}
		]
	}`}
	p := NewPlanner(gen, zaptest.NewLogger(t))
	res := p.Generate(context.Background(), PlanRequest{Query: "battery chemistries", Mode: session.ModeDeepProbe})

	assert.False(t, res.Fallback)
	assert.Equal(t, "verify from several angles", res.Rationale)
	require.Len(t, res.Steps, 7)
	for i, st := range res.Steps {
		assert.Equal(t, string(rune('1'+i)), st.ID)
		assert.Equal(t, session.StepQueued, st.Status)
	}
	assert.Equal(t, []string{"Find critiques"}, res.Steps[1].SearchQueries())
	assert.Equal(t, session.StepAnalyze, res.Steps[2].Kind())
}

func TestPlannerFallback(t *testing.T) {
	for name, gen := range map[string]*scriptedGenerator{
		"disabled":     {},
		"error":        {enabled: true, err: errors.New("quota")},
		"bad json":     {enabled: true, text: "{"},
		"empty plan":   {enabled: true, text: `{"rationale":"r","steps":[]}`},
		"unknown type": {enabled: true, text: `{"rationale":"r","steps":[{"id":"1","type":"browse","description":"d"}]}`},
		"analyze only": {enabled: true, text: `{"rationale":"r","steps":[{"id":"1","type":"analyze","description":"a"},{"id":"2","type":"analyze","description":"b"}]}`},
	} {
		t.Run(name, func(t *testing.T) {
			p := NewPlanner(gen, zaptest.NewLogger(t))
			res := p.Generate(context.Background(), PlanRequest{Query: "solid state batteries", Mode: session.ModeDeepProbe})
			assert.True(t, res.Fallback)
			require.Len(t, res.Steps, 2)
			assert.Equal(t, "Search for information about: solid state batteries", res.Steps[0].Description)
			assert.Equal(t, []string{"solid state batteries"}, res.Steps[0].SearchQueries())
			assert.Equal(t, session.StepAnalyze, res.Steps[1].Kind())
			assert.Equal(t, "Analyze the search results.", res.Steps[1].Description)
		})
	}
}

func TestPlannerRegenerationPromptCarriesHistory(t *testing.T) {
	gen := &scriptedGenerator{enabled: true, text: `{"rationale":"added cost focus per feedback","steps":[{"id":"1","type":"search","description":"costs","searchQueries":["battery cost"]}]}`}
	p := NewPlanner(gen, zaptest.NewLogger(t))
	prev := &session.ResearchPlan{Steps: []session.PlanStep{session.NewSearchStep("1", "chemistry overview", "battery chemistry")}}
	history := []session.Feedback{
		{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Content: "focus on cost"},
		{Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Content: "skip history"},
	}

	res := p.Generate(context.Background(), PlanRequest{Query: "batteries", Mode: session.ModeQuickScan, PreviousPlan: prev, FeedbackHistory: history})
	assert.Equal(t, "added cost focus per feedback", res.Rationale)
	require.Equal(t, 1, gen.calls())
	prompt := gen.requests[0].Prompt
	assert.Contains(t, prompt, "chemistry overview")
	assert.Contains(t, prompt, "battery chemistry")
	first := strings.Index(prompt, "focus on cost")
	second := strings.Index(prompt, "skip history")
	assert.True(t, first >= 0 && second > first, "feedback is listed oldest first")
	assert.Contains(t, prompt, "how the feedback was incorporated")
}
