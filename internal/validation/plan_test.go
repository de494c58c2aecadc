package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeai/orchestrator/internal/session"
)

func TestQuery(t *testing.T) {
	q, err := Query("  quantum entanglement  ")
	require.NoError(t, err)
	assert.Equal(t, "quantum entanglement", q)

	for _, bad := range []string{"", "  ", "ab", " a ", strings.Repeat("x", MaxQueryLength+1)} {
		_, err := Query(bad)
		var ve *session.ValidationError
		assert.ErrorAs(t, err, &ve, "query %q", bad)
	}
	_, err = Query("abc")
	assert.NoError(t, err)
}

func TestFeedback(t *testing.T) {
	_, err := Feedback("   ")
	assert.Error(t, err)
	fb, err := Feedback(" focus on 2024 ")
	require.NoError(t, err)
	assert.Equal(t, "focus on 2024", fb)
}

func TestSteps(t *testing.T) {
	tests := []struct {
		name    string
		steps   []session.PlanStep
		wantErr string
	}{
		{name: "empty plan", steps: nil, wantErr: "at least one step"},
		{name: "missing id", steps: []session.PlanStep{session.NewAnalyzeStep("", "x")}, wantErr: "no id"},
		{
			name:    "duplicate ids",
			steps:   []session.PlanStep{session.NewSearchStep("1", "a", "q"), session.NewAnalyzeStep("1", "b")},
			wantErr: "duplicate",
		},
		{
			name:    "search without queries",
			steps:   []session.PlanStep{session.NewSearchStep("1", "a", " ")},
			wantErr: "no queries",
		},
		{
			name:    "nil action",
			steps:   []session.PlanStep{{ID: "1", Description: "x"}},
			wantErr: "unknown type",
		},
		{
			name:  "valid",
			steps: []session.PlanStep{session.NewSearchStep("a", "s", "q"), session.NewAnalyzeStep("b", "z")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Steps(tt.steps)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var ve *session.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Reason, tt.wantErr)
		})
	}
}

func TestResetSteps(t *testing.T) {
	st := session.NewSearchStep(" 1 ", "a", "q", "")
	st.Status = session.StepScraped
	st.SetSourceCount(3)
	out := ResetSteps([]session.PlanStep{st})

	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, session.StepQueued, out[0].Status)
	assert.Nil(t, out[0].SourceCount)
	assert.Equal(t, []string{"q"}, out[0].SearchQueries())
	assert.Equal(t, session.StepScraped, st.Status, "input is not mutated")
}

func TestNormalizeGenerated(t *testing.T) {
	var steps []session.PlanStep
	for i := 0; i < 9; i++ {
		steps = append(steps, session.NewSearchStep("x", "look up topic "+string(rune('A'+i))))
	}
	steps[2].Status = session.StepScraped

	out := NormalizeGenerated(steps)
	require.Len(t, out, MaxPlanSteps)
	for i, st := range out {
		assert.Equal(t, string(rune('1'+i)), st.ID)
		assert.Equal(t, session.StepQueued, st.Status)
		assert.Equal(t, []string{st.Description}, st.SearchQueries())
	}
}

func TestNormalizeGeneratedKeepsUniqueIDs(t *testing.T) {
	out := NormalizeGenerated([]session.PlanStep{
		session.NewSearchStep("s1", "a", "q1"),
		session.NewAnalyzeStep("s2", "b"),
	})
	assert.Equal(t, "s1", out[0].ID)
	assert.Equal(t, "s2", out[1].ID)
	assert.Equal(t, []string{"q1"}, out[0].SearchQueries())
	assert.Nil(t, out[1].SearchQueries())
}
