package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/probeai/orchestrator/internal/session"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "basic URL", input: "https://example.com/path", expected: "https://example.com/path"},
		{name: "remove www prefix", input: "https://www.example.com/path", expected: "https://example.com/path"},
		{name: "remove trailing slash", input: "https://example.com/path/", expected: "https://example.com/path"},
		{name: "lowercase host", input: "HTTPS://Example.COM/Path", expected: "https://example.com/Path"},
		{name: "strip fragment", input: "https://example.com/a#section", expected: "https://example.com/a"},
		{name: "strip tracking params", input: "https://example.com/a?utm_source=x&id=7", expected: "https://example.com/a?id=7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.input)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDedupKeyFallsBackToRaw(t *testing.T) {
	assert.Equal(t, "https://example.com/a", DedupKey("https://www.example.com/a/"))
	assert.Equal(t, "%zz", DedupKey("%zz"))
}

func TestExtractDomain(t *testing.T) {
	d, err := ExtractDomain("https://www.nature.com:443/articles/x")
	assert.NoError(t, err)
	assert.Equal(t, "nature.com", d)

	d, err = ExtractDomain("https://blog.example.com/path")
	assert.NoError(t, err)
	assert.Equal(t, "blog.example.com", d)
}

func TestIsBinaryURL(t *testing.T) {
	assert.True(t, IsBinaryURL("https://arxiv.org/paper.PDF"))
	assert.True(t, IsBinaryURL("https://cdn.example.com/video.mp4?sig=abc"))
	assert.False(t, IsBinaryURL("https://example.com/pdf-guide"))
	assert.False(t, IsBinaryURL("https://example.com/article"))
}

func TestCitationFormat(t *testing.T) {
	assert.True(t, ValidateCitationFormat("[Einstein, 1935]"))
	assert.True(t, ValidateCitationFormat("[Nature Physics, 2022]"))
	assert.False(t, ValidateCitationFormat("[Einstein 1935]"))
	assert.False(t, ValidateCitationFormat("Einstein, 1935"))
	assert.False(t, ValidateCitationFormat("[Einstein, 35]"))

	got := ExtractCitations("As shown [Bell, 1964] and later [Aspect, 1982], nonlocality holds [sic].")
	assert.Equal(t, []string{"[Bell, 1964]", "[Aspect, 1982]"}, got)
	assert.Empty(t, ExtractCitations("no citations here"))
}

func TestAssignSourceIDs(t *testing.T) {
	results := []session.ResearchResult{{URL: "a"}, {URL: "b", ID: "custom"}, {URL: "c"}}
	AssignSourceIDs(results)
	assert.Equal(t, "source_0", results[0].ID)
	assert.Equal(t, "custom", results[1].ID)
	assert.Equal(t, "source_2", results[2].ID)
}

func TestValidateReportCitationsIsRecursive(t *testing.T) {
	report := &session.Report{
		References: []session.ResearchResult{{ID: "source_0"}, {ID: "source_1"}},
		Sections: []session.ReportSection{
			{Title: "Overview", Citations: []string{"source_0"}},
			{
				Title:     "Detailed Analysis",
				Citations: []string{"source_1"},
				Subsections: []session.ReportSection{
					{Title: "Deep", Citations: []string{"source_7"}},
				},
			},
			{Title: "Conclusion", Citations: []string{"source_9", "source_0"}},
		},
	}
	invalid := ValidateReportCitations(report)
	assert.Equal(t, []InvalidCitation{
		{Section: "Deep", SourceID: "source_7"},
		{Section: "Conclusion", SourceID: "source_9"},
	}, invalid)
	assert.Nil(t, ValidateReportCitations(nil))
}
