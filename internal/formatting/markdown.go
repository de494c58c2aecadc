package formatting

import (
	"fmt"
	"strings"

	"github.com/probeai/orchestrator/internal/session"
)

// ReportToMarkdown renders a report as a standalone markdown document.
// Section headings start at level 2 and go one level deeper per nesting.
func ReportToMarkdown(report *session.Report) string {
	if report == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", report.Title)
	if s := strings.TrimSpace(report.Summary); s != "" {
		fmt.Fprintf(&b, "%s\n\n", s)
	}

	session.WalkSections(report.Sections, func(depth int, s *session.ReportSection) {
		writeSection(&b, depth, s)
	})

	b.WriteString("## References\n\n")
	for _, ref := range report.References {
		id := ref.ID
		if id == "" {
			id = "unknown"
		}
		fmt.Fprintf(&b, "- **[%s]** [%s](%s)\n", id, ref.Title, ref.URL)
	}
	return b.String()
}

func writeSection(b *strings.Builder, depth int, s *session.ReportSection) {
	fmt.Fprintf(b, "%s %s\n\n", strings.Repeat("#", depth+1), s.Title)

	content := s.Content
	if len(s.Citations) > 0 {
		markers := make([]string, len(s.Citations))
		for i, c := range s.Citations {
			markers[i] = "[" + c + "]"
		}
		content += "\n\n*Sources: " + strings.Join(markers, " ") + "*"
	}
	b.WriteString(content)
	b.WriteString("\n\n")

	if len(s.Conflicts) == 0 {
		return
	}
	b.WriteString("> **Conflicts Detected:**\n")
	for _, c := range s.Conflicts {
		fmt.Fprintf(b, "> - **%s**: %s\n", c.Topic, c.Description)
		for _, claim := range c.CompetingClaims {
			fmt.Fprintf(b, ">   - *Claim:* \"%s\" (Sources: %s)\n", claim.Claim, strings.Join(claim.SourceIDs, ", "))
		}
	}
	b.WriteString("\n")
}

// VisualizationsToMarkdown renders visualizations as fenced mermaid blocks or
// inline tables, each followed by its caption.
func VisualizationsToMarkdown(list []session.Visualization) string {
	if len(list) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Visualizations\n\n")
	for _, v := range list {
		switch body := v.Body.(type) {
		case session.Diagram:
			fmt.Fprintf(&b, "```mermaid\n%s\n```\n\n", strings.TrimSpace(body.Code))
		case session.Table:
			fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(body.Rows))
		}
		if v.Caption != "" {
			fmt.Fprintf(&b, "*%s*\n\n", v.Caption)
		}
	}
	return b.String()
}
