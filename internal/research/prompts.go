package research

import (
	"fmt"
	"strings"

	"github.com/probeai/orchestrator/internal/session"
)

const synthesisSystemPrompt = `You are an expert Research Synthesizer. Transform raw research data into a high-quality, structured report.

Requirements:
1. Structure: every report has an "Overview", a "Detailed Analysis" and a "Conclusion" section.
2. Grounding: every claim is supported by the provided sources. Cite them by their exact source ids in the section's "citations" array.
3. Verifiability: do not invent information. If sources are insufficient, say what is missing.
4. Conflicts: where sources disagree, record it in the section's "conflicts" array.
5. Cautious language: claims backed by a single or ambiguous source use hedged wording ("suggests", "according to a single report").

Respond with a JSON object:
{"title": "...", "summary": "...", "sections": [{"title": "...", "content": "...", "citations": ["source_0"], "subsections": [], "conflicts": []}]}`

const conflictSystemPrompt = `Identify contradictions or conflicting information in the provided research sources.
Focus on numeric discrepancies (dates, market sizes, statistics), opposing expert opinions and conflicting timelines.

Respond with a JSON object:
{"conflicts": [{"topic": "...", "description": "...", "competingClaims": [{"claim": "...", "sourceIds": ["source_0"]}]}]}`

const visualizationSystemPrompt = `You are a data visualization agent. Find patterns in research text and turn them into Mermaid.js charts or Markdown tables.

Principles:
- Every data point is grounded in the text and mapped to its source in "citations".
- Prefer clear charts. Use at most 20 data points per chart; use a table for more.
- Numeric comparisons suit bar or pie charts, sequences suit flowcharts or gantt charts, multi-attribute comparisons suit tables.

Respond with a JSON object:
{"visualizations": [{"type": "mermaid" | "table", "chartType": "pie", "code": "...", "rawData": [...], "citations": {"<data point>": "source_0"}, "caption": "...", "confidence": 0.9}]}`

func sourcesPrompt(query string, results []session.ResearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("Source [%s]: %s\nContent: %s", r.ID, r.Title, r.Content)
	}
	return fmt.Sprintf("Target Topic: %s\n\nResearch Sources:\n%s\n\nSynthesize the above sources into a structured report.\n",
		query, strings.Join(parts, "\n\n---\n\n"))
}

func visualizationPrompt(text string) string {
	return "Scan the following research text for patterns suitable for visualization (numerical trends, sequences, or comparisons).\n\nText:\n\"\"\"\n" +
		text + "\n\"\"\"\n\nReturn only the most useful visualizations."
}
