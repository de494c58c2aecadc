package research

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/agents"
	"github.com/probeai/orchestrator/internal/formatting"
	"github.com/probeai/orchestrator/internal/llm"
	"github.com/probeai/orchestrator/internal/metrics"
	"github.com/probeai/orchestrator/internal/session"
)

const (
	minVisualizableText = 50
	maxDataPoints       = 20
	maxVisualizations   = 3
)

// mermaidKeywords are the diagram types accepted at the start of mermaid code.
var mermaidKeywords = []string{"graph", "flowchart", "gantt", "pie", "sequenceDiagram", "journey"}

// VisualizerConfig tunes the visualizer.
type VisualizerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MinConfidence drops candidates below it. 0 disables the gate.
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// Visualizer proposes charts and tables for report text.
type Visualizer struct {
	gen    llm.Generator
	logger *zap.Logger

	mu  sync.RWMutex
	cfg VisualizerConfig
}

// NewVisualizer creates a Visualizer.
func NewVisualizer(gen llm.Generator, cfg VisualizerConfig, logger *zap.Logger) *Visualizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Visualizer{gen: gen, cfg: cfg, logger: logger}
}

// Configure replaces the visualizer settings.
func (v *Visualizer) Configure(cfg VisualizerConfig) {
	v.mu.Lock()
	v.cfg = cfg
	v.mu.Unlock()
}

func (v *Visualizer) config() VisualizerConfig {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cfg
}

type candidate struct {
	Type       string            `json:"type"`
	ChartType  string            `json:"chartType"`
	Code       string            `json:"code"`
	RawData    json.RawMessage   `json:"rawData"`
	Citations  map[string]string `json:"citations"`
	Caption    string            `json:"caption"`
	Confidence float64           `json:"confidence"`
}

// Process returns at most three visualizations for text. Short text, a
// disabled generator or any generator failure yield none.
func (v *Visualizer) Process(ctx context.Context, text string) []session.Visualization {
	cfg := v.config()
	if !cfg.Enabled || v.gen == nil || !v.gen.Enabled() {
		return nil
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minVisualizableText {
		return nil
	}

	var out struct {
		Visualizations []candidate `json:"visualizations"`
	}
	if _, err := llm.GenerateJSON(ctx, v.gen, llm.Request{
		System: visualizationSystemPrompt,
		Prompt: visualizationPrompt(text),
		Model:  llm.ModelPro,
		Caller: agents.CallerVisualizer,
	}, &out); err != nil {
		v.logger.Warn("Visualization generation failed", zap.Error(err))
		return nil
	}

	var result []session.Visualization
	for _, c := range out.Visualizations {
		if len(result) == maxVisualizations {
			break
		}
		v.logger.Debug("Visualization candidate",
			zap.String("type", c.Type),
			zap.Float64("confidence", c.Confidence),
		)
		if cfg.MinConfidence > 0 && c.Confidence < cfg.MinConfidence {
			metrics.VisualizationsGenerated.WithLabelValues(c.Type, "low_confidence").Inc()
			continue
		}
		viz, gate := gated(c)
		metrics.VisualizationsGenerated.WithLabelValues(string(viz.Kind()), gate).Inc()
		result = append(result, viz)
	}
	return result
}

// gated applies the complexity and syntax gates, in that order, and names the
// gate that rewrote the candidate ("none" when it passed).
func gated(c candidate) (session.Visualization, string) {
	viz := session.Visualization{
		ID:         uuid.New().String(),
		RawData:    c.RawData,
		Citations:  c.Citations,
		Caption:    c.Caption,
		Confidence: c.Confidence,
	}
	if viz.Citations == nil {
		viz.Citations = map[string]string{}
	}
	toTable := func() session.VisualizationBody {
		return session.Table{Rows: formatting.ConvertToTable(c.RawData, c.Caption)}
	}

	if session.VisualizationKind(c.Type) != session.VisualizationMermaid {
		if Validate(c.Code, session.VisualizationTable) {
			viz.Body = session.Table{Rows: c.Code}
			return viz, "none"
		}
		viz.Body = toTable()
		return viz, "syntax"
	}
	if formatting.DataPoints(c.RawData) > maxDataPoints {
		viz.Body = toTable()
		return viz, "complexity"
	}
	if !Validate(c.Code, session.VisualizationMermaid) {
		viz.Body = toTable()
		return viz, "syntax"
	}
	viz.Body = session.Diagram{Code: strings.TrimSpace(c.Code), ChartType: c.ChartType}
	return viz, "none"
}

// Validate reports whether code is a plausible body of the given kind: a
// table needs a header separator row, mermaid code must open with a known
// diagram keyword.
func Validate(code string, kind session.VisualizationKind) bool {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return false
	}
	switch kind {
	case session.VisualizationTable:
		return formatting.IsMarkdownTable(trimmed)
	case session.VisualizationMermaid:
		for _, kw := range mermaidKeywords {
			if strings.HasPrefix(trimmed, kw) {
				return true
			}
		}
	}
	return false
}
