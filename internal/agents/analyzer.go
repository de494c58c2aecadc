package agents

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/llm"
	"github.com/probeai/orchestrator/internal/metrics"
	"github.com/probeai/orchestrator/internal/session"
)

// DefaultAnalyzerTimeout bounds one classification call.
const DefaultAnalyzerTimeout = 5 * time.Second

// Analysis is the analyzer's decision.
type Analysis struct {
	Mode      session.Mode `json:"mode"`
	Rationale string       `json:"rationale"`
}

// Analyzer classifies a query into a research mode.
type Analyzer struct {
	gen     llm.Generator
	timeout time.Duration
	logger  *zap.Logger
}

// NewAnalyzer creates an Analyzer. timeout <= 0 uses DefaultAnalyzerTimeout.
func NewAnalyzer(gen llm.Generator, timeout time.Duration, logger *zap.Logger) *Analyzer {
	if timeout <= 0 {
		timeout = DefaultAnalyzerTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{gen: gen, timeout: timeout, logger: logger}
}

// Analyze never fails: any problem yields quick_scan with a rationale saying why.
func (a *Analyzer) Analyze(ctx context.Context, query string) Analysis {
	if a.gen == nil || !a.gen.Enabled() {
		metrics.GeneratorFallbacks.WithLabelValues(CallerAnalyzer).Inc()
		return Analysis{Mode: session.ModeQuickScan, Rationale: "Language model is disabled. Defaulting to quick_scan."}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var out struct {
		Mode      string `json:"mode"`
		Rationale string `json:"rationale"`
	}
	_, err := llm.GenerateJSON(ctx, a.gen, llm.Request{
		System:      analyzerSystemPrompt,
		Prompt:      query,
		Model:       llm.ModelFlash,
		Temperature: llm.Temperature(0),
		Caller:      CallerAnalyzer,
	}, &out)
	if err != nil {
		return a.fallback(query, err)
	}
	mode, err := session.ParseMode(out.Mode)
	if err != nil {
		return a.fallback(query, err)
	}
	if out.Rationale == "" {
		out.Rationale = "Mode selected by the analyzer."
	}
	return Analysis{Mode: mode, Rationale: out.Rationale}
}

func (a *Analyzer) fallback(query string, err error) Analysis {
	metrics.GeneratorFallbacks.WithLabelValues(CallerAnalyzer).Inc()
	reason := "Analysis failed. Defaulting to quick_scan."
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "Analysis timed out. Defaulting to quick_scan."
	}
	a.logger.Warn("Mode analysis fell back to quick_scan",
		zap.Int("query_len", len(query)),
		zap.Error(err),
	)
	return Analysis{Mode: session.ModeQuickScan, Rationale: reason}
}
