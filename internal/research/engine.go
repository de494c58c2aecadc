// Package research runs the stages after planning: executing searches,
// synthesizing the report and generating visualizations.
package research

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/probeai/orchestrator/internal/metadata"
	"github.com/probeai/orchestrator/internal/metrics"
	"github.com/probeai/orchestrator/internal/search"
	"github.com/probeai/orchestrator/internal/session"
	"github.com/probeai/orchestrator/internal/streaming"
	"github.com/probeai/orchestrator/internal/tracing"
	"github.com/probeai/orchestrator/internal/util"
)

// EngineConfig tunes search execution.
type EngineConfig struct {
	// Concurrency bounds in-flight searches across the whole execution.
	Concurrency int `mapstructure:"concurrency"`
	// MinScore drops results scored below it.
	MinScore float64 `mapstructure:"min_score"`
	// MaxContent is the content length, in characters, kept per result.
	MaxContent int `mapstructure:"max_content"`
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{Concurrency: 3, MinScore: 0.3, MaxContent: 20000}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MinScore <= 0 {
		c.MinScore = d.MinScore
	}
	if c.MaxContent <= 0 {
		c.MaxContent = d.MaxContent
	}
	return c
}

// Engine executes the search steps of a plan.
type Engine struct {
	searcher search.Searcher
	events   streaming.Publisher
	logger   *zap.Logger

	mu  sync.RWMutex
	cfg EngineConfig
}

// NewEngine creates an Engine. events may be nil.
func NewEngine(searcher search.Searcher, cfg EngineConfig, events streaming.Publisher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{searcher: searcher, events: events, logger: logger, cfg: cfg.withDefaults()}
}

// Configure replaces the tuning of future executions.
func (e *Engine) Configure(cfg EngineConfig) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Engine) config() EngineConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// searchOptions maps a mode to its provider depth and result count.
func searchOptions(mode session.Mode) (search.Depth, int) {
	if mode == session.ModeDeepProbe {
		return search.DepthAdvanced, 10
	}
	return search.DepthBasic, 5
}

// Precondition returns a PreconditionError unless s has a runnable plan.
func Precondition(s *session.ResearchSession) error {
	if s.Plan == nil {
		return &session.PreconditionError{Condition: session.ConditionNoPlan}
	}
	if !s.Plan.Runnable() {
		return &session.PreconditionError{Condition: session.ConditionEmptyPlan, Detail: "no search step has queries"}
	}
	return nil
}

// resultSet keeps results unique by normalized URL, in insertion order.
type resultSet struct {
	order []string
	byKey map[string]session.ResearchResult
}

func newResultSet(seed []session.ResearchResult) *resultSet {
	rs := &resultSet{byKey: make(map[string]session.ResearchResult, len(seed))}
	for _, r := range seed {
		rs.add(r)
	}
	return rs
}

func (rs *resultSet) add(r session.ResearchResult) bool {
	key := metadata.DedupKey(r.URL)
	if _, ok := rs.byKey[key]; ok {
		return false
	}
	rs.order = append(rs.order, key)
	rs.byKey[key] = r
	return true
}

func (rs *resultSet) values() []session.ResearchResult {
	out := make([]session.ResearchResult, 0, len(rs.order))
	for _, k := range rs.order {
		out = append(out, rs.byKey[k])
	}
	return out
}

type queryOutcome struct {
	query  string
	resp   *search.Response
	failed bool
}

// Execute runs every search step of the plan and returns the updated copy of
// s with status completed. s itself is not modified. A failed query yields no
// results and does not fail the execution; only a cancelled ctx does.
func (e *Engine) Execute(ctx context.Context, s *session.ResearchSession) (*session.ResearchSession, error) {
	if err := Precondition(s); err != nil {
		return nil, err
	}
	cfg := e.config()
	out := s.Clone()
	if err := out.TransitionTo(session.StatusExecuting); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartStageSpan(ctx, "execute", out.ID, string(out.Mode))
	start := time.Now()
	defer metrics.ObserveStage("execute", string(out.Mode), start)

	depth, maxResults := searchOptions(out.Mode)
	results := newResultSet(out.Results)
	sem := semaphore.NewWeighted(int64(cfg.Concurrency))
	var answer string

	for _, step := range out.Plan.SearchSteps() {
		queries := step.SearchQueries()
		if len(queries) == 0 {
			continue
		}
		step.Status = session.StepSearching
		streaming.Emit(e.events, out.ID, streaming.Event{
			Type:    streaming.EventStepSearching,
			StepID:  step.ID,
			Status:  string(step.Status),
			Message: step.Description,
		})

		outcomes := make(chan queryOutcome, len(queries))
		g, gctx := errgroup.WithContext(ctx)
		for _, q := range queries {
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
				outcomes <- e.runQuery(gctx, out.ID, q, depth, maxResults)
				return nil
			})
		}
		go func() {
			_ = g.Wait()
			close(outcomes)
		}()

		added := 0
		for o := range outcomes {
			if o.failed {
				continue
			}
			if answer == "" {
				answer = o.resp.Answer
			}
			added += e.merge(results, o, cfg)
		}
		if err := g.Wait(); err != nil {
			tracing.End(span, err)
			return nil, fmt.Errorf("execute step %s: %w", step.ID, err)
		}
		if err := ctx.Err(); err != nil {
			tracing.End(span, err)
			return nil, err
		}

		step.Status = session.StepScraped
		step.SetSourceCount(added)
		streaming.Emit(e.events, out.ID, streaming.Event{
			Type:    streaming.EventStepScraped,
			StepID:  step.ID,
			Status:  string(step.Status),
			Message: strconv.Itoa(added) + " new sources",
		})
	}

	out.Results = results.values()
	if answer != "" {
		out.TavilyAnswer = answer
	}
	if err := out.TransitionTo(session.StatusCompleted); err != nil {
		tracing.End(span, err)
		return nil, err
	}
	tracing.End(span, nil)

	e.logger.Info("Research execution completed",
		zap.String("session_id", out.ID),
		zap.String("mode", string(out.Mode)),
		zap.Int("results", len(out.Results)),
		zap.Duration("elapsed", time.Since(start)),
	)
	streaming.Emit(e.events, out.ID, streaming.Event{
		Type:    streaming.EventResearchCompleted,
		Status:  string(out.Status),
		Message: strconv.Itoa(len(out.Results)) + " sources",
	})
	return out, nil
}

func (e *Engine) runQuery(ctx context.Context, sessionID, q string, depth search.Depth, maxResults int) queryOutcome {
	resp, err := e.searcher.Search(ctx, search.Request{Query: q, Depth: depth, MaxResults: maxResults})
	if err != nil {
		e.logger.Warn("Search query failed",
			zap.String("session_id", sessionID),
			zap.String("query", q),
			zap.Error(err),
		)
		return queryOutcome{query: q, failed: true}
	}
	if resp == nil {
		resp = &search.Response{}
	}
	return queryOutcome{query: q, resp: resp}
}

// merge adds the usable results of one query and returns how many were new.
func (e *Engine) merge(rs *resultSet, o queryOutcome, cfg EngineConfig) int {
	added := 0
	now := time.Now().UTC()
	for _, r := range o.resp.Results {
		if r.Score < cfg.MinScore {
			metrics.ResultsDropped.WithLabelValues("low_score").Inc()
			continue
		}
		content, truncated := util.TruncateContent(r.Content, cfg.MaxContent)
		if truncated {
			metrics.ResultsTruncated.Inc()
		}
		if !rs.add(session.ResearchResult{
			URL:        r.URL,
			Title:      r.Title,
			Content:    content,
			QueryMatch: o.query,
			Timestamp:  now,
			Score:      r.Score,
		}) {
			metrics.ResultsDropped.WithLabelValues("duplicate").Inc()
			continue
		}
		added++
	}
	return added
}
