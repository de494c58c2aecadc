// Package orchestrator drives research sessions through their state machine:
// analysis, planning, optional human review, execution, synthesis and
// visualization.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/agents"
	"github.com/probeai/orchestrator/internal/metrics"
	"github.com/probeai/orchestrator/internal/research"
	"github.com/probeai/orchestrator/internal/session"
	"github.com/probeai/orchestrator/internal/streaming"
	"github.com/probeai/orchestrator/internal/tracing"
	"github.com/probeai/orchestrator/internal/validation"
)

// CreateOptions override what the pipeline would otherwise decide.
type CreateOptions struct {
	// AutoPilot overrides the mode default.
	AutoPilot *bool
	// Mode skips the analyzer.
	Mode   *session.Mode
	UserID string
}

// Settings are the per-session flags a caller may change in any status.
type Settings struct {
	AutoPilot *bool
	Mode      *session.Mode
}

// Service is the session orchestrator. Mutating operations on one session
// are serialized; different sessions proceed in parallel.
type Service struct {
	store      session.Store
	analyzer   *agents.Analyzer
	planner    PlanGenerator
	engine     *research.Engine
	synth      *research.Synthesizer
	visualizer *research.Visualizer
	events     streaming.Publisher
	locks      *sessionLocks
	logger     *zap.Logger
}

// PlanGenerator produces research plans. *agents.Planner implements it.
type PlanGenerator interface {
	Generate(ctx context.Context, req agents.PlanRequest) agents.PlanResult
}

var _ PlanGenerator = (*agents.Planner)(nil)

// Deps are the collaborators of a Service. Events may be nil.
type Deps struct {
	Store       session.Store
	Analyzer    *agents.Analyzer
	Planner     PlanGenerator
	Engine      *research.Engine
	Synthesizer *research.Synthesizer
	Visualizer  *research.Visualizer
	Events      streaming.Publisher
}

// NewService creates a Service.
func NewService(deps Deps, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      deps.Store,
		analyzer:   deps.Analyzer,
		planner:    deps.Planner,
		engine:     deps.Engine,
		synth:      deps.Synthesizer,
		visualizer: deps.Visualizer,
		events:     deps.Events,
		locks:      newSessionLocks(),
		logger:     logger,
	}
}

// Create validates the query, persists a new session and runs analysis and
// planning. With auto-pilot the session is executed to completion; without
// it the session waits in review_pending.
func (s *Service) Create(ctx context.Context, query string, opts CreateOptions) (*session.ResearchSession, error) {
	q, err := validation.Query(query)
	if err != nil {
		return nil, err
	}
	if opts.Mode != nil && !opts.Mode.Valid() {
		return nil, &session.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", *opts.Mode)}
	}

	now := time.Now().UTC()
	sess := &session.ResearchSession{
		ID:        uuid.New().String(),
		UserID:    opts.UserID,
		Query:     q,
		Status:    session.StatusAnalyzing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	unlock := s.locks.lock(sess.ID)
	defer unlock()

	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	s.emitStatus(sess)
	s.logger.Info("Research session created",
		zap.String("session_id", sess.ID),
		zap.Bool("explicit_mode", opts.Mode != nil),
	)
	return s.runCreatePipeline(ctx, sess, opts.Mode, opts.AutoPilot, true)
}

// runCreatePipeline takes an analyzing session through analysis and planning,
// then executes it or parks it for review.
func (s *Service) runCreatePipeline(ctx context.Context, sess *session.ResearchSession, mode *session.Mode, autoPilot *bool, fresh bool) (*session.ResearchSession, error) {
	switch {
	case mode != nil:
		sess.Mode = *mode
	case fresh || !sess.Mode.Valid():
		sess.Mode = s.analyze(ctx, sess)
	}
	if fresh {
		sess.AutoPilot = sess.Mode.DefaultAutoPilot()
		if autoPilot != nil {
			sess.AutoPilot = *autoPilot
		}
		metrics.SessionsCreated.WithLabelValues(string(sess.Mode)).Inc()
	}
	if err := s.transition(ctx, sess, session.StatusPlanning); err != nil {
		return nil, s.fail(ctx, sess, err)
	}

	req := agents.PlanRequest{Query: sess.Query, Mode: sess.Mode}
	if sess.Plan != nil && len(sess.FeedbackHistory) > 0 {
		req.PreviousPlan = sess.Plan
		req.FeedbackHistory = sess.FeedbackHistory
	}
	sess.Plan = s.plan(ctx, sess, req)
	sess.Touch()

	if sess.AutoPilot {
		if err := s.store.Save(ctx, sess); err != nil {
			return nil, s.fail(ctx, sess, err)
		}
		out, err := s.executePipeline(ctx, sess)
		var pe *session.PreconditionError
		if errors.As(err, &pe) && sess.Status != session.StatusError {
			return nil, s.fail(ctx, sess, err)
		}
		return out, err
	}
	if err := s.transition(ctx, sess, session.StatusReviewPending); err != nil {
		return nil, s.fail(ctx, sess, err)
	}
	return sess, nil
}

func (s *Service) analyze(ctx context.Context, sess *session.ResearchSession) session.Mode {
	ctx, span := tracing.StartStageSpan(ctx, "analyze", sess.ID, "")
	defer metrics.ObserveStage("analyze", "", time.Now())
	a := s.analyzer.Analyze(ctx, sess.Query)
	tracing.End(span, nil)
	s.logger.Info("Query analyzed",
		zap.String("session_id", sess.ID),
		zap.String("mode", string(a.Mode)),
		zap.String("rationale", a.Rationale),
	)
	return a.Mode
}

func (s *Service) plan(ctx context.Context, sess *session.ResearchSession, req agents.PlanRequest) *session.ResearchPlan {
	ctx, span := tracing.StartStageSpan(ctx, "plan", sess.ID, string(sess.Mode))
	defer metrics.ObserveStage("plan", string(sess.Mode), time.Now())
	res := s.planner.Generate(ctx, req)
	tracing.End(span, nil)
	s.logger.Info("Plan generated",
		zap.String("session_id", sess.ID),
		zap.Int("steps", len(res.Steps)),
		zap.Bool("fallback", res.Fallback),
		zap.Bool("regeneration", req.PreviousPlan != nil),
	)
	return &session.ResearchPlan{SessionID: sess.ID, Rationale: res.Rationale, Steps: res.Steps}
}

// executePipeline runs execution, synthesis and visualization. The plan
// precondition is checked before the session moves.
func (s *Service) executePipeline(ctx context.Context, sess *session.ResearchSession) (*session.ResearchSession, error) {
	if err := research.Precondition(sess); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, sess, session.StatusExecuting); err != nil {
		var ite *session.IllegalTransitionError
		if errors.As(err, &ite) {
			return nil, err
		}
		return nil, s.fail(ctx, sess, err)
	}

	executed, err := s.engine.Execute(ctx, sess)
	if err != nil {
		return nil, s.fail(ctx, sess, err)
	}
	sess = executed
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, s.fail(ctx, sess, err)
	}
	s.emitStatus(sess)

	if _, err := s.synth.Synthesize(ctx, sess.ID); err != nil {
		return nil, s.fail(ctx, sess, err)
	}
	sess, err = s.store.Get(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if err := s.visualize(ctx, sess); err != nil {
		return nil, s.fail(ctx, sess, err)
	}
	metrics.SessionsFinished.WithLabelValues(string(sess.Mode), string(sess.Status)).Inc()
	return sess, nil
}

// visualize attaches visualizations for every top-level section except the
// overview and saves the session.
func (s *Service) visualize(ctx context.Context, sess *session.ResearchSession) error {
	if s.visualizer == nil || sess.Report == nil {
		return nil
	}
	ctx, span := tracing.StartStageSpan(ctx, "visualize", sess.ID, string(sess.Mode))
	defer metrics.ObserveStage("visualize", string(sess.Mode), time.Now())

	vizs := []session.Visualization{}
	for _, sec := range sess.Report.Sections {
		if sec.Title == research.SectionOverview {
			continue
		}
		vizs = append(vizs, s.visualizer.Process(ctx, sec.Content)...)
	}
	tracing.End(span, nil)

	sess.Visualizations = vizs
	sess.Touch()
	if err := s.store.Save(ctx, sess); err != nil {
		return err
	}
	if len(vizs) > 0 {
		streaming.Emit(s.events, sess.ID, streaming.Event{
			Type:    streaming.EventVisualizationReady,
			Message: fmt.Sprintf("%d visualizations", len(vizs)),
		})
	}
	return nil
}

// Get returns the session or ErrSessionNotFound.
func (s *Service) Get(ctx context.Context, id string) (*session.ResearchSession, error) {
	return s.store.Get(ctx, id)
}

// List returns all sessions, newest first.
func (s *Service) List(ctx context.Context) ([]*session.ResearchSession, error) {
	return s.store.List(ctx)
}

// Delete removes a session. Deleting an unknown id succeeds.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if f, ok := s.events.(interface{ Forget(string) }); ok {
		f.Forget(id)
	}
	return nil
}

// Approve executes a plan waiting for review.
func (s *Service) Approve(ctx context.Context, id string) (*session.ResearchSession, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusReviewPending {
		return nil, s.illegal(sess.Status, session.StatusExecuting)
	}
	return s.executePipeline(ctx, sess)
}

// SubmitFeedback records feedback on a plan under review and regenerates the
// plan from the previous plan and the whole feedback history.
func (s *Service) SubmitFeedback(ctx context.Context, id, text string) (*session.ResearchSession, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusReviewPending {
		return nil, s.illegal(sess.Status, session.StatusPlanning)
	}
	text, err = validation.Feedback(text)
	if err != nil {
		return nil, err
	}

	sess.AddFeedback(text)
	if err := s.transition(ctx, sess, session.StatusPlanning); err != nil {
		return nil, s.fail(ctx, sess, err)
	}
	sess.Plan = s.plan(ctx, sess, agents.PlanRequest{
		Query:           sess.Query,
		Mode:            sess.Mode,
		PreviousPlan:    sess.Plan,
		FeedbackHistory: sess.FeedbackHistory,
	})
	if err := s.transition(ctx, sess, session.StatusReviewPending); err != nil {
		return nil, s.fail(ctx, sess, err)
	}
	return sess, nil
}

// ModifyPlan replaces the steps of a plan under review without regeneration.
func (s *Service) ModifyPlan(ctx context.Context, id string, steps []session.PlanStep) (*session.ResearchSession, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusReviewPending {
		return nil, s.illegal(sess.Status, session.StatusReviewPending)
	}
	if err := validation.Steps(steps); err != nil {
		return nil, err
	}
	if sess.Plan == nil {
		sess.Plan = &session.ResearchPlan{SessionID: sess.ID}
	}
	sess.Plan.Steps = validation.ResetSteps(steps)
	sess.Touch()
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateSettings changes auto-pilot and, explicitly, the mode in any status.
func (s *Service) UpdateSettings(ctx context.Context, id string, settings Settings) (*session.ResearchSession, error) {
	if settings.Mode != nil && !settings.Mode.Valid() {
		return nil, &session.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", *settings.Mode)}
	}
	unlock := s.locks.lock(id)
	defer unlock()
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if settings.AutoPilot != nil {
		sess.AutoPilot = *settings.AutoPilot
	}
	if settings.Mode != nil {
		sess.Mode = *settings.Mode
	}
	sess.Touch()
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Execute runs the plan of a session: execution, synthesis, visualization.
func (s *Service) Execute(ctx context.Context, id string) (*session.ResearchSession, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.executePipeline(ctx, sess)
}

// Synthesize rebuilds the report from the results already gathered.
func (s *Service) Synthesize(ctx context.Context, id string) (*session.Report, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	report, err := s.synth.Synthesize(ctx, id)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.visualize(ctx, sess); err != nil {
		s.logger.Warn("Visualization after re-synthesis failed", zap.String("session_id", id), zap.Error(err))
	}
	return report, nil
}

// Retry restarts a failed session from analysis, keeping its feedback history.
// The mode stays fixed once analysis has set it.
func (s *Service) Retry(ctx context.Context, id string) (*session.ResearchSession, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusError {
		return nil, s.illegal(sess.Status, session.StatusAnalyzing)
	}
	if err := s.transition(ctx, sess, session.StatusAnalyzing); err != nil {
		return nil, err
	}
	s.logger.Info("Retrying research session", zap.String("session_id", id))
	return s.runCreatePipeline(ctx, sess, nil, nil, false)
}

// transition moves sess to a new status, persists it and publishes the change.
func (s *Service) transition(ctx context.Context, sess *session.ResearchSession, to session.Status) error {
	from := sess.Status
	if err := sess.TransitionTo(to); err != nil {
		metrics.IllegalTransitions.WithLabelValues(string(from), string(to)).Inc()
		return err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return err
	}
	s.emitStatus(sess)
	return nil
}

func (s *Service) illegal(from, to session.Status) error {
	metrics.IllegalTransitions.WithLabelValues(string(from), string(to)).Inc()
	return &session.IllegalTransitionError{From: from, To: to}
}

// fail records err on the session, persists it and returns err. The save
// uses a context that outlives cancellation of ctx.
func (s *Service) fail(ctx context.Context, sess *session.ResearchSession, err error) error {
	sess.Fail(err)
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if serr := s.store.Save(saveCtx, sess); serr != nil {
		s.logger.Error("Failed to persist session failure",
			zap.String("session_id", sess.ID),
			zap.Error(serr),
		)
	}
	metrics.SessionsFinished.WithLabelValues(string(sess.Mode), string(session.StatusError)).Inc()
	s.logger.Error("Research session failed",
		zap.String("session_id", sess.ID),
		zap.Error(err),
	)
	streaming.Emit(s.events, sess.ID, streaming.Event{
		Type:    streaming.EventSessionError,
		Status:  string(sess.Status),
		Message: sess.Error,
	})
	return err
}

func (s *Service) emitStatus(sess *session.ResearchSession) {
	streaming.Emit(s.events, sess.ID, streaming.Event{
		Type:   streaming.EventSessionStatus,
		Status: string(sess.Status),
	})
}
