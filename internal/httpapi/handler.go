// Package httpapi exposes research sessions over HTTP: JSON endpoints for
// every orchestrator operation plus SSE and WebSocket event streams.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/auth"
	"github.com/probeai/orchestrator/internal/formatting"
	"github.com/probeai/orchestrator/internal/metrics"
	"github.com/probeai/orchestrator/internal/orchestrator"
	"github.com/probeai/orchestrator/internal/session"
	"github.com/probeai/orchestrator/internal/streaming"
	"github.com/probeai/orchestrator/internal/tracing"
)

// Service is the orchestrator surface the API drives.
type Service interface {
	Create(ctx context.Context, query string, opts orchestrator.CreateOptions) (*session.ResearchSession, error)
	Get(ctx context.Context, id string) (*session.ResearchSession, error)
	List(ctx context.Context) ([]*session.ResearchSession, error)
	Delete(ctx context.Context, id string) error
	Approve(ctx context.Context, id string) (*session.ResearchSession, error)
	SubmitFeedback(ctx context.Context, id, text string) (*session.ResearchSession, error)
	ModifyPlan(ctx context.Context, id string, steps []session.PlanStep) (*session.ResearchSession, error)
	UpdateSettings(ctx context.Context, id string, settings orchestrator.Settings) (*session.ResearchSession, error)
	Execute(ctx context.Context, id string) (*session.ResearchSession, error)
	Synthesize(ctx context.Context, id string) (*session.Report, error)
	Retry(ctx context.Context, id string) (*session.ResearchSession, error)
}

var _ Service = (*orchestrator.Service)(nil)

// Stream is the event source behind /events and /ws.
type Stream interface {
	Subscribe(sessionID string, buffer int) chan streaming.Event
	Unsubscribe(sessionID string, ch chan streaming.Event)
	ReplaySince(sessionID string, since uint64) []streaming.Event
}

var _ Stream = (*streaming.Manager)(nil)

// Handler serves the research API.
type Handler struct {
	svc       Service
	stream    Stream
	auth      *auth.Middleware
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewHandler creates the API handler. mw may be nil for an open API.
func NewHandler(svc Service, stream Stream, mw *auth.Middleware, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mw == nil {
		mw = auth.NewMiddleware("", "")
	}
	return &Handler{svc: svc, stream: stream, auth: mw, logger: logger, heartbeat: 15 * time.Second}
}

// RegisterRoutes registers the API on mux behind authentication.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	api := http.NewServeMux()
	h.route(api, "GET /api/research", h.handleList)
	h.route(api, "POST /api/research", h.handleCreate)
	h.route(api, "GET /api/research/{id}", h.handleGet)
	h.route(api, "DELETE /api/research/{id}", h.handleDelete)
	h.route(api, "POST /api/research/{id}/approve", h.handleApprove)
	h.route(api, "POST /api/research/{id}/execute", h.handleExecute)
	h.route(api, "POST /api/research/{id}/feedback", h.handleFeedback)
	h.route(api, "POST /api/research/{id}/modify", h.handleModify)
	h.route(api, "PATCH /api/research/{id}/settings", h.handleSettings)
	h.route(api, "POST /api/research/{id}/synthesize", h.handleSynthesize)
	h.route(api, "POST /api/research/{id}/retry", h.handleRetry)
	h.route(api, "GET /api/research/{id}/report.md", h.handleReportMarkdown)
	h.route(api, "GET /api/research/{id}/events", h.handleSSE)
	h.route(api, "GET /api/research/{id}/ws", h.handleWS)

	mux.Handle("/api/", h.auth.HTTPMiddleware(api))
}

func (h *Handler) route(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, instrument(pattern, fn))
}

type createRequest struct {
	Query     string        `json:"query"`
	AutoPilot *bool         `json:"autoPilot,omitempty"`
	Mode      *session.Mode `json:"mode,omitempty"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

type modifyRequest struct {
	Steps []session.PlanStep `json:"steps"`
}

type settingsRequest struct {
	AutoPilot *bool         `json:"autoPilot,omitempty"`
	Mode      *session.Mode `json:"mode,omitempty"`
}

type listResponse struct {
	Sessions []*session.ResearchSession `json:"sessions"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]*session.ResearchSession, 0, len(all))
	for _, s := range all {
		if owns(r.Context(), s) {
			out = append(out, s)
		}
	}
	writeJSON(w, http.StatusOK, listResponse{Sessions: out})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.svc.Create(r.Context(), req.Query, orchestrator.CreateOptions{
		AutoPilot: req.AutoPilot,
		Mode:      req.Mode,
		UserID:    auth.UserID(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.owned(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	s, err := h.owned(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Delete(r.Context(), s.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, id string) (*session.ResearchSession, error) {
		return h.svc.Approve(ctx, id)
	})
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, id string) (*session.ResearchSession, error) {
		return h.svc.Execute(ctx, id)
	})
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, id string) (*session.ResearchSession, error) {
		return h.svc.Retry(ctx, id)
	})
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.mutate(w, r, func(ctx context.Context, id string) (*session.ResearchSession, error) {
		return h.svc.SubmitFeedback(ctx, id, req.Feedback)
	})
}

func (h *Handler) handleModify(w http.ResponseWriter, r *http.Request) {
	var req modifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.mutate(w, r, func(ctx context.Context, id string) (*session.ResearchSession, error) {
		return h.svc.ModifyPlan(ctx, id, req.Steps)
	})
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.mutate(w, r, func(ctx context.Context, id string) (*session.ResearchSession, error) {
		return h.svc.UpdateSettings(ctx, id, orchestrator.Settings{AutoPilot: req.AutoPilot, Mode: req.Mode})
	})
}

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	s, err := h.owned(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.svc.Synthesize(r.Context(), s.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleReportMarkdown(w http.ResponseWriter, r *http.Request) {
	s, err := h.owned(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !s.HasReport() {
		h.writeError(w, r, &session.PreconditionError{Condition: "no report"})
		return
	}
	md := formatting.ReportToMarkdown(s.Report)
	if viz := formatting.VisualizationsToMarkdown(s.Visualizations); viz != "" {
		md += "\n" + viz
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="report-`+s.ID+`.md"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(md))
}

// mutate checks ownership, then runs op and writes the updated session.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*session.ResearchSession, error)) {
	s, err := h.owned(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := op(r.Context(), s.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// owned loads the path session. Sessions of other users are reported as
// missing.
func (h *Handler) owned(r *http.Request) (*session.ResearchSession, error) {
	s, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if !owns(r.Context(), s) {
		return nil, session.ErrSessionNotFound
	}
	return s, nil
}

func owns(ctx context.Context, s *session.ResearchSession) bool {
	uid := auth.UserID(ctx)
	return uid == "" || s.UserID == uid
}

// instrument records request counts for route and opens a span.
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartSpan(r.Context(), route)
		defer span.End()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}
