package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/session"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the session error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		ve  *session.ValidationError
		ite *session.IllegalTransitionError
		pe  *session.PreconditionError
		pre *session.ProviderError
		de  *decodeError
	)
	switch {
	case errors.As(err, &de), errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &ite), errors.As(err, &pe):
		return http.StatusConflict
	case errors.As(err, &pre):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	writeJSON(w, code, errorResponse{Error: sanitizeErr(msg)})
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sanitizeErr trims error messages for safe client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}

// decodeError is a malformed request body.
type decodeError struct{ err error }

func (e *decodeError) Error() string { return "invalid JSON: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

const maxBodyBytes = 1 << 20

// decodeBody reads one JSON object into v, rejecting unknown fields and
// bodies over 1MB.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &decodeError{err: err}
	}
	if dec.More() {
		return &decodeError{err: errors.New("unexpected data after object")}
	}
	return nil
}
