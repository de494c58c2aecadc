package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a circuit breaker.
type HTTPWrapper struct {
	client  *http.Client
	cb      *CircuitBreaker
	service string
}

// NewHTTPWrapper creates a breaker-guarded client. class selects CB_<CLASS>_* settings.
func NewHTTPWrapper(client *http.Client, name, class string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	cb := NewCircuitBreaker(name, SettingsFor(class).ToConfig(), logger)
	DefaultRegistry.Register(class, cb)
	return &HTTPWrapper{client: client, cb: cb, service: class}
}

// Do executes req through the breaker. 5xx responses count as breaker
// failures but are still returned to the caller with a nil error.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var err error
		resp, err = hw.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})
	recordRequest(hw.cb.Name(), hw.service, hw.cb.State(), err)

	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	return resp, err
}

// State exposes the breaker state.
func (hw *HTTPWrapper) State() State { return hw.cb.State() }

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
