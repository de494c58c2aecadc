package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/circuitbreaker"
	"github.com/probeai/orchestrator/internal/metrics"
	"github.com/probeai/orchestrator/internal/retry"
	"github.com/probeai/orchestrator/internal/session"
	"github.com/probeai/orchestrator/internal/tracing"
)

type completeFunc func(ctx context.Context, model string, req Request) (*Response, error)

// guard runs provider calls through a breaker and a retry policy, and
// records metrics and a span per call.
type guard struct {
	provider string
	models   map[string]string
	cb       *circuitbreaker.CircuitBreaker
	policy   retry.Policy
	logger   *zap.Logger
}

func newGuard(provider string, models map[string]string, policy retry.Policy, logger *zap.Logger) *guard {
	cfg := circuitbreaker.SettingsFor("llm").ToConfig()
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrEmptyResponse)
	}
	cb := circuitbreaker.NewCircuitBreaker(provider, cfg, logger)
	circuitbreaker.DefaultRegistry.Register("llm", cb)

	if policy.Retryable == nil {
		policy.Retryable = func(err error) bool {
			if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
				return false
			}
			return retry.IsTransient(err)
		}
	}
	return &guard{provider: provider, models: models, cb: cb, policy: policy, logger: logger}
}

func (g *guard) resolve(model string) string {
	if m, ok := g.models[model]; ok {
		return m
	}
	if model == "" {
		return g.models[ModelFlash]
	}
	return model
}

func (g *guard) run(ctx context.Context, req Request, fn completeFunc) (*Response, error) {
	model := g.resolve(req.Model)
	caller := req.Caller
	if caller == "" {
		caller = "unknown"
	}
	ctx, span := tracing.StartSpan(ctx, "llm."+g.provider)
	start := time.Now()

	var resp *Response
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		return g.cb.Execute(ctx, func() error {
			var err error
			resp, err = fn(ctx, model, req)
			if err == nil && (resp == nil || resp.Text == "") {
				err = ErrEmptyResponse
			}
			return err
		})
	})
	tracing.End(span, err)
	metrics.GeneratorCalls.WithLabelValues(g.provider, caller, metrics.Outcome(err)).Inc()
	if err != nil {
		g.logger.Warn("Generator call failed",
			zap.String("provider", g.provider),
			zap.String("model", model),
			zap.String("caller", caller),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, &session.ProviderError{Provider: g.provider, Op: "generate", Err: err}
	}
	g.logger.Debug("Generator call completed",
		zap.String("provider", g.provider),
		zap.String("model", model),
		zap.String("caller", caller),
		zap.Int("tokens", resp.TokenUsage),
		zap.Duration("elapsed", time.Since(start)),
	)
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, nil
}
