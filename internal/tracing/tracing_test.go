package tracing

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func TestDisabledTracingIsSafe(t *testing.T) {
	shutdown, err := Initialize(Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := StartStageSpan(context.Background(), "plan", "s1", "quick_scan")
	End(span, nil)

	req := httptest.NewRequest("GET", "http://example.com", nil)
	InjectTraceparent(ctx, req)
	assert.Empty(t, req.Header.Get("traceparent"))
}

func TestStageSpanAttributesAndTraceparent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	setTracer(tp.Tracer("test"))
	t.Cleanup(func() { setTracer(tp.Tracer(defaultServiceName)) })

	ctx, span := StartStageSpan(context.Background(), "execute", "s42", "deep_probe")
	req := httptest.NewRequest("GET", "http://example.com", nil)
	InjectTraceparent(ctx, req)
	assert.Regexp(t, `^00-[0-9a-f]{32}-[0-9a-f]{16}-0[01]$`, req.Header.Get("traceparent"))
	End(span, errors.New("search failed"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "research.execute", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "s42", attrs["research.session_id"])
	assert.Equal(t, "deep_probe", attrs["research.mode"])
}
