package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingCheckerAgainstRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewPingChecker("redis", pingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() }), true)
	res := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)

	mr.Close()
	res = c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestManagerAggregates(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(NewPingChecker("store", pingFunc(func(context.Context) error { return nil }), true)))
	require.NoError(t, m.RegisterChecker(NewProviderChecker("search", func() bool { return false }, "sessions fail at execution")))
	assert.Error(t, m.RegisterChecker(NewPingChecker("store", nil, true)))
	assert.Equal(t, []string{"search", "store"}, m.Names())

	report := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.True(t, report.Ready)

	require.NoError(t, m.RegisterChecker(NewPingChecker("database", pingFunc(func(context.Context) error { return errors.New("down") }), false)))
	report = m.Check(context.Background())
	assert.True(t, report.Ready, "non-critical failures keep the service ready")

	require.NoError(t, m.RegisterChecker(NewPingChecker("redis", pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), true)))
	m.checkers["redis"].(*PingChecker).timeout = 10 * time.Millisecond
	report = m.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.False(t, report.Ready)
}

func TestHTTPEndpoints(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	healthy := true
	require.NoError(t, m.RegisterChecker(NewPingChecker("store", pingFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("unreachable")
	}), true)))
	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)

	get := func(path string) (int, map[string]interface{}) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	healthy = false
	code, body = get("/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["ready"])

	code, body = get("/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["live"])
}
