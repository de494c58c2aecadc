package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/probeai/orchestrator/internal/config"
	"github.com/probeai/orchestrator/internal/session"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newApp(t *testing.T, body string) *App {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mgr, err := config.NewManager(writeConfig(t, body), logger)
	require.NoError(t, err)
	a, err := New(context.Background(), mgr, logger, zap.NewAtomicLevel())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestMockModeServesResearchAndHealth(t *testing.T) {
	a := newApp(t, `
llm:
  mock: true
search:
  provider: tavily
  tavily_api_key: your_api_key_here
rate_limits_path: /nonexistent/ratelimits.yaml
`)
	assert.ElementsMatch(t, []string{"circuit_breakers", "llm", "search"}, a.Health.Names())
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "degraded", report["status"])
	assert.Equal(t, true, report["ready"])

	// unconfigured search yields no results, so synthesis fails the session
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/research",
		strings.NewReader(`{"query":"Explain quantum entanglement in 50 words"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	list, err := a.Service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, session.StatusError, list[0].Status)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "probeai_")
}

func TestRedisBackendRegistersCriticalCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newApp(t, `
llm:
  mock: true
store:
  backend: redis
  redis_addr: `+mr.Addr()+`
metrics:
  enabled: false
`)
	assert.Contains(t, a.Health.Names(), "redis")
	report := a.Health.Check(context.Background())
	assert.True(t, report.Ready)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecondarySqliteMirror(t *testing.T) {
	a := newApp(t, `
llm:
  mock: true
secondary:
  enabled: true
  driver: sqlite3
  dsn: "file:`+filepath.Join(t.TempDir(), "mirror.db")+`"
`)
	assert.Contains(t, a.Health.Names(), "database")
}

func TestUnreachableRedisFails(t *testing.T) {
	logger := zaptest.NewLogger(t)
	mgr, err := config.NewManager(writeConfig(t, "llm:\n  mock: true\nstore:\n  backend: redis\n  redis_addr: 127.0.0.1:1\n"), logger)
	require.NoError(t, err)
	_, err = New(context.Background(), mgr, logger, zap.NewAtomicLevel())
	assert.Error(t, err)
}

func TestReloadAppliesLogLevel(t *testing.T) {
	a := newApp(t, "llm:\n  mock: true\nlogging:\n  level: info\n")
	old := a.Config.Current()
	updated := *old
	updated.Logging.Level = "debug"
	a.applyReload(old, &updated)
	assert.Equal(t, zap.DebugLevel, a.level.Level())
}

func TestServeStopsOnCancel(t *testing.T) {
	a := newApp(t, "llm:\n  mock: true\nserver:\n  addr: 127.0.0.1:0\n")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
