package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searxng(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"results":[
			{"title":"Entanglement explained","url":"https://a.example/entanglement","content":"Entangled particles share one quantum state.","score":2.0}
		]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
llm:
  mock: true
search:
  provider: searxng
  searxng_url: %s
  cache_ttl: 0
store:
  backend: file
  dir: %s
logging:
  level: error
rate_limits_path: %s
`, searxng(t).URL, filepath.Join(dir, "sessions"), filepath.Join(dir, "missing.yaml"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestResearchPrintsMarkdownReport(t *testing.T) {
	cfg := testConfig(t)
	out, err := run(t, "research", "Explain quantum entanglement in 50 words", "--config", cfg)
	require.NoError(t, err, out)
	assert.Regexp(t, `(?m)^# `, out)
	assert.Contains(t, out, "## References")
	assert.Contains(t, out, "https://a.example/entanglement")
}

func TestDeepProbeStopsForReviewThenShow(t *testing.T) {
	cfg := testConfig(t)
	out, err := run(t, "research", "Compare approaches to quantum error correction", "--mode", "deep_probe", "--config", cfg)
	require.NoError(t, err, out)
	assert.Contains(t, out, "review_pending")
	assert.Contains(t, out, "Plan:")

	id := regexp.MustCompile(`Session (\S+) is`).FindStringSubmatch(out)
	require.Len(t, id, 2)

	out, err = run(t, "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, id[1])
	assert.Contains(t, out, "deep_probe")

	out, err = run(t, "show", id[1], "--json", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "review_pending"`)
}

func TestResearchApprove(t *testing.T) {
	cfg := testConfig(t)
	out, err := run(t, "research", "Compare approaches to quantum error correction", "--mode", "deep_probe", "--approve", "--config", cfg)
	require.NoError(t, err, out)
	assert.Contains(t, out, "## References")
}

func TestResearchRejectsUnknownMode(t *testing.T) {
	_, err := run(t, "research", "Explain quantum entanglement", "--mode", "turbo", "--config", testConfig(t))
	assert.Error(t, err)
}
