package ratecontrol

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCombineLimits(t *testing.T) {
	combined := CombineLimits(RateLimit{RPM: 30}, RateLimit{RPM: 20})
	if combined.RPM != 20 {
		t.Fatalf("expected RPM 20, got %d", combined.RPM)
	}
	if got := CombineLimits(RateLimit{}, RateLimit{RPM: 15}); got.RPM != 15 {
		t.Fatalf("expected RPM 15, got %d", got.RPM)
	}
}

func TestInterval(t *testing.T) {
	if d := Interval(RateLimit{RPM: 30}); d != 2*time.Second {
		t.Fatalf("expected 2s, got %v", d)
	}
	if d := Interval(RateLimit{}); d != 0 {
		t.Fatalf("expected no delay, got %v", d)
	}
}

func TestParseOverrides(t *testing.T) {
	table, err := Parse([]byte(`
rate_limits:
  default_rpm: 10
  provider_overrides:
    Tavily:
      rpm: 5
`))
	if err != nil {
		t.Fatal(err)
	}
	if got := table.LimitForProvider("tavily").RPM; got != 5 {
		t.Fatalf("expected override 5, got %d", got)
	}
	if got := table.LimitForProvider("openai").RPM; got != 30 {
		t.Fatalf("expected built-in 30, got %d", got)
	}
	if got := table.LimitForProvider("searxng").RPM; got != 10 {
		t.Fatalf("expected default 10, got %d", got)
	}
	if got := table.RPM("tavily", 99); got != 99 {
		t.Fatalf("expected configured 99, got %d", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	table, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if got := table.LimitForProvider("gemini").RPM; got != 60 {
		t.Fatalf("expected built-in 60, got %d", got)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("rate_limits: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatal("expected parse error")
	}
}
