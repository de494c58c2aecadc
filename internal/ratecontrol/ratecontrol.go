// Package ratecontrol reads per-provider request budgets from a YAML table.
package ratecontrol

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type file struct {
	RateLimits struct {
		DefaultRPM        int `yaml:"default_rpm"`
		ProviderOverrides map[string]struct {
			RPM int `yaml:"rpm"`
		} `yaml:"provider_overrides"`
	} `yaml:"rate_limits"`
}

type RateLimit struct {
	RPM int
}

// Table resolves the limit of a provider. The zero Table only knows the
// built-in limits.
type Table struct {
	defaultRPM int
	providers  map[string]RateLimit
}

// Load reads the table at path. A missing file yields the built-in limits.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rate limits: %w", err)
	}
	return Parse(data)
}

// Parse decodes a rate limit table.
func Parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rate limits: %w", err)
	}
	t := &Table{defaultRPM: f.RateLimits.DefaultRPM, providers: map[string]RateLimit{}}
	for name, o := range f.RateLimits.ProviderOverrides {
		t.providers[normalize(name)] = RateLimit{RPM: o.RPM}
	}
	return t, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// LimitForProvider prefers the file override, then the built-in limit, then
// the file default. RPM 0 means unlimited.
func (t *Table) LimitForProvider(provider string) RateLimit {
	key := normalize(provider)
	if t != nil {
		if o, ok := t.providers[key]; ok {
			return o
		}
	}
	if limit, ok := builtInProviderLimits[key]; ok {
		return limit
	}
	if t != nil {
		return RateLimit{RPM: t.defaultRPM}
	}
	return RateLimit{}
}

// RPM returns configured if positive, else the table limit for provider.
func (t *Table) RPM(provider string, configured int) int {
	if configured > 0 {
		return configured
	}
	return t.LimitForProvider(provider).RPM
}

var builtInProviderLimits = map[string]RateLimit{
	"tavily": {RPM: 100},
	"gemini": {RPM: 60},
	"openai": {RPM: 30},
}

// CombineLimits keeps the stricter positive limit.
func CombineLimits(a, b RateLimit) RateLimit {
	rpm := minPositive(a.RPM, b.RPM)
	if rpm == 0 {
		rpm = max(a.RPM, b.RPM)
	}
	return RateLimit{RPM: rpm}
}

// Interval is the spacing between requests that limit allows.
func Interval(limit RateLimit) time.Duration {
	if limit.RPM <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(60000.0/float64(limit.RPM))) * time.Millisecond
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		if a < b {
			return a
		}
		return b
	}
}
