package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/retry"
	"github.com/probeai/orchestrator/internal/session"
)

// Config selects and tunes the search provider.
type Config struct {
	Provider     string        `mapstructure:"provider"`
	TavilyAPIKey string        `mapstructure:"tavily_api_key"`
	TavilyURL    string        `mapstructure:"tavily_url"`
	SearXNGURL   string        `mapstructure:"searxng_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	Enrich       bool          `mapstructure:"enrich"`
	RPM          int           `mapstructure:"rpm"`
}

// ErrNotConfigured is returned by every call of an unconfigured provider.
var ErrNotConfigured = errors.New("search provider is not configured")

// New builds the configured Searcher with its decorators: rate limiting
// innermost, then enrichment, then caching.
func New(cfg Config, logger *zap.Logger) (Searcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := retry.SearchPolicy(cfg.MaxRetries, cfg.Timeout)
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("Retrying search",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "tavily"
	}

	var s Searcher
	switch provider {
	case "tavily":
		if !keyConfigured(cfg.TavilyAPIKey) {
			logger.Warn("TAVILY_API_KEY is not configured; searches will fail")
			return Unconfigured{Provider: "tavily"}, nil
		}
		opts := []TavilyOption{WithTavilyRetry(policy)}
		if cfg.TavilyURL != "" {
			opts = append(opts, WithTavilyEndpoint(cfg.TavilyURL))
		}
		s = NewTavilyClient(cfg.TavilyAPIKey, logger, opts...)
	case "searxng":
		if cfg.SearXNGURL == "" {
			return nil, fmt.Errorf("searxng base url is missing")
		}
		s = NewSearXNGClient(cfg.SearXNGURL, policy, logger)
	default:
		return nil, fmt.Errorf("unknown search provider: %s", cfg.Provider)
	}

	s = NewLimited(s, cfg.RPM)
	if cfg.Enrich {
		s = NewEnricher(s, EnrichOptions{}, logger)
	}
	return NewCached(s, cfg.CacheTTL), nil
}

func keyConfigured(key string) bool {
	key = strings.TrimSpace(key)
	return key != "" && key != "your_api_key_here"
}

// Unconfigured fails every search with ErrNotConfigured.
type Unconfigured struct {
	Provider string
}

func (u Unconfigured) Search(context.Context, Request) (*Response, error) {
	return nil, &session.ProviderError{Provider: u.Provider, Op: "search", Err: ErrNotConfigured}
}
