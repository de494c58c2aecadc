package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/probeai/orchestrator/internal/circuitbreaker"
	"github.com/probeai/orchestrator/internal/retry"
)

// EnrichOptions configures an Enricher.
type EnrichOptions struct {
	// MinContent is the snippet length under which the full page is fetched.
	MinContent int
	// Parallel bounds concurrent page fetches per response.
	Parallel int
	// Timeout bounds each page fetch.
	Timeout time.Duration
	// MaxBytes bounds the page body read.
	MaxBytes int64
}

// Enricher replaces thin result snippets with the readable text of the page.
// Fetch failures keep the original snippet.
type Enricher struct {
	next   Searcher
	http   *circuitbreaker.HTTPWrapper
	opts   EnrichOptions
	logger *zap.Logger
}

// NewEnricher wraps next.
func NewEnricher(next Searcher, opts EnrichOptions, logger *zap.Logger) *Enricher {
	if opts.MinContent <= 0 {
		opts.MinContent = 200
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 2 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		next:   next,
		http:   circuitbreaker.NewHTTPWrapper(&http.Client{}, "page-fetch", "search", logger),
		opts:   opts,
		logger: logger,
	}
}

func (e *Enricher) Search(ctx context.Context, req Request) (*Response, error) {
	resp, err := e.next.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Parallel)
	for i := range resp.Results {
		r := &resp.Results[i]
		if len(strings.TrimSpace(r.Content)) >= e.opts.MinContent {
			continue
		}
		g.Go(func() error {
			text, err := e.fetch(gctx, r.URL)
			if err != nil {
				e.logger.Debug("Page enrichment failed", zap.String("url", r.URL), zap.Error(err))
				return nil
			}
			if len(text) > len(r.Content) {
				r.Content = text
			}
			return nil
		})
	}
	_ = g.Wait()
	return resp, nil
}

func (e *Enricher) fetch(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ProbeAI/1.0)")
	res, err := e.http.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", &retry.StatusError{Code: res.StatusCode}
	}
	if ct := res.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return "", fmt.Errorf("unsupported content type %q", ct)
	}

	article, err := readability.FromReader(io.LimitReader(res.Body, e.opts.MaxBytes), parsed)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(article.TextContent), " "), nil
}
