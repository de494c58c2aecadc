package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/circuitbreaker"
	"github.com/probeai/orchestrator/internal/metrics"
	"github.com/probeai/orchestrator/internal/retry"
	"github.com/probeai/orchestrator/internal/session"
	"github.com/probeai/orchestrator/internal/tracing"
)

// SearXNGClient queries a self-hosted SearXNG instance through its JSON API.
type SearXNGClient struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	policy  retry.Policy
	logger  *zap.Logger
}

// NewSearXNGClient creates a client for the instance at baseURL.
func NewSearXNGClient(baseURL string, policy retry.Policy, logger *zap.Logger) *SearXNGClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearXNGClient{
		baseURL: baseURL,
		http:    circuitbreaker.NewHTTPWrapper(&http.Client{}, "searxng", "search", logger),
		policy:  providerPolicy(policy),
		logger:  logger,
	}
}

var _ Searcher = (*SearXNGClient)(nil)

type searxngResponse struct {
	Query   string   `json:"query"`
	Answers []string `json:"answers"`
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		PublishedDate string  `json:"publishedDate"`
		Score         float64 `json:"score"`
	} `json:"results"`
}

// Search implements Searcher. SearXNG scores are unbounded, so they are
// scaled against the best hit of the response. Advanced depth widens the
// categories searched.
func (c *SearXNGClient) Search(ctx context.Context, req Request) (*Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = "/search"
	q := u.Query()
	q.Set("q", req.Query)
	q.Set("format", "json")
	if req.Depth == DepthAdvanced {
		q.Set("categories", "general,science,news")
	} else {
		q.Set("categories", "general")
	}
	u.RawQuery = q.Encode()

	start := time.Now()
	var out *searxngResponse
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.get(ctx, u.String())
		return err
	})
	metrics.SearchLatency.WithLabelValues("searxng").Observe(time.Since(start).Seconds())
	metrics.SearchRequests.WithLabelValues("searxng", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, &session.ProviderError{Provider: "searxng", Op: "search", Err: err}
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	var best float64
	for _, r := range out.Results {
		if r.Score > best {
			best = r.Score
		}
	}
	results := make([]Result, 0, len(out.Results))
	for _, r := range out.Results {
		score := r.Score
		if best > 1 {
			score = r.Score / best
		}
		results = append(results, Result{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			Score:         score,
			PublishedDate: r.PublishedDate,
		})
	}
	results = sanitize(results)
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	resp := &Response{Results: results}
	if len(out.Answers) > 0 {
		resp.Answer = out.Answers[0]
	}
	return resp, nil
}

func (c *SearXNGClient) get(ctx context.Context, target string) (*searxngResponse, error) {
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodGet, target)
	var err error
	defer func() { tracing.End(span, err) }()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ProbeAI/1.0)")
	httpReq.Header.Set("Accept", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		err = &retry.StatusError{Code: res.StatusCode, Body: string(body)}
		return nil, err
	}
	var out searxngResponse
	if err = json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response failed: %w", err)
	}
	return &out, nil
}
