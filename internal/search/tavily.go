package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/circuitbreaker"
	"github.com/probeai/orchestrator/internal/metrics"
	"github.com/probeai/orchestrator/internal/retry"
	"github.com/probeai/orchestrator/internal/session"
	"github.com/probeai/orchestrator/internal/tracing"
)

const tavilyURL = "https://api.tavily.com/search"

// TavilyClient calls the Tavily search API.
type TavilyClient struct {
	apiKey   string
	endpoint string
	http     *circuitbreaker.HTTPWrapper
	policy   retry.Policy
	logger   *zap.Logger
}

// TavilyOption customizes a TavilyClient.
type TavilyOption func(*TavilyClient)

// WithTavilyEndpoint overrides the API URL.
func WithTavilyEndpoint(u string) TavilyOption {
	return func(c *TavilyClient) { c.endpoint = u }
}

// WithTavilyRetry overrides the retry policy.
func WithTavilyRetry(p retry.Policy) TavilyOption {
	return func(c *TavilyClient) { c.policy = providerPolicy(p) }
}

// NewTavilyClient creates a client. The per-attempt timeout lives in the retry policy.
func NewTavilyClient(apiKey string, logger *zap.Logger, opts ...TavilyOption) *TavilyClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &TavilyClient{
		apiKey:   apiKey,
		endpoint: tavilyURL,
		http:     circuitbreaker.NewHTTPWrapper(&http.Client{}, "tavily", "search", logger),
		policy:   providerPolicy(retry.SearchPolicy(2, 15*time.Second)),
		logger:   logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ Searcher = (*TavilyClient)(nil)

type tavilyRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	SearchDepth       Depth  `json:"search_depth"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeImages     bool   `json:"include_images"`
	IncludeRawContent bool   `json:"include_raw_content"`
	MaxResults        int    `json:"max_results"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

// Search implements Searcher
func (c *TavilyClient) Search(ctx context.Context, req Request) (*Response, error) {
	if req.Depth == "" {
		req.Depth = DepthBasic
	}
	if req.MaxResults <= 0 {
		req.MaxResults = 5
	}
	payload, err := json.Marshal(tavilyRequest{
		APIKey:        c.apiKey,
		Query:         req.Query,
		SearchDepth:   req.Depth,
		IncludeAnswer: true,
		MaxResults:    req.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	start := time.Now()
	var out *tavilyResponse
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.post(ctx, payload)
		return err
	})
	metrics.SearchLatency.WithLabelValues("tavily").Observe(time.Since(start).Seconds())
	metrics.SearchRequests.WithLabelValues("tavily", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, &session.ProviderError{Provider: "tavily", Op: "search", Err: err}
	}

	results := make([]Result, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, Result{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			Score:         r.Score,
			PublishedDate: r.PublishedDate,
		})
	}
	return &Response{Results: sanitize(results), Answer: out.Answer}, nil
}

func (c *TavilyClient) post(ctx context.Context, payload []byte) (*tavilyResponse, error) {
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, c.endpoint)
	var err error
	defer func() { tracing.End(span, err) }()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	tracing.InjectTraceparent(ctx, httpReq)

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		err = &retry.StatusError{Code: res.StatusCode, Body: string(bytes.TrimSpace(body))}
		c.logger.Warn("Tavily returned an error status",
			zap.Int("status", res.StatusCode),
		)
		return nil, err
	}

	var out tavilyResponse
	if err = json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response failed: %w", err)
	}
	return &out, nil
}
