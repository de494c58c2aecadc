// Package search reaches web search providers through one Searcher interface.
package search

import (
	"context"
	"errors"
	"strings"

	"github.com/probeai/orchestrator/internal/circuitbreaker"
	"github.com/probeai/orchestrator/internal/metadata"
	"github.com/probeai/orchestrator/internal/retry"
)

// Searcher runs one web search.
type Searcher interface {
	Search(ctx context.Context, req Request) (*Response, error)
}

// Depth is the provider search depth.
type Depth string

const (
	DepthBasic    Depth = "basic"
	DepthAdvanced Depth = "advanced"
)

// Request is a provider independent search request.
type Request struct {
	Query      string
	Depth      Depth
	MaxResults int
}

// Response holds the results of one search.
type Response struct {
	Results []Result
	// Answer is a provider generated short answer, when offered.
	Answer string
}

// Result is one search hit. Score is normalized to 0..1.
type Result struct {
	Title         string
	URL           string
	Content       string
	Score         float64
	PublishedDate string
}

const defaultTitle = "No Title"

// sanitize drops results pointing at binary files, collapses whitespace in
// content and fills in missing titles.
func sanitize(in []Result) []Result {
	out := make([]Result, 0, len(in))
	for _, r := range in {
		if strings.TrimSpace(r.URL) == "" || metadata.IsBinaryURL(r.URL) {
			continue
		}
		r.Content = strings.Join(strings.Fields(r.Content), " ")
		if strings.TrimSpace(r.Title) == "" {
			r.Title = defaultTitle
		}
		if r.Score < 0 {
			r.Score = 0
		}
		out = append(out, r)
	}
	return out
}

// providerPolicy stops retrying once the provider's breaker rejects calls.
func providerPolicy(p retry.Policy) retry.Policy {
	if p.Retryable != nil {
		return p
	}
	p.Retryable = func(err error) bool {
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return false
		}
		return retry.IsTransient(err)
	}
	return p
}
