package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/probeai/orchestrator/internal/retry"
	"github.com/probeai/orchestrator/internal/session"
)

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, PerAttemptTimeout: time.Second, InitialInterval: time.Millisecond}
}

func TestTavilySearch(t *testing.T) {
	var got tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{
			"answer": "Entangled particles share a quantum state.",
			"results": [
				{"title": "Entanglement", "url": "https://a.example/e", "content": "  Two   particles\n linked ", "score": 0.92},
				{"title": "", "url": "https://b.example/x", "content": "no title", "score": 0.5},
				{"title": "Paper", "url": "https://c.example/paper.pdf", "content": "binary", "score": 0.99}
			]
		}`)
	}))
	defer srv.Close()

	c := NewTavilyClient("key-123", zaptest.NewLogger(t), WithTavilyEndpoint(srv.URL), WithTavilyRetry(fastRetry(1)))
	resp, err := c.Search(context.Background(), Request{Query: "quantum entanglement", Depth: DepthAdvanced, MaxResults: 10})
	require.NoError(t, err)

	assert.Equal(t, "quantum entanglement", got.Query)
	assert.Equal(t, DepthAdvanced, got.SearchDepth)
	assert.Equal(t, 10, got.MaxResults)
	assert.True(t, got.IncludeAnswer)
	assert.False(t, got.IncludeRawContent)

	assert.Equal(t, "Entangled particles share a quantum state.", resp.Answer)
	require.Len(t, resp.Results, 2, "binary URLs are dropped")
	assert.Equal(t, "Two particles linked", resp.Results[0].Content)
	assert.Equal(t, "No Title", resp.Results[1].Title)
}

func TestTavilyDefaults(t *testing.T) {
	var got tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = fmt.Fprint(w, `{"results": []}`)
	}))
	defer srv.Close()

	c := NewTavilyClient("k", zaptest.NewLogger(t), WithTavilyEndpoint(srv.URL), WithTavilyRetry(fastRetry(1)))
	_, err := c.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, DepthBasic, got.SearchDepth)
	assert.Equal(t, 5, got.MaxResults)
}

func TestTavilyRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = fmt.Fprint(w, `{"results": [{"title":"t","url":"https://ok.example","content":"c","score":0.4}]}`)
	}))
	defer srv.Close()

	c := NewTavilyClient("k", zaptest.NewLogger(t), WithTavilyEndpoint(srv.URL), WithTavilyRetry(fastRetry(3)))
	resp, err := c.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestTavilyDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewTavilyClient("bad", zaptest.NewLogger(t), WithTavilyEndpoint(srv.URL), WithTavilyRetry(fastRetry(3)))
	_, err := c.Search(context.Background(), Request{Query: "q"})

	var pe *session.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "tavily", pe.Provider)
	var se *retry.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSearXNGSearchNormalizesScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "entanglement", r.URL.Query().Get("q"))
		_, _ = fmt.Fprint(w, `{"answers":["short answer"],"results":[
			{"title":"A","url":"https://a.example","content":"a","score":4.0},
			{"title":"B","url":"https://b.example","content":"b","score":1.0},
			{"title":"C","url":"https://c.example","content":"c","score":0.5}
		]}`)
	}))
	defer srv.Close()

	c := NewSearXNGClient(srv.URL, fastRetry(1), zaptest.NewLogger(t))
	resp, err := c.Search(context.Background(), Request{Query: "entanglement", MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.25, resp.Results[1].Score, 1e-9)
	assert.Equal(t, "short answer", resp.Answer)
}

type countingSearcher struct {
	calls int32
	err   error
}

func (c *countingSearcher) Search(_ context.Context, req Request) (*Response, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	return &Response{Results: []Result{{Title: req.Query, URL: "https://x.example/" + req.Query, Score: 0.9}}}, nil
}

func TestCachedServesRepeatQueries(t *testing.T) {
	inner := &countingSearcher{}
	s := NewCached(inner, time.Minute)
	ctx := context.Background()

	first, err := s.Search(ctx, Request{Query: "Quantum", Depth: DepthBasic, MaxResults: 5})
	require.NoError(t, err)
	first.Results[0].Title = "mutated"

	second, err := s.Search(ctx, Request{Query: " quantum ", Depth: DepthBasic, MaxResults: 5})
	require.NoError(t, err)
	assert.Equal(t, "Quantum", second.Results[0].Title)
	assert.EqualValues(t, 1, atomic.LoadInt32(&inner.calls))

	_, err = s.Search(ctx, Request{Query: "quantum", Depth: DepthAdvanced, MaxResults: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&inner.calls))
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	inner := &countingSearcher{err: errors.New("down")}
	s := NewCached(inner, time.Minute)
	_, _ = s.Search(context.Background(), Request{Query: "q"})
	_, _ = s.Search(context.Background(), Request{Query: "q"})
	assert.EqualValues(t, 2, atomic.LoadInt32(&inner.calls))
	assert.Same(t, inner, NewCached(inner, 0))
}

type nilSearcher struct{}

func (nilSearcher) Search(context.Context, Request) (*Response, error) { return nil, nil }

func TestCachedTreatsNilResponseAsEmpty(t *testing.T) {
	s := NewCached(nilSearcher{}, time.Minute)
	for i := 0; i < 2; i++ {
		resp, err := s.Search(context.Background(), Request{Query: "q"})
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Empty(t, resp.Results)
	}
}

type fixedSearcher struct{ resp *Response }

func (f fixedSearcher) Search(context.Context, Request) (*Response, error) {
	out := *f.resp
	out.Results = append([]Result(nil), f.resp.Results...)
	return &out, nil
}

func TestEnricherFetchesThinResults(t *testing.T) {
	body := strings.Repeat("Entanglement correlates measurement outcomes across distance. ", 20)
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, `<html><head><title>Article</title></head><body><article><h1>Article</h1><p>%s</p></article></body></html>`, body)
	}))
	defer page.Close()

	long := strings.Repeat("y", 300)
	inner := fixedSearcher{resp: &Response{Results: []Result{
		{URL: page.URL + "/thin", Content: "short"},
		{URL: page.URL + "/broken", Content: "kept"},
		{URL: page.URL + "/long", Content: long},
	}}}
	e := NewEnricher(inner, EnrichOptions{MinContent: 100, Timeout: 2 * time.Second}, zaptest.NewLogger(t))
	resp, err := e.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	assert.Contains(t, resp.Results[0].Content, "Entanglement correlates measurement outcomes")
	assert.Equal(t, "kept", resp.Results[1].Content)
	assert.Equal(t, long, resp.Results[2].Content)
}

func TestLimitedPassesThrough(t *testing.T) {
	inner := &countingSearcher{}
	s := NewLimited(inner, 6000)
	for i := 0; i < 3; i++ {
		_, err := s.Search(context.Background(), Request{Query: "q"})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&inner.calls))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLimited(inner, 1).Search(ctx, Request{Query: "q"})
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	s, err := New(Config{Provider: "tavily", TavilyAPIKey: "your_api_key_here"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = s.Search(context.Background(), Request{Query: "q"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = New(Config{Provider: "searxng"}, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = New(Config{Provider: "bing"}, zaptest.NewLogger(t))
	assert.Error(t, err)

	s, err = New(Config{Provider: "searxng", SearXNGURL: "http://localhost:8888", CacheTTL: time.Minute}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, s)
}
