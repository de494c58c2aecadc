package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/probeai/orchestrator/internal/llm"
	"github.com/probeai/orchestrator/internal/search"
	"github.com/probeai/orchestrator/internal/streaming"
)

// fakeSearcher answers from a table keyed by query and tracks concurrency.
type fakeSearcher struct {
	mu        sync.Mutex
	responses map[string]*search.Response
	failing   map[string]bool
	delay     time.Duration
	requests  []search.Request

	inFlight    int32
	maxInFlight int32
}

func (f *fakeSearcher) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInFlight, m, n) {
			break
		}
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	resp := f.responses[req.Query]
	fail := f.failing[req.Query]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("provider unavailable")
	}
	if resp == nil {
		return &search.Response{}, nil
	}
	out := *resp
	out.Results = append([]search.Result(nil), resp.Results...)
	return &out, nil
}

// fakeGenerator routes requests to canned answers by caller.
type fakeGenerator struct {
	mu       sync.Mutex
	disabled bool
	answers  map[string]string
	errs     map[string]error
	requests []llm.Request
}

func (g *fakeGenerator) Enabled() bool { return !g.disabled }

func (g *fakeGenerator) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if err := g.errs[req.Caller]; err != nil {
		return nil, err
	}
	text, ok := g.answers[req.Caller]
	if !ok {
		return nil, errors.New("no canned answer for " + req.Caller)
	}
	return &llm.Response{Text: text, Model: "fake-pro", TokenUsage: 10}, nil
}

func (g *fakeGenerator) callers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.requests))
	for i, r := range g.requests {
		out[i] = r.Caller
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []streaming.Event
}

func (p *recordingPublisher) Publish(_ string, evt streaming.Event) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
}

func (p *recordingPublisher) types() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return strings.Join(out, ",")
}
