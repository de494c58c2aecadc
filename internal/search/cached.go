package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/probeai/orchestrator/internal/metrics"
)

// Cached memoizes successful responses of another Searcher for a TTL.
// Errors are never cached.
type Cached struct {
	next  Searcher
	cache *cache.Cache
}

// NewCached wraps next. A ttl <= 0 returns next unchanged.
func NewCached(next Searcher, ttl time.Duration) Searcher {
	if ttl <= 0 {
		return next
	}
	return &Cached{next: next, cache: cache.New(ttl, 2*ttl)}
}

func cacheKey(req Request) string {
	return fmt.Sprintf("%s|%d|%s", req.Depth, req.MaxResults, strings.ToLower(strings.TrimSpace(req.Query)))
}

func (c *Cached) Search(ctx context.Context, req Request) (*Response, error) {
	key := cacheKey(req)
	if v, ok := c.cache.Get(key); ok {
		metrics.SearchCacheHits.Inc()
		return copyResponse(v.(*Response)), nil
	}
	resp, err := c.next.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &Response{}
	}
	c.cache.SetDefault(key, copyResponse(resp))
	return resp, nil
}

func copyResponse(r *Response) *Response {
	out := *r
	out.Results = append([]Result(nil), r.Results...)
	return &out
}
