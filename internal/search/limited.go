package search

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited paces calls to another Searcher.
type Limited struct {
	next    Searcher
	limiter *rate.Limiter
}

// NewLimited allows rpm requests per minute with a burst of one second's worth.
// rpm <= 0 returns next unchanged.
func NewLimited(next Searcher, rpm int) Searcher {
	if rpm <= 0 {
		return next
	}
	burst := rpm / 60
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)}
}

func (l *Limited) Search(ctx context.Context, req Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Search(ctx, req)
}
