package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited paces calls to another Generator.
type Limited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewLimited allows rpm calls per minute. rpm <= 0 returns next unchanged.
func NewLimited(next Generator, rpm int) Generator {
	if rpm <= 0 {
		return next
	}
	burst := rpm / 60
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)}
}

func (l *Limited) Enabled() bool { return l.next.Enabled() }

func (l *Limited) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Generate(ctx, req)
}
