// Package retry runs operations against external providers with a per-attempt
// timeout and exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts includes the first call. Values below 1 mean a single attempt.
	MaxAttempts       int
	PerAttemptTimeout time.Duration
	InitialInterval   time.Duration
	Multiplier        float64
	MaxInterval       time.Duration
	// Retryable classifies failures. nil uses IsTransient.
	Retryable func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// SearchPolicy retries search calls maxRetries times after the first attempt.
func SearchPolicy(maxRetries int, perAttempt time.Duration) Policy {
	if perAttempt <= 0 {
		perAttempt = 15 * time.Second
	}
	return Policy{
		MaxAttempts:       maxRetries + 1,
		PerAttemptTimeout: perAttempt,
		InitialInterval:   time.Second,
		Multiplier:        2,
		MaxInterval:       30 * time.Second,
	}
}

// GeneratorPolicy makes two attempts at a language model call.
func GeneratorPolicy(perAttempt time.Duration) Policy {
	return Policy{
		MaxAttempts:       2,
		PerAttemptTimeout: perAttempt,
		InitialInterval:   time.Second,
		Multiplier:        2,
		MaxInterval:       10 * time.Second,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, attempts run
// out, or ctx is done. The last error from fn is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	eb := backoff.NewExponentialBackOff()
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.Multiplier > 0 {
		eb.Multiplier = p.Multiplier
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.PerAttemptTimeout)
		}
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
	}
	return backoff.RetryNotify(op, b, notify)
}

// StatusError is a non-2xx HTTP response from a provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsTransient reports whether err is worth retrying: timeouts, 5xx responses
// and transport errors are; 4xx responses and cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}
