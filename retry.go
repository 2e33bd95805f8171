package qcontrol

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy defines how often a failing driver call is re-issued.
type RetryPolicy struct {
	MaxAttempts int
	Strategy    RetryStrategy
	Filter      func(error) bool
}

// RetryStrategy defines the interface for retry behavior
type RetryStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements RetryStrategy
type ExponentialBackoff struct {
	Initial time.Duration
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	return eb.Initial * time.Duration(math.Pow(2, float64(attempt-1)))
}

func newRetryPolicy(cfg RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Strategy:    &ExponentialBackoff{Initial: cfg.Initial},
		Filter:      retryable,
	}
}

// retryable refuses to retry cancellations and our own rejections.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, ErrCircuitOpen)
}

/*
Do calls fn until it succeeds, the attempts are exhausted, the filter
rejects the error, or ctx is done. The last error is returned, joined with
the context error when ctx ended the backoff.
*/
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := 1
	if p != nil && p.MaxAttempts > 1 {
		attempts = p.MaxAttempts
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && p.Strategy != nil {
			if serr := sleepCtx(ctx, p.Strategy.NextDelay(attempt)); serr != nil {
				return errors.Join(serr, err)
			}
		}

		if err = fn(); err == nil {
			return nil
		}

		if p != nil && p.Filter != nil && !p.Filter(err) {
			return err
		}
	}

	return err
}
