package qcontrol

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

/*
driverPipeline is the path every driver primitive takes: the retry policy
around the pulse rate limit around the breaker. Modules own one for their
bank and clusters own one for the interconnect.
*/
type driverPipeline struct {
	retry   *RetryPolicy
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

func newDriverPipeline(cfg *Config) *driverPipeline {
	p := &driverPipeline{
		retry:   newRetryPolicy(cfg.Retry),
		breaker: NewCircuitBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.ResetTimeout, cfg.Breaker.HalfOpenMax),
	}

	if cfg.PulseRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.PulseRate), max(cfg.PulseBurst, 1))
	}

	return p
}

// call runs fn through the pipeline. Failures come back as ErrDriverFailure
// unless they are cancellations or breaker rejections.
func (p *driverPipeline) call(ctx context.Context, fn func() error) error {
	err := p.retry.Do(ctx, func() error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				// Wait fails early when the deadline cannot be met.
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
		}
		return p.breaker.Guard(fn)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCircuitOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return driverFailure(err)
	}
}
