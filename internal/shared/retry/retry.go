// Package retry applies a bounded exponential backoff policy around an operation.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is shared by the extractors, the AI analyzer and the job loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the randomization factor applied to each delay (0.2 means +/-20%).
	Jitter float64
	// Retryable decides whether a failed attempt may be retried. Nil retries nothing.
	Retryable func(error) bool
}

// Notify is called after a failed attempt that will be retried.
type Notify func(err error, attempt int, delay time.Duration)

// Default returns the job-level defaults: 3 attempts, 1s base, 30s cap, 20% jitter.
func Default(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
		Retryable:   retryable,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, the attempt budget is spent,
// or ctx ends. Attempts are numbered from 1. The last attempt's error is returned, or the
// context error when ctx ended while waiting.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error, notify Notify) error {
	attempt := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, delay time.Duration) {
			notify(err, attempt, delay)
		}
	}
	return backoff.RetryNotify(operation, p.backOff(ctx), onRetry)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = time.Millisecond
	}
	exp.MaxInterval = p.MaxDelay
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.RandomizationFactor = p.Jitter
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Delays returns the un-jittered delay schedule between attempts, for logging and docs.
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	delay := p.BaseDelay
	for i := 1; i < p.MaxAttempts; i++ {
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		out = append(out, delay)
		delay *= 2
	}
	return out
}
