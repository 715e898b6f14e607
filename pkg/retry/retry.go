// pkg/retry/retry.go
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retried operation. Zero-value fields fall back to the
// backoff library defaults; MaxAttempts < 1 means a single attempt.
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	// Retryable decides whether an error earns another attempt.
	// Nil retries every error.
	Retryable func(error) bool
}

// Outcome reports how a run of attempts ended. Err is nil on success,
// otherwise the error from the final attempt.
type Outcome struct {
	Err      error
	Attempts int
	Duration time.Duration
}

// Do runs op under the policy. Each attempt gets a context detached from
// the caller's cancellation and bounded only by AttemptTimeout, so an
// attempt already dispatched runs to completion even if the caller goes
// away. The waits between attempts do honor ctx: cancellation during a
// backoff wait stops the run with the last attempt's error.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) Outcome {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	bo := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		bo.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		bo.MaxInterval = p.MaxDelay
	}
	bo.MaxElapsedTime = 0
	bo.Reset()

	start := time.Now()
	var out Outcome
	for {
		out.Attempts++
		err := p.attempt(ctx, op)
		if err == nil {
			out.Duration = time.Since(start)
			return out
		}
		out.Err = err
		if out.Attempts >= max {
			out.Duration = time.Since(start)
			return out
		}
		if p.Retryable != nil && !p.Retryable(err) {
			out.Duration = time.Since(start)
			return out
		}
		select {
		case <-ctx.Done():
			out.Duration = time.Since(start)
			return out
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (p Policy) attempt(ctx context.Context, op func(context.Context) error) error {
	actx := context.WithoutCancel(ctx)
	if p.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, p.AttemptTimeout)
		defer cancel()
	}
	return op(actx)
}
