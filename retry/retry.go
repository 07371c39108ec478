// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/effective-security/toolpilot/pkg/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolpilot", "retry")

// Policy configures retries. The zero value runs the operation once.
type Policy struct {
	// Attempts is the total number of invocations, at least one.
	Attempts int
	// Backoff is the delay before the second attempt; it doubles after each failure.
	Backoff time.Duration
	// Name tags logs and metrics.
	Name string
}

// Do invokes op until it succeeds or the attempts are exhausted.
// The error of the final attempt is returned as is. Cancellation of ctx
// during backoff returns ctx.Err().
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(p.Attempts, 1)
	delay := p.Backoff

	var zero T
	for attempt := 1; ; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if attempt >= attempts {
			return zero, err
		}

		metricskey.StatsRetryAttempts.IncrCounter(1, p.Name)
		logger.ContextKV(ctx, xlog.WARNING,
			"op", p.Name,
			"attempt", attempt,
			"of", attempts,
			"backoff", delay.String(),
			"err", err.Error(),
		)

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay *= 2
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
