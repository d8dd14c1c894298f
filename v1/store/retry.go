package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
)

// RetryTransaction re-runs attempt while it fails with ErrConflict, backing
// off exponentially. Any other error stops immediately. When the budget is
// spent the last conflict is returned.
func RetryTransaction(ctx context.Context, policy RetryPolicy, attempt func() error) error {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	expo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		expo.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		expo.MaxInterval = policy.MaxInterval
	}
	expo.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(expo, uint64(policy.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	tries := 0
	op := func() error {
		tries++
		err := attempt()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConflict) {
			slog.Debug("Transaction conflict, retrying", "attempt", tries, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, b)
	if err != nil && errors.Is(err, ErrConflict) {
		slog.Warn("Transaction retries exhausted", "attempts", tries)
	}
	return err
}
