package backend

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds retries of ErrUnavailable failures.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
}

// ComputeBackoff returns the delay before retry number retryCount (0-based),
// doubling from base and capped at max.
func ComputeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// Retry calls fn until it succeeds, fails with an error other than ErrUnavailable,
// or MaxAttempts is used up. onRetry, if set, runs before each wait.
func Retry(ctx context.Context, policy RetryPolicy, onRetry func(attempt int, err error), fn func(context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}
		delay := ComputeBackoff(attempt, policy.BaseDelay, policy.MaxDelay)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
