package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"judgeflow/internal/common/cache"
	appErr "judgeflow/pkg/errors"
)

const rateKeyPrefix = "judge:rate:"

// RateDecision is the outcome of one admission check.
type RateDecision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window resets, at least 1.
func (d RateDecision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// RateLimiter is a fixed-window counter shared through the cache.
type RateLimiter struct {
	counter cache.CounterOps
	timeout time.Duration
	now     func() time.Time
}

func NewRateLimiter(counter cache.CounterOps, timeout time.Duration) *RateLimiter {
	return &RateLimiter{counter: counter, timeout: timeout, now: time.Now}
}

// CheckRateLimit counts one attempt by subjectID in the current window.
// The increment and the window expiry are applied atomically, so concurrent callers
// can never be admitted past limit.
func (l *RateLimiter) CheckRateLimit(ctx context.Context, subjectID string, limit int, window time.Duration) (RateDecision, error) {
	if limit <= 0 || window < time.Second {
		return RateDecision{}, appErr.New(appErr.InvalidParams).WithMessage("invalid rate limit configuration")
	}
	now := l.now()
	windowSecs := int64(window / time.Second)
	start := now.Unix() - now.Unix()%windowSecs
	resetAt := time.Unix(start+windowSecs, 0)

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()
	key := fmt.Sprintf("%s%s:%d", rateKeyPrefix, subjectID, start)
	count, err := l.counter.IncrWithExpireAt(ctx, key, resetAt)
	if err != nil {
		return RateDecision{}, appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}

	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return RateDecision{
		Allowed:   count <= int64(limit),
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}, nil
}
