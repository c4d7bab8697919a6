package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
)

const (
	resultKeyPrefix = "judge:result:"

	DefaultResultTTL      = time.Hour
	defaultResultEmptyTTL = 5 * time.Minute
)

// ResultCache stores the latest SubmissionResult per submission as one JSON value.
// A nil cache behaves as always empty.
type ResultCache struct {
	cache    cache.BasicOps
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewResultCache(store cache.BasicOps, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{cache: store, ttl: ttl, emptyTTL: defaultResultEmptyTTL}
}

// Get returns the cached result. A missing or unreadable entry is reported as absent.
func (r *ResultCache) Get(ctx context.Context, submissionID string) (model.SubmissionResult, bool, error) {
	if r == nil || r.cache == nil {
		return model.SubmissionResult{}, false, nil
	}
	val, err := r.cache.Get(ctx, resultKey(submissionID))
	if err != nil {
		return model.SubmissionResult{}, false, appErr.Wrapf(err, appErr.CacheError, "read result failed")
	}
	if val == "" || val == cache.NullCacheValue {
		return model.SubmissionResult{}, false, nil
	}
	result, err := unmarshalResult(val)
	if err != nil || result == nil {
		return model.SubmissionResult{}, false, nil
	}
	return *result, true, nil
}

// Set replaces the cached result. Inconsistent results are refused.
func (r *ResultCache) Set(ctx context.Context, result model.SubmissionResult) error {
	if r == nil || r.cache == nil {
		return nil
	}
	if err := result.Validate(); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "refusing to cache result")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result failed: %w", err)
	}
	if err := r.cache.Set(ctx, resultKey(result.SubmissionID), string(data), cache.JitterTTL(r.ttl)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store result failed")
	}
	return nil
}

// GetOrLoad reads through the cache. Terminal results from load are written back;
// an unknown submission (load returns nil) is remembered briefly.
// In-progress views are never written back so they cannot overwrite a newer worker snapshot.
func (r *ResultCache) GetOrLoad(ctx context.Context, submissionID string, load func(context.Context) (*model.SubmissionResult, error)) (*model.SubmissionResult, error) {
	if r == nil || r.cache == nil {
		return load(ctx)
	}
	return cache.GetWithCached[*model.SubmissionResult](
		ctx,
		r.cache,
		resultKey(submissionID),
		cache.JitterTTL(r.ttl),
		r.emptyTTL,
		func(result *model.SubmissionResult) bool { return result == nil },
		marshalFinalResult,
		unmarshalResult,
		load,
	)
}

func resultKey(submissionID string) string {
	return resultKeyPrefix + submissionID
}

func marshalFinalResult(result *model.SubmissionResult) string {
	if result == nil || !result.Terminal() || result.Validate() != nil {
		return ""
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalResult(data string) (*model.SubmissionResult, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var result model.SubmissionResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, err
	}
	return &result, nil
}
