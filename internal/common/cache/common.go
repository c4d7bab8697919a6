package cache

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// NullCacheValue marks a cached absence so repeated lookups of unknown keys skip the source.
const NullCacheValue = "$NULL$"

// GetWithCached implements cache-aside with null value caching.
// On a hit the cached value is decoded; an undecodable entry counts as a miss.
// On a miss fn loads from the source and the result is written back with ttl,
// or NullCacheValue is written with emptyTTL when isEmpty reports no data.
// Write-back failures are ignored: the source stays authoritative.
func GetWithCached[T any](
	ctx context.Context,
	store BasicOps,
	key string,
	ttl time.Duration,
	emptyTTL time.Duration,
	isEmpty func(T) bool,
	marshal func(T) string,
	unmarshal func(string) (T, error),
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T

	if cached, err := store.Get(ctx, key); err == nil && cached != "" {
		if cached == NullCacheValue {
			return zero, nil
		}
		if result, err := unmarshal(cached); err == nil {
			return result, nil
		}
	}

	data, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	if isEmpty(data) {
		if emptyTTL > 0 {
			_ = store.Set(ctx, key, NullCacheValue, emptyTTL)
		}
		return zero, nil
	}

	if payload := marshal(data); payload != "" {
		_ = store.Set(ctx, key, payload, ttl)
	}
	return data, nil
}

// JitterTTL shortens ttl by up to 10% so keys written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
