package ratelimit

import (
	"context"
	"time"
)

// Store persists token buckets.
type Store interface {
	// Find loads a bucket. found is false when no row exists for the key.
	Find(ctx context.Context, key string) (Bucket, bool, error)
	// Mutate runs fn under a per-key lock. fn receives the stored bucket
	// (zero value with found=false when absent) and returns the state to
	// persist; returning persist=false skips the write.
	Mutate(ctx context.Context, key string, fn func(b Bucket, found bool) (next Bucket, persist bool)) error
}

// Limiter decides whether callers may proceed against the class budgets.
type Limiter struct {
	store Store
	now   func() time.Time
}

// NewLimiter constructs a Limiter backed by the given store.
func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Check computes the would-be decision without persisting anything. A key
// with no bucket row is treated as a fresh bucket at full capacity.
func (l *Limiter) Check(ctx context.Context, identifier string, class Class) (Result, error) {
	lim := class.Limit()
	bucket, found, err := l.store.Find(ctx, BucketKey(class, identifier))
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Allowed: true, Remaining: lim.Capacity}, nil
	}
	now := l.now()
	tokens, _ := refill(bucket, lim, now)
	if tokens <= 0 {
		return Result{Allowed: false, Remaining: 0, ResetIn: resetIn(bucket, lim, now)}, nil
	}
	return Result{Allowed: true, Remaining: tokens}, nil
}

// Consume takes one token when available and persists the new bucket state.
// The first consume for a key creates the row with capacity-1 tokens. The
// stored refill clock only advances when at least one full interval elapsed,
// so partial intervals are never discarded.
func (l *Limiter) Consume(ctx context.Context, identifier string, class Class) (Result, error) {
	lim := class.Limit()
	now := l.now()

	var result Result
	err := l.store.Mutate(ctx, BucketKey(class, identifier), func(b Bucket, found bool) (Bucket, bool) {
		if !found {
			result = Result{Allowed: true, Remaining: lim.Capacity - 1}
			return Bucket{Key: b.Key, Tokens: lim.Capacity - 1, LastRefill: now}, true
		}

		tokens, refills := refill(b, lim, now)
		if tokens <= 0 {
			result = Result{Allowed: false, Remaining: 0, ResetIn: resetIn(b, lim, now)}
			return b, false
		}

		next := b
		next.Tokens = tokens - 1
		if refills > 0 {
			next.LastRefill = now
		}
		result = Result{Allowed: true, Remaining: next.Tokens}
		return next, true
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// refill returns the available tokens after lazy whole-interval refill and
// the number of intervals applied.
func refill(b Bucket, lim Limit, now time.Time) (int, int64) {
	elapsed := now.Sub(b.LastRefill)
	if elapsed < 0 {
		elapsed = 0
	}
	refills := int64(elapsed / lim.RefillInterval)
	tokens := b.Tokens + int(refills)*lim.RefillTokens
	if tokens > lim.Capacity {
		tokens = lim.Capacity
	}
	return tokens, refills
}

// resetIn reports how long until the next interval boundary grants tokens.
func resetIn(b Bucket, lim Limit, now time.Time) time.Duration {
	elapsed := now.Sub(b.LastRefill)
	if elapsed < 0 {
		elapsed = 0
	}
	return lim.RefillInterval - elapsed%lim.RefillInterval
}
