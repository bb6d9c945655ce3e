package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/muaviaUsmani/bananas/internal/clock"
	"github.com/muaviaUsmani/bananas/internal/keyspace"
	"github.com/muaviaUsmani/bananas/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// RateLimiter checks a fixed-window counter against a {max, duration}
// budget, keyed per discriminator under the queue's limit namespace.
// Grounded on DistributedQ's token-bucket limiter script: a single
// EVALSHA round trip, INCR plus a conditional PEXPIRE on the window's
// first hit.
type RateLimiter struct {
	client *redis.Client
	keys   *keyspace.Keys
	script *redis.Script
	clock  clock.Clock
}

// NewRateLimiter builds a standalone limiter sharing a queue's
// keyspace, for callers that want to pre-check a budget outside of Add
// (e.g. a keyed variant scoped to a routing key or tenant id).
func NewRateLimiter(client *redis.Client, keys *keyspace.Keys, c clock.Clock) *RateLimiter {
	return &RateLimiter{client: client, keys: keys, script: redis.NewScript(rateLimitScript), clock: c}
}

// Check increments discriminator's window counter and reports whether
// the call exceeded max within window. remaining is only meaningful
// when limited is false; resetIn is the window's remaining TTL either
// way (the caller's retryAfterMs when limited).
func (r *RateLimiter) Check(ctx context.Context, discriminator string, max int, window time.Duration) (limited bool, remaining int64, resetIn time.Duration, err error) {
	keys := []string{r.keys.Limit(discriminator)}
	argv := []interface{}{strconv.Itoa(max), strconv.FormatInt(window.Milliseconds(), 10)}

	raw, runErr := r.script.Run(ctx, r.client, keys, argv...).Result()
	if runErr != nil {
		return false, 0, 0, fmt.Errorf("rate limit script: %w", runErr)
	}
	arr, ok := raw.([]interface{})
	if !ok || len(arr) == 0 {
		return false, 0, 0, fmt.Errorf("rate limit script: unexpected reply %#v", raw)
	}
	tag, _ := arr[0].(string)
	if tag == tagLimited {
		ttl := toInt64(arr[1])
		metrics.Default().RecordRateLimited()
		return true, 0, time.Duration(ttl) * time.Millisecond, nil
	}
	remaining = toInt64(arr[1])
	ttl := toInt64(arr[2])
	return false, remaining, time.Duration(ttl) * time.Millisecond, nil
}
