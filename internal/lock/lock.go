// Package lock provides per-resource distributed mutual exclusion on
// top of Redis, for cross-job or cross-process critical sections (e.g.
// a "without overlapping" handler policy). The queue engine's own
// per-job reservation lock is scripted inline in internal/queue for a
// single round trip per transition; this package is the general-purpose
// surface spec.md exposes to caller code.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// extendScript extends the TTL only if the caller still owns the lock.
const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// releaseScript deletes the key only if the caller still owns it. Never
// unconditionally DEL — a stale holder must not evict a newer lock.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// ErrUnavailable is returned when Acquire exhausts its retries.
var ErrUnavailable = errors.New("lock unavailable")

// ErrLost is returned by Extend/Release when the token no longer
// matches the key's current holder.
var ErrLost = errors.New("lock no longer held")

// Options controls acquisition and the WithLock heartbeat.
type Options struct {
	// Duration is the lock's TTL, and the base period for WithLock's
	// heartbeat (extended at Duration/3 intervals).
	Duration time.Duration
	// Retries is how many additional acquire attempts to make after
	// the first failure.
	Retries int
	// RetryDelay is how long to wait between acquire attempts.
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Duration <= 0 {
		o.Duration = 30 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 200 * time.Millisecond
	}
	return o
}

// Lock is a held distributed lock, identified by its fencing token.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	extendScript  *redis.Script
	releaseScript *redis.Script
}

// Acquire attempts SET key token NX PX duration, retrying up to
// opts.Retries times with opts.RetryDelay between attempts. Returns
// ErrUnavailable once retries are exhausted.
func Acquire(ctx context.Context, client *redis.Client, key string, opts Options) (*Lock, error) {
	opts = opts.withDefaults()
	token := uuid.New().String()

	attempts := opts.Retries + 1
	for i := 0; i < attempts; i++ {
		ok, err := client.SetNX(ctx, key, token, opts.Duration).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			return &Lock{
				client:        client,
				key:           key,
				token:         token,
				ttl:           opts.Duration,
				extendScript:  redis.NewScript(extendScript),
				releaseScript: redis.NewScript(releaseScript),
			}, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryDelay):
		}
	}
	return nil, ErrUnavailable
}

// Extend refreshes the lock's TTL, failing with ErrLost if the token no
// longer matches the key's current value.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	raw, err := l.extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("extend lock %q: %w", l.key, err)
	}
	if n, ok := raw.(int64); !ok || n == 0 {
		return ErrLost
	}
	l.ttl = ttl
	return nil
}

// Release deletes the lock if, and only if, it is still held by this
// token.
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("release lock %q: %w", l.key, err)
	}
	return nil
}

// Key returns the Redis key backing this lock.
func (l *Lock) Key() string { return l.key }

// Token returns the fencing token this holder was granted.
func (l *Lock) Token() string { return l.token }

// TTL returns the last TTL successfully applied to this lock.
func (l *Lock) TTL() time.Duration { return l.ttl }

// WithLock acquires key, runs fn while heartbeating the TTL at
// opts.Duration/3 intervals, and releases on return. If the heartbeat
// discovers the lock was lost (ErrLost), fn's context is cancelled so
// the caller can abort its critical section rather than run unguarded.
func WithLock(ctx context.Context, client *redis.Client, key string, opts Options, fn func(ctx context.Context) error) error {
	l, err := Acquire(ctx, client, key, opts)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeat := l.ttl / 3
	if heartbeat <= 0 {
		heartbeat = time.Second
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if extendErr := l.Extend(runCtx, l.ttl); extendErr != nil {
					cancel()
					return
				}
			}
		}
	}()

	fnErr := fn(runCtx)
	cancel()
	<-done

	if relErr := l.Release(context.WithoutCancel(ctx)); relErr != nil && fnErr == nil {
		return relErr
	}
	return fnErr
}
