package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is a budget of Limit hits per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts hits per key in fixed windows.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	rule   Rule
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, prefix string, rule Rule) *Limiter {
	if prefix == "" {
		prefix = "fg:rl"
	}
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
		rule:   rule,
	}
}

// Allow records one hit for key. A non-positive limit allows everything.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l.rule.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	k := l.prefix + ":" + key
	count, err := l.incrementWithTTL(ctx, k, l.rule.Window)
	if err != nil {
		return Decision{}, err
	}
	if count <= int64(l.rule.Limit) {
		return Decision{Allowed: true, Remaining: l.rule.Limit - int(count)}, nil
	}

	retry, err := l.redis.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if retry < 0 {
		retry = l.rule.Window
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// Reset clears the window for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
