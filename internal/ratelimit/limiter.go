// Package ratelimit provides Redis-backed rate limiting using INCR + EXPIRE
// fixed windows. Breakout computes are comparatively expensive (a full
// attendee read and a transactional rewrite), so each requester is
// throttled before any of that work starts.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/breakout/internal/logging"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:compute:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// ComputeRule builds the per-requester rule for compute requests.
func ComputeRule(limit int, window time.Duration) Rule {
	return Rule{Key: "rl:compute:", Limit: limit, Window: window}
}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the given identifier is within the rate limit defined by
// rule. It increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	log := logging.Component("ratelimit")
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis INCR failed, failing open")
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("redis EXPIRE failed, failing open")
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Quota is what is left of an identifier's current window.
type Quota struct {
	Limit     int
	Remaining int
	// Reset is the time until the window closes, zero when none is open.
	Reset time.Duration
}

// Quota reads the identifier's counter and window TTL in one round trip
// without consuming a request. An identifier with no open window has the
// full limit.
func (l *Limiter) Quota(ctx context.Context, identifier string, rule Rule) (Quota, error) {
	key := rule.Key + identifier
	q := Quota{Limit: rule.Limit, Remaining: rule.Limit}

	pipe := l.client.Pipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return q, err
	}

	count, err := get.Int()
	if errors.Is(err, redis.Nil) {
		return q, nil
	}
	if err != nil {
		return q, err
	}

	q.Remaining = max(rule.Limit-count, 0)
	if d := ttl.Val(); d > 0 {
		q.Reset = d
	}
	return q, nil
}
