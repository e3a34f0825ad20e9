// Package ratelimit provides Redis-backed rate limiting using a fixed
// INCR + EXPIRE window. The relay uses it to throttle chat lines per
// connection and WebSocket upgrades per client address.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:msg:", "rl:conn:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleMessage allows 5 chat lines per 10 seconds per connection.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	// RuleConnect allows 20 WebSocket upgrades per minute per client address.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 20, Window: 1 * time.Minute}
)

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
// block chat.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// A key without TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// RetryAfter returns how long until the identifier's current window resets,
// rounded up to whole seconds. It returns 0 when there is no open window and
// the full window on Redis errors.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) (time.Duration, error) {
	key := rule.Key + identifier

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis TTL error key=%s: %v", key, err)
		return rule.Window, err
	}
	// -2: no key, -1: key without expiry.
	if ttl <= 0 {
		return 0, nil
	}
	secs := (ttl + time.Second - 1) / time.Second
	return secs * time.Second, nil
}

// Reset clears the identifier's counter for rule.
func (l *Limiter) Reset(ctx context.Context, identifier string, rule Rule) error {
	return l.client.Del(ctx, rule.Key+identifier).Err()
}
