package ratelimit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	sharedredis "github.com/commentguard/moderation-gateway/internal/shared/redis"
)

// Redis is a fixed-window limiter whose counters live in Redis with a
// TTL equal to the window, so state is shared across processes. On
// Redis failure it fails open and logs a warning.
type Redis struct {
	client     *sharedredis.Client
	rules      map[string]Rule
	fallback   Rule
	privileged map[string]bool
}

var _ Limiter = (*Redis)(nil)

// NewRedis constructs a Redis limiter with a fallback rule applied to
// actions without a specific rule.
func NewRedis(client *sharedredis.Client, fallback Rule) *Redis {
	return &Redis{
		client:     client,
		rules:      make(map[string]Rule),
		fallback:   fallback,
		privileged: make(map[string]bool),
	}
}

// SetRule overrides the window configuration for one action.
func (r *Redis) SetRule(action string, rule Rule) {
	r.rules[action] = rule
}

// Privilege exempts callers from the limiter entirely.
func (r *Redis) Privilege(callers ...string) {
	for _, c := range callers {
		r.privileged[c] = true
	}
}

func (r *Redis) rule(action string) Rule {
	if rule, ok := r.rules[action]; ok {
		return rule
	}
	return r.fallback
}

func redisKey(action, caller string) string {
	return "ratelimit:" + key(action, caller)
}

// CanMakeRequest reports whether the counter for the current window is
// below the limit. It does not mutate state.
func (r *Redis) CanMakeRequest(ctx context.Context, action, caller string) bool {
	if r.privileged[caller] {
		return true
	}
	rule := r.rule(action)
	if rule.Limit <= 0 {
		return true
	}

	count, found, err := r.client.GetInt(ctx, redisKey(action, caller))
	if err != nil {
		log.WithError(err).Warn("rate limit: redis check failed, allowing request")
		return true
	}
	if !found {
		return true
	}
	return count < rule.Limit
}

// RecordRequest increments the window counter. The first increment in
// a window sets the key's TTL to the window length, so the window
// resets by expiring.
func (r *Redis) RecordRequest(ctx context.Context, action, caller string) {
	if r.privileged[caller] {
		return
	}
	rule := r.rule(action)
	if rule.Limit <= 0 {
		return
	}

	k := redisKey(action, caller)
	count, err := r.client.Incr(ctx, k)
	if err != nil {
		log.WithError(err).Warn("rate limit: redis increment failed")
		return
	}
	if count == 1 {
		if err := r.client.Expire(ctx, k, rule.Window); err != nil {
			log.WithError(err).Warn("rate limit: failed to set window expiry")
		}
	}
}

// WaitTime returns the remaining TTL of the window key.
func (r *Redis) WaitTime(ctx context.Context, action, caller string) time.Duration {
	ttl, err := r.client.TTL(ctx, redisKey(action, caller))
	if err != nil {
		log.WithError(err).Warn("rate limit: redis TTL lookup failed")
		return 0
	}
	return ttl
}
