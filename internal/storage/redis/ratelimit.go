package redis

import (
	"context"
	_ "embed"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-redis/redis/v8"

	"github.com/xenking/bazaar/pkg/httpmiddleware"
)

//go:embed scripts/rate_limit.lua
var rateLimitScript string

var _ httpmiddleware.Limiter = (*RateLimiter)(nil)

// RateLimiter is a fixed window counter shared by all API instances.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	limit  int
	window time.Duration
}

// NewRateLimiter allows limit requests per window for each key.
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		script: redis.NewScript(rateLimitScript),
		limit:  limit,
		window: window,
	}
}

// Allow counts one request for key.
func (l *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	res, err := l.script.Run(ctx, l.rdb, []string{"ratelimit:" + key}, l.window.Milliseconds()).Slice()
	if err != nil {
		return httpmiddleware.Decision{}, errors.Wrapf(err, "rate limit %q", key)
	}
	if len(res) != 2 {
		return httpmiddleware.Decision{}, errors.Errorf("rate limit %q: unexpected reply %v", key, res)
	}
	n, ok1 := res[0].(int64)
	ms, ok2 := res[1].(int64)
	if !ok1 || !ok2 {
		return httpmiddleware.Decision{}, errors.Errorf("rate limit %q: unexpected reply %v", key, res)
	}
	count, ttl := int(n), time.Duration(ms)*time.Millisecond
	return httpmiddleware.Decision{
		Allowed:   count <= l.limit,
		Remaining: max(l.limit-count, 0),
		ResetAt:   now.Add(ttl),
	}, nil
}
