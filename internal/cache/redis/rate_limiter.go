package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// RateLimiter implements domain.RateLimiter as a fixed window counter shared
// by every replica. Each window is one INCR key that expires with it.
type RateLimiter struct {
	c   *Client
	now func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

func (rl *RateLimiter) windowKey(key string, window time.Duration, at time.Time) string {
	slot := at.UnixNano() / int64(window)
	return rl.c.Key("ratelimit", key, strconv.FormatInt(slot, 10))
}

// Allow counts a request for key and reports whether it is within limit for
// the current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window <= 0 || limit <= 0 {
		return true, nil
	}
	k := rl.windowKey(key, window, rl.now())

	pipe := rl.c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
