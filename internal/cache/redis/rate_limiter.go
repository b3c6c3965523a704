package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

const waitPollInterval = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter as a fixed window: INCR the key,
// set the expiry on the first hit, reject once the count passes the limit.
// Coarser than a sliding window, but one round trip and good enough for
// abuse protection on a public API.
type RateLimiter struct {
	rdb *redis.Client
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.rdb}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// Allow counts one request against key and reports whether it fits inside
// the current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	pipe := rl.rdb.TxPipeline()
	count := pipe.Incr(ctx, key)
	// NX keeps the window anchored at the first hit instead of sliding the
	// expiry forward on every request.
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return count.Val() <= int64(limit), nil
}

// Wait polls Allow at 1 req/s until the key has headroom or the context
// ends. Callers with custom limits loop over Allow themselves.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := rl.Allow(ctx, key, 1, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}
