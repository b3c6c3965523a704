package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// compareAndDelete releases a lock only when the stored token still belongs
// to the caller, so an expired holder cannot free a lock someone else has
// since acquired.
var compareAndDelete = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager implements domain.LockManager with SET NX plus a token-checked
// unlock. Settlement takes one of these per order.
type LockManager struct {
	rdb *redis.Client
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.rdb}
}

var _ domain.LockManager = (*LockManager)(nil)

// Acquire takes the lock for key with the given TTL and returns the unlock
// function. Unlock may be called more than once and outlives the caller's
// context. domain.ErrLockHeld when another holder has the key.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()

	ok, err := lm.rdb.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = compareAndDelete.Run(unlockCtx, lm.rdb, []string{"lock:" + key}, token).Err()
		})
	}, nil
}
