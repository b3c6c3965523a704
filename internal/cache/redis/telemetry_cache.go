package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// telemetryTTL bounds how long a stale reading survives. The proxy reports
// every few minutes; anything older than an hour is noise.
const telemetryTTL = time.Hour

// TelemetryCache implements domain.TelemetryCache using Redis hashes. Each
// order's latest reading is stored at "hashrate:{orderID}" with fields
// "rate" and "ts" (Unix nanosecond timestamp).
type TelemetryCache struct {
	rdb *redis.Client
}

// NewTelemetryCache creates a TelemetryCache backed by the given Client.
func NewTelemetryCache(c *Client) *TelemetryCache {
	return &TelemetryCache{rdb: c.rdb}
}

func telemetryKey(orderID string) string {
	return "hashrate:" + orderID
}

// SetCurrent stores the latest reported hashrate for an order.
func (tc *TelemetryCache) SetCurrent(ctx context.Context, orderID string, hashrate float64, ts time.Time) error {
	key := telemetryKey(orderID)
	fields := map[string]interface{}{
		"rate": strconv.FormatFloat(hashrate, 'f', -1, 64),
		"ts":   strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := tc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, telemetryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set hashrate %s: %w", orderID, err)
	}
	return nil
}

// GetCurrent retrieves the latest reported hashrate for an order. It returns
// domain.ErrNotFound when no reading is cached.
func (tc *TelemetryCache) GetCurrent(ctx context.Context, orderID string) (float64, time.Time, error) {
	vals, err := tc.rdb.HGetAll(ctx, telemetryKey(orderID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get hashrate %s: %w", orderID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	rateStr, ok := vals["rate"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse hashrate %s: %w", orderID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", orderID, err)
	}

	return rate, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.TelemetryCache = (*TelemetryCache)(nil)
