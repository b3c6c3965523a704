package domain

import (
	"context"
	"time"
)

// TelemetryCache provides fast access to the latest reported hashrate per
// order, for dashboards that poll faster than the database should be hit.
type TelemetryCache interface {
	SetCurrent(ctx context.Context, orderID string, hashrate float64, ts time.Time) error
	GetCurrent(ctx context.Context, orderID string) (float64, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. Settlement uses it to serialize
// admin actions on one order across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub used to fan order/telemetry/dispute events out
// to the WebSocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
