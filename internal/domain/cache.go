package domain

import (
	"context"
	"time"
)

// MarketSnapshot is the latest cached view of a market and its odds.
type MarketSnapshot struct {
	Market     Market    `json:"market"`
	Odds       []int64   `json:"odds"`
	ImpliedBps []int64   `json:"impliedBps"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// MarketCache provides fast snapshot lookups for readers outside the engine.
type MarketCache interface {
	Set(ctx context.Context, snap MarketSnapshot) error
	Get(ctx context.Context, marketID int64) (MarketSnapshot, error)
	Invalidate(ctx context.Context, marketID int64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lease is a held distributed lock. It expires unless refreshed.
type Lease interface {
	Key() string
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// GoldLedger is the external balance authority. Adjust applies delta
// atomically and returns the new balance; it fails with
// ErrInsufficientBalance instead of going negative.
type GoldLedger interface {
	Balance(ctx context.Context, bettorID string) (int64, error)
	Adjust(ctx context.Context, bettorID string, delta int64) (int64, error)
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
