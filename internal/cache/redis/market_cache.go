package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// DefaultSnapshotTTL applies when NewMarketCache is given a non-positive TTL.
const DefaultSnapshotTTL = 10 * time.Minute

// MarketCache implements domain.MarketCache using Redis hashes holding the
// JSON-serialized snapshot.
//
// Key schema:
//
//	market:{id} - hash with field "data" (JSON snapshot) and "status"
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) key(id int64) string {
	return mc.c.Key("market:" + strconv.FormatInt(id, 10))
}

// Set stores a snapshot, replacing any previous one, and resets its TTL.
func (mc *MarketCache) Set(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", snap.Market.ID, err)
	}

	key := mc.key(snap.Market.ID)
	pipe := mc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "status", string(snap.Market.Status))
	pipe.Expire(ctx, key, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %d: %w", snap.Market.ID, err)
	}
	return nil
}

// Get retrieves a snapshot by market id.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, id int64) (domain.MarketSnapshot, error) {
	data, err := mc.c.rdb.HGet(ctx, mc.key(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	return snap, nil
}

// Invalidate removes a snapshot from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, id int64) error {
	if err := mc.c.rdb.Del(ctx, mc.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
