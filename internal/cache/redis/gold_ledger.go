package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// adjustLua applies a signed delta to a balance unless the result would be
// negative. Returns {applied (1|0), balance}.
const adjustLua = `
local bal = tonumber(redis.call('GET', KEYS[1]) or '0')
local delta = tonumber(ARGV[1])
if bal + delta < 0 then
    return {0, bal}
end
return {1, redis.call('INCRBY', KEYS[1], ARGV[1])}
`

// GoldLedger implements domain.GoldLedger on Redis. Every adjustment runs as
// a single Lua script, so concurrent debits from several API nodes can never
// overdraw a balance.
//
// Key schema:
//
//	gold:{bettorID} - integer balance
type GoldLedger struct {
	c        *Client
	adjustSc *redis.Script
}

// NewGoldLedger creates a GoldLedger backed by the given Client.
func NewGoldLedger(c *Client) *GoldLedger {
	return &GoldLedger{c: c, adjustSc: redis.NewScript(adjustLua)}
}

func (g *GoldLedger) key(bettorID string) string {
	return g.c.Key("gold:" + bettorID)
}

// Balance returns the bettor's balance; an unknown bettor has 0.
func (g *GoldLedger) Balance(ctx context.Context, bettorID string) (int64, error) {
	bal, err := g.c.rdb.Get(ctx, g.key(bettorID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: gold balance %s: %w", bettorID, err)
	}
	return bal, nil
}

// Adjust applies delta atomically and returns the new balance.
func (g *GoldLedger) Adjust(ctx context.Context, bettorID string, delta int64) (int64, error) {
	res, err := g.adjustSc.Run(ctx, g.c.rdb, []string{g.key(bettorID)}, delta).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("redis: gold adjust %s: %w", bettorID, err)
	}
	if len(res) < 2 {
		return 0, fmt.Errorf("redis: gold adjust %s: unexpected result length %d", bettorID, len(res))
	}
	if res[0] == 0 {
		return res[1], fmt.Errorf("redis: gold adjust %s by %d: %w", bettorID, delta, domain.ErrInsufficientBalance)
	}
	return res[1], nil
}

// Compile-time interface check.
var _ domain.GoldLedger = (*GoldLedger)(nil)
