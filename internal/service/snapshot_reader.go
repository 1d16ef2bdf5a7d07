package service

import (
	"context"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/parimutuel"
)

// SnapshotReader serves market snapshots from the cache, falling back to the
// engine on a miss.
type SnapshotReader struct {
	engine *parimutuel.Engine
	cache  domain.MarketCache
}

// NewSnapshotReader creates a SnapshotReader. cache may be nil.
func NewSnapshotReader(engine *parimutuel.Engine, cache domain.MarketCache) *SnapshotReader {
	return &SnapshotReader{engine: engine, cache: cache}
}

// Get returns the latest snapshot of a market.
func (r *SnapshotReader) Get(ctx context.Context, marketID int64) (domain.MarketSnapshot, error) {
	if r.cache != nil {
		if snap, err := r.cache.Get(ctx, marketID); err == nil {
			return snap, nil
		}
	}
	return r.engine.Snapshot(marketID)
}
