package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/parimutuel"
)

// RestoreEngine loads every market and bet from the journal into a fresh
// engine and warms the snapshot cache for active markets. cache may be nil.
func RestoreEngine(ctx context.Context, journal domain.Journal, engine *parimutuel.Engine, cache domain.MarketCache, logger *slog.Logger) error {
	markets, bets, err := journal.Load(ctx)
	if err != nil {
		return fmt.Errorf("service: restore: load journal: %w", err)
	}
	if err := engine.Restore(markets, bets); err != nil {
		return fmt.Errorf("service: restore: %w", err)
	}
	if cache == nil {
		return nil
	}

	var warmed int
	for _, m := range engine.ListMarkets(domain.MarketStatusActive) {
		snap, err := engine.Snapshot(m.ID)
		if err != nil {
			continue
		}
		if err := cache.Set(ctx, snap); err != nil {
			logger.WarnContext(ctx, "service: warm cache failed",
				slog.Int64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		warmed++
	}
	logger.InfoContext(ctx, "service: engine restored",
		slog.Int("markets", len(markets)),
		slog.Int("bets", len(bets)),
		slog.Int("cache_warmed", warmed),
	)
	return nil
}
