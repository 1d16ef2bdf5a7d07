// Package service holds the application services that sit between the HTTP
// layer and the parimutuel engine: audit logging, default handling and the
// relay that fans engine events out to the signal bus, cache and notifiers.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/parimutuel"
)

// MarketService handles market creation, reads and settlement.
type MarketService struct {
	engine *parimutuel.Engine
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewMarketService creates a MarketService. audit may be nil.
func NewMarketService(engine *parimutuel.Engine, audit domain.AuditStore, logger *slog.Logger) *MarketService {
	return &MarketService{
		engine: engine,
		audit:  audit,
		logger: logger.With(slog.String("component", "market_service")),
	}
}

// CreateMarket opens a market. A zero HouseFeeBps selects the configured
// default fee.
func (s *MarketService) CreateMarket(ctx context.Context, nm domain.NewMarket) (domain.Market, error) {
	if nm.HouseFeeBps == 0 {
		nm.HouseFeeBps = s.engine.Limits().DefaultFeeBps
	}
	m, err := s.engine.CreateMarket(ctx, nm)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	s.logAudit(ctx, "market_created", map[string]any{
		"market_id":     m.ID,
		"question":      m.Question,
		"outcomes":      m.Outcomes,
		"house_fee_bps": m.HouseFeeBps,
	})
	s.logger.InfoContext(ctx, "market_service: market created",
		slog.Int64("market_id", m.ID),
		slog.Int("outcomes", len(m.Outcomes)),
	)
	return m, nil
}

// GetMarket returns a market with its current odds.
func (s *MarketService) GetMarket(_ context.Context, id int64) (domain.MarketSnapshot, error) {
	snap, err := s.engine.Snapshot(id)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market_service: get %d: %w", id, err)
	}
	return snap, nil
}

// ListMarkets returns markets with the given status, or all of them when
// status is empty. An unknown status is a malformed request.
func (s *MarketService) ListMarkets(_ context.Context, status domain.MarketStatus) ([]domain.Market, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("market_service: status %q: %w", status, domain.ErrMalformedRequest)
	}
	return s.engine.ListMarkets(status), nil
}

// PreviewBet projects a hypothetical bet.
func (s *MarketService) PreviewBet(_ context.Context, id int64, outcome int, amount int64) (domain.BetPreview, error) {
	p, err := s.engine.PreviewBet(id, outcome, amount)
	if err != nil {
		return domain.BetPreview{}, fmt.Errorf("market_service: preview: %w", err)
	}
	return p, nil
}

// Resolve settles a market on the winning outcome.
func (s *MarketService) Resolve(ctx context.Context, id int64, winning int) (domain.ResolutionResult, error) {
	res, err := s.engine.Resolve(ctx, id, winning)
	if err != nil {
		return domain.ResolutionResult{}, fmt.Errorf("market_service: resolve: %w", err)
	}
	s.logAudit(ctx, "market_resolved", map[string]any{
		"market_id":       id,
		"winning_outcome": winning,
		"total_pool":      res.TotalPool,
		"house_fee":       res.HouseFee,
		"rounding_loss":   res.RoundingLoss,
	})
	return res, nil
}

// Cancel voids a market so every stake can be refunded.
func (s *MarketService) Cancel(ctx context.Context, id int64) error {
	if err := s.engine.Cancel(ctx, id); err != nil {
		return fmt.Errorf("market_service: cancel: %w", err)
	}
	s.logAudit(ctx, "market_cancelled", map[string]any{"market_id": id})
	return nil
}

// Resolution returns the payout table of a resolved market.
func (s *MarketService) Resolution(_ context.Context, id int64) (domain.ResolutionResult, error) {
	res, err := s.engine.Resolution(id)
	if err != nil {
		return domain.ResolutionResult{}, fmt.Errorf("market_service: resolution: %w", err)
	}
	return res, nil
}

func (s *MarketService) logAudit(ctx context.Context, event string, detail map[string]any) {
	logAudit(ctx, s.audit, s.logger, event, detail)
}

// logAudit writes an audit entry. Failures are logged, never returned: the
// mutation they describe has already been journaled.
func logAudit(ctx context.Context, audit domain.AuditStore, logger *slog.Logger, event string, detail map[string]any) {
	if audit == nil {
		return
	}
	if err := audit.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
