package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/parimutuel"
)

// BetService handles wagers, claims and gold balances.
type BetService struct {
	engine *parimutuel.Engine
	gold   domain.GoldLedger
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewBetService creates a BetService. audit may be nil.
func NewBetService(engine *parimutuel.Engine, gold domain.GoldLedger, audit domain.AuditStore, logger *slog.Logger) *BetService {
	return &BetService{
		engine: engine,
		gold:   gold,
		audit:  audit,
		logger: logger.With(slog.String("component", "bet_service")),
	}
}

// PlaceBet places a wager on one outcome.
func (s *BetService) PlaceBet(ctx context.Context, marketID int64, outcome int, bettorID string, amount int64) (domain.Bet, error) {
	if bettorID == "" {
		return domain.Bet{}, fmt.Errorf("bet_service: empty bettor id: %w", domain.ErrMalformedRequest)
	}
	bet, err := s.engine.PlaceBet(ctx, marketID, outcome, bettorID, amount)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("bet_service: place: %w", err)
	}
	s.logger.DebugContext(ctx, "bet_service: bet placed",
		slog.Int64("bet_id", bet.ID),
		slog.Int64("market_id", marketID),
		slog.String("bettor_id", bettorID),
		slog.Int64("amount", amount),
	)
	return bet, nil
}

// Claim pays out everything the bettor is owed on a settled market.
func (s *BetService) Claim(ctx context.Context, marketID int64, bettorID string) (int64, error) {
	amount, err := s.engine.Claim(ctx, marketID, bettorID)
	if err != nil {
		return 0, fmt.Errorf("bet_service: claim: %w", err)
	}
	if amount > 0 {
		logAudit(ctx, s.audit, s.logger, "winnings_claimed", map[string]any{
			"market_id": marketID,
			"bettor_id": bettorID,
			"amount":    amount,
		})
	}
	return amount, nil
}

// BetsForBettor returns the bettor's bets across markets, oldest first.
func (s *BetService) BetsForBettor(_ context.Context, bettorID string) []domain.Bet {
	bets := slices.Collect(s.engine.BetsForBettor(bettorID))
	if bets == nil {
		bets = []domain.Bet{}
	}
	return bets
}

// Position returns the bettor's stake and claimable amount on a market.
func (s *BetService) Position(_ context.Context, marketID int64, bettorID string) (domain.Position, error) {
	pos, err := s.engine.Position(marketID, bettorID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("bet_service: position: %w", err)
	}
	return pos, nil
}

// Balance returns the bettor's gold balance.
func (s *BetService) Balance(ctx context.Context, bettorID string) (int64, error) {
	b, err := s.gold.Balance(ctx, bettorID)
	if err != nil {
		return 0, fmt.Errorf("bet_service: balance: %w", err)
	}
	return b, nil
}

// Credit adds gold to a bettor's balance. Only positive amounts are
// accepted.
func (s *BetService) Credit(ctx context.Context, bettorID string, amount int64) (int64, error) {
	if bettorID == "" || amount <= 0 {
		return 0, fmt.Errorf("bet_service: credit %d to %q: %w", amount, bettorID, domain.ErrMalformedRequest)
	}
	balance, err := s.gold.Adjust(ctx, bettorID, amount)
	if err != nil {
		return 0, fmt.Errorf("bet_service: credit: %w", err)
	}
	logAudit(ctx, s.audit, s.logger, "gold_credited", map[string]any{
		"bettor_id": bettorID,
		"amount":    amount,
		"balance":   balance,
	})
	s.logger.InfoContext(ctx, "bet_service: gold credited",
		slog.String("bettor_id", bettorID),
		slog.Int64("amount", amount),
	)
	return balance, nil
}
