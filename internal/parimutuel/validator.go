package parimutuel

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Limits bounds bet sizes and house fees.
type Limits struct {
	MinBet        int64
	MaxBet        int64
	DefaultFeeBps int64
	MaxFeeBps     int64
}

// DefaultLimits returns MIN_BET 10, MAX_BET 100000, a 5% default fee and a
// 20% fee ceiling.
func DefaultLimits() Limits {
	return Limits{
		MinBet:        10,
		MaxBet:        100_000,
		DefaultFeeBps: 500,
		MaxFeeBps:     2000,
	}
}

// Validator gate-keeps bet placement and market creation. It never mutates
// its inputs.
type Validator struct {
	limits Limits
}

// NewValidator creates a Validator enforcing limits.
func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// Limits returns the limits the validator enforces.
func (v *Validator) Limits() Limits {
	return v.limits
}

// ValidateBet checks a bet against a market snapshot and the bettor's
// balance. Checks run in a fixed order: market open, outcome in range, size
// bounds, then balance.
func (v *Validator) ValidateBet(m domain.Market, bettorID string, outcomeIndex int, amount, balance int64, now time.Time) (domain.BetIntent, error) {
	if m.Status != domain.MarketStatusActive || !now.Before(m.BettingDeadline) {
		return domain.BetIntent{}, fmt.Errorf("validator: market %d: %w", m.ID, domain.ErrMarketClosed)
	}
	if outcomeIndex < 0 || outcomeIndex >= len(m.Outcomes) {
		return domain.BetIntent{}, fmt.Errorf("validator: outcome %d of %d: %w", outcomeIndex, len(m.Outcomes), domain.ErrInvalidOutcome)
	}
	if amount < v.limits.MinBet {
		return domain.BetIntent{}, fmt.Errorf("validator: amount %d < %d: %w", amount, v.limits.MinBet, domain.ErrBetTooSmall)
	}
	if amount > v.limits.MaxBet {
		return domain.BetIntent{}, fmt.Errorf("validator: amount %d > %d: %w", amount, v.limits.MaxBet, domain.ErrBetTooLarge)
	}
	if amount > balance {
		return domain.BetIntent{}, fmt.Errorf("validator: amount %d > balance %d: %w", amount, balance, domain.ErrInsufficientBalance)
	}
	return domain.BetIntent{
		MarketID:     m.ID,
		OutcomeIndex: outcomeIndex,
		BettorID:     bettorID,
		Amount:       amount,
	}, nil
}

// ValidateMarket checks a market creation request.
func (v *Validator) ValidateMarket(nm domain.NewMarket) error {
	if len(nm.Outcomes) < 2 {
		return fmt.Errorf("validator: %d outcomes: %w", len(nm.Outcomes), domain.ErrInvalidOutcomeCount)
	}
	for i, o := range nm.Outcomes {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("validator: outcome %d is blank: %w", i, domain.ErrMalformedRequest)
		}
	}
	if strings.TrimSpace(nm.Question) == "" {
		return fmt.Errorf("validator: question is blank: %w", domain.ErrMalformedRequest)
	}
	if nm.HouseFeeBps < 0 || nm.HouseFeeBps > v.limits.MaxFeeBps {
		return fmt.Errorf("validator: fee %d bps outside 0..%d: %w", nm.HouseFeeBps, v.limits.MaxFeeBps, domain.ErrInvalidFee)
	}
	return nil
}
