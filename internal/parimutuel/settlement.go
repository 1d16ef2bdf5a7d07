package parimutuel

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Resolve freezes m with winning as the winner and computes every bet's
// payout from the frozen pools. m is not modified; the resolved copy is
// returned alongside the result.
func Resolve(m domain.Market, winning int, bets []domain.Bet, now time.Time) (domain.Market, domain.ResolutionResult, error) {
	if m.Status != domain.MarketStatusActive {
		return domain.Market{}, domain.ResolutionResult{}, fmt.Errorf("settlement: resolve market %d (%s): %w", m.ID, m.Status, domain.ErrAlreadyResolved)
	}
	if winning < 0 || winning >= len(m.Outcomes) {
		return domain.Market{}, domain.ResolutionResult{}, fmt.Errorf("settlement: resolve market %d outcome %d: %w", m.ID, winning, domain.ErrInvalidOutcome)
	}
	if err := CheckPoolInvariant(m); err != nil {
		return domain.Market{}, domain.ResolutionResult{}, fmt.Errorf("settlement: resolve: %w", err)
	}

	resolved := m.Clone()
	resolved.Status = domain.MarketStatusResolved
	w := winning
	resolved.WinningOutcome = &w
	settled := now
	resolved.SettledAt = &settled

	return resolved, ComputeResolution(resolved, bets), nil
}

// ComputeResolution derives the payout table for a resolved market. It is
// deterministic in the frozen pools, so it can be recomputed after restore.
func ComputeResolution(m domain.Market, bets []domain.Bet) domain.ResolutionResult {
	winning := 0
	if m.WinningOutcome != nil {
		winning = *m.WinningOutcome
	}
	res := domain.ResolutionResult{
		MarketID:       m.ID,
		WinningOutcome: winning,
		TotalPool:      m.TotalPool,
		NetPool:        NetPool(m.TotalPool, m.HouseFeeBps),
		Payouts:        make(map[int64]int64),
	}
	if winning < len(m.Pools) {
		res.WinningPool = m.Pools[winning]
	}

	// Nobody backed the winner: the house keeps the whole pool and nothing
	// is distributable.
	if res.WinningPool == 0 {
		res.NetPool = 0
		res.HouseFee = m.TotalPool
		return res
	}

	res.HouseFee = m.TotalPool - res.NetPool
	var paid int64
	for _, b := range bets {
		if b.MarketID != m.ID || b.OutcomeIndex != winning {
			continue
		}
		p := mulDiv(b.Amount, res.NetPool, res.WinningPool)
		res.Payouts[b.ID] = p
		paid += p
	}
	res.RoundingLoss = res.NetPool - paid
	return res
}

// Cancel moves m to CANCELLED. Every bet becomes refundable in full.
func Cancel(m domain.Market, now time.Time) (domain.Market, error) {
	if m.Status != domain.MarketStatusActive {
		return domain.Market{}, fmt.Errorf("settlement: cancel market %d (%s): %w", m.ID, m.Status, domain.ErrAlreadyResolved)
	}
	cancelled := m.Clone()
	cancelled.Status = domain.MarketStatusCancelled
	settled := now
	cancelled.SettledAt = &settled
	return cancelled, nil
}

// PayoutFor returns what bet is owed once m has settled: the pro-rata share of
// the net pool for a winning bet, the full stake on a cancelled market,
// otherwise 0.
func PayoutFor(m domain.Market, bet domain.Bet) int64 {
	switch m.Status {
	case domain.MarketStatusCancelled:
		return bet.Amount
	case domain.MarketStatusResolved:
		if m.WinningOutcome == nil || bet.OutcomeIndex != *m.WinningOutcome {
			return 0
		}
		winningPool := m.Pools[*m.WinningOutcome]
		return mulDiv(bet.Amount, NetPool(m.TotalPool, m.HouseFeeBps), winningPool)
	default:
		return 0
	}
}

// Claimable sums the unclaimed payouts owed on bets and returns the ids of
// the bets that pay out. Losing bets are not returned and stay unclaimed.
func Claimable(m domain.Market, bets []domain.Bet) (int64, []int64) {
	var total int64
	var ids []int64
	for _, b := range bets {
		if b.Claimed || b.MarketID != m.ID {
			continue
		}
		p := PayoutFor(m, b)
		if p == 0 {
			continue
		}
		total += p
		ids = append(ids, b.ID)
	}
	return total, ids
}
