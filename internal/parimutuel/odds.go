package parimutuel

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Fixed-point scales. Odds of 20000 mean a 2.0x gross return; fees are in
// basis points.
const (
	OddsScale = 10000
	BpsScale  = 10000
)

// mulDiv returns floor(a*b/c) for non-negative a, b and positive c, computing
// the product in 128 bits. A quotient that does not fit in int64 saturates.
func mulDiv(a, b, c int64) int64 {
	if a <= 0 || b <= 0 || c <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

// Odds returns the gross decimal odds of every outcome scaled by OddsScale.
// An empty outcome pool has odds 0, meaning undefined. The house fee is not
// folded in; it is applied to payouts only.
func Odds(pools []int64, totalPool int64) []int64 {
	out := make([]int64, len(pools))
	for i, p := range pools {
		if p == 0 {
			continue
		}
		out[i] = mulDiv(totalPool, OddsScale, p)
	}
	return out
}

// ImpliedProbabilities returns each outcome's share of the total pool in
// basis points. All zero on an empty market.
func ImpliedProbabilities(pools []int64, totalPool int64) []int64 {
	out := make([]int64, len(pools))
	if totalPool == 0 {
		return out
	}
	for i, p := range pools {
		out[i] = mulDiv(p, BpsScale, totalPool)
	}
	return out
}

// NetPool returns the distributable pool after the house fee.
func NetPool(totalPool, feeBps int64) int64 {
	return mulDiv(totalPool, BpsScale-feeBps, BpsScale)
}

// PreviewBet computes the payout a bettor would receive if addedAmount were
// added to outcomeIndex and that outcome then won, assuming no further bets.
// The payout denominator is the post-bet pool, so the bettor's own stake
// dilutes their share. pools is never modified.
func PreviewBet(pools []int64, totalPool int64, outcomeIndex int, addedAmount, feeBps int64) (domain.BetPreview, error) {
	if outcomeIndex < 0 || outcomeIndex >= len(pools) {
		return domain.BetPreview{}, fmt.Errorf("parimutuel: preview outcome %d: %w", outcomeIndex, domain.ErrInvalidOutcome)
	}
	if addedAmount < 0 {
		return domain.BetPreview{}, fmt.Errorf("parimutuel: preview amount %d: %w", addedAmount, domain.ErrBetTooSmall)
	}
	if addedAmount > math.MaxInt64-totalPool {
		return domain.BetPreview{}, fmt.Errorf("parimutuel: preview amount %d overflows pool %d: %w", addedAmount, totalPool, domain.ErrBetTooLarge)
	}

	newPools := make([]int64, len(pools))
	copy(newPools, pools)
	newPools[outcomeIndex] += addedAmount
	newTotal := totalPool + addedAmount

	var payout int64
	if newPools[outcomeIndex] > 0 {
		payout = mulDiv(addedAmount, NetPool(newTotal, feeBps), newPools[outcomeIndex])
	}

	oldOdds := Odds(pools, totalPool)[outcomeIndex]
	newOdds := Odds(newPools, newTotal)[outcomeIndex]

	var slippage float64
	if oldOdds > 0 {
		slippage = math.Abs(float64(newOdds-oldOdds)) / float64(oldOdds) * 100
	}

	return domain.BetPreview{
		Payout:      payout,
		NewOdds:     newOdds,
		SlippagePct: slippage,
	}, nil
}
