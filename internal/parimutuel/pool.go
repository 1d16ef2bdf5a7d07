package parimutuel

import (
	"fmt"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// CurrentPools returns a copy of the market's per-outcome pools.
func CurrentPools(m domain.Market) []int64 {
	out := make([]int64, len(m.Pools))
	copy(out, m.Pools)
	return out
}

// CurrentTotal returns the market's total pool.
func CurrentTotal(m domain.Market) int64 {
	return m.TotalPool
}

// CheckPoolInvariant verifies the pool shape: one non-negative pool per
// outcome summing to TotalPool.
func CheckPoolInvariant(m domain.Market) error {
	if len(m.Pools) != len(m.Outcomes) {
		return fmt.Errorf("parimutuel: market %d has %d pools for %d outcomes: %w",
			m.ID, len(m.Pools), len(m.Outcomes), domain.ErrInvariantViolation)
	}
	var sum int64
	for i, p := range m.Pools {
		if p < 0 {
			return fmt.Errorf("parimutuel: market %d pool %d is negative: %w", m.ID, i, domain.ErrInvariantViolation)
		}
		sum += p
	}
	if sum != m.TotalPool {
		return fmt.Errorf("parimutuel: market %d total %d != sum %d: %w",
			m.ID, m.TotalPool, sum, domain.ErrInvariantViolation)
	}
	return nil
}
