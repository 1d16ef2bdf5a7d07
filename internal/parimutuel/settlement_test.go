package parimutuel

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

func marketWithBets(feeBps int64, outcomes int, bets []domain.Bet) domain.Market {
	m := domain.Market{
		ID:          1,
		Outcomes:    make([]string, outcomes),
		Pools:       make([]int64, outcomes),
		Status:      domain.MarketStatusActive,
		HouseFeeBps: feeBps,
	}
	for i := range m.Outcomes {
		m.Outcomes[i] = string(rune('A' + i))
	}
	for _, b := range bets {
		m.Pools[b.OutcomeIndex] += b.Amount
		m.TotalPool += b.Amount
	}
	return m
}

func TestResolve_ScenarioC(t *testing.T) {
	bets := []domain.Bet{
		{ID: 1, MarketID: 1, OutcomeIndex: 0, BettorID: "alice", Amount: 100},
		{ID: 2, MarketID: 1, OutcomeIndex: 1, BettorID: "bob", Amount: 300},
	}
	m := marketWithBets(500, 2, bets)

	resolved, res, err := Resolve(m, 1, bets, time.Now())
	require.NoError(t, err)

	assert.Equal(t, domain.MarketStatusResolved, resolved.Status)
	require.NotNil(t, resolved.WinningOutcome)
	assert.Equal(t, 1, *resolved.WinningOutcome)
	assert.NotNil(t, resolved.SettledAt)
	assert.Equal(t, domain.MarketStatusActive, m.Status, "input market is not modified")

	assert.Equal(t, int64(380), res.NetPool)
	assert.Equal(t, int64(20), res.HouseFee)
	assert.Equal(t, map[int64]int64{2: 380}, res.Payouts)
	assert.Zero(t, res.RoundingLoss)
}

func TestResolve_ScenarioD(t *testing.T) {
	bets := []domain.Bet{
		{ID: 1, MarketID: 1, OutcomeIndex: 0, BettorID: "alice", Amount: 100},
		{ID: 2, MarketID: 1, OutcomeIndex: 1, BettorID: "bob", Amount: 300},
		{ID: 3, MarketID: 1, OutcomeIndex: 1, BettorID: "carol", Amount: 50},
	}
	m := marketWithBets(500, 2, bets)

	_, res, err := Resolve(m, 1, bets, time.Now())
	require.NoError(t, err)

	assert.Equal(t, int64(427), res.NetPool)
	assert.Equal(t, int64(350), res.WinningPool)
	assert.Equal(t, int64(366), res.Payouts[2])
	assert.Equal(t, int64(61), res.Payouts[3])
	assert.Zero(t, res.RoundingLoss)
	assert.Equal(t, int64(23), res.HouseFee)
}

func TestResolve_ZeroWinningPool(t *testing.T) {
	bets := []domain.Bet{
		{ID: 1, MarketID: 1, OutcomeIndex: 0, BettorID: "alice", Amount: 100},
	}
	m := marketWithBets(500, 2, bets)

	resolved, res, err := Resolve(m, 1, bets, time.Now())
	require.NoError(t, err)
	assert.Empty(t, res.Payouts)
	assert.Equal(t, int64(100), res.HouseFee)
	assert.Zero(t, res.NetPool, "nothing is distributable")
	assert.Equal(t, res.TotalPool, res.NetPool+res.HouseFee)
	assert.Zero(t, PayoutFor(resolved, bets[0]))
}

func TestResolve_Errors(t *testing.T) {
	m := marketWithBets(500, 2, nil)

	_, _, err := Resolve(m, 2, nil, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	m.Status = domain.MarketStatusCancelled
	_, _, err = Resolve(m, 0, nil, time.Now())
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	_, err = Cancel(m, time.Now())
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestResolve_Conservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for trial := range 500 {
		outcomes := 2 + rng.IntN(4)
		n := rng.IntN(40)
		bets := make([]domain.Bet, n)
		for i := range bets {
			bets[i] = domain.Bet{
				ID:           int64(i + 1),
				MarketID:     1,
				OutcomeIndex: rng.IntN(outcomes),
				Amount:       10 + rng.Int64N(100_000-10+1),
			}
		}
		m := marketWithBets(rng.Int64N(2001), outcomes, bets)
		winner := rng.IntN(outcomes)

		_, res, err := Resolve(m, winner, bets, time.Now())
		require.NoError(t, err)

		var paid int64
		for _, p := range res.Payouts {
			paid += p
		}
		assert.Equal(t, m.TotalPool, paid+res.HouseFee+res.RoundingLoss, "trial %d", trial)
		assert.GreaterOrEqual(t, res.RoundingLoss, int64(0), "trial %d", trial)
		if res.WinningPool > 0 {
			assert.Less(t, res.RoundingLoss, int64(len(res.Payouts))+1, "trial %d", trial)
			assert.LessOrEqual(t, paid, res.NetPool, "trial %d", trial)
		} else {
			assert.Empty(t, res.Payouts, "trial %d", trial)
			assert.Equal(t, m.TotalPool, res.HouseFee, "trial %d", trial)
		}
	}
}

func TestClaimable(t *testing.T) {
	bets := []domain.Bet{
		{ID: 1, MarketID: 1, OutcomeIndex: 0, BettorID: "alice", Amount: 100},
		{ID: 2, MarketID: 1, OutcomeIndex: 1, BettorID: "alice", Amount: 300},
		{ID: 3, MarketID: 1, OutcomeIndex: 1, BettorID: "alice", Amount: 50, Claimed: true},
	}
	m := marketWithBets(500, 2, bets)

	cancelled, err := Cancel(m, time.Now())
	require.NoError(t, err)
	total, ids := Claimable(cancelled, bets)
	assert.Equal(t, int64(400), total)
	assert.Equal(t, []int64{1, 2}, ids)

	resolved, _, err := Resolve(m, 0, bets, time.Now())
	require.NoError(t, err)
	total, ids = Claimable(resolved, bets)
	assert.Equal(t, int64(427), total)
	assert.Equal(t, []int64{1}, ids)

	total, ids = Claimable(m, bets)
	assert.Zero(t, total)
	assert.Empty(t, ids)
}
