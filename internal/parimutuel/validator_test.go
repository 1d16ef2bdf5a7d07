package parimutuel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

func openMarket(now time.Time) domain.Market {
	return domain.Market{
		ID:              1,
		Question:        "Will it rain?",
		Outcomes:        []string{"Yes", "No"},
		Pools:           []int64{0, 0},
		BettingDeadline: now.Add(time.Hour),
		Status:          domain.MarketStatusActive,
		HouseFeeBps:     500,
	}
}

func TestValidator_BetBoundaries(t *testing.T) {
	now := time.Now()
	v := NewValidator(DefaultLimits())
	m := openMarket(now)

	tests := []struct {
		amount  int64
		wantErr error
	}{
		{9, domain.ErrBetTooSmall},
		{10, nil},
		{100_000, nil},
		{100_001, domain.ErrBetTooLarge},
	}
	for _, tt := range tests {
		intent, err := v.ValidateBet(m, "alice", 0, tt.amount, 1_000_000, now)
		if tt.wantErr != nil {
			assert.ErrorIs(t, err, tt.wantErr, "amount %d", tt.amount)
			continue
		}
		require.NoError(t, err, "amount %d", tt.amount)
		assert.Equal(t, tt.amount, intent.Amount)
		assert.Equal(t, "alice", intent.BettorID)
	}
}

func TestValidator_CheckOrder(t *testing.T) {
	now := time.Now()
	v := NewValidator(DefaultLimits())

	closed := openMarket(now)
	closed.BettingDeadline = now
	_, err := v.ValidateBet(closed, "alice", 9, 1, 0, now)
	assert.ErrorIs(t, err, domain.ErrMarketClosed, "closed is reported before anything else")

	resolved := openMarket(now)
	resolved.Status = domain.MarketStatusResolved
	_, err = v.ValidateBet(resolved, "alice", 0, 100, 1000, now)
	assert.ErrorIs(t, err, domain.ErrMarketClosed)

	_, err = v.ValidateBet(openMarket(now), "alice", 2, 1, 0, now)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome, "outcome is checked before size")

	_, err = v.ValidateBet(openMarket(now), "alice", 0, 1, 0, now)
	assert.ErrorIs(t, err, domain.ErrBetTooSmall, "size is checked before balance")

	_, err = v.ValidateBet(openMarket(now), "alice", 0, 50, 49, now)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestValidator_ValidateMarket(t *testing.T) {
	v := NewValidator(DefaultLimits())
	base := domain.NewMarket{Question: "Who wins?", Outcomes: []string{"Red", "Blue"}, HouseFeeBps: 500}

	require.NoError(t, v.ValidateMarket(base))

	one := base
	one.Outcomes = []string{"Red"}
	assert.ErrorIs(t, v.ValidateMarket(one), domain.ErrInvalidOutcomeCount)

	highFee := base
	highFee.HouseFeeBps = 2001
	assert.ErrorIs(t, v.ValidateMarket(highFee), domain.ErrInvalidFee)

	negFee := base
	negFee.HouseFeeBps = -1
	assert.ErrorIs(t, v.ValidateMarket(negFee), domain.ErrInvalidFee)

	blank := base
	blank.Outcomes = []string{"Red", " "}
	assert.ErrorIs(t, v.ValidateMarket(blank), domain.ErrMalformedRequest)
}
