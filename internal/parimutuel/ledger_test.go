package parimutuel

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

func betIDs(seq []domain.Bet) []int64 {
	out := make([]int64, 0, len(seq))
	for _, b := range seq {
		out = append(out, b.ID)
	}
	return out
}

func TestLedger_OrderingAndRestart(t *testing.T) {
	l := NewLedger()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(domain.Bet{ID: 3, MarketID: 1, BettorID: "alice", Amount: 10, Timestamp: t0}))
	require.NoError(t, l.Append(domain.Bet{ID: 1, MarketID: 2, BettorID: "alice", Amount: 10, Timestamp: t0.Add(time.Second)}))
	require.NoError(t, l.Append(domain.Bet{ID: 2, MarketID: 1, BettorID: "alice", Amount: 10, Timestamp: t0}))
	require.NoError(t, l.Append(domain.Bet{ID: 4, MarketID: 1, BettorID: "bob", Amount: 10, Timestamp: t0.Add(-time.Second)}))

	seq := l.BetsForBettor("alice")
	assert.Equal(t, []int64{2, 3, 1}, betIDs(slices.Collect(seq)))
	assert.Equal(t, []int64{2, 3, 1}, betIDs(slices.Collect(seq)), "sequence is restartable")

	assert.Equal(t, []int64{4, 2, 3}, betIDs(slices.Collect(l.BetsForMarket(1))))
	assert.Empty(t, slices.Collect(l.BetsForBettor("nobody")))

	var first []int64
	for b := range l.BetsForMarket(1) {
		first = append(first, b.ID)
		break
	}
	assert.Equal(t, []int64{4}, first)
}

func TestLedger_SequenceSeesLaterAppends(t *testing.T) {
	l := NewLedger()
	seq := l.BetsForBettor("alice")
	assert.Empty(t, slices.Collect(seq))

	require.NoError(t, l.Append(domain.Bet{ID: l.NextID(), MarketID: 1, BettorID: "alice", Amount: 10, Timestamp: time.Now()}))
	assert.Len(t, slices.Collect(seq), 1)
}

func TestLedger_MarkClaimed(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Append(domain.Bet{ID: 1, MarketID: 1, BettorID: "alice", Amount: 10}))

	require.NoError(t, l.MarkClaimed(1))
	assert.ErrorIs(t, l.MarkClaimed(1), domain.ErrAlreadyClaimed)
	assert.ErrorIs(t, l.MarkClaimed(99), domain.ErrNotFound)

	b, err := l.Get(1)
	require.NoError(t, err)
	assert.True(t, b.Claimed)
}

func TestLedger_DuplicateID(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Append(domain.Bet{ID: 7, MarketID: 1, BettorID: "alice"}))
	assert.ErrorIs(t, l.Append(domain.Bet{ID: 7, MarketID: 1, BettorID: "bob"}), domain.ErrInvariantViolation)
	assert.Equal(t, int64(8), l.NextID())
}
