package parimutuel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/gold"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, balances map[string]int64, journal domain.Journal) (*Engine, *gold.MemoryLedger) {
	t.Helper()
	g := gold.NewMemoryLedger(balances)
	return NewEngine(DefaultLimits(), g, journal, 64, discardLogger()), g
}

func createYesNo(t *testing.T, e *Engine) domain.Market {
	t.Helper()
	m, err := e.CreateMarket(context.Background(), domain.NewMarket{
		Question:        "Will the dragon be slain?",
		Outcomes:        []string{"Yes", "No"},
		BettingDeadline: time.Now().Add(time.Hour),
		ResolutionTime:  time.Now().Add(2 * time.Hour),
		HouseFeeBps:     500,
	})
	require.NoError(t, err)
	return m
}

func balanceOf(t *testing.T, g *gold.MemoryLedger, bettor string) int64 {
	t.Helper()
	b, err := g.Balance(context.Background(), bettor)
	require.NoError(t, err)
	return b
}

func drain(e *Engine) []domain.MarketEvent {
	var out []domain.MarketEvent
	for {
		select {
		case ev := <-e.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestEngine_Scenarios(t *testing.T) {
	ctx := context.Background()
	e, g := newTestEngine(t, map[string]int64{"alice": 1000, "bob": 1000, "carol": 1000}, nil)
	m := createYesNo(t, e)
	assert.Equal(t, int64(1), m.ID)
	assert.Equal(t, []int64{0, 0}, m.Pools)

	// Scenario A
	bet, err := e.PlaceBet(ctx, m.ID, 0, "alice", 100)
	require.NoError(t, err)
	assert.Zero(t, bet.OddsAtBet, "pre-increment odds of an empty outcome")
	snap, err := e.Snapshot(m.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 0}, snap.Market.Pools)
	assert.Equal(t, []int64{10000, 0}, snap.Odds)

	// Scenario B
	bet, err = e.PlaceBet(ctx, m.ID, 1, "bob", 300)
	require.NoError(t, err)
	assert.Zero(t, bet.OddsAtBet)
	snap, err = e.Snapshot(m.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{40000, 13333}, snap.Odds)
	assert.Equal(t, int64(400), snap.Market.TotalPool)

	// Scenario D
	bet, err = e.PlaceBet(ctx, m.ID, 1, "carol", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(13333), bet.OddsAtBet)

	res, err := e.Resolve(ctx, m.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(427), res.NetPool)

	got, err := e.Claim(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(366), got)
	assert.Equal(t, int64(700+366), balanceOf(t, g, "bob"))

	got, err = e.Claim(ctx, m.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(61), got)

	got, err = e.Claim(ctx, m.ID, "alice")
	require.NoError(t, err)
	assert.Zero(t, got, "losing bettor has nothing to claim")

	stored, err := e.Resolution(m.ID)
	require.NoError(t, err)
	assert.Equal(t, res, stored)
}

func TestEngine_ClaimIdempotent(t *testing.T) {
	ctx := context.Background()
	e, g := newTestEngine(t, map[string]int64{"alice": 500, "bob": 500}, nil)
	m := createYesNo(t, e)

	_, err := e.PlaceBet(ctx, m.ID, 0, "alice", 100)
	require.NoError(t, err)
	_, err = e.PlaceBet(ctx, m.ID, 1, "bob", 300)
	require.NoError(t, err)
	_, err = e.Resolve(ctx, m.ID, 1)
	require.NoError(t, err)

	first, err := e.Claim(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(380), first)

	second, err := e.Claim(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Zero(t, second)
	assert.Equal(t, int64(200+380), balanceOf(t, g, "bob"))

	for b := range e.BetsForBettor("bob") {
		assert.True(t, b.Claimed)
	}
}

func TestEngine_CancelRefunds(t *testing.T) {
	ctx := context.Background()
	e, g := newTestEngine(t, map[string]int64{"alice": 500, "bob": 500}, nil)
	m := createYesNo(t, e)

	_, err := e.PlaceBet(ctx, m.ID, 0, "alice", 100)
	require.NoError(t, err)
	_, err = e.PlaceBet(ctx, m.ID, 1, "bob", 300)
	require.NoError(t, err)

	require.NoError(t, e.Cancel(ctx, m.ID))

	a, err := e.Claim(ctx, m.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), a)
	b, err := e.Claim(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(300), b)

	assert.Equal(t, int64(500), balanceOf(t, g, "alice"))
	assert.Equal(t, int64(500), balanceOf(t, g, "bob"))

	assert.ErrorIs(t, e.Cancel(ctx, m.ID), domain.ErrAlreadyResolved)
	_, err = e.Resolve(ctx, m.ID, 0)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	_, err = e.Resolution(m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

func TestEngine_StateErrors(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, map[string]int64{"alice": 500}, nil)
	m := createYesNo(t, e)

	_, err := e.Claim(ctx, m.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)

	_, err = e.Resolve(ctx, m.ID, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	_, err = e.Resolve(ctx, m.ID, 0)
	require.NoError(t, err)
	_, err = e.Resolve(ctx, m.ID, 0)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	_, err = e.PlaceBet(ctx, m.ID, 0, "alice", 100)
	assert.ErrorIs(t, err, domain.ErrMarketClosed)

	_, err = e.GetMarket(42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.PlaceBet(ctx, 42, 0, "alice", 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.Claim(ctx, 42, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, e.Cancel(ctx, 42), domain.ErrNotFound)
	_, err = e.PreviewBet(42, 0, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.PreviewBet(m.ID, 0, DefaultLimits().MaxBet+1)
	assert.ErrorIs(t, err, domain.ErrBetTooLarge)

	_, err = e.CreateMarket(ctx, domain.NewMarket{Question: "?", Outcomes: []string{"only"}})
	assert.ErrorIs(t, err, domain.ErrInvalidOutcomeCount)
}

func TestEngine_DeadlinePassed(t *testing.T) {
	ctx := context.Background()
	e, g := newTestEngine(t, map[string]int64{"alice": 500}, nil)
	m := createYesNo(t, e)

	e.now = func() time.Time { return m.BettingDeadline }
	_, err := e.PlaceBet(ctx, m.ID, 0, "alice", 100)
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
	assert.Equal(t, int64(500), balanceOf(t, g, "alice"))
}

func TestEngine_RejectedBetChangesNothing(t *testing.T) {
	ctx := context.Background()
	e, g := newTestEngine(t, map[string]int64{"alice": 50}, nil)
	m := createYesNo(t, e)
	drain(e)

	for _, tc := range []struct {
		outcome int
		amount  int64
		want    error
	}{
		{0, 9, domain.ErrBetTooSmall},
		{0, 100_001, domain.ErrBetTooLarge},
		{3, 10, domain.ErrInvalidOutcome},
		{0, 51, domain.ErrInsufficientBalance},
	} {
		_, err := e.PlaceBet(ctx, m.ID, tc.outcome, "alice", tc.amount)
		assert.ErrorIs(t, err, tc.want)
	}

	got, err := e.GetMarket(m.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0}, got.Pools)
	assert.Zero(t, got.TotalPool)
	assert.Equal(t, int64(50), balanceOf(t, g, "alice"))
	assert.Empty(t, drain(e))
}

func TestEngine_ConcurrentBets(t *testing.T) {
	ctx := context.Background()
	balances := map[string]int64{}
	for i := range 20 {
		balances[string(rune('a'+i))] = 1000
	}
	e, g := newTestEngine(t, balances, nil)
	m := createYesNo(t, e)

	var wg sync.WaitGroup
	for bettor := range balances {
		for j := range 15 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = e.PlaceBet(ctx, m.ID, j%2, bettor, 100)
			}()
		}
	}
	wg.Wait()

	got, err := e.GetMarket(m.ID)
	require.NoError(t, err)
	require.NoError(t, CheckPoolInvariant(got))
	// Each bettor can afford exactly 10 of their 15 attempts.
	assert.Equal(t, int64(20*1000), got.TotalPool)
	assert.Len(t, slices.Collect(e.BetsForMarket(m.ID)), 200)
	for bettor := range balances {
		assert.Zero(t, balanceOf(t, g, bettor))
	}
}

type failingJournal struct {
	nopJournal
	failBets   bool
	failClaims bool
}

var errJournalDown = errors.New("journal down")

func (j *failingJournal) RecordBet(context.Context, domain.Bet, []int64, int64) error {
	if j.failBets {
		return errJournalDown
	}
	return nil
}

func (j *failingJournal) MarkClaimed(context.Context, []int64) error {
	if j.failClaims {
		return errJournalDown
	}
	return nil
}

func TestEngine_JournalFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	j := &failingJournal{failBets: true}
	e, g := newTestEngine(t, map[string]int64{"alice": 500}, j)
	m := createYesNo(t, e)

	_, err := e.PlaceBet(ctx, m.ID, 0, "alice", 100)
	require.ErrorIs(t, err, errJournalDown)
	assert.Equal(t, int64(500), balanceOf(t, g, "alice"), "debit refunded")
	got, _ := e.GetMarket(m.ID)
	assert.Zero(t, got.TotalPool)
	assert.Empty(t, slices.Collect(e.BetsForBettor("alice")))

	j.failBets = false
	_, err = e.PlaceBet(ctx, m.ID, 0, "alice", 100)
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, m.ID))

	j.failClaims = true
	_, err = e.Claim(ctx, m.ID, "alice")
	require.ErrorIs(t, err, errJournalDown)
	assert.Equal(t, int64(400), balanceOf(t, g, "alice"), "nothing credited")

	j.failClaims = false
	amt, err := e.Claim(ctx, m.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), amt)
	assert.Equal(t, int64(500), balanceOf(t, g, "alice"))
}

// spendingLedger records every credit and optionally spends it straight
// away, the way a bettor wagering on another market would.
type spendingLedger struct {
	*gold.MemoryLedger
	mu          sync.Mutex
	credited    int64
	spend       bool
	failCredits bool
}

func (l *spendingLedger) Adjust(ctx context.Context, bettorID string, delta int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if delta > 0 && l.failCredits {
		return 0, errors.New("ledger unavailable")
	}
	bal, err := l.MemoryLedger.Adjust(ctx, bettorID, delta)
	if err != nil || delta <= 0 {
		return bal, err
	}
	l.credited += delta
	if l.spend {
		return l.MemoryLedger.Adjust(ctx, bettorID, -delta)
	}
	return bal, nil
}

func TestEngine_ClaimNeverPaysTwice(t *testing.T) {
	ctx := context.Background()
	j := &failingJournal{}
	g := &spendingLedger{MemoryLedger: gold.NewMemoryLedger(map[string]int64{"alice": 500}), spend: true}
	e := NewEngine(DefaultLimits(), g, j, 64, discardLogger())
	m := createYesNo(t, e)

	_, err := e.PlaceBet(ctx, m.ID, 0, "alice", 100)
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, m.ID))

	j.failClaims = true
	_, err = e.Claim(ctx, m.ID, "alice")
	require.ErrorIs(t, err, errJournalDown)
	assert.Zero(t, g.credited, "no credit before the claim is journaled")

	j.failClaims = false
	amt, err := e.Claim(ctx, m.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), amt)

	amt, err = e.Claim(ctx, m.ID, "alice")
	require.NoError(t, err)
	assert.Zero(t, amt)
	assert.Equal(t, int64(100), g.credited, "a 100 stake is refunded exactly once")
}

func TestEngine_ClaimCreditFailureKeepsBetsClaimed(t *testing.T) {
	ctx := context.Background()
	g := &spendingLedger{MemoryLedger: gold.NewMemoryLedger(map[string]int64{"alice": 500})}
	e := NewEngine(DefaultLimits(), g, nil, 64, discardLogger())
	m := createYesNo(t, e)

	_, err := e.PlaceBet(ctx, m.ID, 0, "alice", 100)
	require.NoError(t, err)
	_, err = e.Resolve(ctx, m.ID, 0)
	require.NoError(t, err)

	g.failCredits = true
	_, err = e.Claim(ctx, m.ID, "alice")
	require.Error(t, err)

	g.failCredits = false
	amt, err := e.Claim(ctx, m.ID, "alice")
	require.NoError(t, err)
	assert.Zero(t, amt)
	assert.Zero(t, g.credited)
	for b := range e.BetsForBettor("alice") {
		assert.True(t, b.Claimed)
	}
}

func TestEngine_Events(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, map[string]int64{"alice": 500}, nil)
	m := createYesNo(t, e)
	_, err := e.PlaceBet(ctx, m.ID, 0, "alice", 100)
	require.NoError(t, err)
	_, err = e.Resolve(ctx, m.ID, 0)
	require.NoError(t, err)

	events := drain(e)
	require.Len(t, events, 3)

	assert.Equal(t, domain.EventNewMarket, events[0].Type)
	assert.Equal(t, domain.ChannelMarket, events[0].Channel())
	require.NotNil(t, events[0].Market)

	assert.Equal(t, domain.EventOddsUpdate, events[1].Type)
	assert.Equal(t, "ch:odds:1", events[1].Channel())
	require.NotNil(t, events[1].Odds)
	assert.Equal(t, []int64{100, 0}, events[1].Odds.Pools)
	assert.Equal(t, []int64{10000, 0}, events[1].Odds.Odds)

	assert.Equal(t, domain.EventMarketResolved, events[2].Type)
	require.NotNil(t, events[2].Resolution)
	assert.Equal(t, 0, events[2].Resolution.WinningOutcome)
	assert.NotEmpty(t, events[2].ID)
}

func TestEngine_FullBufferDropsEvents(t *testing.T) {
	g := gold.NewMemoryLedger(nil)
	e := NewEngine(DefaultLimits(), g, nil, 1, discardLogger())
	createYesNo(t, e)
	createYesNo(t, e)

	assert.Len(t, drain(e), 1)
	assert.Equal(t, int64(1), e.Stats().DroppedEvents)
}

func TestEngine_PositionAndList(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, map[string]int64{"alice": 1000}, nil)
	m1 := createYesNo(t, e)
	m2 := createYesNo(t, e)

	_, err := e.PlaceBet(ctx, m1.ID, 0, "alice", 100)
	require.NoError(t, err)
	_, err = e.PlaceBet(ctx, m1.ID, 1, "alice", 50)
	require.NoError(t, err)
	_, err = e.PlaceBet(ctx, m2.ID, 1, "alice", 20)
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, m2.ID))

	pos, err := e.Position(m1.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 50}, pos.Staked)
	assert.Len(t, pos.Bets, 2)
	assert.Zero(t, pos.Claimable)

	pos, err = e.Position(m2.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(20), pos.Claimable)

	active := e.ListMarkets(domain.MarketStatusActive)
	require.Len(t, active, 1)
	assert.Equal(t, m1.ID, active[0].ID)
	assert.Len(t, e.ListMarkets(""), 2)

	stats := e.Stats()
	assert.Equal(t, 1, stats.ActiveMarkets)
	assert.Equal(t, 1, stats.SettledMarkets)
	assert.Equal(t, 3, stats.TotalBets)
}

func TestEngine_Restore(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestEngine(t, map[string]int64{"alice": 1000, "bob": 1000}, nil)
	m := createYesNo(t, src)
	_, err := src.PlaceBet(ctx, m.ID, 0, "alice", 100)
	require.NoError(t, err)
	_, err = src.PlaceBet(ctx, m.ID, 1, "bob", 300)
	require.NoError(t, err)
	_, err = src.Resolve(ctx, m.ID, 1)
	require.NoError(t, err)

	markets := src.ListMarkets("")
	bets := slices.Collect(src.BetsForMarket(m.ID))

	dst, _ := newTestEngine(t, map[string]int64{}, nil)
	require.NoError(t, dst.Restore(markets, bets))

	res, err := dst.Resolution(m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(380), res.Payouts[2])

	next := createYesNo(t, dst)
	assert.Equal(t, m.ID+1, next.ID)

	assert.ErrorIs(t, dst.Restore(markets, bets), domain.ErrInvariantViolation)

	bad := []domain.Market{markets[0].Clone()}
	bad[0].Pools[0] = 99
	bad[0].TotalPool = 399
	fresh, _ := newTestEngine(t, nil, nil)
	assert.ErrorIs(t, fresh.Restore(bad, bets), domain.ErrInvariantViolation)
}
