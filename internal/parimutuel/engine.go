package parimutuel

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// DefaultEventBuffer is the event channel capacity used when none is given.
const DefaultEventBuffer = 1024

// Engine is the market lifecycle controller. It owns every market and bet,
// serialises all mutations of a market behind that market's mutex and emits
// a MarketEvent after each successful mutation.
//
// Mutations follow validate, debit, journal, apply: new state is computed on
// a copy, persisted through the Journal, and only then swapped in. A journal
// failure refunds any gold already moved.
type Engine struct {
	validator *Validator
	gold      domain.GoldLedger
	journal   domain.Journal
	ledger    *Ledger
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.RWMutex
	markets      map[int64]*marketState
	lastMarketID atomic.Int64

	events  chan domain.MarketEvent
	dropped atomic.Int64
}

type marketState struct {
	mu         sync.Mutex
	market     domain.Market
	resolution *domain.ResolutionResult
}

// EngineStats is a point-in-time summary of engine contents.
type EngineStats struct {
	ActiveMarkets  int
	SettledMarkets int
	TotalBets      int
	DroppedEvents  int64
}

// NewEngine creates an Engine. journal may be nil, in which case state lives
// only in memory. eventBuffer <= 0 selects DefaultEventBuffer.
func NewEngine(limits Limits, gold domain.GoldLedger, journal domain.Journal, eventBuffer int, logger *slog.Logger) *Engine {
	if journal == nil {
		journal = nopJournal{}
	}
	if eventBuffer <= 0 {
		eventBuffer = DefaultEventBuffer
	}
	return &Engine{
		validator: NewValidator(limits),
		gold:      gold,
		journal:   journal,
		ledger:    NewLedger(),
		logger:    logger.With(slog.String("component", "engine")),
		now:       time.Now,
		markets:   make(map[int64]*marketState),
		events:    make(chan domain.MarketEvent, eventBuffer),
	}
}

// Events returns the channel market events are delivered on. Events are
// dropped, never blocked on, when the buffer is full.
func (e *Engine) Events() <-chan domain.MarketEvent {
	return e.events
}

// Limits returns the bet and fee limits in force.
func (e *Engine) Limits() Limits {
	return e.validator.Limits()
}

// Restore rebuilds engine state from journaled markets and bets. It must be
// called before any other operation. Pools are cross-checked against the bet
// history.
func (e *Engine) Restore(markets []domain.Market, bets []domain.Bet) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.markets) > 0 || e.ledger.Len() > 0 {
		return fmt.Errorf("engine: restore into non-empty engine: %w", domain.ErrInvariantViolation)
	}

	staked := make(map[int64][]int64, len(markets))
	states := make(map[int64]*marketState, len(markets))
	var maxID int64
	for _, m := range markets {
		if err := CheckPoolInvariant(m); err != nil {
			return fmt.Errorf("engine: restore: %w", err)
		}
		states[m.ID] = &marketState{market: m.Clone()}
		staked[m.ID] = make([]int64, len(m.Pools))
		maxID = max(maxID, m.ID)
	}

	sorted := slices.Clone(bets)
	slices.SortFunc(sorted, func(a, b domain.Bet) int { return cmp.Compare(a.ID, b.ID) })
	for _, b := range sorted {
		s, ok := staked[b.MarketID]
		if !ok || b.OutcomeIndex < 0 || b.OutcomeIndex >= len(s) {
			return fmt.Errorf("engine: restore bet %d references market %d outcome %d: %w",
				b.ID, b.MarketID, b.OutcomeIndex, domain.ErrInvariantViolation)
		}
		s[b.OutcomeIndex] += b.Amount
	}
	for id, s := range staked {
		if !slices.Equal(s, states[id].market.Pools) {
			return fmt.Errorf("engine: restore market %d pools %v != bet totals %v: %w",
				id, states[id].market.Pools, s, domain.ErrInvariantViolation)
		}
	}

	for _, b := range sorted {
		if err := e.ledger.Append(b); err != nil {
			return fmt.Errorf("engine: restore: %w", err)
		}
	}
	for id, st := range states {
		if st.market.Status == domain.MarketStatusResolved {
			res := ComputeResolution(st.market, slices.Collect(e.ledger.BetsForMarket(id)))
			st.resolution = &res
		}
		e.markets[id] = st
	}
	e.lastMarketID.Store(maxID)

	e.logger.Info("engine: restored",
		slog.Int("markets", len(markets)),
		slog.Int("bets", len(bets)),
	)
	return nil
}

// CreateMarket opens a new ACTIVE market with empty pools.
func (e *Engine) CreateMarket(ctx context.Context, nm domain.NewMarket) (domain.Market, error) {
	if err := e.validator.ValidateMarket(nm); err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", err)
	}

	m := domain.Market{
		ID:              e.lastMarketID.Add(1),
		Question:        nm.Question,
		Outcomes:        slices.Clone(nm.Outcomes),
		Pools:           make([]int64, len(nm.Outcomes)),
		BettingDeadline: nm.BettingDeadline,
		ResolutionTime:  nm.ResolutionTime,
		Status:          domain.MarketStatusActive,
		HouseFeeBps:     nm.HouseFeeBps,
		CreatedAt:       e.now(),
	}
	if err := e.journal.CreateMarket(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("engine: journal market %d: %w", m.ID, err)
	}

	e.mu.Lock()
	e.markets[m.ID] = &marketState{market: m}
	e.mu.Unlock()

	out := m.Clone()
	e.emit(domain.MarketEvent{Type: domain.EventNewMarket, MarketID: m.ID, Market: &out})
	return m.Clone(), nil
}

// GetMarket returns a snapshot of a market.
func (e *Engine) GetMarket(id int64) (domain.Market, error) {
	st, err := e.state(id)
	if err != nil {
		return domain.Market{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.market.Clone(), nil
}

// ListMarkets returns snapshots of every market with the given status, or of
// all markets when status is empty, ordered by id.
func (e *Engine) ListMarkets(status domain.MarketStatus) []domain.Market {
	e.mu.RLock()
	states := make([]*marketState, 0, len(e.markets))
	for _, st := range e.markets {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make([]domain.Market, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		m := st.market.Clone()
		st.mu.Unlock()
		if status == "" || m.Status == status {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b domain.Market) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Snapshot returns a market together with its current odds and implied
// probabilities.
func (e *Engine) Snapshot(id int64) (domain.MarketSnapshot, error) {
	m, err := e.GetMarket(id)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	return SnapshotOf(m, e.now()), nil
}

// PreviewBet projects the result of a hypothetical bet without changing
// anything. Amounts above MaxBet are rejected as PlaceBet would.
func (e *Engine) PreviewBet(marketID int64, outcomeIndex int, amount int64) (domain.BetPreview, error) {
	m, err := e.GetMarket(marketID)
	if err != nil {
		return domain.BetPreview{}, err
	}
	if maxBet := e.validator.Limits().MaxBet; amount > maxBet {
		return domain.BetPreview{}, fmt.Errorf("engine: preview amount %d > %d: %w", amount, maxBet, domain.ErrBetTooLarge)
	}
	p, err := PreviewBet(m.Pools, m.TotalPool, outcomeIndex, amount, m.HouseFeeBps)
	if err != nil {
		return domain.BetPreview{}, fmt.Errorf("engine: market %d: %w", marketID, err)
	}
	return p, nil
}

// PlaceBet validates the bet against the current pool, debits the bettor,
// journals the bet and applies it, all inside the market's critical section.
func (e *Engine) PlaceBet(ctx context.Context, marketID int64, outcomeIndex int, bettorID string, amount int64) (domain.Bet, error) {
	st, err := e.state(marketID)
	if err != nil {
		return domain.Bet{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := CheckPoolInvariant(st.market); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: place bet: %w", err)
	}
	balance, err := e.gold.Balance(ctx, bettorID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("engine: balance of %s: %w", bettorID, err)
	}
	now := e.now()
	intent, err := e.validator.ValidateBet(st.market, bettorID, outcomeIndex, amount, balance, now)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("engine: place bet: %w", err)
	}

	next := st.market.Clone()
	next.Pools[intent.OutcomeIndex] += intent.Amount
	next.TotalPool += intent.Amount
	if err := CheckPoolInvariant(next); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: place bet: %w", err)
	}

	if _, err := e.gold.Adjust(ctx, bettorID, -intent.Amount); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: debit %s: %w", bettorID, err)
	}

	bet := domain.Bet{
		ID:           e.ledger.NextID(),
		MarketID:     marketID,
		OutcomeIndex: intent.OutcomeIndex,
		BettorID:     bettorID,
		Amount:       intent.Amount,
		OddsAtBet:    Odds(st.market.Pools, st.market.TotalPool)[intent.OutcomeIndex],
		Timestamp:    now,
	}
	if err := e.journal.RecordBet(ctx, bet, next.Pools, next.TotalPool); err != nil {
		e.restoreGold(ctx, bettorID, intent.Amount, "place_bet")
		return domain.Bet{}, fmt.Errorf("engine: journal bet: %w", err)
	}
	if err := e.ledger.Append(bet); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: place bet: %w", err)
	}
	st.market = next

	e.emit(domain.MarketEvent{Type: domain.EventOddsUpdate, MarketID: marketID, Odds: oddsUpdateOf(next)})
	return bet, nil
}

// Resolve settles the market with winning as the winning outcome.
func (e *Engine) Resolve(ctx context.Context, marketID int64, winning int) (domain.ResolutionResult, error) {
	st, err := e.state(marketID)
	if err != nil {
		return domain.ResolutionResult{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	bets := slices.Collect(e.ledger.BetsForMarket(marketID))
	resolved, res, err := Resolve(st.market, winning, bets, e.now())
	if err != nil {
		return domain.ResolutionResult{}, fmt.Errorf("engine: %w", err)
	}
	if err := e.journal.RecordResolution(ctx, resolved, res); err != nil {
		return domain.ResolutionResult{}, fmt.Errorf("engine: journal resolution: %w", err)
	}
	st.market = resolved
	st.resolution = &res

	m := resolved.Clone()
	e.emit(domain.MarketEvent{Type: domain.EventMarketResolved, MarketID: marketID, Market: &m, Resolution: &res})

	e.logger.Info("engine: market resolved",
		slog.Int64("market_id", marketID),
		slog.Int("winning_outcome", winning),
		slog.Int64("net_pool", res.NetPool),
		slog.Int64("house_fee", res.HouseFee),
		slog.Int("winning_bets", len(res.Payouts)),
	)
	return res, nil
}

// Cancel voids the market. Every stake becomes refundable through Claim.
func (e *Engine) Cancel(ctx context.Context, marketID int64) error {
	st, err := e.state(marketID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	cancelled, err := Cancel(st.market, e.now())
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := e.journal.RecordCancellation(ctx, cancelled); err != nil {
		return fmt.Errorf("engine: journal cancellation: %w", err)
	}
	st.market = cancelled

	m := cancelled.Clone()
	e.emit(domain.MarketEvent{Type: domain.EventMarketCancelled, MarketID: marketID, Market: &m})

	e.logger.Info("engine: market cancelled",
		slog.Int64("market_id", marketID),
		slog.Int64("total_pool", cancelled.TotalPool),
	)
	return nil
}

// Claim credits the bettor with everything still owed on the market and
// marks those bets claimed. Nothing owed yields 0, not an error.
func (e *Engine) Claim(ctx context.Context, marketID int64, bettorID string) (int64, error) {
	st, err := e.state(marketID)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.market.Status == domain.MarketStatusActive {
		return 0, fmt.Errorf("engine: claim market %d: %w", marketID, domain.ErrMarketNotResolved)
	}

	var bets []domain.Bet
	for b := range e.ledger.BetsForBettor(bettorID) {
		if b.MarketID == marketID {
			bets = append(bets, b)
		}
	}
	total, ids := Claimable(st.market, bets)
	if total == 0 {
		return 0, nil
	}

	// The claim is journaled before gold moves: a failed credit can be
	// reconciled from the log, a double credit cannot be taken back.
	if err := e.journal.MarkClaimed(ctx, ids); err != nil {
		return 0, fmt.Errorf("engine: journal claim: %w", err)
	}
	for _, id := range ids {
		if err := e.ledger.MarkClaimed(id); err != nil {
			return 0, fmt.Errorf("engine: claim: %w", err)
		}
	}
	if _, err := e.gold.Adjust(ctx, bettorID, total); err != nil {
		e.logger.ErrorContext(ctx, "engine: claim journaled but credit failed",
			slog.Int64("market_id", marketID),
			slog.String("bettor_id", bettorID),
			slog.Int64("amount", total),
			slog.Any("bet_ids", ids),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("engine: credit %s: %w", bettorID, err)
	}

	e.logger.Info("engine: claimed",
		slog.Int64("market_id", marketID),
		slog.String("bettor_id", bettorID),
		slog.Int64("amount", total),
		slog.Int("bets", len(ids)),
	)
	return total, nil
}

// Resolution returns the frozen payout table of a resolved market.
func (e *Engine) Resolution(marketID int64) (domain.ResolutionResult, error) {
	st, err := e.state(marketID)
	if err != nil {
		return domain.ResolutionResult{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.resolution == nil {
		return domain.ResolutionResult{}, fmt.Errorf("engine: resolution of market %d: %w", marketID, domain.ErrMarketNotResolved)
	}
	return *st.resolution, nil
}

// BetsForBettor returns the bettor's bets across all markets, oldest first.
func (e *Engine) BetsForBettor(bettorID string) iter.Seq[domain.Bet] {
	return e.ledger.BetsForBettor(bettorID)
}

// BetsForMarket returns the market's bets, oldest first.
func (e *Engine) BetsForMarket(marketID int64) iter.Seq[domain.Bet] {
	return e.ledger.BetsForMarket(marketID)
}

// Position summarises the bettor's stake in a market and what they can still
// claim.
func (e *Engine) Position(marketID int64, bettorID string) (domain.Position, error) {
	st, err := e.state(marketID)
	if err != nil {
		return domain.Position{}, err
	}
	st.mu.Lock()
	m := st.market.Clone()
	st.mu.Unlock()

	pos := domain.Position{
		MarketID: marketID,
		BettorID: bettorID,
		Bets:     []domain.Bet{},
		Staked:   make([]int64, len(m.Outcomes)),
	}
	for b := range e.ledger.BetsForBettor(bettorID) {
		if b.MarketID != marketID {
			continue
		}
		pos.Bets = append(pos.Bets, b)
		pos.Staked[b.OutcomeIndex] += b.Amount
	}
	pos.Claimable, _ = Claimable(m, pos.Bets)
	return pos, nil
}

// Stats summarises engine contents.
func (e *Engine) Stats() EngineStats {
	stats := EngineStats{
		TotalBets:     e.ledger.Len(),
		DroppedEvents: e.dropped.Load(),
	}
	for _, m := range e.ListMarkets("") {
		if m.Status == domain.MarketStatusActive {
			stats.ActiveMarkets++
		} else {
			stats.SettledMarkets++
		}
	}
	return stats
}

func (e *Engine) state(id int64) (*marketState, error) {
	e.mu.RLock()
	st, ok := e.markets[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: market %d: %w", id, domain.ErrNotFound)
	}
	return st, nil
}

// restoreGold undoes a gold movement after a journal failure. A failure here
// leaves the bettor's balance wrong and is logged at error level.
func (e *Engine) restoreGold(ctx context.Context, bettorID string, delta int64, op string) {
	if _, err := e.gold.Adjust(ctx, bettorID, delta); err != nil {
		e.logger.ErrorContext(ctx, "engine: gold rollback failed",
			slog.String("op", op),
			slog.String("bettor_id", bettorID),
			slog.Int64("delta", delta),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) emit(ev domain.MarketEvent) {
	ev.ID = uuid.NewString()
	ev.At = e.now()
	select {
	case e.events <- ev:
	default:
		e.dropped.Add(1)
		e.logger.Warn("engine: event buffer full, dropping event",
			slog.String("type", string(ev.Type)),
			slog.Int64("market_id", ev.MarketID),
		)
	}
}

func oddsUpdateOf(m domain.Market) *domain.OddsUpdate {
	return &domain.OddsUpdate{
		MarketID:  m.ID,
		Pools:     CurrentPools(m),
		TotalPool: CurrentTotal(m),
		Odds:      Odds(m.Pools, m.TotalPool),
	}
}

// SnapshotOf builds a MarketSnapshot from a market value.
func SnapshotOf(m domain.Market, now time.Time) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Market:     m.Clone(),
		Odds:       Odds(m.Pools, m.TotalPool),
		ImpliedBps: ImpliedProbabilities(m.Pools, m.TotalPool),
		UpdatedAt:  now,
	}
}

type nopJournal struct{}

func (nopJournal) CreateMarket(context.Context, domain.Market) error { return nil }

func (nopJournal) RecordBet(context.Context, domain.Bet, []int64, int64) error { return nil }

func (nopJournal) RecordResolution(context.Context, domain.Market, domain.ResolutionResult) error {
	return nil
}

func (nopJournal) RecordCancellation(context.Context, domain.Market) error { return nil }

func (nopJournal) MarkClaimed(context.Context, []int64) error { return nil }

func (nopJournal) Load(context.Context) ([]domain.Market, []domain.Bet, error) {
	return nil, nil, nil
}

var _ domain.Journal = nopJournal{}
