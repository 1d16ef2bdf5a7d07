package parimutuel

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Ledger is the append-only record of bets, indexed by market and bettor.
// Bets are never removed; only the claimed flag changes.
type Ledger struct {
	mu       sync.RWMutex
	bets     map[int64]*domain.Bet
	byMarket map[int64][]int64
	byBettor map[string][]int64
	lastID   int64
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		bets:     make(map[int64]*domain.Bet),
		byMarket: make(map[int64][]int64),
		byBettor: make(map[string][]int64),
	}
}

// NextID reserves the next bet id.
func (l *Ledger) NextID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastID++
	return l.lastID
}

// Append records bet. The id must be unique.
func (l *Ledger) Append(bet domain.Bet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.bets[bet.ID]; ok {
		return fmt.Errorf("ledger: bet %d already recorded: %w", bet.ID, domain.ErrInvariantViolation)
	}
	b := bet
	l.bets[b.ID] = &b
	l.byMarket[b.MarketID] = append(l.byMarket[b.MarketID], b.ID)
	l.byBettor[b.BettorID] = append(l.byBettor[b.BettorID], b.ID)
	if b.ID > l.lastID {
		l.lastID = b.ID
	}
	return nil
}

// Get returns a copy of a single bet.
func (l *Ledger) Get(betID int64) (domain.Bet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bets[betID]
	if !ok {
		return domain.Bet{}, fmt.Errorf("ledger: bet %d: %w", betID, domain.ErrNotFound)
	}
	return *b, nil
}

// MarkClaimed flips a bet's claimed flag. The flag never goes back.
func (l *Ledger) MarkClaimed(betID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bets[betID]
	if !ok {
		return fmt.Errorf("ledger: bet %d: %w", betID, domain.ErrNotFound)
	}
	if b.Claimed {
		return fmt.Errorf("ledger: bet %d: %w", betID, domain.ErrAlreadyClaimed)
	}
	b.Claimed = true
	return nil
}

// Len returns the number of recorded bets.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.bets)
}

// BetsForMarket returns a lazy sequence of the market's bets ordered by
// timestamp, ties broken by id. Each iteration takes a fresh snapshot.
func (l *Ledger) BetsForMarket(marketID int64) iter.Seq[domain.Bet] {
	return l.seq(func() []int64 { return l.byMarket[marketID] })
}

// BetsForBettor returns a lazy sequence of the bettor's bets across all
// markets ordered by timestamp, ties broken by id.
func (l *Ledger) BetsForBettor(bettorID string) iter.Seq[domain.Bet] {
	return l.seq(func() []int64 { return l.byBettor[bettorID] })
}

func (l *Ledger) seq(ids func() []int64) iter.Seq[domain.Bet] {
	return func(yield func(domain.Bet) bool) {
		for _, b := range l.snapshot(ids) {
			if !yield(b) {
				return
			}
		}
	}
}

func (l *Ledger) snapshot(ids func() []int64) []domain.Bet {
	l.mu.RLock()
	idx := ids()
	out := make([]domain.Bet, 0, len(idx))
	for _, id := range idx {
		out = append(out, *l.bets[id])
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Bet) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
