// Package gold provides an in-process gold balance authority for
// single-node deployments and tests.
package gold

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// MemoryLedger keeps balances in a map guarded by a mutex. Adjust is atomic
// with respect to every other call.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
}

// NewMemoryLedger creates a ledger seeded with the given balances.
func NewMemoryLedger(initial map[string]int64) *MemoryLedger {
	b := make(map[string]int64, len(initial))
	for k, v := range initial {
		b[k] = v
	}
	return &MemoryLedger{balances: b}
}

// Balance returns the bettor's balance. Unknown bettors have 0.
func (l *MemoryLedger) Balance(_ context.Context, bettorID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[bettorID], nil
}

// Adjust adds delta to the bettor's balance and returns the new balance. A
// debit that would go negative fails and changes nothing.
func (l *MemoryLedger) Adjust(_ context.Context, bettorID string, delta int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.balances[bettorID] + delta
	if next < 0 {
		return l.balances[bettorID], fmt.Errorf("gold: adjust %s by %d: %w", bettorID, delta, domain.ErrInsufficientBalance)
	}
	l.balances[bettorID] = next
	return next, nil
}

// Compile-time interface check.
var _ domain.GoldLedger = (*MemoryLedger)(nil)
