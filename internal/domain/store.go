package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Journal is the transactional boundary the engine delegates to. Each method
// persists all of its rows or none of them.
type Journal interface {
	CreateMarket(ctx context.Context, m Market) error
	// RecordBet appends bet and stores the market's post-bet pools in one
	// transaction.
	RecordBet(ctx context.Context, bet Bet, pools []int64, totalPool int64) error
	RecordResolution(ctx context.Context, m Market, res ResolutionResult) error
	RecordCancellation(ctx context.Context, m Market) error
	MarkClaimed(ctx context.Context, betIDs []int64) error
	// Load returns every market and bet, ordered by id, for engine restore.
	Load(ctx context.Context) ([]Market, []Bet, error)
}

// SettledMarketStore reads settled markets for cold-storage export.
type SettledMarketStore interface {
	ListSettledBefore(ctx context.Context, before time.Time, opts ListOpts) ([]Market, error)
	ListBetsByMarket(ctx context.Context, marketID int64) ([]Bet, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
