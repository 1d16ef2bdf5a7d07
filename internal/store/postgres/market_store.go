package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

const marketColumns = `
	id, question, outcomes, pools, total_pool,
	betting_deadline, resolution_time, status, winning_outcome,
	house_fee_bps, created_at, settled_at`

const betColumns = `
	id, market_id, outcome_index, bettor_id, amount,
	odds_at_bet, placed_at, claimed`

// MarketStore implements domain.SettledMarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// ListSettledBefore returns resolved or cancelled markets settled before the
// cutoff, oldest first.
func (s *MarketStore) ListSettledBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets
		WHERE status <> 'ACTIVE' AND settled_at < $1
		ORDER BY settled_at, id`
	args := []any{before}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return queryMarkets(ctx, s.pool, query, args...)
}

// ListBetsByMarket returns every bet on a market ordered by placement.
func (s *MarketStore) ListBetsByMarket(ctx context.Context, marketID int64) ([]domain.Bet, error) {
	return queryBets(ctx, s.pool,
		`SELECT `+betColumns+` FROM bets WHERE market_id = $1 ORDER BY placed_at, id`, marketID)
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m       domain.Market
		status  string
		winning *int32
		settled *time.Time
	)
	err := row.Scan(
		&m.ID, &m.Question, &m.Outcomes, &m.Pools, &m.TotalPool,
		&m.BettingDeadline, &m.ResolutionTime, &status, &winning,
		&m.HouseFeeBps, &m.CreatedAt, &settled,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if winning != nil {
		w := int(*winning)
		m.WinningOutcome = &w
	}
	m.SettledAt = settled
	return m, nil
}

func queryMarkets(ctx context.Context, q querier, query string, args ...any) ([]domain.Market, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

func queryBets(ctx context.Context, q querier, query string, args ...any) ([]domain.Bet, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var (
			b       domain.Bet
			outcome int32
		)
		if err := rows.Scan(
			&b.ID, &b.MarketID, &outcome, &b.BettorID, &b.Amount,
			&b.OddsAtBet, &b.Timestamp, &b.Claimed,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.OutcomeIndex = int(outcome)
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

// Compile-time interface check.
var _ domain.SettledMarketStore = (*MarketStore)(nil)
