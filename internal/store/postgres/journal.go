package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Journal implements domain.Journal. Each method runs in one transaction and
// guards on the market still being ACTIVE, so a stale writer cannot change a
// settled market.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a Journal backed by the given connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// CreateMarket inserts a new market row.
func (j *Journal) CreateMarket(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, outcomes, pools, total_pool,
			betting_deadline, resolution_time, status, house_fee_bps, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := j.pool.Exec(ctx, query,
		m.ID, m.Question, m.Outcomes, m.Pools, m.TotalPool,
		m.BettingDeadline, m.ResolutionTime, string(m.Status), m.HouseFeeBps, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market %d: %w", m.ID, err)
	}
	return nil
}

// RecordBet stores the post-bet pools and appends the bet atomically.
func (j *Journal) RecordBet(ctx context.Context, bet domain.Bet, pools []int64, totalPool int64) error {
	return inTx(ctx, j.pool, func(tx pgx.Tx) error {
		if err := updateActive(ctx, tx, bet.MarketID,
			`UPDATE markets SET pools = $2, total_pool = $3, updated_at = NOW()
			 WHERE id = $1 AND status = 'ACTIVE'`,
			pools, totalPool,
		); err != nil {
			return err
		}

		const insert = `
			INSERT INTO bets (
				id, market_id, outcome_index, bettor_id, amount, odds_at_bet, placed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`
		if _, err := tx.Exec(ctx, insert,
			bet.ID, bet.MarketID, bet.OutcomeIndex, bet.BettorID, bet.Amount, bet.OddsAtBet, bet.Timestamp,
		); err != nil {
			return fmt.Errorf("postgres: insert bet %d: %w", bet.ID, err)
		}
		return nil
	})
}

// RecordResolution marks the market resolved and stores its payout table.
func (j *Journal) RecordResolution(ctx context.Context, m domain.Market, res domain.ResolutionResult) error {
	payouts := make(map[string]int64, len(res.Payouts))
	for id, p := range res.Payouts {
		payouts[strconv.FormatInt(id, 10)] = p
	}
	payoutsJSON, err := json.Marshal(payouts)
	if err != nil {
		return fmt.Errorf("postgres: marshal payouts: %w", err)
	}

	return inTx(ctx, j.pool, func(tx pgx.Tx) error {
		if err := updateActive(ctx, tx, m.ID,
			`UPDATE markets SET status = $2, winning_outcome = $3, settled_at = $4, updated_at = NOW()
			 WHERE id = $1 AND status = 'ACTIVE'`,
			string(m.Status), m.WinningOutcome, m.SettledAt,
		); err != nil {
			return err
		}

		const insert = `
			INSERT INTO market_resolutions (
				market_id, winning_outcome, total_pool, net_pool,
				winning_pool, house_fee, rounding_loss, payouts
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		if _, err := tx.Exec(ctx, insert,
			res.MarketID, res.WinningOutcome, res.TotalPool, res.NetPool,
			res.WinningPool, res.HouseFee, res.RoundingLoss, payoutsJSON,
		); err != nil {
			return fmt.Errorf("postgres: insert resolution %d: %w", res.MarketID, err)
		}
		return nil
	})
}

// RecordCancellation marks the market cancelled.
func (j *Journal) RecordCancellation(ctx context.Context, m domain.Market) error {
	return inTx(ctx, j.pool, func(tx pgx.Tx) error {
		return updateActive(ctx, tx, m.ID,
			`UPDATE markets SET status = $2, settled_at = $3, updated_at = NOW()
			 WHERE id = $1 AND status = 'ACTIVE'`,
			string(m.Status), m.SettledAt,
		)
	})
}

// MarkClaimed flips the claimed flag on every bet in betIDs. If any of them
// is already claimed nothing is changed.
func (j *Journal) MarkClaimed(ctx context.Context, betIDs []int64) error {
	if len(betIDs) == 0 {
		return nil
	}
	return inTx(ctx, j.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE bets SET claimed = TRUE, claimed_at = NOW() WHERE id = ANY($1) AND NOT claimed`,
			betIDs,
		)
		if err != nil {
			return fmt.Errorf("postgres: mark claimed: %w", err)
		}
		if tag.RowsAffected() != int64(len(betIDs)) {
			return fmt.Errorf("postgres: mark claimed: %d of %d bets: %w",
				tag.RowsAffected(), len(betIDs), domain.ErrAlreadyClaimed)
		}
		return nil
	})
}

// Load returns every market and bet ordered by id.
func (j *Journal) Load(ctx context.Context) ([]domain.Market, []domain.Bet, error) {
	markets, err := queryMarkets(ctx, j.pool, `SELECT `+marketColumns+` FROM markets ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: load: %w", err)
	}
	bets, err := queryBets(ctx, j.pool, `SELECT `+betColumns+` FROM bets ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: load: %w", err)
	}
	return markets, bets, nil
}

// updateActive runs an UPDATE whose first parameter is the market id and
// fails with domain.ErrAlreadyResolved when no ACTIVE row matched.
func updateActive(ctx context.Context, q querier, marketID int64, query string, args ...any) error {
	tag, err := q.Exec(ctx, query, append([]any{marketID}, args...)...)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %d not active: %w", marketID, domain.ErrAlreadyResolved)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Journal = (*Journal)(nil)
