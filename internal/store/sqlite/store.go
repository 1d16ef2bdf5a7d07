// Package sqlite implements the market journal, archive reads and audit log
// on an embedded SQLite database (pure Go, no cgo). It suits single-node
// deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS markets (
    id               INTEGER PRIMARY KEY,
    question         TEXT    NOT NULL,
    outcomes         TEXT    NOT NULL,
    pools            TEXT    NOT NULL,
    total_pool       INTEGER NOT NULL CHECK (total_pool >= 0),
    betting_deadline INTEGER NOT NULL,
    resolution_time  INTEGER NOT NULL,
    status           TEXT    NOT NULL,
    winning_outcome  INTEGER,
    house_fee_bps    INTEGER NOT NULL,
    created_at       INTEGER NOT NULL,
    settled_at       INTEGER
);

CREATE TABLE IF NOT EXISTS bets (
    id            INTEGER PRIMARY KEY,
    market_id     INTEGER NOT NULL REFERENCES markets(id),
    outcome_index INTEGER NOT NULL,
    bettor_id     TEXT    NOT NULL,
    amount        INTEGER NOT NULL CHECK (amount > 0),
    odds_at_bet   INTEGER NOT NULL,
    placed_at     INTEGER NOT NULL,
    claimed       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS market_resolutions (
    market_id INTEGER PRIMARY KEY REFERENCES markets(id),
    result    TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT    NOT NULL,
    detail     TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_markets_settled ON markets(status, settled_at);
CREATE INDEX IF NOT EXISTS idx_bets_market     ON bets(market_id, placed_at, id);
CREATE INDEX IF NOT EXISTS idx_audit_created   ON audit_log(created_at DESC);
`

// Store implements domain.Journal, domain.SettledMarketStore and
// domain.AuditStore. Timestamps are stored as Unix nanoseconds.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateMarket inserts a new market row.
func (s *Store) CreateMarket(ctx context.Context, m domain.Market) error {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return fmt.Errorf("sqlite: marshal outcomes: %w", err)
	}
	pools, err := json.Marshal(m.Pools)
	if err != nil {
		return fmt.Errorf("sqlite: marshal pools: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO markets (
			id, question, outcomes, pools, total_pool,
			betting_deadline, resolution_time, status, house_fee_bps, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Question, string(outcomes), string(pools), m.TotalPool,
		m.BettingDeadline.UnixNano(), m.ResolutionTime.UnixNano(), string(m.Status),
		m.HouseFeeBps, m.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert market %d: %w", m.ID, err)
	}
	return nil
}

// RecordBet stores the post-bet pools and appends the bet atomically.
func (s *Store) RecordBet(ctx context.Context, bet domain.Bet, pools []int64, totalPool int64) error {
	poolsJSON, err := json.Marshal(pools)
	if err != nil {
		return fmt.Errorf("sqlite: marshal pools: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := updateActive(ctx, tx, bet.MarketID,
			`UPDATE markets SET pools = ?, total_pool = ? WHERE id = ? AND status = 'ACTIVE'`,
			string(poolsJSON), totalPool, bet.MarketID,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bets (id, market_id, outcome_index, bettor_id, amount, odds_at_bet, placed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			bet.ID, bet.MarketID, bet.OutcomeIndex, bet.BettorID, bet.Amount, bet.OddsAtBet, bet.Timestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("sqlite: insert bet %d: %w", bet.ID, err)
		}
		return nil
	})
}

// RecordResolution marks the market resolved and stores its payout table.
func (s *Store) RecordResolution(ctx context.Context, m domain.Market, res domain.ResolutionResult) error {
	result, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("sqlite: marshal resolution: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := updateActive(ctx, tx, m.ID,
			`UPDATE markets SET status = ?, winning_outcome = ?, settled_at = ? WHERE id = ? AND status = 'ACTIVE'`,
			string(m.Status), m.WinningOutcome, nanos(m.SettledAt), m.ID,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO market_resolutions (market_id, result) VALUES (?, ?)`,
			m.ID, string(result),
		); err != nil {
			return fmt.Errorf("sqlite: insert resolution %d: %w", m.ID, err)
		}
		return nil
	})
}

// RecordCancellation marks the market cancelled.
func (s *Store) RecordCancellation(ctx context.Context, m domain.Market) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return updateActive(ctx, tx, m.ID,
			`UPDATE markets SET status = ?, settled_at = ? WHERE id = ? AND status = 'ACTIVE'`,
			string(m.Status), nanos(m.SettledAt), m.ID,
		)
	})
}

// MarkClaimed flips the claimed flag on every bet in betIDs. If any of them
// is already claimed nothing is changed.
func (s *Store) MarkClaimed(ctx context.Context, betIDs []int64) error {
	if len(betIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(betIDs)), ",")
	args := make([]any, len(betIDs))
	for i, id := range betIDs {
		args[i] = id
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE bets SET claimed = 1 WHERE claimed = 0 AND id IN (`+placeholders+`)`, args...)
		if err != nil {
			return fmt.Errorf("sqlite: mark claimed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: mark claimed: %w", err)
		}
		if n != int64(len(betIDs)) {
			return fmt.Errorf("sqlite: mark claimed: %d of %d bets: %w", n, len(betIDs), domain.ErrAlreadyClaimed)
		}
		return nil
	})
}

// Load returns every market and bet ordered by id.
func (s *Store) Load(ctx context.Context) ([]domain.Market, []domain.Bet, error) {
	markets, err := s.queryMarkets(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: load: %w", err)
	}
	bets, err := s.queryBets(ctx, `SELECT `+betColumns+` FROM bets ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: load: %w", err)
	}
	return markets, bets, nil
}

// ListSettledBefore returns resolved or cancelled markets settled before the
// cutoff, oldest first.
func (s *Store) ListSettledBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets
		WHERE status <> 'ACTIVE' AND settled_at < ? ORDER BY settled_at, id`
	args := []any{before.UnixNano()}
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}
	return s.queryMarkets(ctx, query, args...)
}

// ListBetsByMarket returns every bet on a market ordered by placement.
func (s *Store) ListBetsByMarket(ctx context.Context, marketID int64) ([]domain.Bet, error) {
	return s.queryBets(ctx,
		`SELECT `+betColumns+` FROM bets WHERE market_id = ? ORDER BY placed_at, id`, marketID)
}

// Log appends an audit entry.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(detailJSON), time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		query += ` AND created_at <= ?`
		args = append(args, opts.Until.UnixNano())
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			detail sql.NullString
			ts     int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		e.CreatedAt = time.Unix(0, ts).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const marketColumns = `id, question, outcomes, pools, total_pool,
	betting_deadline, resolution_time, status, winning_outcome,
	house_fee_bps, created_at, settled_at`

const betColumns = `id, market_id, outcome_index, bettor_id, amount,
	odds_at_bet, placed_at, claimed`

func (s *Store) queryMarkets(ctx context.Context, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		var (
			m                             domain.Market
			outcomes, pools, status       string
			deadline, resolution, created int64
			winning, settled              sql.NullInt64
		)
		if err := rows.Scan(
			&m.ID, &m.Question, &outcomes, &pools, &m.TotalPool,
			&deadline, &resolution, &status, &winning,
			&m.HouseFeeBps, &created, &settled,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan market: %w", err)
		}
		if err := json.Unmarshal([]byte(outcomes), &m.Outcomes); err != nil {
			return nil, fmt.Errorf("sqlite: market %d outcomes: %w", m.ID, err)
		}
		if err := json.Unmarshal([]byte(pools), &m.Pools); err != nil {
			return nil, fmt.Errorf("sqlite: market %d pools: %w", m.ID, err)
		}
		m.Status = domain.MarketStatus(status)
		m.BettingDeadline = time.Unix(0, deadline).UTC()
		m.ResolutionTime = time.Unix(0, resolution).UTC()
		m.CreatedAt = time.Unix(0, created).UTC()
		if winning.Valid {
			w := int(winning.Int64)
			m.WinningOutcome = &w
		}
		if settled.Valid {
			t := time.Unix(0, settled.Int64).UTC()
			m.SettledAt = &t
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *Store) queryBets(ctx context.Context, query string, args ...any) ([]domain.Bet, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var (
			b       domain.Bet
			placed  int64
			claimed int64
		)
		if err := rows.Scan(
			&b.ID, &b.MarketID, &b.OutcomeIndex, &b.BettorID, &b.Amount,
			&b.OddsAtBet, &placed, &claimed,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan bet: %w", err)
		}
		b.Timestamp = time.Unix(0, placed).UTC()
		b.Claimed = claimed != 0
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// updateActive fails with domain.ErrAlreadyResolved when the UPDATE matched
// no ACTIVE market.
func updateActive(ctx context.Context, tx *sql.Tx, marketID int64, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update market %d: %w", marketID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update market %d: %w", marketID, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: market %d not active: %w", marketID, domain.ErrAlreadyResolved)
	}
	return nil
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

// Compile-time interface checks.
var (
	_ domain.Journal            = (*Store)(nil)
	_ domain.SettledMarketStore = (*Store)(nil)
	_ domain.AuditStore         = (*Store)(nil)
)
