package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dailydraw/lottery-engine/internal/game"
	"github.com/dailydraw/lottery-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Transitions lock the period row (SELECT ... FOR UPDATE) or guard on the
// current state in the WHERE clause, so several engine processes can share
// one database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const periodColumns = `id, draw_date, state,
	stake_total::TEXT, carryover::TEXT, prize_pool::TEXT,
	winning_selection, bet_count, created_at, drawn_at, settled_at,
	winner_count, payout_per_winner::TEXT, total_distributed::TEXT,
	retained::TEXT, rolled_over_to`

const betColumns = `id::TEXT, period_id, user_id, selection,
	stake::TEXT, state, payout::TEXT, placed_at, settled_at`

func scanPeriod(row pgx.Row) (*model.DrawPeriod, error) {
	var p model.DrawPeriod
	var state string
	var stakeTotal, carryover, prizePool, perWinner, distributed, retained string
	err := row.Scan(&p.ID, &p.Date, &state,
		&stakeTotal, &carryover, &prizePool,
		&p.WinningSelection, &p.BetCount, &p.CreatedAt, &p.DrawnAt, &p.SettledAt,
		&p.WinnerCount, &perWinner, &distributed,
		&retained, &p.RolledOverTo)
	if err != nil {
		return nil, err
	}
	p.State = model.PeriodState(state)
	p.StakeTotal, _ = decimal.NewFromString(stakeTotal)
	p.Carryover, _ = decimal.NewFromString(carryover)
	p.PrizePool, _ = decimal.NewFromString(prizePool)
	p.PayoutPerWinner, _ = decimal.NewFromString(perWinner)
	p.TotalDistributed, _ = decimal.NewFromString(distributed)
	p.Retained, _ = decimal.NewFromString(retained)
	return &p, nil
}

func scanBet(row pgx.Row) (*model.Bet, error) {
	var b model.Bet
	var state, stake, payout string
	err := row.Scan(&b.ID, &b.PeriodID, &b.UserID, &b.Selection,
		&stake, &state, &payout, &b.PlacedAt, &b.SettledAt)
	if err != nil {
		return nil, err
	}
	b.State = model.BetState(state)
	b.Stake, _ = decimal.NewFromString(stake)
	b.Payout, _ = decimal.NewFromString(payout)
	return &b, nil
}

func collectBets(rows pgx.Rows) ([]model.Bet, error) {
	defer rows.Close()
	out := []model.Bet{}
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func notFound(id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("period %s: %w", id, model.ErrPeriodNotFound)
	}
	return fmt.Errorf("get period %s: %w", id, err)
}

func ensurePeriod(ctx context.Context, tx pgx.Tx, p *model.DrawPeriod) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO draw_periods (id, draw_date, state, created_at)
		 VALUES ($1, $2, 'open', $3)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Date, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("ensure period %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) EnsurePeriod(ctx context.Context, p *model.DrawPeriod) (*model.DrawPeriod, error) {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return ensurePeriod(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	return s.GetPeriod(ctx, p.ID)
}

func (s *PostgresStore) GetPeriod(ctx context.Context, id string) (*model.DrawPeriod, error) {
	p, err := scanPeriod(s.pool.QueryRow(ctx,
		`SELECT `+periodColumns+` FROM draw_periods WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPeriods(ctx context.Context, states []model.PeriodState, offset, limit int) ([]model.DrawPeriod, int, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM draw_periods WHERE cardinality($1::TEXT[]) = 0 OR state = ANY($1)`,
		names).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count periods: %w", err)
	}

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+periodColumns+` FROM draw_periods
		 WHERE cardinality($1::TEXT[]) = 0 OR state = ANY($1)
		 ORDER BY draw_date DESC
		 OFFSET $2 LIMIT $3`,
		names, offset, lim)
	if err != nil {
		return nil, 0, fmt.Errorf("list periods: %w", err)
	}
	defer rows.Close()

	out := []model.DrawPeriod{}
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) MarkDrawn(ctx context.Context, id string, winning []int, pool PoolFunc, at time.Time) (*model.DrawPeriod, error) {
	var drawn *model.DrawPeriod
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// The row lock orders this transition after any InsertBet holding it,
		// so the pool sees every admitted stake.
		cur, err := scanPeriod(tx.QueryRow(ctx,
			`SELECT `+periodColumns+` FROM draw_periods WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(id, err)
		}
		if cur.State != model.PeriodOpen {
			return fmt.Errorf("period %s is %s: %w", id, cur.State, model.ErrAlreadyDrawn)
		}

		prizePool := pool(cur.StakeTotal, cur.Carryover)
		drawn, err = scanPeriod(tx.QueryRow(ctx,
			`UPDATE draw_periods
			 SET state = 'drawn', winning_selection = $2, prize_pool = $3::NUMERIC, drawn_at = $4
			 WHERE id = $1 AND state = 'open'
			 RETURNING `+periodColumns,
			id, winning, prizePool.String(), at.UTC()))
		if err != nil {
			return fmt.Errorf("mark period %s drawn: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drawn, nil
}

func (s *PostgresStore) SettlePeriod(ctx context.Context, st Settlement) (*model.DrawPeriod, error) {
	var settled *model.DrawPeriod
	at := st.At.UTC()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var state string
		err := tx.QueryRow(ctx,
			`SELECT state FROM draw_periods WHERE id = $1 FOR UPDATE`, st.PeriodID).Scan(&state)
		if err != nil {
			return notFound(st.PeriodID, err)
		}
		switch model.PeriodState(state) {
		case model.PeriodOpen:
			return fmt.Errorf("period %s: %w", st.PeriodID, model.ErrNotYetDrawn)
		case model.PeriodSettled:
			return fmt.Errorf("period %s: %w", st.PeriodID, model.ErrAlreadySettled)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE bets SET state = 'lost', settled_at = $2
			 WHERE period_id = $1 AND state = 'active'`,
			st.PeriodID, at); err != nil {
			return fmt.Errorf("mark losing bets: %w", err)
		}

		retained := st.Retained
		rolledTo := ""
		if r := st.Rollover; r != nil && r.Amount.IsPositive() {
			if err := ensurePeriod(ctx, tx, model.NewDrawPeriod(r.ToDate, at)); err != nil {
				return err
			}
			tag, err := tx.Exec(ctx,
				`UPDATE draw_periods SET carryover = carryover + $2::NUMERIC
				 WHERE id = $1 AND state = 'open'`,
				r.ToPeriodID, r.Amount.String())
			if err != nil {
				return fmt.Errorf("roll over to %s: %w", r.ToPeriodID, err)
			}
			if tag.RowsAffected() == 1 {
				rolledTo = r.ToPeriodID
			} else {
				retained = retained.Add(r.Amount)
			}
		}

		settled, err = scanPeriod(tx.QueryRow(ctx,
			`UPDATE draw_periods
			 SET state = 'settled', settled_at = $2, winner_count = $3,
			     payout_per_winner = $4::NUMERIC, total_distributed = $5::NUMERIC,
			     retained = $6::NUMERIC, rolled_over_to = $7
			 WHERE id = $1
			 RETURNING `+periodColumns,
			st.PeriodID, at, st.WinnerCount,
			st.PayoutPerWinner.String(), st.TotalDistributed.String(),
			retained.String(), rolledTo))
		if err != nil {
			return fmt.Errorf("settle period %s: %w", st.PeriodID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

func (s *PostgresStore) InsertBet(ctx context.Context, b *model.Bet) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var state string
		err := tx.QueryRow(ctx,
			`SELECT state FROM draw_periods WHERE id = $1 FOR UPDATE`, b.PeriodID).Scan(&state)
		if err != nil {
			return notFound(b.PeriodID, err)
		}
		if model.PeriodState(state) != model.PeriodOpen {
			return fmt.Errorf("period %s is %s: %w", b.PeriodID, state, model.ErrDrawClosed)
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO bets (id, period_id, user_id, selection, selection_key, stake, state, payout, placed_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, 0, $8)
			 ON CONFLICT (period_id, user_id, selection_key) DO NOTHING`,
			b.ID, b.PeriodID, b.UserID, b.Selection, game.Key(b.Selection),
			b.Stake.String(), string(b.State), b.PlacedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert bet: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("period %s: %w", b.PeriodID, model.ErrDuplicateSelection)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE draw_periods
			 SET stake_total = stake_total + $2::NUMERIC, bet_count = bet_count + 1
			 WHERE id = $1`,
			b.PeriodID, b.Stake.String()); err != nil {
			return fmt.Errorf("add stake to period %s: %w", b.PeriodID, err)
		}
		return nil
	})
}

func (s *PostgresStore) HasBet(ctx context.Context, periodID, userID string, selection []int) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bets WHERE period_id = $1 AND user_id = $2 AND selection_key = $3)`,
		periodID, userID, game.Key(selection)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check bet: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListBets(ctx context.Context, periodID string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE period_id = $1 ORDER BY placed_at, id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list bets for %s: %w", periodID, err)
	}
	return collectBets(rows)
}

func (s *PostgresStore) ListUserBets(ctx context.Context, userID, periodID string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE user_id = $1 AND period_id = $2 ORDER BY selection, id`,
		userID, periodID)
	if err != nil {
		return nil, fmt.Errorf("list bets for %s in %s: %w", userID, periodID, err)
	}
	return collectBets(rows)
}

func (s *PostgresStore) MarkBetWon(ctx context.Context, betID string, payout decimal.Decimal, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bets SET state = 'won', payout = $2::NUMERIC, settled_at = $3
		 WHERE id = $1 AND state = 'active'`,
		betID, payout.String(), at.UTC())
	if err != nil {
		return fmt.Errorf("mark bet %s won: %w", betID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var state string
	if err := s.pool.QueryRow(ctx, `SELECT state FROM bets WHERE id = $1`, betID).Scan(&state); err != nil {
		return fmt.Errorf("bet %s: %w", betID, err)
	}
	if model.BetState(state) == model.BetWon {
		return nil
	}
	return fmt.Errorf("bet %s is %s: %w", betID, state, model.ErrStateConflict)
}
