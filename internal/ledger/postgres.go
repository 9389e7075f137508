package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresLedger implements Ledger on the accounts and ledger_entries tables.
// The reference is recorded in the same transaction as the balance change;
// the (user_id, ref) primary key makes a repeated reference a no-op.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a PostgreSQL-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return balance(ctx, l.pool, userID)
}

func (l *PostgresLedger) Debit(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	if err := checkAmount(amount); err != nil {
		return decimal.Zero, err
	}
	var out decimal.Decimal
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		fresh, err := recordEntry(ctx, tx, userID, ref, amount.Neg(), KindDebit)
		if err != nil {
			return err
		}
		if !fresh {
			out, err = balance(ctx, tx, userID)
			return err
		}

		var bal string
		err = tx.QueryRow(ctx,
			`UPDATE accounts SET balance = balance - $2::NUMERIC, updated_at = now()
			 WHERE user_id = $1 AND balance >= $2::NUMERIC
			 RETURNING balance::TEXT`,
			userID, amount.String()).Scan(&bal)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: user %s, need %s", ErrInsufficientFunds, userID, amount.StringFixed(2))
		}
		if err != nil {
			return fmt.Errorf("debit %s: %w", userID, err)
		}
		out, _ = decimal.NewFromString(bal)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return out, nil
}

func (l *PostgresLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	if err := checkAmount(amount); err != nil {
		return decimal.Zero, err
	}
	var out decimal.Decimal
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		fresh, err := recordEntry(ctx, tx, userID, ref, amount, KindCredit)
		if err != nil {
			return err
		}
		if !fresh {
			out, err = balance(ctx, tx, userID)
			return err
		}

		var bal string
		err = tx.QueryRow(ctx,
			`INSERT INTO accounts (user_id, balance) VALUES ($1, $2::NUMERIC)
			 ON CONFLICT (user_id) DO UPDATE
			   SET balance = accounts.balance + EXCLUDED.balance, updated_at = now()
			 RETURNING balance::TEXT`,
			userID, amount.String()).Scan(&bal)
		if err != nil {
			return fmt.Errorf("credit %s: %w", userID, err)
		}
		out, _ = decimal.NewFromString(bal)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return out, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func balance(ctx context.Context, q querier, userID string) (decimal.Decimal, error) {
	var bal string
	err := q.QueryRow(ctx, `SELECT balance::TEXT FROM accounts WHERE user_id = $1`, userID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance %s: %w", userID, err)
	}
	return decimal.NewFromString(bal)
}

// recordEntry inserts the reference row and reports whether it was new.
func recordEntry(ctx context.Context, tx pgx.Tx, userID, ref string, amount decimal.Decimal, kind Kind) (bool, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (user_id, ref, amount, kind)
		 VALUES ($1, $2, $3::NUMERIC, $4)
		 ON CONFLICT (user_id, ref) DO NOTHING`,
		userID, ref, amount.String(), string(kind))
	if err != nil {
		return false, fmt.Errorf("record ledger entry %s: %w", ref, err)
	}
	return tag.RowsAffected() == 1, nil
}
