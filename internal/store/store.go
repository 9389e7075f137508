// Package store defines the persistence interface for draw periods and bets.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and single-process deployments).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dailydraw/lottery-engine/internal/model"
)

// Store is the persistence interface. Every state transition is a
// compare-and-set on the current state, so concurrent writers (goroutines
// or processes) cannot apply the same transition twice.
type Store interface {
	// --- Periods ---

	// EnsurePeriod inserts p if no period exists for its ID and returns the
	// stored period either way.
	EnsurePeriod(ctx context.Context, p *model.DrawPeriod) (*model.DrawPeriod, error)

	// GetPeriod returns the period or model.ErrPeriodNotFound.
	GetPeriod(ctx context.Context, id string) (*model.DrawPeriod, error)

	// ListPeriods returns periods in the given states, newest date first,
	// plus the total number of matching periods.
	ListPeriods(ctx context.Context, states []model.PeriodState, offset, limit int) ([]model.DrawPeriod, int, error)

	// MarkDrawn moves an open period to drawn, freezing the prize pool that
	// pool computes from the period's final stake total and carryover.
	// Returns model.ErrAlreadyDrawn when the period is no longer open.
	MarkDrawn(ctx context.Context, id string, winning []int, pool PoolFunc, at time.Time) (*model.DrawPeriod, error)

	// SettlePeriod marks every still-active bet lost, applies the rollover
	// (if any) and moves the period from drawn to settled, atomically.
	SettlePeriod(ctx context.Context, s Settlement) (*model.DrawPeriod, error)

	// --- Bets ---

	// InsertBet appends an active bet and adds its stake to the period's
	// stake total in one step. Returns model.ErrDrawClosed when the period
	// is not open and model.ErrDuplicateSelection when the user already
	// holds the same selection in the period.
	InsertBet(ctx context.Context, b *model.Bet) error

	// HasBet reports whether the user holds the canonical selection in the period.
	HasBet(ctx context.Context, periodID, userID string, selection []int) (bool, error)

	// ListBets returns every bet of a period in placement order.
	ListBets(ctx context.Context, periodID string) ([]model.Bet, error)

	// ListUserBets returns the user's bets in a period ordered by selection.
	ListUserBets(ctx context.Context, userID, periodID string) ([]model.Bet, error)

	// MarkBetWon moves an active bet to won with its payout. Marking an
	// already-won bet is a no-op.
	MarkBetWon(ctx context.Context, betID string, payout decimal.Decimal, at time.Time) error
}

// PoolFunc derives a prize pool from a frozen stake total and carryover.
type PoolFunc func(stakeTotal, carryover decimal.Decimal) decimal.Decimal

// FixedPool returns a PoolFunc that always yields amount.
func FixedPool(amount decimal.Decimal) PoolFunc {
	return func(decimal.Decimal, decimal.Decimal) decimal.Decimal { return amount }
}

// Settlement is the summary written when a period settles.
type Settlement struct {
	PeriodID         string
	WinnerCount      int
	PayoutPerWinner  decimal.Decimal
	TotalDistributed decimal.Decimal
	Retained         decimal.Decimal
	Rollover         *model.Rollover // nil keeps the unclaimed pool as Retained
	At               time.Time
}
