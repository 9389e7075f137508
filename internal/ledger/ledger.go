// Package ledger keeps user balances. Balances are never negative and change
// only through Debit and Credit. Every mutation carries a reference that is
// applied at most once per user, so retried credits are safe.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dailydraw/lottery-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a debit would overdraw the account.
	ErrInsufficientFunds = model.ErrInsufficientFunds

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Ledger is the balance store consumed by the draw engine.
type Ledger interface {
	// Balance returns the user's balance. Unknown users have a zero balance.
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)

	// Debit subtracts amount and returns the new balance. A reference that
	// was already applied for the user is a no-op returning the current balance.
	Debit(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error)

	// Credit adds amount and returns the new balance, with the same
	// reference semantics as Debit.
	Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error)
}

// Kind labels a ledger entry.
type Kind string

const (
	KindDebit  Kind = "debit"
	KindCredit Kind = "credit"
)

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}
	return nil
}
