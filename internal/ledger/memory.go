package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

type account struct {
	mu      sync.Mutex
	balance decimal.Decimal
	applied map[string]struct{}
}

// MemoryLedger implements Ledger with in-memory accounts. Each account has
// its own mutex so different users never contend.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]*account
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[string]*account)}
}

func (l *MemoryLedger) account(userID string) *account {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[userID]
	if !ok {
		a = &account{applied: make(map[string]struct{})}
		l.accounts[userID] = a
	}
	return a
}

func (l *MemoryLedger) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	a := l.account(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

func (l *MemoryLedger) Debit(_ context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	if err := checkAmount(amount); err != nil {
		return decimal.Zero, err
	}
	a := l.account(userID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, done := a.applied[ref]; done {
		return a.balance, nil
	}
	if a.balance.LessThan(amount) {
		return a.balance, fmt.Errorf("%w: balance %s, need %s", ErrInsufficientFunds, a.balance.StringFixed(2), amount.StringFixed(2))
	}
	a.balance = a.balance.Sub(amount)
	a.applied[ref] = struct{}{}
	return a.balance, nil
}

func (l *MemoryLedger) Credit(_ context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	if err := checkAmount(amount); err != nil {
		return decimal.Zero, err
	}
	a := l.account(userID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, done := a.applied[ref]; done {
		return a.balance, nil
	}
	a.balance = a.balance.Add(amount)
	a.applied[ref] = struct{}{}
	return a.balance, nil
}
