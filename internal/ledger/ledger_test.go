package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailydraw/lottery-engine/internal/ledger"
	"github.com/dailydraw/lottery-engine/internal/testutil"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func runLedgerSuite(t *testing.T, newLedger func(t *testing.T) ledger.Ledger) {
	t.Run("UnknownUserHasZeroBalance", func(t *testing.T) {
		l := newLedger(t)
		bal, err := l.Balance(context.Background(), "nobody")
		require.NoError(t, err)
		assert.True(t, bal.IsZero())
	})

	t.Run("CreditThenDebit", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		bal, err := l.Credit(ctx, "alice", d(10), "topup:1")
		require.NoError(t, err)
		assert.True(t, bal.Equal(d(10)))

		bal, err = l.Debit(ctx, "alice", d(2), "bet:1")
		require.NoError(t, err)
		assert.True(t, bal.Equal(d(8)))
	})

	t.Run("DebitNeverOverdraws", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		_, err := l.Credit(ctx, "alice", d(1.5), "topup:1")
		require.NoError(t, err)

		_, err = l.Debit(ctx, "alice", d(2), "bet:1")
		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

		bal, err := l.Balance(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, bal.Equal(d(1.5)), "failed debit must not change the balance")

		_, err = l.Debit(ctx, "stranger", d(1), "bet:2")
		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	})

	t.Run("ReferencesApplyOnce", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			bal, err := l.Credit(ctx, "alice", d(5), "payout:abc")
			require.NoError(t, err)
			assert.True(t, bal.Equal(d(5)), "attempt %d: balance %s", i, bal)
		}
		for i := 0; i < 3; i++ {
			bal, err := l.Debit(ctx, "alice", d(2), "bet:abc")
			require.NoError(t, err)
			assert.True(t, bal.Equal(d(3)), "attempt %d: balance %s", i, bal)
		}
	})

	t.Run("ReferencesArePerUser", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		_, err := l.Credit(ctx, "alice", d(1), "promo")
		require.NoError(t, err)
		bal, err := l.Credit(ctx, "bob", d(1), "promo")
		require.NoError(t, err)
		assert.True(t, bal.Equal(d(1)))
	})

	t.Run("RejectsNonPositiveAmounts", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		_, err := l.Credit(ctx, "alice", decimal.Zero, "x")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
		_, err = l.Debit(ctx, "alice", d(-1), "y")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	})

	t.Run("ConcurrentDebitsStopAtZero", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		_, err := l.Credit(ctx, "alice", d(10), "topup:1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		ok := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := l.Debit(ctx, "alice", d(1), fmt.Sprintf("bet:%d", i)); err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 10, ok)
		bal, err := l.Balance(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, bal.IsZero(), "balance %s", bal)
	})
}

func TestMemoryLedger(t *testing.T) {
	runLedgerSuite(t, func(t *testing.T) ledger.Ledger {
		return ledger.NewMemoryLedger()
	})
}

func TestPostgresLedger(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	db := testutil.SetupPostgres(t)

	runLedgerSuite(t, func(t *testing.T) ledger.Ledger {
		db.Truncate(t)
		return ledger.NewPostgresLedger(db.Pool)
	})
}
