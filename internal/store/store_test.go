package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailydraw/lottery-engine/internal/model"
	"github.com/dailydraw/lottery-engine/internal/store"
)

var (
	day1 = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	now  = day1.Add(9 * time.Hour)
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newBet(periodID, userID string, selection []int, stake float64) *model.Bet {
	return &model.Bet{
		ID:        uuid.NewString(),
		PeriodID:  periodID,
		UserID:    userID,
		Selection: selection,
		Stake:     d(stake),
		State:     model.BetActive,
		Payout:    decimal.Zero,
		PlacedAt:  now,
	}
}

// runStoreSuite exercises the behavior every Store implementation shares.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("EnsurePeriodIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p, err := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))
		require.NoError(t, err)
		assert.Equal(t, "2026-03-10", p.ID)
		assert.Equal(t, model.PeriodOpen, p.State)
		assert.True(t, p.StakeTotal.IsZero())

		require.NoError(t, s.InsertBet(ctx, newBet(p.ID, "alice", []int{7}, 2)))
		again, err := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now.Add(time.Hour)))
		require.NoError(t, err)
		assert.True(t, again.StakeTotal.Equal(d(2)), "existing period must not be replaced")
	})

	t.Run("GetPeriodNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetPeriod(context.Background(), "1999-01-01")
		assert.ErrorIs(t, err, model.ErrPeriodNotFound)
	})

	t.Run("InsertBetAccumulatesStake", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p, err := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))
		require.NoError(t, err)

		require.NoError(t, s.InsertBet(ctx, newBet(p.ID, "alice", []int{7}, 2)))
		require.NoError(t, s.InsertBet(ctx, newBet(p.ID, "bob", []int{7}, 2)))
		require.NoError(t, s.InsertBet(ctx, newBet(p.ID, "alice", []int{8}, 2.5)))

		got, err := s.GetPeriod(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, got.StakeTotal.Equal(d(6.5)), "stake total %s", got.StakeTotal)
		assert.Equal(t, 3, got.BetCount)

		has, err := s.HasBet(ctx, p.ID, "alice", []int{8})
		require.NoError(t, err)
		assert.True(t, has)
		has, err = s.HasBet(ctx, p.ID, "bob", []int{8})
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("InsertBetRejectsDuplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p, _ := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))

		require.NoError(t, s.InsertBet(ctx, newBet(p.ID, "alice", []int{7}, 2)))
		err := s.InsertBet(ctx, newBet(p.ID, "alice", []int{7}, 2))
		assert.ErrorIs(t, err, model.ErrDuplicateSelection)

		got, _ := s.GetPeriod(ctx, p.ID)
		assert.True(t, got.StakeTotal.Equal(d(2)), "rejected bet must not count")
	})

	t.Run("InsertBetRejectsClosedPeriod", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p, _ := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))
		_, err := s.MarkDrawn(ctx, p.ID, []int{7}, store.FixedPool(decimal.Zero), now)
		require.NoError(t, err)

		err = s.InsertBet(ctx, newBet(p.ID, "alice", []int{7}, 2))
		assert.ErrorIs(t, err, model.ErrDrawClosed)
	})

	t.Run("MarkDrawnOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p, _ := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))

		drawn, err := s.MarkDrawn(ctx, p.ID, []int{7}, store.FixedPool(d(5.4)), now)
		require.NoError(t, err)
		assert.Equal(t, model.PeriodDrawn, drawn.State)
		assert.Equal(t, []int{7}, drawn.WinningSelection)
		assert.True(t, drawn.PrizePool.Equal(d(5.4)))
		require.NotNil(t, drawn.DrawnAt)

		_, err = s.MarkDrawn(ctx, p.ID, []int{9}, store.FixedPool(d(5.4)), now)
		assert.ErrorIs(t, err, model.ErrAlreadyDrawn)

		_, err = s.MarkDrawn(ctx, "1999-01-01", []int{9}, store.FixedPool(d(1)), now)
		assert.ErrorIs(t, err, model.ErrPeriodNotFound)
	})

	t.Run("ConcurrentMarkDrawnSingleWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p, _ := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 1; i <= 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				if _, err := s.MarkDrawn(ctx, p.ID, []int{n}, store.FixedPool(d(1)), now); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("SettleMarksLosersAndRollsOver", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p, _ := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))
		b1 := newBet(p.ID, "alice", []int{3}, 2)
		b2 := newBet(p.ID, "bob", []int{4}, 2)
		require.NoError(t, s.InsertBet(ctx, b1))
		require.NoError(t, s.InsertBet(ctx, b2))
		_, err := s.MarkDrawn(ctx, p.ID, []int{7}, store.FixedPool(d(3.6)), now)
		require.NoError(t, err)

		settled, err := s.SettlePeriod(ctx, store.Settlement{
			PeriodID:         p.ID,
			TotalDistributed: decimal.Zero,
			Rollover: &model.Rollover{
				ToPeriodID: model.PeriodID(day2),
				ToDate:     day2,
				Amount:     d(3.6),
			},
			At: now,
		})
		require.NoError(t, err)
		assert.Equal(t, model.PeriodSettled, settled.State)
		assert.Equal(t, "2026-03-11", settled.RolledOverTo)
		assert.True(t, settled.Retained.IsZero())

		next, err := s.GetPeriod(ctx, "2026-03-11")
		require.NoError(t, err)
		assert.True(t, next.Carryover.Equal(d(3.6)))
		assert.True(t, next.IsOpen())

		bets, err := s.ListBets(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, bets, 2)
		for _, b := range bets {
			assert.Equal(t, model.BetLost, b.State)
			assert.NotNil(t, b.SettledAt)
		}

		_, err = s.SettlePeriod(ctx, store.Settlement{PeriodID: p.ID, At: now})
		assert.ErrorIs(t, err, model.ErrAlreadySettled)
	})

	t.Run("SettleRetainsWhenNextPeriodClosed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p, _ := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))
		next, _ := s.EnsurePeriod(ctx, model.NewDrawPeriod(day2, now))
		_, err := s.MarkDrawn(ctx, next.ID, []int{1}, store.FixedPool(decimal.Zero), now)
		require.NoError(t, err)
		_, err = s.MarkDrawn(ctx, p.ID, []int{7}, store.FixedPool(d(10)), now)
		require.NoError(t, err)

		settled, err := s.SettlePeriod(ctx, store.Settlement{
			PeriodID: p.ID,
			Rollover: &model.Rollover{ToPeriodID: next.ID, ToDate: day2, Amount: d(10)},
			At:       now,
		})
		require.NoError(t, err)
		assert.Empty(t, settled.RolledOverTo)
		assert.True(t, settled.Retained.Equal(d(10)))
	})

	t.Run("SettleRequiresDrawn", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p, _ := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))
		_, err := s.SettlePeriod(ctx, store.Settlement{PeriodID: p.ID, At: now})
		assert.ErrorIs(t, err, model.ErrNotYetDrawn)
	})

	t.Run("MarkBetWonKeepsWinnersThroughSettle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p, _ := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))
		winner := newBet(p.ID, "alice", []int{7}, 2)
		loser := newBet(p.ID, "bob", []int{8}, 2)
		require.NoError(t, s.InsertBet(ctx, winner))
		require.NoError(t, s.InsertBet(ctx, loser))
		_, err := s.MarkDrawn(ctx, p.ID, []int{7}, store.FixedPool(d(3.6)), now)
		require.NoError(t, err)

		require.NoError(t, s.MarkBetWon(ctx, winner.ID, d(3.6), now))
		require.NoError(t, s.MarkBetWon(ctx, winner.ID, d(3.6), now), "repeat must be a no-op")

		_, err = s.SettlePeriod(ctx, store.Settlement{
			PeriodID: p.ID, WinnerCount: 1,
			PayoutPerWinner: d(3.6), TotalDistributed: d(3.6), At: now,
		})
		require.NoError(t, err)

		bets, err := s.ListBets(ctx, p.ID)
		require.NoError(t, err)
		states := map[string]model.BetState{}
		for _, b := range bets {
			states[b.ID] = b.State
		}
		assert.Equal(t, model.BetWon, states[winner.ID])
		assert.Equal(t, model.BetLost, states[loser.ID])

		err = s.MarkBetWon(ctx, loser.ID, d(1), now)
		assert.ErrorIs(t, err, model.ErrStateConflict)
	})

	t.Run("ListUserBetsOrderedBySelection", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p, _ := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))
		for _, n := range []int{42, 3, 17} {
			require.NoError(t, s.InsertBet(ctx, newBet(p.ID, "alice", []int{n}, 2)))
		}
		require.NoError(t, s.InsertBet(ctx, newBet(p.ID, "bob", []int{1}, 2)))

		bets, err := s.ListUserBets(ctx, "alice", p.ID)
		require.NoError(t, err)
		require.Len(t, bets, 3)
		assert.Equal(t, []int{3}, bets[0].Selection)
		assert.Equal(t, []int{17}, bets[1].Selection)
		assert.Equal(t, []int{42}, bets[2].Selection)
	})

	t.Run("ListPeriodsNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			p, _ := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1.AddDate(0, 0, i), now))
			if i < 4 {
				_, err := s.MarkDrawn(ctx, p.ID, []int{1}, store.FixedPool(decimal.Zero), now)
				require.NoError(t, err)
			}
		}

		page, total, err := s.ListPeriods(ctx, []model.PeriodState{model.PeriodDrawn, model.PeriodSettled}, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, page, 2)
		assert.Equal(t, "2026-03-12", page[0].ID)
		assert.Equal(t, "2026-03-11", page[1].ID)

		page, total, err = s.ListPeriods(ctx, nil, 10, 5)
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Empty(t, page)
	})
}
