package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailydraw/lottery-engine/internal/model"
	"github.com/dailydraw/lottery-engine/internal/store"
	"github.com/dailydraw/lottery-engine/internal/testutil"
)

func TestCachedStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}
	rdb := testutil.SetupRedis(t)

	runStoreSuite(t, func(t *testing.T) store.Store {
		require.NoError(t, rdb.FlushDB(context.Background()).Err())
		return store.NewCachedStore(store.NewMemoryStore(), rdb, time.Minute)
	})

	t.Run("OpenPeriodsAreNotCached", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, rdb.FlushDB(ctx).Err())
		s := store.NewCachedStore(store.NewMemoryStore(), rdb, time.Minute)

		p, err := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))
		require.NoError(t, err)
		_, err = s.GetPeriod(ctx, p.ID)
		require.NoError(t, err)

		n, err := rdb.Exists(ctx, "lottery:period:"+p.ID).Result()
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("SettleInvalidatesCachedDrawnPeriod", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, rdb.FlushDB(ctx).Err())
		s := store.NewCachedStore(store.NewMemoryStore(), rdb, time.Minute)

		p, _ := s.EnsurePeriod(ctx, model.NewDrawPeriod(day1, now))
		_, err := s.MarkDrawn(ctx, p.ID, []int{7}, store.FixedPool(d(1)), now)
		require.NoError(t, err)

		cached, err := s.GetPeriod(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PeriodDrawn, cached.State)

		_, err = s.SettlePeriod(ctx, store.Settlement{PeriodID: p.ID, Retained: d(1), At: now})
		require.NoError(t, err)

		got, err := s.GetPeriod(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PeriodSettled, got.State)
		assert.True(t, got.Retained.Equal(d(1)))
	})
}
