package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/dailydraw/lottery-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Only drawn and settled data is cached: open periods change with
// every bet. Transitions go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Transitions (write to primary, invalidate cache) ---

func (s *CachedStore) MarkDrawn(ctx context.Context, id string, winning []int, pool PoolFunc, at time.Time) (*model.DrawPeriod, error) {
	p, err := s.primary.MarkDrawn(ctx, id, winning, pool, at)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, periodKey(id))
	return p, nil
}

func (s *CachedStore) SettlePeriod(ctx context.Context, st Settlement) (*model.DrawPeriod, error) {
	p, err := s.primary.SettlePeriod(ctx, st)
	if err != nil {
		return nil, err
	}
	keys := []string{periodKey(st.PeriodID), betsKey(st.PeriodID)}
	if st.Rollover != nil {
		keys = append(keys, periodKey(st.Rollover.ToPeriodID))
	}
	s.rdb.Del(ctx, keys...)
	return p, nil
}

func (s *CachedStore) MarkBetWon(ctx context.Context, betID string, payout decimal.Decimal, at time.Time) error {
	// Bet lists are cached only once settled, after every MarkBetWon.
	return s.primary.MarkBetWon(ctx, betID, payout, at)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPeriod(ctx context.Context, id string) (*model.DrawPeriod, error) {
	data, err := s.rdb.Get(ctx, periodKey(id)).Bytes()
	if err == nil {
		var p model.DrawPeriod
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPeriod(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cachePeriod(ctx, p)
	return p, nil
}

func (s *CachedStore) ListBets(ctx context.Context, periodID string) ([]model.Bet, error) {
	data, err := s.rdb.Get(ctx, betsKey(periodID)).Bytes()
	if err == nil {
		var bets []model.Bet
		if json.Unmarshal(data, &bets) == nil {
			return bets, nil
		}
	}

	// Read the state before the bets so a concurrent settle cannot leave a
	// pre-settlement list cached.
	p, err := s.GetPeriod(ctx, periodID)
	if err != nil {
		return s.primary.ListBets(ctx, periodID)
	}
	bets, err := s.primary.ListBets(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if p.State == model.PeriodSettled {
		if data, err := json.Marshal(bets); err == nil {
			s.rdb.Set(ctx, betsKey(periodID), data, s.ttl)
		}
	}
	return bets, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) EnsurePeriod(ctx context.Context, p *model.DrawPeriod) (*model.DrawPeriod, error) {
	return s.primary.EnsurePeriod(ctx, p)
}

func (s *CachedStore) ListPeriods(ctx context.Context, states []model.PeriodState, offset, limit int) ([]model.DrawPeriod, int, error) {
	return s.primary.ListPeriods(ctx, states, offset, limit)
}

func (s *CachedStore) InsertBet(ctx context.Context, b *model.Bet) error {
	return s.primary.InsertBet(ctx, b)
}

func (s *CachedStore) HasBet(ctx context.Context, periodID, userID string, selection []int) (bool, error) {
	return s.primary.HasBet(ctx, periodID, userID, selection)
}

func (s *CachedStore) ListUserBets(ctx context.Context, userID, periodID string) ([]model.Bet, error) {
	return s.primary.ListUserBets(ctx, userID, periodID)
}

// --- Cache helpers ---

func (s *CachedStore) cachePeriod(ctx context.Context, p *model.DrawPeriod) {
	if p.IsOpen() {
		return
	}
	ttl := s.ttl
	if p.State == model.PeriodDrawn {
		// Settlement follows the draw within seconds.
		ttl = min(ttl, 5*time.Second)
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, periodKey(p.ID), data, ttl)
	}
}

func periodKey(id string) string { return fmt.Sprintf("lottery:period:%s", id) }
func betsKey(id string) string   { return fmt.Sprintf("lottery:bets:%s", id) }
