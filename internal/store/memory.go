package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dailydraw/lottery-engine/internal/game"
	"github.com/dailydraw/lottery-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. A single RWMutex makes
// every method atomic. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	periods  map[string]*model.DrawPeriod
	bets     map[string]*model.Bet
	byPeriod map[string][]string            // period ID → bet IDs in placement order
	keys     map[string]map[string]struct{} // period ID → user|selection key
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		periods:  make(map[string]*model.DrawPeriod),
		bets:     make(map[string]*model.Bet),
		byPeriod: make(map[string][]string),
		keys:     make(map[string]map[string]struct{}),
	}
}

func betKey(userID string, selection []int) string {
	return userID + "|" + game.Key(selection)
}

func (s *MemoryStore) EnsurePeriod(_ context.Context, p *model.DrawPeriod) (*model.DrawPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(p).Clone(), nil
}

func (s *MemoryStore) ensureLocked(p *model.DrawPeriod) *model.DrawPeriod {
	if existing, ok := s.periods[p.ID]; ok {
		return existing
	}
	stored := p.Clone()
	s.periods[p.ID] = stored
	return stored
}

func (s *MemoryStore) GetPeriod(_ context.Context, id string) (*model.DrawPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.periods[id]
	if !ok {
		return nil, fmt.Errorf("period %s: %w", id, model.ErrPeriodNotFound)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPeriods(_ context.Context, states []model.PeriodState, offset, limit int) ([]model.DrawPeriod, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.DrawPeriod
	for _, p := range s.periods {
		if len(states) == 0 || slices.Contains(states, p.State) {
			matched = append(matched, p)
		}
	}
	slices.SortFunc(matched, func(a, b *model.DrawPeriod) int {
		return b.Date.Compare(a.Date)
	})

	total := len(matched)
	if offset >= total {
		return []model.DrawPeriod{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	out := make([]model.DrawPeriod, 0, end-offset)
	for _, p := range matched[offset:end] {
		out = append(out, *p.Clone())
	}
	return out, total, nil
}

func (s *MemoryStore) MarkDrawn(_ context.Context, id string, winning []int, pool PoolFunc, at time.Time) (*model.DrawPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.periods[id]
	if !ok {
		return nil, fmt.Errorf("period %s: %w", id, model.ErrPeriodNotFound)
	}
	if p.State != model.PeriodOpen {
		return nil, fmt.Errorf("period %s is %s: %w", id, p.State, model.ErrAlreadyDrawn)
	}
	drawnAt := at.UTC()
	p.State = model.PeriodDrawn
	p.WinningSelection = slices.Clone(winning)
	p.PrizePool = pool(p.StakeTotal, p.Carryover)
	p.DrawnAt = &drawnAt
	return p.Clone(), nil
}

func (s *MemoryStore) SettlePeriod(_ context.Context, st Settlement) (*model.DrawPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.periods[st.PeriodID]
	if !ok {
		return nil, fmt.Errorf("period %s: %w", st.PeriodID, model.ErrPeriodNotFound)
	}
	switch p.State {
	case model.PeriodOpen:
		return nil, fmt.Errorf("period %s: %w", p.ID, model.ErrNotYetDrawn)
	case model.PeriodSettled:
		return nil, fmt.Errorf("period %s: %w", p.ID, model.ErrAlreadySettled)
	}

	settledAt := st.At.UTC()
	for _, id := range s.byPeriod[p.ID] {
		b := s.bets[id]
		if b.State == model.BetActive {
			b.State = model.BetLost
			b.SettledAt = &settledAt
		}
	}

	retained := st.Retained
	rolledTo := ""
	if r := st.Rollover; r != nil && r.Amount.IsPositive() {
		next := s.ensureLocked(model.NewDrawPeriod(r.ToDate, settledAt))
		if next.IsOpen() {
			next.Carryover = next.Carryover.Add(r.Amount)
			rolledTo = next.ID
		} else {
			retained = retained.Add(r.Amount)
		}
	}

	p.State = model.PeriodSettled
	p.SettledAt = &settledAt
	p.WinnerCount = st.WinnerCount
	p.PayoutPerWinner = st.PayoutPerWinner
	p.TotalDistributed = st.TotalDistributed
	p.Retained = retained
	p.RolledOverTo = rolledTo
	return p.Clone(), nil
}

func (s *MemoryStore) InsertBet(_ context.Context, b *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.periods[b.PeriodID]
	if !ok {
		return fmt.Errorf("period %s: %w", b.PeriodID, model.ErrPeriodNotFound)
	}
	if !p.IsOpen() {
		return fmt.Errorf("period %s is %s: %w", p.ID, p.State, model.ErrDrawClosed)
	}
	keys := s.keys[p.ID]
	if keys == nil {
		keys = make(map[string]struct{})
		s.keys[p.ID] = keys
	}
	k := betKey(b.UserID, b.Selection)
	if _, dup := keys[k]; dup {
		return fmt.Errorf("period %s: %w", p.ID, model.ErrDuplicateSelection)
	}

	keys[k] = struct{}{}
	s.bets[b.ID] = b.Clone()
	s.byPeriod[p.ID] = append(s.byPeriod[p.ID], b.ID)
	p.StakeTotal = p.StakeTotal.Add(b.Stake)
	p.BetCount++
	return nil
}

func (s *MemoryStore) HasBet(_ context.Context, periodID, userID string, selection []int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[periodID][betKey(userID, selection)]
	return ok, nil
}

func (s *MemoryStore) ListBets(_ context.Context, periodID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byPeriod[periodID]
	out := make([]model.Bet, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.bets[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) ListUserBets(_ context.Context, userID, periodID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Bet
	for _, id := range s.byPeriod[periodID] {
		if b := s.bets[id]; b.UserID == userID {
			out = append(out, *b.Clone())
		}
	}
	slices.SortFunc(out, func(a, b model.Bet) int {
		if c := slices.Compare(a.Selection, b.Selection); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemoryStore) MarkBetWon(_ context.Context, betID string, payout decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bets[betID]
	if !ok {
		return fmt.Errorf("bet %s not found", betID)
	}
	switch b.State {
	case model.BetWon:
		return nil
	case model.BetLost:
		return fmt.Errorf("bet %s is lost: %w", betID, model.ErrStateConflict)
	}
	settledAt := at.UTC()
	b.State = model.BetWon
	b.Payout = payout
	b.SettledAt = &settledAt
	return nil
}
