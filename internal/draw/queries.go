package draw

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dailydraw/lottery-engine/internal/game"
	"github.com/dailydraw/lottery-engine/internal/model"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ErrNotSingleNumber is returned by AvailableNumbers for multi-pick modes.
var ErrNotSingleNumber = errors.New("draw: available numbers need a single-number mode")

// Page is one page of past periods, newest first.
type Page struct {
	Items    []model.DrawPeriod `json:"items"`
	Total    int                `json:"total"`
	Pages    int                `json:"pages"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}

// DrawResult is a drawn period and its winning bets. Winners are only known
// once the period is settled; before that the list holds the bets matching
// the winning selection.
type DrawResult struct {
	Period  *model.DrawPeriod `json:"period"`
	Winners []model.Bet       `json:"winners"`
}

// CurrentPeriod returns today's period, creating it on first access.
func (e *Engine) CurrentPeriod(ctx context.Context) (*model.DrawPeriod, error) {
	return e.EnsurePeriod(ctx, e.Today())
}

// UpcomingPeriod returns tomorrow's period, creating it on first access.
func (e *Engine) UpcomingPeriod(ctx context.Context) (*model.DrawPeriod, error) {
	return e.EnsurePeriod(ctx, model.PeriodID(e.Now().AddDate(0, 0, 1)))
}

// History pages through drawn and settled periods. Pages are 1-based;
// pageSize defaults to DefaultPageSize and is capped at MaxPageSize.
func (e *Engine) History(ctx context.Context, page, pageSize int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	pageSize = min(pageSize, MaxPageSize)

	states := []model.PeriodState{model.PeriodDrawn, model.PeriodSettled}
	items, total, err := e.store.ListPeriods(ctx, states, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.DrawPeriod{}
	}
	return &Page{
		Items:    items,
		Total:    total,
		Pages:    (total + pageSize - 1) / pageSize,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// Result returns a period's winning selection and winning bets.
func (e *Engine) Result(ctx context.Context, periodID string) (*DrawResult, error) {
	p, err := e.store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if p.IsOpen() {
		return nil, fmt.Errorf("period %s: %w", p.ID, model.ErrNotYetDrawn)
	}
	bets, err := e.store.ListBets(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	winners := []model.Bet{}
	for _, b := range bets {
		if b.State == model.BetWon || (p.State == model.PeriodDrawn && b.State == model.BetActive && game.Matches(b.Selection, p.WinningSelection)) {
			winners = append(winners, b)
		}
	}
	return &DrawResult{Period: p, Winners: winners}, nil
}

// UserBets returns the user's bets in a period (today when empty), ordered
// by selection.
func (e *Engine) UserBets(ctx context.Context, userID, periodID string) ([]model.Bet, error) {
	if periodID == "" {
		periodID = e.Today()
	}
	bets, err := e.store.ListUserBets(ctx, userID, periodID)
	if err != nil {
		return nil, err
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	return bets, nil
}

// AvailableNumbers lists the numbers the user has not bet on yet in a
// period (today when empty). Only single-number modes have such a list.
func (e *Engine) AvailableNumbers(ctx context.Context, userID, periodID string) ([]int, error) {
	if !e.cfg.Mode.SingleNumber() {
		return nil, ErrNotSingleNumber
	}
	bets, err := e.UserBets(ctx, userID, periodID)
	if err != nil {
		return nil, err
	}
	taken := make(map[int]bool, len(bets))
	for _, b := range bets {
		taken[b.Selection[0]] = true
	}
	out := make([]int, 0, e.cfg.Mode.MaxNumber-len(taken))
	for n := 1; n <= e.cfg.Mode.MaxNumber; n++ {
		if !taken[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

// Balance returns the user's ledger balance.
func (e *Engine) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return e.ledger.Balance(ctx, userID)
}

// TopUp credits an opaque external deposit. ref makes the deposit idempotent.
func (e *Engine) TopUp(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	if ref == "" {
		return decimal.Zero, errors.New("draw: top-up needs a reference")
	}
	return e.ledger.Credit(ctx, userID, amount, "topup:"+ref)
}
