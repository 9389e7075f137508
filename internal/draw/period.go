package draw

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dailydraw/lottery-engine/internal/events"
	"github.com/dailydraw/lottery-engine/internal/model"
)

// Draw moves an open period to drawn: it samples the winning selection and
// freezes the prize pool from the final stake total. A period that is not
// open yields ErrAlreadyDrawn and is left untouched.
func (e *Engine) Draw(ctx context.Context, periodID string) (*model.DrawPeriod, error) {
	unlock := e.locks.Lock(periodID)
	defer unlock()

	p, err := e.store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if !p.IsOpen() {
		return nil, fmt.Errorf("period %s is %s: %w", p.ID, p.State, model.ErrAlreadyDrawn)
	}

	winning := e.cfg.Mode.Draw(e.rand)
	drawn, err := e.store.MarkDrawn(ctx, p.ID, winning, e.cfg.Prize.Pool, e.now())
	if err != nil {
		return nil, err
	}

	slog.Info("draw performed",
		"period", drawn.ID, "winning", drawn.WinningSelection,
		"stake_total", drawn.StakeTotal.StringFixed(2),
		"carryover", drawn.Carryover.StringFixed(2),
		"prize_pool", drawn.PrizePool.StringFixed(2),
		"bets", drawn.BetCount)
	e.pub.Publish(ctx, events.FromPeriod(events.DrawDrawn, drawn, e.now()))
	return drawn, nil
}
