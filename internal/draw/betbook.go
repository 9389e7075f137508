package draw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dailydraw/lottery-engine/internal/metrics"
	"github.com/dailydraw/lottery-engine/internal/model"
)

// BetReceipt is the result of an admitted bet.
type BetReceipt struct {
	Bet     *model.Bet      `json:"bet"`
	Balance decimal.Decimal `json:"balance"` // after the debit
}

// PlaceBet admits a bet on periodID (today when empty). Checks run in
// order under the period lock: the period is open (ErrDrawClosed), the
// selection is in the domain (ErrInvalidSelection), the stake satisfies the
// stake policy (ErrInvalidStake), the user does not already hold the
// selection (ErrDuplicateSelection) and the debit succeeds
// (ErrInsufficientFunds). A zero stake means the fixed stake.
func (e *Engine) PlaceBet(ctx context.Context, userID, periodID string, selection []int, stake decimal.Decimal) (*BetReceipt, error) {
	if periodID == "" {
		periodID = e.Today()
	}
	receipt, err := e.placeBet(ctx, userID, periodID, selection, stake)
	if err != nil {
		metrics.BetsTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}
	metrics.BetsTotal.WithLabelValues("accepted").Inc()
	metrics.StakeVolume.Add(receipt.Bet.Stake.InexactFloat64())
	return receipt, nil
}

func (e *Engine) placeBet(ctx context.Context, userID, periodID string, selection []int, stake decimal.Decimal) (*BetReceipt, error) {
	unlock := e.locks.Lock(periodID)
	defer unlock()

	// (a) open period. Periods are created lazily for today and later.
	p, err := e.admittingPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if !p.IsOpen() {
		return nil, fmt.Errorf("period %s is %s: %w", p.ID, p.State, model.ErrDrawClosed)
	}

	// (b) selection and stake.
	canonical, err := e.cfg.Mode.Normalize(selection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidSelection, err)
	}
	amount, err := e.cfg.Stake.Resolve(stake)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidStake, err)
	}

	// (c) one bet per user and selection.
	dup, err := e.store.HasBet(ctx, p.ID, userID, canonical)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, fmt.Errorf("period %s: %w", p.ID, model.ErrDuplicateSelection)
	}

	// (d) debit, then append. The append is compensated if it fails.
	bet := &model.Bet{
		ID:        uuid.NewString(),
		PeriodID:  p.ID,
		UserID:    userID,
		Selection: canonical,
		Stake:     amount,
		State:     model.BetActive,
		Payout:    decimal.Zero,
		PlacedAt:  e.now().UTC(),
	}
	ref := "bet:" + bet.ID
	balance, err := e.ledger.Debit(ctx, userID, amount, ref)
	if err != nil {
		return nil, err
	}
	if err := e.store.InsertBet(ctx, bet); err != nil {
		e.refund(ctx, bet, ref)
		return nil, err
	}

	slog.Info("bet placed",
		"bet", bet.ID, "period", bet.PeriodID, "user", userID,
		"selection", canonical, "stake", amount.StringFixed(2))
	return &BetReceipt{Bet: bet, Balance: balance}, nil
}

// admittingPeriod resolves the period a bet targets, creating today's or a
// later date's period on first use. Past dates are closed to bets even when
// their period is still open.
func (e *Engine) admittingPeriod(ctx context.Context, periodID string) (*model.DrawPeriod, error) {
	p, err := e.store.GetPeriod(ctx, periodID)
	if err == nil {
		if p.IsOpen() && p.ID < e.Today() {
			return nil, fmt.Errorf("period %s is in the past: %w", p.ID, model.ErrDrawClosed)
		}
		return p, nil
	}
	if !errors.Is(err, model.ErrPeriodNotFound) {
		return nil, err
	}
	day, perr := model.ParsePeriodID(periodID)
	if perr != nil {
		return nil, err
	}
	if model.PeriodID(day) < e.Today() {
		return nil, fmt.Errorf("period %s is in the past: %w", periodID, model.ErrDrawClosed)
	}
	return e.store.EnsurePeriod(ctx, model.NewDrawPeriod(day, e.now()))
}

// refund returns a debited stake whose bet could not be stored.
func (e *Engine) refund(ctx context.Context, bet *model.Bet, ref string) {
	// The stake is already debited; finish even if the caller went away.
	ctx = context.WithoutCancel(ctx)
	err := e.creditWithRetry(ctx, bet.UserID, bet.Stake, ref+":refund")
	if err != nil {
		slog.Error("stake refund failed",
			"alert", "manual_reconciliation",
			"bet", bet.ID, "user", bet.UserID, "amount", bet.Stake.StringFixed(2), "err", err)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrDrawClosed):
		return "closed"
	case errors.Is(err, model.ErrInvalidSelection):
		return "invalid_selection"
	case errors.Is(err, model.ErrInvalidStake):
		return "invalid_stake"
	case errors.Is(err, model.ErrDuplicateSelection):
		return "duplicate"
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, model.ErrPeriodNotFound):
		return "not_found"
	default:
		return "error"
	}
}
