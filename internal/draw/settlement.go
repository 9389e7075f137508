package draw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/dailydraw/lottery-engine/internal/events"
	"github.com/dailydraw/lottery-engine/internal/game"
	"github.com/dailydraw/lottery-engine/internal/ledger"
	"github.com/dailydraw/lottery-engine/internal/metrics"
	"github.com/dailydraw/lottery-engine/internal/model"
	"github.com/dailydraw/lottery-engine/internal/store"
)

// Payout is one winning bet's credit.
type Payout struct {
	BetID  string          `json:"bet_id"`
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// SettlementResult summarizes a settled period.
type SettlementResult struct {
	PeriodID         string          `json:"period_id"`
	WinningSelection []int           `json:"winning_selection"`
	PrizePool        decimal.Decimal `json:"prize_pool"`
	PayoutPerWinner  decimal.Decimal `json:"payout_per_winner"`
	Winners          []Payout        `json:"winners"`
	TotalDistributed decimal.Decimal `json:"total_distributed"`
	Retained         decimal.Decimal `json:"retained"`
	RolledOver       decimal.Decimal `json:"rolled_over"`
	RolledOverTo     string          `json:"rolled_over_to,omitempty"`
}

// Settle pays the winners of a drawn period and moves it to settled.
//
// Each winner is credited under the reference "payout:<bet ID>" with
// bounded retries, then marked won. If any credit cannot be delivered the
// period stays drawn and an error wrapping ErrCreditDelivery is returned;
// running Settle again pays only the winners still outstanding. Losing bets
// are marked lost and the period settled in one store operation once every
// winner is paid.
func (e *Engine) Settle(ctx context.Context, periodID string) (*SettlementResult, error) {
	unlock := e.locks.Lock(periodID)
	defer unlock()

	start := time.Now()
	defer func() { metrics.SettlementLatency.Observe(time.Since(start).Seconds()) }()

	p, err := e.store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	switch p.State {
	case model.PeriodOpen:
		return nil, fmt.Errorf("period %s: %w", p.ID, model.ErrNotYetDrawn)
	case model.PeriodSettled:
		return nil, fmt.Errorf("period %s: %w", p.ID, model.ErrAlreadySettled)
	}

	bets, err := e.store.ListBets(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	var winners []model.Bet
	for _, b := range bets {
		if game.Matches(b.Selection, p.WinningSelection) {
			winners = append(winners, b)
		}
	}

	share, residual := game.Split(p.PrizePool, len(winners))
	res := &SettlementResult{
		PeriodID:         p.ID,
		WinningSelection: p.WinningSelection,
		PrizePool:        p.PrizePool,
		PayoutPerWinner:  share,
		Winners:          make([]Payout, 0, len(winners)),
		TotalDistributed: decimal.Zero,
		Retained:         decimal.Zero,
		RolledOver:       decimal.Zero,
	}

	var failed []error
	for _, b := range winners {
		if err := e.payWinner(ctx, b, share); err != nil {
			failed = append(failed, err)
			continue
		}
		res.Winners = append(res.Winners, Payout{BetID: b.ID, UserID: b.UserID, Amount: share})
		res.TotalDistributed = res.TotalDistributed.Add(share)
	}
	if len(failed) > 0 {
		metrics.CreditFailures.Add(float64(len(failed)))
		slog.Error("settlement incomplete, period left drawn",
			"alert", "manual_reconciliation",
			"period", p.ID, "unpaid", len(failed), "winners", len(winners))
		return nil, fmt.Errorf("period %s: %w: %w", p.ID, model.ErrCreditDelivery, errors.Join(failed...))
	}

	st := store.Settlement{
		PeriodID:         p.ID,
		WinnerCount:      len(winners),
		PayoutPerWinner:  share,
		TotalDistributed: res.TotalDistributed,
		Retained:         residual,
		At:               e.now(),
	}
	if len(winners) == 0 && e.cfg.Unclaimed == Rollover && p.PrizePool.IsPositive() {
		next := p.Date.AddDate(0, 0, 1)
		// A backfilled past period feeds today's pool; the days between are
		// never drawn.
		if today, _ := model.ParsePeriodID(e.Today()); next.Before(today) {
			next = today
		}
		st.Retained = decimal.Zero
		st.Rollover = &model.Rollover{
			ToPeriodID: model.PeriodID(next),
			ToDate:     next,
			Amount:     p.PrizePool,
		}
	}

	settled, err := e.store.SettlePeriod(ctx, st)
	if err != nil {
		return nil, err
	}
	res.Retained = settled.Retained
	if settled.RolledOverTo != "" {
		res.RolledOver = st.Rollover.Amount
		res.RolledOverTo = settled.RolledOverTo
	}

	outcome := "winners"
	if len(winners) == 0 {
		outcome = "no_winners"
	}
	metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
	metrics.PrizesPaid.Add(res.TotalDistributed.InexactFloat64())
	slog.Info("period settled",
		"period", p.ID, "winners", len(winners),
		"payout_per_winner", share.StringFixed(2),
		"distributed", res.TotalDistributed.StringFixed(2),
		"retained", res.Retained.StringFixed(2),
		"rolled_over_to", res.RolledOverTo)
	e.pub.Publish(ctx, events.FromPeriod(events.DrawSettled, settled, e.now()))
	return res, nil
}

// payWinner credits one winning bet and marks it won. Bets already won are
// skipped; the payout reference makes a repeated credit a no-op anyway.
func (e *Engine) payWinner(ctx context.Context, b model.Bet, share decimal.Decimal) error {
	if b.State == model.BetWon {
		return nil
	}
	if share.IsPositive() {
		if err := e.creditWithRetry(ctx, b.UserID, share, "payout:"+b.ID); err != nil {
			slog.Error("prize credit failed",
				"alert", "manual_reconciliation",
				"period", b.PeriodID, "bet", b.ID, "user", b.UserID,
				"amount", share.StringFixed(2), "err", err)
			return fmt.Errorf("bet %s: %w", b.ID, err)
		}
	}
	if err := e.store.MarkBetWon(ctx, b.ID, share, e.now()); err != nil {
		return fmt.Errorf("bet %s: %w", b.ID, err)
	}
	return nil
}

// creditWithRetry credits amount with exponential backoff, giving up after
// CreditRetry.MaxAttempts attempts or when ctx ends.
func (e *Engine) creditWithRetry(ctx context.Context, userID string, amount decimal.Decimal, ref string) error {
	policy := backoff.NewExponentialBackOff()
	if e.cfg.CreditRetry.InitialInterval > 0 {
		policy.InitialInterval = e.cfg.CreditRetry.InitialInterval
	}
	if e.cfg.CreditRetry.MaxInterval > 0 {
		policy.MaxInterval = e.cfg.CreditRetry.MaxInterval
	}
	policy.MaxElapsedTime = 0

	retries := uint64(max(e.cfg.CreditRetry.MaxAttempts-1, 0))
	b := backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)

	op := func() error {
		_, err := e.ledger.Credit(ctx, userID, amount, ref)
		if errors.Is(err, ledger.ErrInvalidAmount) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.CreditRetries.Inc()
		slog.Warn("credit failed, retrying", "user", userID, "ref", ref, "wait", wait, "err", err)
	}
	return backoff.RetryNotify(op, b, notify)
}
