// Package events fans draw lifecycle notifications out to listeners:
// websocket clients via Hub and other services via NATS JetStream.
// Publishing is best-effort and never blocks or fails a draw.
package events

import (
	"context"
	"time"

	"github.com/dailydraw/lottery-engine/internal/model"
)

// Type names a lifecycle event. It doubles as the NATS subject suffix.
type Type string

const (
	DrawDrawn   Type = "draw.drawn"
	DrawSettled Type = "draw.settled"
)

// Event is the JSON payload sent to subscribers. Amounts are fixed-point
// strings so clients never see float rounding.
type Event struct {
	Type             Type      `json:"type"`
	PeriodID         string    `json:"period_id"`
	WinningSelection []int     `json:"winning_selection,omitempty"`
	StakeTotal       string    `json:"stake_total"`
	PrizePool        string    `json:"prize_pool"`
	BetCount         int       `json:"bet_count"`
	WinnerCount      int       `json:"winner_count,omitempty"`
	PayoutPerWinner  string    `json:"payout_per_winner,omitempty"`
	TotalDistributed string    `json:"total_distributed,omitempty"`
	Retained         string    `json:"retained,omitempty"`
	RolledOverTo     string    `json:"rolled_over_to,omitempty"`
	At               time.Time `json:"at"`
}

// FromPeriod builds an event of type t from a period snapshot.
func FromPeriod(t Type, p *model.DrawPeriod, at time.Time) Event {
	e := Event{
		Type:             t,
		PeriodID:         p.ID,
		WinningSelection: p.WinningSelection,
		StakeTotal:       p.StakeTotal.StringFixed(2),
		PrizePool:        p.PrizePool.StringFixed(2),
		BetCount:         p.BetCount,
		At:               at.UTC(),
	}
	if t == DrawSettled {
		e.WinnerCount = p.WinnerCount
		e.PayoutPerWinner = p.PayoutPerWinner.StringFixed(2)
		e.TotalDistributed = p.TotalDistributed.StringFixed(2)
		e.Retained = p.Retained.StringFixed(2)
		e.RolledOverTo = p.RolledOverTo
	}
	return e
}

// Publisher delivers events. Implementations must not block the caller
// for long and report failures through logs only.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi publishes each event to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		p.Publish(ctx, e)
	}
}
