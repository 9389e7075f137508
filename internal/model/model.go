// Package model defines the core domain types shared across the lottery engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the layout of a period ID. One period exists per calendar date.
const DateLayout = "2006-01-02"

// PeriodState is the lifecycle state of a draw period.
type PeriodState string

const (
	PeriodOpen    PeriodState = "open"
	PeriodDrawn   PeriodState = "drawn"
	PeriodSettled PeriodState = "settled"
)

// BetState is the lifecycle state of a bet.
type BetState string

const (
	BetActive BetState = "active"
	BetWon    BetState = "won"
	BetLost   BetState = "lost"
)

// DrawPeriod is one day's draw: the pooled stake, the winning selection once
// drawn, and the settlement summary once settled.
type DrawPeriod struct {
	ID               string          `json:"id" db:"id"` // YYYY-MM-DD
	Date             time.Time       `json:"date" db:"draw_date"`
	State            PeriodState     `json:"state" db:"state"`
	StakeTotal       decimal.Decimal `json:"stake_total" db:"stake_total"`
	Carryover        decimal.Decimal `json:"carryover" db:"carryover"`   // rolled in from earlier periods
	PrizePool        decimal.Decimal `json:"prize_pool" db:"prize_pool"` // zero until drawn
	WinningSelection []int           `json:"winning_selection,omitempty" db:"winning_selection"`
	BetCount         int             `json:"bet_count" db:"bet_count"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	DrawnAt          *time.Time      `json:"drawn_at,omitempty" db:"drawn_at"`
	SettledAt        *time.Time      `json:"settled_at,omitempty" db:"settled_at"`

	// Settlement summary, zero until settled.
	WinnerCount      int             `json:"winner_count" db:"winner_count"`
	PayoutPerWinner  decimal.Decimal `json:"payout_per_winner" db:"payout_per_winner"`
	TotalDistributed decimal.Decimal `json:"total_distributed" db:"total_distributed"`
	Retained         decimal.Decimal `json:"retained" db:"retained"`
	RolledOverTo     string          `json:"rolled_over_to,omitempty" db:"rolled_over_to"`
}

// NewDrawPeriod returns an open period for the calendar date of day.
func NewDrawPeriod(day time.Time, now time.Time) *DrawPeriod {
	date := Day(day)
	return &DrawPeriod{
		ID:         date.Format(DateLayout),
		Date:       date,
		State:      PeriodOpen,
		StakeTotal: decimal.Zero,
		Carryover:  decimal.Zero,
		PrizePool:  decimal.Zero,
		CreatedAt:  now.UTC(),
	}
}

// IsOpen reports whether the period still admits bets.
func (p *DrawPeriod) IsOpen() bool { return p.State == PeriodOpen }

// Clone returns a deep copy so stores can hand out snapshots.
func (p *DrawPeriod) Clone() *DrawPeriod {
	c := *p
	if p.WinningSelection != nil {
		c.WinningSelection = append([]int(nil), p.WinningSelection...)
	}
	if p.DrawnAt != nil {
		t := *p.DrawnAt
		c.DrawnAt = &t
	}
	if p.SettledAt != nil {
		t := *p.SettledAt
		c.SettledAt = &t
	}
	return &c
}

// Bet is one user's stake on a selection within a period.
type Bet struct {
	ID        string          `json:"id" db:"id"`
	PeriodID  string          `json:"period_id" db:"period_id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Selection []int           `json:"selection" db:"selection"` // canonical: ascending
	Stake     decimal.Decimal `json:"stake" db:"stake"`
	State     BetState        `json:"state" db:"state"`
	Payout    decimal.Decimal `json:"payout" db:"payout"`
	PlacedAt  time.Time       `json:"placed_at" db:"placed_at"`
	SettledAt *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
}

// Clone returns a deep copy of the bet.
func (b *Bet) Clone() *Bet {
	c := *b
	c.Selection = append([]int(nil), b.Selection...)
	if b.SettledAt != nil {
		t := *b.SettledAt
		c.SettledAt = &t
	}
	return &c
}

// Rollover moves an unclaimed prize pool into a later period's carryover.
type Rollover struct {
	ToPeriodID string
	ToDate     time.Time
	Amount     decimal.Decimal
}

// Day truncates t to midnight of its calendar date in t's own location and
// re-expresses it in UTC so the date survives storage round-trips.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PeriodID returns the period identifier for the calendar date of t.
func PeriodID(t time.Time) string {
	return Day(t).Format(DateLayout)
}

// ParsePeriodID parses a YYYY-MM-DD period identifier.
func ParsePeriodID(id string) (time.Time, error) {
	return time.Parse(DateLayout, id)
}
