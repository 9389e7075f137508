// Package draw is the draw lifecycle and settlement engine. It owns the
// state machine of a daily period (open → drawn → settled), admits bets
// while a period is open, samples the winning selection and pays winners
// through the ledger.
//
// Every mutation of a period runs under that period's lock, so bet
// admission, the draw and settlement of one date are serialized while
// different dates never contend.
package draw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dailydraw/lottery-engine/internal/events"
	"github.com/dailydraw/lottery-engine/internal/game"
	"github.com/dailydraw/lottery-engine/internal/ledger"
	"github.com/dailydraw/lottery-engine/internal/model"
	"github.com/dailydraw/lottery-engine/internal/store"
)

// UnclaimedPolicy decides what happens to a prize pool nobody won.
type UnclaimedPolicy string

const (
	// Retain keeps the pool with the house, recorded as the period's Retained.
	Retain UnclaimedPolicy = "retain"
	// Rollover adds the pool to the next date's carryover.
	Rollover UnclaimedPolicy = "rollover"
)

// CreditRetry bounds prize credit retries.
type CreditRetry struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config is the rule set of one deployment.
type Config struct {
	Mode        game.Mode
	Stake       game.StakePolicy
	Prize       game.PrizePolicy
	Unclaimed   UnclaimedPolicy
	CreditRetry CreditRetry
	// Location defines the calendar day a period covers.
	Location *time.Location
}

// DefaultConfig is the single-number daily draw: one number in [1, 500],
// 2.00 per bet, 90% of stakes paid out, unclaimed pools retained.
func DefaultConfig() Config {
	return Config{
		Mode:      game.Mode{Picks: 1, MaxNumber: 500},
		Stake:     game.FixedStake(decimal.RequireFromString("2.00")),
		Prize:     game.RatioPrize(decimal.RequireFromString("0.9")),
		Unclaimed: Retain,
		CreditRetry: CreditRetry{
			MaxAttempts:     5,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
		Location: time.UTC,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if err := c.Mode.Check(); err != nil {
		return err
	}
	if err := c.Prize.Check(); err != nil {
		return err
	}
	if c.Stake.Fixed.IsNegative() || c.Stake.Min.IsNegative() || c.Stake.Max.IsNegative() {
		return fmt.Errorf("%w: negative stake bound", game.ErrInvalidStake)
	}
	if !c.Stake.Fixed.IsPositive() && c.Stake.Max.IsPositive() && c.Stake.Max.LessThan(c.Stake.Min) {
		return fmt.Errorf("%w: max stake below min stake", game.ErrInvalidStake)
	}
	switch c.Unclaimed {
	case Retain, Rollover:
	default:
		return fmt.Errorf("draw: unknown unclaimed policy %q", c.Unclaimed)
	}
	if c.CreditRetry.MaxAttempts < 1 {
		return errors.New("draw: credit retry needs at least one attempt")
	}
	return nil
}

// Engine runs the draw lifecycle over a Store and a Ledger.
type Engine struct {
	cfg    Config
	store  store.Store
	ledger ledger.Ledger
	pub    events.Publisher
	rand   game.Rand
	now    func() time.Time
	locks  *keyedMutex
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand overrides the draw generator.
func WithRand(r game.Rand) Option {
	return func(e *Engine) { e.rand = r }
}

// WithPublisher sets where lifecycle events go.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// New validates cfg and returns an engine.
func New(cfg Config, st store.Store, l ledger.Ledger, opts ...Option) (*Engine, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		store:  st,
		ledger: l,
		pub:    events.Nop{},
		rand:   game.DefaultRand,
		now:    time.Now,
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine's rule set.
func (e *Engine) Config() Config { return e.cfg }

// Now returns the engine clock's current time in the engine's location.
func (e *Engine) Now() time.Time { return e.now().In(e.cfg.Location) }

// Today returns the period ID of the current calendar date.
func (e *Engine) Today() string { return model.PeriodID(e.Now()) }

// DateOf returns the period ID for the calendar date of t in the engine's location.
func (e *Engine) DateOf(t time.Time) string { return model.PeriodID(t.In(e.cfg.Location)) }

// EnsurePeriod returns the period for id, creating it open if it does not
// exist yet.
func (e *Engine) EnsurePeriod(ctx context.Context, id string) (*model.DrawPeriod, error) {
	day, err := model.ParsePeriodID(id)
	if err != nil {
		return nil, fmt.Errorf("period %q: %w", id, model.ErrPeriodNotFound)
	}
	return e.store.EnsurePeriod(ctx, model.NewDrawPeriod(day, e.now()))
}
