// Package scheduler fires the daily draw. One goroutine sleeps until the
// configured time of day, then draws and settles that date's period.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dailydraw/lottery-engine/internal/draw"
	"github.com/dailydraw/lottery-engine/internal/metrics"
	"github.com/dailydraw/lottery-engine/internal/model"
)

// Lifecycle is the part of the draw engine the scheduler drives.
type Lifecycle interface {
	EnsurePeriod(ctx context.Context, id string) (*model.DrawPeriod, error)
	Draw(ctx context.Context, periodID string) (*model.DrawPeriod, error)
	Settle(ctx context.Context, periodID string) (*draw.SettlementResult, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Config controls when the daily draw fires.
type Config struct {
	// DrawTime is the local time of day, "HH:MM".
	DrawTime string
	Location *time.Location
	// CatchUp fires immediately on start when today's slot already passed
	// without a firing.
	CatchUp bool
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running    bool       `json:"running"`
	DrawTime   string     `json:"draw_time"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastPeriod string     `json:"last_period,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	Draws      int        `json:"draws"`
	Failures   int        `json:"failures"`
}

// Scheduler runs the daily draw trigger.
type Scheduler struct {
	engine       Lifecycle
	cfg          Config
	clock        Clock
	hour, minute int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	status  Status
	// lastFired is the period of the last slot the loop fired for.
	lastFired string

	// firing serializes scheduled firings with each other.
	firing sync.Mutex
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// ParseDrawTime parses "HH:MM".
func ParseDrawTime(v string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("scheduler: draw time %q: want HH:MM", v)
	}
	return t.Hour(), t.Minute(), nil
}

// New returns a stopped scheduler.
func New(engine Lifecycle, cfg Config, opts ...Option) (*Scheduler, error) {
	h, m, err := ParseDrawTime(cfg.DrawTime)
	if err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Scheduler{
		engine: engine,
		cfg:    cfg,
		clock:  realClock{},
		hour:   h,
		minute: m,
		status: Status{DrawTime: cfg.DrawTime},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the loop. Starting a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.status.Running = true
	go s.loop(ctx, s.done)
	slog.Info("draw scheduler started", "draw_time", s.cfg.DrawTime, "location", s.cfg.Location.String())
}

// Stop halts the loop and waits for an in-flight firing to finish.
// Stopping a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	s.status.Running = false
	s.status.NextRun = nil
	s.mu.Unlock()
	metrics.SchedulerNextRun.Set(0)
	slog.Info("draw scheduler stopped")
}

// Restart stops the loop if it runs and starts it again.
func (s *Scheduler) Restart(ctx context.Context) {
	s.Stop()
	s.Start(ctx)
}

// Status returns a snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.running
	return st
}

// Run starts the scheduler and blocks until ctx ends, then stops it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		now := s.clock.Now().In(s.cfg.Location)
		next, periodID := s.nextRun(now)
		s.setNextRun(next)

		if wait := next.Sub(now); wait > 0 {
			slog.Info("next draw scheduled", "period", periodID, "at", next, "in", wait.Round(time.Second))
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(wait):
			}
		}
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.lastFired = periodID
		s.mu.Unlock()
		// A firing runs to completion even when Stop is called meanwhile.
		s.fire(context.WithoutCancel(ctx), periodID)
	}
}

// nextRun returns when the loop fires next and for which period.
func (s *Scheduler) nextRun(now time.Time) (time.Time, string) {
	s.mu.Lock()
	lastFired := s.lastFired
	s.mu.Unlock()

	y, m, d := now.Date()
	slot := time.Date(y, m, d, s.hour, s.minute, 0, 0, s.cfg.Location)
	today := model.PeriodID(now)
	switch {
	case lastFired == today:
		slot = slot.AddDate(0, 0, 1)
	case !slot.After(now) && s.cfg.CatchUp:
		return now, today
	case !slot.After(now):
		slot = slot.AddDate(0, 0, 1)
	}
	return slot, model.PeriodID(slot)
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.status.NextRun = &t
	s.mu.Unlock()
	metrics.SchedulerNextRun.Set(float64(t.Unix()))
}

// RunScheduledDraw draws and settles today's period. A period left drawn by
// an earlier failed settlement is settled; a settled one is skipped. Failures
// are logged and recorded, never returned.
func (s *Scheduler) RunScheduledDraw(ctx context.Context) {
	s.fire(ctx, model.PeriodID(s.clock.Now().In(s.cfg.Location)))
}

func (s *Scheduler) fire(ctx context.Context, periodID string) {
	s.firing.Lock()
	defer s.firing.Unlock()

	slog.Info("scheduled draw firing", "period", periodID)
	result, err := s.guard(periodID, func() (*draw.SettlementResult, error) {
		return s.drawAndSettle(ctx, periodID)
	})
	switch {
	case err != nil:
		metrics.SchedulerRuns.WithLabelValues("failure").Inc()
		slog.Error("scheduled draw failed", "alert", "manual_reconciliation", "period", periodID, "err", err)
	case result == nil:
		metrics.SchedulerRuns.WithLabelValues("skipped").Inc()
		slog.Warn("scheduled draw skipped, period already settled", "period", periodID)
	default:
		metrics.SchedulerRuns.WithLabelValues("success").Inc()
	}
	s.record(periodID, result, err)
}

// guard turns a panic in fn into an error so a firing never takes down the
// timer goroutine or the caller.
func (s *Scheduler) guard(periodID string, fn func() (*draw.SettlementResult, error)) (result *draw.SettlementResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("draw panicked", "alert", "manual_reconciliation", "period", periodID, "panic", r)
			result, err = nil, fmt.Errorf("period %s: panic: %v", periodID, r)
		}
	}()
	return fn()
}

func (s *Scheduler) drawAndSettle(ctx context.Context, periodID string) (*draw.SettlementResult, error) {
	p, err := s.engine.EnsurePeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	switch p.State {
	case model.PeriodSettled:
		return nil, nil
	case model.PeriodOpen:
		_, err := s.engine.Draw(ctx, periodID)
		switch {
		case errors.Is(err, model.ErrAlreadyDrawn):
			// A manual draw won the race; settle what it drew.
		case err != nil:
			return nil, err
		default:
			metrics.DrawsTotal.WithLabelValues("scheduled").Inc()
		}
	}
	result, err := s.engine.Settle(ctx, periodID)
	if errors.Is(err, model.ErrAlreadySettled) {
		return nil, nil
	}
	return result, err
}

// RunManualDraw draws and settles the period of date (today when zero).
// It reports false without touching anything when that period is not open,
// and false when the draw or settlement fails. Once started, the draw and
// its settlement run to completion even if ctx is cancelled.
func (s *Scheduler) RunManualDraw(ctx context.Context, date time.Time) bool {
	if date.IsZero() {
		date = s.clock.Now().In(s.cfg.Location)
	}
	periodID := model.PeriodID(date)
	slog.Info("manual draw requested", "period", periodID)
	ctx = context.WithoutCancel(ctx)

	drawn := false
	result, err := s.guard(periodID, func() (*draw.SettlementResult, error) {
		p, err := s.engine.EnsurePeriod(ctx, periodID)
		if err != nil {
			return nil, err
		}
		if !p.IsOpen() {
			slog.Warn("manual draw refused, period not open", "period", periodID, "state", p.State)
			return nil, nil
		}
		if _, err := s.engine.Draw(ctx, periodID); err != nil {
			slog.Warn("manual draw failed", "period", periodID, "err", err)
			return nil, nil
		}
		drawn = true
		metrics.DrawsTotal.WithLabelValues("manual").Inc()
		return s.engine.Settle(ctx, periodID)
	})
	if err == nil && !drawn {
		return false
	}
	s.record(periodID, result, err)
	if err != nil {
		slog.Error("manual settlement failed", "alert", "manual_reconciliation", "period", periodID, "err", err)
		return false
	}
	return true
}

// SettleDrawn settles a period an earlier firing drew but could not settle.
// Only winners still unpaid are credited.
func (s *Scheduler) SettleDrawn(ctx context.Context, periodID string) (*draw.SettlementResult, error) {
	ctx = context.WithoutCancel(ctx)
	result, err := s.guard(periodID, func() (*draw.SettlementResult, error) {
		return s.engine.Settle(ctx, periodID)
	})
	switch {
	case errors.Is(err, model.ErrNotYetDrawn), errors.Is(err, model.ErrAlreadySettled),
		errors.Is(err, model.ErrPeriodNotFound):
		return nil, err
	case err != nil:
		slog.Error("re-settlement failed", "alert", "manual_reconciliation", "period", periodID, "err", err)
	default:
		slog.Info("drawn period settled", "period", periodID, "winners", len(result.Winners))
	}
	s.record(periodID, result, err)
	return result, err
}

func (s *Scheduler) record(periodID string, result *draw.SettlementResult, err error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastRun = &now
	s.status.LastPeriod = periodID
	if err != nil {
		s.status.LastError = err.Error()
		s.status.Failures++
		return
	}
	s.status.LastError = ""
	if result != nil {
		s.status.Draws++
	}
}
