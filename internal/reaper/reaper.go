// Package reaper periodically deletes conversations that have been idle
// longer than the configured session duration.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/internal/store"
)

// DefaultSchedule sweeps once an hour.
const DefaultSchedule = "@every 1h"

const stopTimeout = 10 * time.Second

// Store is the persistence the reaper needs.
type Store interface {
	SessionDuration(ctx context.Context) (time.Duration, error)
	PurgeConversations(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result describes one sweep.
type Result struct {
	TickID   string
	Duration time.Duration
	Cutoff   time.Time
	Deleted  int64
	Skipped  bool
}

// Reaper runs the sweep on a cron schedule.
type Reaper struct {
	store    Store
	schedule string
	now      func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithSchedule sets the cron expression or descriptor, e.g. "@every 30m".
func WithSchedule(spec string) Option {
	return func(r *Reaper) {
		if spec != "" {
			r.schedule = spec
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

// New builds a Reaper; it does nothing until Start.
func New(st Store, opts ...Option) *Reaper {
	r := &Reaper{store: st, schedule: DefaultSchedule, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start schedules the sweep. Ticks keep firing regardless of failures
// until Stop is called or ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("reaper already started")
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	r.ctx, r.cancel = context.WithCancel(ctx)
	if _, err := c.AddFunc(r.schedule, func() { r.tick(r.ctx) }); err != nil {
		r.cancel()
		return fmt.Errorf("invalid reaper schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c

	logger.Reaper.Info("reaper started",
		slog.String("event", "reaper.start"),
		slog.String("schedule", r.schedule),
	)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}

	done := c.Stop()
	select {
	case <-done.Done():
	case <-time.After(stopTimeout):
		logger.Reaper.Warn("reaper stop timed out",
			slog.String("event", "reaper.stop"),
		)
	}
	cancel()
	logger.Reaper.Info("reaper stopped",
		slog.String("event", "reaper.stop"),
	)
}

// tick is the cron entry point. Failures and panics end here.
func (r *Reaper) tick(ctx context.Context) {
	tickID := uuid.NewString()
	ctx = logger.WithRID(ctx, tickID)
	defer func() {
		if rec := recover(); rec != nil {
			logger.LogEvent(ctx, logger.Reaper, slog.LevelError, "reaper.panic",
				slog.String("status", "fail"),
				slog.String("err", fmt.Sprint(rec)),
			)
		}
	}()
	_, _ = r.sweep(ctx, tickID)
}

// RunOnce performs a single sweep immediately.
func (r *Reaper) RunOnce(ctx context.Context) (Result, error) {
	tickID := uuid.NewString()
	return r.sweep(logger.WithRID(ctx, tickID), tickID)
}

func (r *Reaper) sweep(ctx context.Context, tickID string) (Result, error) {
	start := time.Now()
	res := Result{TickID: tickID}

	d, err := r.store.SessionDuration(ctx)
	switch {
	case errors.Is(err, store.ErrSessionDurationUnset):
		res.Skipped = true
		logger.LogEvent(ctx, logger.Reaper, slog.LevelWarn, "reaper.tick",
			slog.String("status", "skip"),
			slog.String("tick_id", tickID),
			slog.String("cause", "session_duration_unset"),
		)
		return res, nil
	case err != nil:
		r.logFailure(ctx, tickID, start, err)
		return res, err
	}

	res.Duration = d
	res.Cutoff = r.now().Add(-d)
	deleted, err := r.store.PurgeConversations(ctx, res.Cutoff)
	if err != nil {
		r.logFailure(ctx, tickID, start, err)
		return res, err
	}
	res.Deleted = deleted

	logger.LogEvent(ctx, logger.Reaper, slog.LevelInfo, "reaper.tick",
		slog.String("status", "ok"),
		slog.String("tick_id", tickID),
		slog.Time("cutoff", res.Cutoff),
		slog.Duration("session_duration", d),
		slog.Int64("deleted", deleted),
		slog.Duration("duration", logger.Took(start)),
	)
	return res, nil
}

func (r *Reaper) logFailure(ctx context.Context, tickID string, start time.Time, err error) {
	logger.LogEvent(ctx, logger.Reaper, slog.LevelError, "reaper.tick",
		slog.String("status", "fail"),
		slog.String("tick_id", tickID),
		slog.String("err", err.Error()),
		slog.Duration("duration", logger.Took(start)),
	)
}
