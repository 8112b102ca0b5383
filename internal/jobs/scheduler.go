// Package jobs runs the periodic background work: settling expired trades
// and expiring stale bonuses.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper settles every trade whose timer has run out.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Expirer marks bonuses past their expiry.
type Expirer interface {
	ExpireBonuses(ctx context.Context) (int, error)
}

// Schedules are robfig/cron specs, e.g. "@every 5s" or "*/1 * * * *".
type Schedules struct {
	Settle      string
	BonusExpiry string
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cron     *cron.Cron
	sched    Schedules
	sweeper  Sweeper
	expirer  Expirer
	runLimit time.Duration
}

// NewScheduler creates a scheduler in UTC. A run that is still going when
// its next tick fires is skipped.
func NewScheduler(sched Schedules, sweeper Sweeper, expirer Expirer) *Scheduler {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{
		cron:     c,
		sched:    sched,
		sweeper:  sweeper,
		expirer:  expirer,
		runLimit: time.Minute,
	}
}

// Start registers the jobs and starts the cron loop. Jobs see ctx, so
// cancelling it aborts in-flight runs.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.sweeper != nil && s.sched.Settle != "" {
		if _, err := s.cron.AddFunc(s.sched.Settle, func() { s.settle(ctx) }); err != nil {
			return fmt.Errorf("settle schedule %q: %w", s.sched.Settle, err)
		}
	}
	if s.expirer != nil && s.sched.BonusExpiry != "" {
		if _, err := s.cron.AddFunc(s.sched.BonusExpiry, func() { s.expire(ctx) }); err != nil {
			return fmt.Errorf("bonus expiry schedule %q: %w", s.sched.BonusExpiry, err)
		}
	}

	s.cron.Start()
	slog.Info("scheduler started", "settle", s.sched.Settle, "bonus_expiry", s.sched.BonusExpiry)
	return nil
}

// Stop waits for running jobs to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) settle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.runLimit)
	defer cancel()

	n, err := s.sweeper.Sweep(ctx)
	if err != nil {
		slog.Error("settlement sweep failed", "settled", n, "err", err)
		return
	}
	if n > 0 {
		slog.Debug("settlement sweep", "settled", n)
	}
}

func (s *Scheduler) expire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.runLimit)
	defer cancel()

	if _, err := s.expirer.ExpireBonuses(ctx); err != nil {
		slog.Error("bonus expiry failed", "err", err)
	}
}
