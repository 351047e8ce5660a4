package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc runs once per scheduled bucket.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler invokes a tick function on a fixed cadence. With AlignToStart the
// ticks land on wall-clock multiples of the interval, so every instance of the
// process agrees on bucket boundaries.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick at each boundary until ctx is cancelled. Tick
// errors are logged and the cadence continues.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if err := sleepCtx(ctx, s.opts.StartupDelay); err != nil {
		return err
	}

	for {
		next := s.next(time.Now().UTC())
		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")
		if err := sleepCtx(ctx, time.Until(next)); err != nil {
			return err
		}

		bucket := next
		if !s.opts.AlignToStart {
			bucket = time.Now().UTC()
		}

		s.logger.Info().Time("bucket", bucket).Msg("executing scheduled tick")
		if err := tick(ctx, bucket); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
		}
	}
}

func (s *Scheduler) next(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	return now.Truncate(s.opts.Interval).Add(s.opts.Interval)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
