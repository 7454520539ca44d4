package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per loop iteration.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Interval is the pause after each tick completes, or the bucket width
	// when AlignToStart is set.
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// Now is injectable for tests.
	Now func() time.Time
}

// Scheduler drives repeated execution of a tick until cancellation.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick and then waiting for the next slot until ctx is
// cancelled. Tick errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		at := s.opts.Now().UTC()
		if s.opts.AlignToStart {
			at = at.Truncate(s.opts.Interval)
		}
		s.logger.Debug().Time("tick", at).Msg("executing scheduled tick")

		if err := tick(ctx, at); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Time("tick", at).Msg("tick execution failed")
		}

		if err := wait(ctx, s.delay(s.opts.Now().UTC())); err != nil {
			return err
		}
	}
}

func (s *Scheduler) delay(now time.Time) time.Duration {
	if !s.opts.AlignToStart {
		return s.opts.Interval
	}
	return s.nextTick(now).Sub(now)
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
