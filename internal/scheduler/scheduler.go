package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs a check every six hours.
const DefaultSchedule = "0 */6 * * *"

// TickFunc is invoked at every scheduled activation.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Spec is a standard five-field cron expression or descriptor such as "@hourly".
	Spec string
	// Schedule overrides Spec when set.
	Schedule     cron.Schedule
	StartupDelay time.Duration
	Location     *time.Location
}

// Scheduler drives periodic price checks.
type Scheduler struct {
	schedule cron.Schedule
	opts     Options
	logger   zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	schedule := opts.Schedule
	if schedule == nil {
		spec := opts.Spec
		if spec == "" {
			spec = DefaultSchedule
		}
		parsed, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
		}
		schedule = parsed
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		schedule: schedule,
		opts:     opts,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.opts.Location))
}

// Run blocks, invoking tick at each activation until ctx is cancelled. A tick
// that has started runs to completion on a context detached from ctx.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for {
		next := s.Next(time.Now())
		if next.IsZero() {
			return fmt.Errorf("schedule has no future activation")
		}

		timer := time.NewTimer(time.Until(next))
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.logger.Info().Time("tick", next).Msg("executing scheduled tick")

		if err := tick(context.WithoutCancel(ctx), next); err != nil {
			s.logger.Error().Err(err).Time("tick", next).Msg("tick execution failed")
		}
	}
}
