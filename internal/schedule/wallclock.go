package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/signalsfoundry/safespaces/internal/logging"
)

// WallClockScheduler is an EventScheduler that fires callbacks on real time
// using gocron one-time jobs. RunDue is a no-op: gocron drives execution.
type WallClockScheduler struct {
	scheduler gocron.Scheduler
	clock     clockwork.Clock
	log       logging.Logger
}

// WallClockOption customises WallClockScheduler construction.
type WallClockOption func(*wallClockConfig)

type wallClockConfig struct {
	clock    clockwork.Clock
	log      logging.Logger
	location *time.Location
}

// WithClock overrides the clock used both for Now and by gocron.
func WithClock(c clockwork.Clock) WallClockOption {
	return func(cfg *wallClockConfig) { cfg.clock = c }
}

// WithLogger attaches a logger for scheduling failures.
func WithLogger(l logging.Logger) WallClockOption {
	return func(cfg *wallClockConfig) { cfg.log = l }
}

// WithLocation sets the time zone gocron uses for job bookkeeping.
func WithLocation(loc *time.Location) WallClockOption {
	return func(cfg *wallClockConfig) { cfg.location = loc }
}

// NewWallClockScheduler creates and starts a gocron-backed scheduler.
func NewWallClockScheduler(opts ...WallClockOption) (*WallClockScheduler, error) {
	cfg := wallClockConfig{
		clock: clockwork.NewRealClock(),
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	schedOpts := []gocron.SchedulerOption{gocron.WithClock(cfg.clock)}
	if cfg.location != nil {
		schedOpts = append(schedOpts, gocron.WithLocation(cfg.location))
	}
	s, err := gocron.NewScheduler(schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	s.Start()

	return &WallClockScheduler{
		scheduler: s,
		clock:     cfg.clock,
		log:       cfg.log,
	}, nil
}

// Schedule registers f to run once at 'at'. Times at or before now run
// immediately. It returns an empty ID if gocron rejects the job.
func (s *WallClockScheduler) Schedule(at time.Time, f func()) string {
	start := gocron.OneTimeJobStartImmediately()
	if at.After(s.clock.Now()) {
		start = gocron.OneTimeJobStartDateTime(at)
	}
	job, err := s.scheduler.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(f),
		gocron.WithName(fmt.Sprintf("deadline-%s", at.UTC().Format(time.RFC3339))),
	)
	if err != nil {
		s.log.Error(context.Background(), "failed to schedule one-time job",
			logging.String("at", at.UTC().Format(time.RFC3339)),
			logging.Err(err),
		)
		return ""
	}
	return job.ID().String()
}

// Cancel removes a pending job. Unknown or already-run IDs are ignored.
func (s *WallClockScheduler) Cancel(id string) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return
	}
	if err := s.scheduler.RemoveJob(jobID); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		s.log.Warn(context.Background(), "failed to cancel job", logging.String("job_id", id), logging.Err(err))
	}
}

// Now returns the scheduler clock's current time.
func (s *WallClockScheduler) Now() time.Time {
	return s.clock.Now()
}

// RunDue is a no-op; gocron runs jobs on its own goroutines.
func (s *WallClockScheduler) RunDue() {}

// Shutdown stops the scheduler and waits for running jobs.
func (s *WallClockScheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}
