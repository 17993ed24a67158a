package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrJobExists is returned when a job name is already scheduled.
var ErrJobExists = errors.New("job already scheduled")

// ErrJobNotFound is returned when removing an unknown job.
var ErrJobNotFound = errors.New("job not found")

// JobFunc is the body of a scheduled job. The context is cancelled when the
// scheduler stops.
type JobFunc func(ctx context.Context) error

// Scheduler runs named jobs on top of a robfig cron runner. Panics in jobs
// are recovered and logged; a job never overlaps with itself.
type Scheduler struct {
	runner *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
}

// Option configures the scheduler.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	location *time.Location
}

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLocation sets the time zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	o := options{
		logger:   slog.Default(),
		location: time.Local,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "cron")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(o.location),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules fn under name.
func (s *Scheduler) Add(name string, schedule Schedule, fn JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if fn == nil {
		return fmt.Errorf("job %s: function is required", name)
	}
	if schedule.Kind == "" {
		return fmt.Errorf("job %s: schedule is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}

	oneShot := schedule.OneShot()
	id := s.runner.Schedule(schedule, cron.FuncJob(func() {
		s.run(name, fn)
		if oneShot {
			_ = s.Remove(name)
		}
	}))
	s.entries[name] = id
	s.logger.Debug("job scheduled", "job", name, "schedule", schedule.String())
	return nil
}

// AddSpec parses expr and schedules fn under name.
func (s *Scheduler) AddSpec(name, expr string, fn JobFunc) error {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return s.Add(name, schedule, fn)
}

// Remove unschedules a job.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.runner.Remove(id)
	delete(s.entries, name)
	return nil
}

// Has reports whether name is scheduled.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

// Next returns the next run time of a job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.runner.Entry(id)
	return entry.Next, entry.Valid()
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.runner.Start()
}

// Stop halts scheduling, cancels running jobs' context and waits for them
// to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	s.cancel()
	if !started {
		return nil
	}
	done := s.runner.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes a job body immediately, outside the schedule.
func (s *Scheduler) RunNow(name string, fn JobFunc) {
	s.run(name, fn)
}

func (s *Scheduler) run(name string, fn JobFunc) {
	start := time.Now()
	if err := fn(s.ctx); err != nil {
		s.logger.Warn("job failed", "job", name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("job finished", "job", name, "duration", time.Since(start))
}
