package sessions

import (
	"context"
	"log/slog"
	"time"

	"github.com/devanshuguptaa/Converge-AI/internal/cron"
)

// DefaultSweepSchedule runs idle eviction once a minute.
const DefaultSweepSchedule = "@every 1m"

const sweepJobName = "sessions.evict-idle"

// Sweeper evicts idle sessions on a schedule.
type Sweeper struct {
	manager   *Manager
	scheduler *cron.Scheduler
	logger    *slog.Logger
}

// NewSweeper registers the eviction job on scheduler. The caller starts and
// stops the scheduler.
func NewSweeper(manager *Manager, scheduler *cron.Scheduler, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	sw := &Sweeper{manager: manager, scheduler: scheduler, logger: logger.With("component", "sessions.sweeper")}
	if err := scheduler.AddSpec(sweepJobName, schedule, sw.run); err != nil {
		return nil, err
	}
	return sw, nil
}

// Sweep runs one eviction pass now.
func (s *Sweeper) Sweep() int {
	return s.manager.EvictIdle(time.Now())
}

func (s *Sweeper) run(context.Context) error {
	if n := s.Sweep(); n > 0 {
		s.logger.Info("idle sessions evicted", "count", n)
	}
	return nil
}
