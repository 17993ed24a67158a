// Package reminders schedules user reminders that post back into the
// conversation they were created from.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devanshuguptaa/Converge-AI/internal/cron"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

var (
	ErrNotFound    = errors.New("reminder not found")
	ErrInvalidWhen = errors.New("invalid reminder time")
	ErrInPast      = errors.New("reminder time is in the past")
)

// MaxPerUser bounds active reminders per user.
const MaxPerUser = 50

// Sender delivers the reminder text.
type Sender interface {
	Send(ctx context.Context, reply *models.OutboundReply) error
}

// Reminder is a scheduled message.
type Reminder struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Target    models.SessionKey `json:"target"`
	Message   string            `json:"message"`
	Schedule  string            `json:"schedule"`
	Recurring bool              `json:"recurring"`
	Active    bool              `json:"active"`
	NextRun   time.Time         `json:"next_run,omitempty"`
	LastFired time.Time         `json:"last_fired,omitempty"`
	Fired     int               `json:"fired"`
	CreatedAt time.Time         `json:"created_at"`
}

// Request describes a reminder to create. Exactly one of At and Cron is set.
type Request struct {
	UserID  string
	Target  models.SessionKey
	Message string

	// At is an RFC3339 timestamp, "2006-01-02 15:04", or a relative time
	// such as "in 20 minutes".
	At string

	// Cron is a cron expression (optional seconds field) or "@every 1h".
	Cron string
}

// Service owns the reminder registry.
type Service struct {
	scheduler *cron.Scheduler
	sender    Sender
	logger    *slog.Logger
	loc       *time.Location
	now       func() time.Time

	mu        sync.Mutex
	reminders map[string]*Reminder
}

// NewService creates a reminder service. The caller starts the scheduler.
func NewService(scheduler *cron.Scheduler, sender Sender, loc *time.Location, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		scheduler: scheduler,
		sender:    sender,
		logger:    logger.With("component", "reminders"),
		loc:       loc,
		now:       time.Now,
		reminders: make(map[string]*Reminder),
	}
}

// Schedule validates req and registers the reminder.
func (s *Service) Schedule(req Request) (Reminder, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return Reminder{}, errors.New("reminder message is required")
	}
	if req.Target.ConversationID == "" {
		return Reminder{}, errors.New("reminder target conversation is required")
	}
	at, expr := strings.TrimSpace(req.At), strings.TrimSpace(req.Cron)
	if (at == "") == (expr == "") {
		return Reminder{}, fmt.Errorf("%w: set exactly one of at or cron", ErrInvalidWhen)
	}

	var schedule cron.Schedule
	now := s.now()
	if at != "" {
		when, err := ParseWhen(at, now, s.loc)
		if err != nil {
			return Reminder{}, err
		}
		if !when.After(now) {
			return Reminder{}, ErrInPast
		}
		schedule = cron.At(when)
	} else {
		parsed, err := cron.ParseSchedule(expr)
		if err != nil {
			return Reminder{}, fmt.Errorf("%w: %v", ErrInvalidWhen, err)
		}
		schedule = parsed
	}

	s.mu.Lock()
	active := 0
	for _, r := range s.reminders {
		if r.UserID == req.UserID && r.Active {
			active++
		}
	}
	s.mu.Unlock()
	if active >= MaxPerUser {
		return Reminder{}, fmt.Errorf("reminder limit of %d reached", MaxPerUser)
	}

	r := &Reminder{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Target:    req.Target,
		Message:   req.Message,
		Schedule:  schedule.String(),
		Recurring: !schedule.OneShot(),
		Active:    true,
		NextRun:   schedule.Next(now),
		CreatedAt: now,
	}

	s.mu.Lock()
	s.reminders[r.ID] = r
	s.mu.Unlock()

	id := r.ID
	if err := s.scheduler.Add(jobName(id), schedule, func(ctx context.Context) error {
		return s.fire(ctx, id)
	}); err != nil {
		s.mu.Lock()
		delete(s.reminders, id)
		s.mu.Unlock()
		return Reminder{}, err
	}

	s.logger.Info("reminder scheduled", "id", id, "user_id", r.UserID, "schedule", r.Schedule)
	return *r, nil
}

// Cancel deactivates a reminder owned by userID. Reminders of other users
// are reported as not found.
func (s *Service) Cancel(userID, id string) error {
	s.mu.Lock()
	r, ok := s.reminders[id]
	if !ok || r.UserID != userID || !r.Active {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.Active = false
	s.mu.Unlock()

	if err := s.scheduler.Remove(jobName(id)); err != nil && !errors.Is(err, cron.ErrJobNotFound) {
		return err
	}
	s.logger.Info("reminder cancelled", "id", id, "user_id", userID)
	return nil
}

// List returns the user's active reminders, soonest first.
func (s *Service) List(userID string) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reminder
	for _, r := range s.reminders {
		if r.UserID == userID && r.Active {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out
}

// Get returns a reminder by id.
func (s *Service) Get(id string) (Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return Reminder{}, false
	}
	return *r, true
}

func (s *Service) fire(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.reminders[id]
	if !ok || !r.Active {
		s.mu.Unlock()
		return nil
	}
	now := s.now()
	r.LastFired = now
	r.Fired++
	if r.Recurring {
		if next, ok := s.scheduler.Next(jobName(id)); ok {
			r.NextRun = next
		}
	} else {
		r.Active = false
		r.NextRun = time.Time{}
	}
	target, text := r.Target, "Reminder: "+r.Message
	s.mu.Unlock()

	reply := &models.OutboundReply{
		ConversationID: target.ConversationID,
		ThreadID:       target.ThreadID,
		Text:           text,
	}
	if err := s.sender.Send(ctx, reply); err != nil {
		return fmt.Errorf("send reminder %s: %w", id, err)
	}
	return nil
}

func jobName(id string) string { return "reminder:" + id }

var relativePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|weeks?)$`)

// ParseWhen resolves a reminder time. It accepts "in <n> <unit>",
// RFC3339, "2006-01-02 15:04" and a bare "15:04" (today, or tomorrow when
// already past), interpreted in loc.
func ParseWhen(value string, now time.Time, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(strings.ToLower(value))
	if rest, ok := strings.CutPrefix(v, "in "); ok {
		m := relativePattern.FindStringSubmatch(strings.TrimSpace(rest))
		if m == nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWhen, value)
		}
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWhen, value)
		}
		var unit time.Duration
		switch u := m[2]; {
		case strings.HasPrefix(u, "sec"):
			unit = time.Second
		case strings.HasPrefix(u, "min"):
			unit = time.Minute
		case strings.HasPrefix(u, "hour"), strings.HasPrefix(u, "hr"):
			unit = time.Hour
		case strings.HasPrefix(u, "day"):
			unit = 24 * time.Hour
		default:
			unit = 7 * 24 * time.Hour
		}
		return now.Add(time.Duration(amount * float64(unit))), nil
	}

	if t, err := cron.ParseAt(strings.TrimSpace(value), loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("15:04", v, loc); err == nil {
		local := now.In(loc)
		at := time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWhen, value)
}
