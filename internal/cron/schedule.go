// Package cron runs named background jobs on robfig/cron schedules. It backs
// the idle-session sweeper, the retrieval indexer and user reminders.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Kind identifies how a Schedule computes its next run.
type Kind string

const (
	KindAt    Kind = "at"
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
)

// Schedule is a parsed schedule. It implements cron.Schedule so it can be
// handed to the robfig runner directly.
type Schedule struct {
	Kind     Kind
	CronExpr string
	Every    time.Duration
	At       time.Time

	parsed cron.Schedule
}

// ParseSchedule parses a cron expression (five or six fields), a descriptor
// such as "@hourly", or "@every <duration>".
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, fmt.Errorf("schedule is required")
	}
	if rest, ok := strings.CutPrefix(expr, "@every "); ok {
		every, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid @every duration: %w", err)
		}
		return Every(every)
	}
	parsed, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return Schedule{Kind: KindCron, CronExpr: expr, parsed: parsed}, nil
}

// Every returns a fixed-interval schedule.
func Every(d time.Duration) (Schedule, error) {
	if d <= 0 {
		return Schedule{}, fmt.Errorf("every schedule requires a positive duration")
	}
	return Schedule{Kind: KindEvery, Every: d}, nil
}

// At returns a schedule that fires once.
func At(t time.Time) Schedule {
	return Schedule{Kind: KindAt, At: t}
}

// ParseAt parses an RFC3339 timestamp, or "2006-01-02 15:04" in loc.
func ParseAt(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("at schedule value required")
	}
	if loc == nil {
		loc = time.Local
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}
	if parsed, err := time.ParseInLocation("2006-01-02 15:04", value, loc); err == nil {
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("invalid at schedule: %s", value)
}

// Next implements cron.Schedule. A zero time means the schedule will not
// fire again.
func (s Schedule) Next(now time.Time) time.Time {
	switch s.Kind {
	case KindAt:
		if s.At.IsZero() || !s.At.After(now) {
			return time.Time{}
		}
		return s.At
	case KindEvery:
		if s.Every <= 0 {
			return time.Time{}
		}
		return now.Add(s.Every)
	case KindCron:
		if s.parsed == nil {
			parsed, err := cronParser.Parse(s.CronExpr)
			if err != nil {
				return time.Time{}
			}
			return parsed.Next(now)
		}
		return s.parsed.Next(now)
	default:
		return time.Time{}
	}
}

// OneShot reports whether the schedule fires at most once.
func (s Schedule) OneShot() bool { return s.Kind == KindAt }

// String renders the schedule for logs and listings.
func (s Schedule) String() string {
	switch s.Kind {
	case KindAt:
		return "at " + s.At.Format(time.RFC3339)
	case KindEvery:
		return "@every " + s.Every.String()
	case KindCron:
		return s.CronExpr
	default:
		return "invalid"
	}
}
