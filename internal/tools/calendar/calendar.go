// Package calendar exposes calendar tools to the agent.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devanshuguptaa/Converge-AI/internal/tools"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

const (
	// DefaultWindow is the listing range when no end time is given.
	DefaultWindow = 7 * 24 * time.Hour
	maxEvents     = 50
)

// Event is a calendar entry.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	Link        string    `json:"link,omitempty"`
}

// NewEvent describes an event to create.
type NewEvent struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Calendar is the calendar integration behind the tools.
type Calendar interface {
	List(ctx context.Context, start, end time.Time, limit int) ([]Event, error)
	Create(ctx context.Context, ev NewEvent) (*Event, error)
}

type listArgs struct {
	StartTime string `json:"start_time,omitempty" jsonschema_description:"Range start, RFC3339 or YYYY-MM-DD. Defaults to now."`
	EndTime   string `json:"end_time,omitempty" jsonschema_description:"Range end, RFC3339 or YYYY-MM-DD. Defaults to 7 days after the start."`
}

type createArgs struct {
	Summary     string `json:"summary" jsonschema:"minLength=1" jsonschema_description:"Event title"`
	StartTime   string `json:"start_time" jsonschema_description:"Start time in RFC3339, e.g. 2026-03-02T10:00:00-08:00"`
	EndTime     string `json:"end_time" jsonschema_description:"End time in RFC3339"`
	Description string `json:"description,omitempty" jsonschema_description:"Optional event description"`
}

type registration struct {
	cal Calendar
	now func() time.Time
}

// Register adds the calendar tools to reg.
func Register(reg *tools.Registry, cal Calendar) error {
	return register(reg, cal, time.Now)
}

func register(reg *tools.Registry, cal Calendar, now func() time.Time) error {
	if cal == nil {
		return errors.New("calendar: integration is required")
	}
	r := &registration{cal: cal, now: now}
	if err := reg.Register(&tools.Descriptor{
		Name:        "list_calendar_events",
		Description: "Lists calendar events within a date range. If no dates are provided, lists the next 7 days.",
		Parameters:  tools.SchemaFor[listArgs](),
		Scopes:      []models.Scope{models.ScopeCalendarRead},
		Invoker:     tools.InvokerFunc(r.list),
	}); err != nil {
		return err
	}
	return reg.Register(&tools.Descriptor{
		Name:        "create_calendar_event",
		Description: "Creates a calendar event.",
		Parameters:  tools.SchemaFor[createArgs](),
		Scopes:      []models.Scope{models.ScopeCalendarWrite},
		Invoker:     tools.InvokerFunc(r.create),
	})
}

func (r *registration) list(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := tools.Decode[listArgs](raw)
	if err != nil {
		return "", err
	}
	start := r.now()
	if args.StartTime != "" {
		if start, err = ParseTime(args.StartTime); err != nil {
			return "", err
		}
	}
	end := start.Add(DefaultWindow)
	if args.EndTime != "" {
		if end, err = ParseTime(args.EndTime); err != nil {
			return "", err
		}
	}
	if !end.After(start) {
		return "", fmt.Errorf("%w: end_time must be after start_time", tools.ErrInvalidArguments)
	}

	events, err := r.cal.List(ctx, start, end, maxEvents)
	if err != nil {
		return "", fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 {
		return fmt.Sprintf("No events between %s and %s.", start.Format(time.RFC3339), end.Format(time.RFC3339)), nil
	}
	return tools.Render(events)
}

func (r *registration) create(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := tools.Decode[createArgs](raw)
	if err != nil {
		return "", err
	}
	start, err := ParseTime(args.StartTime)
	if err != nil {
		return "", err
	}
	end, err := ParseTime(args.EndTime)
	if err != nil {
		return "", err
	}
	if !end.After(start) {
		return "", fmt.Errorf("%w: end_time must be after start_time", tools.ErrInvalidArguments)
	}
	ev, err := r.cal.Create(ctx, NewEvent{
		Summary:     strings.TrimSpace(args.Summary),
		Description: args.Description,
		Start:       start,
		End:         end,
	})
	if err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	out := fmt.Sprintf("Created %q on %s.", ev.Summary, ev.Start.Format("Mon Jan 2 15:04 MST"))
	if ev.Link != "" {
		out += " " + ev.Link
	}
	return out, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts RFC3339 and a few ISO-like layouts. Layouts without a
// zone are read as UTC.
func ParseTime(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized time %q", tools.ErrInvalidArguments, value)
}
