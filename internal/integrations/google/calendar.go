package google

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	calendartools "github.com/devanshuguptaa/Converge-AI/internal/tools/calendar"
)

const primaryCalendar = "primary"

// Calendar implements calendar.Calendar on the Google Calendar API.
type Calendar struct {
	svc *calendar.Service
	id  string
}

var _ calendartools.Calendar = (*Calendar)(nil)

// NewCalendar creates a client for the user's primary calendar.
func NewCalendar(ctx context.Context, opts ...option.ClientOption) (*Calendar, error) {
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &Calendar{svc: svc, id: primaryCalendar}, nil
}

// List returns single events starting within [start, end), ordered by
// start time.
func (c *Calendar) List(ctx context.Context, start, end time.Time, limit int) ([]calendartools.Event, error) {
	resp, err := c.svc.Events.List(c.id).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(int64(limit)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]calendartools.Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		out = append(out, convertEvent(item))
	}
	return out, nil
}

// Create inserts a timed event.
func (c *Calendar) Create(ctx context.Context, ev calendartools.NewEvent) (*calendartools.Event, error) {
	created, err := c.svc.Events.Insert(c.id, &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	out := convertEvent(created)
	return &out, nil
}

func convertEvent(item *calendar.Event) calendartools.Event {
	ev := calendartools.Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Link:        item.HtmlLink,
	}
	ev.Start, ev.AllDay = eventTime(item.Start)
	ev.End, _ = eventTime(item.End)
	for _, a := range item.Attendees {
		if a.Email != "" {
			ev.Attendees = append(ev.Attendees, a.Email)
		}
	}
	return ev
}

// eventTime reads either a timed or an all-day boundary.
func eventTime(dt *calendar.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, _ := time.Parse(time.RFC3339, dt.DateTime)
		return t, false
	}
	if dt.Date != "" {
		t, _ := time.Parse("2006-01-02", dt.Date)
		return t, true
	}
	return time.Time{}, false
}
