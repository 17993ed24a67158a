// Package reminders exposes the reminder service as agent tools.
package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devanshuguptaa/Converge-AI/internal/reminders"
	"github.com/devanshuguptaa/Converge-AI/internal/tools"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// Service is the subset of reminders.Service the tools call.
type Service interface {
	Schedule(req reminders.Request) (reminders.Reminder, error)
	Cancel(userID, id string) error
	List(userID string) []reminders.Reminder
}

type scheduleArgs struct {
	Message string `json:"message" jsonschema:"minLength=1" jsonschema_description:"What to remind the user about"`
	At      string `json:"at,omitempty" jsonschema_description:"When to fire once: RFC3339, 'YYYY-MM-DD HH:MM', 'HH:MM' or 'in 20 minutes'"`
	Cron    string `json:"cron,omitempty" jsonschema_description:"Recurring schedule as a cron expression or '@every 1h'"`
}

type cancelArgs struct {
	ReminderID string `json:"reminder_id" jsonschema:"minLength=1" jsonschema_description:"ID returned by schedule_reminder or list_reminders"`
}

// Register adds schedule_reminder, cancel_reminder and list_reminders.
func Register(reg *tools.Registry, svc Service) error {
	if svc == nil {
		return errors.New("reminders: service is required")
	}
	descs := []*tools.Descriptor{
		{
			Name:        "schedule_reminder",
			Description: "Schedules a reminder that is posted back into this conversation. Set exactly one of at or cron.",
			Parameters:  tools.SchemaFor[scheduleArgs](),
			Scopes:      []models.Scope{models.ScopeRemindersWrite},
			Invoker: tools.InvokerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) {
				caller, ok := tools.CallerFrom(ctx)
				if !ok || caller.UserID == "" {
					return "", errors.New("reminders require a calling user")
				}
				args, err := tools.Decode[scheduleArgs](raw)
				if err != nil {
					return "", err
				}
				r, err := svc.Schedule(reminders.Request{
					UserID:  caller.UserID,
					Target:  caller.Session,
					Message: args.Message,
					At:      args.At,
					Cron:    args.Cron,
				})
				if err != nil {
					if errors.Is(err, reminders.ErrInvalidWhen) || errors.Is(err, reminders.ErrInPast) {
						return "", fmt.Errorf("%w: %v", tools.ErrInvalidArguments, err)
					}
					return "", err
				}
				kind := "once"
				if r.Recurring {
					kind = "recurring (" + r.Schedule + ")"
				}
				return fmt.Sprintf("Reminder %s scheduled %s, next at %s.", r.ID, kind, r.NextRun.Format(time.RFC1123)), nil
			}),
		},
		{
			Name:        "cancel_reminder",
			Description: "Cancels one of the user's reminders.",
			Parameters:  tools.SchemaFor[cancelArgs](),
			Scopes:      []models.Scope{models.ScopeRemindersWrite},
			Invoker: tools.InvokerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) {
				caller, _ := tools.CallerFrom(ctx)
				args, err := tools.Decode[cancelArgs](raw)
				if err != nil {
					return "", err
				}
				if err := svc.Cancel(caller.UserID, args.ReminderID); err != nil {
					if errors.Is(err, reminders.ErrNotFound) {
						return fmt.Sprintf("No active reminder with id %s.", args.ReminderID), nil
					}
					return "", err
				}
				return "Reminder cancelled.", nil
			}),
		},
		{
			Name:        "list_reminders",
			Description: "Lists the user's active reminders.",
			Parameters:  tools.EmptySchema,
			Scopes:      []models.Scope{models.ScopeRemindersWrite},
			Invoker: tools.InvokerFunc(func(ctx context.Context, _ json.RawMessage) (string, error) {
				caller, _ := tools.CallerFrom(ctx)
				list := svc.List(caller.UserID)
				if len(list) == 0 {
					return "No active reminders.", nil
				}
				var b strings.Builder
				for _, r := range list {
					fmt.Fprintf(&b, "- %s: %q at %s\n", r.ID, r.Message, r.NextRun.Format(time.RFC1123))
				}
				return strings.TrimRight(b.String(), "\n"), nil
			}),
		},
	}
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}
