package reminders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devanshuguptaa/Converge-AI/internal/cron"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

type recordingSender struct {
	mu      sync.Mutex
	replies []*models.OutboundReply
	err     error
}

func (s *recordingSender) Send(_ context.Context, r *models.OutboundReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
	return s.err
}

var (
	target = models.SessionKey{ConversationID: "D1", ThreadID: "1.2"}
	base   = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T) (*Service, *cron.Scheduler, *recordingSender) {
	t.Helper()
	sched := cron.NewScheduler(cron.WithLocation(time.UTC))
	sender := &recordingSender{}
	svc := NewService(sched, sender, time.UTC, nil)
	svc.now = func() time.Time { return base }
	return svc, sched, sender
}

func TestParseWhen(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"in 20 minutes", base.Add(20 * time.Minute)},
		{"in 1.5 hours", base.Add(90 * time.Minute)},
		{"in 2 days", base.Add(48 * time.Hour)},
		{"2026-05-04T12:00:00Z", time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)},
		{"2026-05-05 08:30", time.Date(2026, 5, 5, 8, 30, 0, 0, time.UTC)},
		{"17:00", time.Date(2026, 5, 4, 17, 0, 0, 0, time.UTC)},
		{"08:00", time.Date(2026, 5, 5, 8, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWhen(tt.in, base, time.UTC)
			if err != nil {
				t.Fatalf("ParseWhen() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("ParseWhen() = %v, want %v", got, tt.want)
			}
		})
	}
	for _, bad := range []string{"tomorrow-ish", "in five minutes", "in 3 fortnights"} {
		if _, err := ParseWhen(bad, base, time.UTC); !errors.Is(err, ErrInvalidWhen) {
			t.Errorf("ParseWhen(%q) error = %v, want ErrInvalidWhen", bad, err)
		}
	}
}

func TestScheduleValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"both", Request{UserID: "U1", Target: target, Message: "m", At: "in 1 hour", Cron: "@hourly"}, ErrInvalidWhen},
		{"neither", Request{UserID: "U1", Target: target, Message: "m"}, ErrInvalidWhen},
		{"past", Request{UserID: "U1", Target: target, Message: "m", At: "2026-05-01T00:00:00Z"}, ErrInPast},
		{"bad cron", Request{UserID: "U1", Target: target, Message: "m", Cron: "every tuesday"}, ErrInvalidWhen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Schedule(tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("Schedule() error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := svc.Schedule(Request{UserID: "U1", Target: target, At: "in 1 hour"}); err == nil {
		t.Fatal("empty message should fail")
	}
}

func TestOneShotFiresOnceAndDeactivates(t *testing.T) {
	svc, sched, sender := newTestService(t)
	r, err := svc.Schedule(Request{UserID: "U1", Target: target, Message: "stand up", At: "in 10 minutes"})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if r.Recurring || !r.NextRun.Equal(base.Add(10*time.Minute)) {
		t.Fatalf("Schedule() = %+v", r)
	}
	if !sched.Has(jobName(r.ID)) {
		t.Fatal("job not registered")
	}

	if err := svc.fire(context.Background(), r.ID); err != nil {
		t.Fatalf("fire() error = %v", err)
	}
	if err := svc.fire(context.Background(), r.ID); err != nil {
		t.Fatalf("second fire() error = %v", err)
	}
	if len(sender.replies) != 1 {
		t.Fatalf("sent %d replies, want 1", len(sender.replies))
	}
	got := sender.replies[0]
	if got.Text != "Reminder: stand up" || got.ConversationID != "D1" || got.ThreadID != "1.2" {
		t.Fatalf("reply = %+v", got)
	}
	if len(svc.List("U1")) != 0 {
		t.Fatal("fired one-shot reminder should not be listed")
	}
}

func TestRecurringStaysActive(t *testing.T) {
	svc, _, sender := newTestService(t)
	r, err := svc.Schedule(Request{UserID: "U1", Target: target, Message: "drink water", Cron: "0 */2 * * *"})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if !r.Recurring {
		t.Fatal("cron reminder should be recurring")
	}
	for i := 0; i < 2; i++ {
		if err := svc.fire(context.Background(), r.ID); err != nil {
			t.Fatal(err)
		}
	}
	if len(sender.replies) != 2 {
		t.Fatalf("sent %d replies, want 2", len(sender.replies))
	}
	got, _ := svc.Get(r.ID)
	if !got.Active || got.Fired != 2 {
		t.Fatalf("reminder = %+v", got)
	}
}

func TestCancel(t *testing.T) {
	svc, sched, sender := newTestService(t)
	r, err := svc.Schedule(Request{UserID: "U1", Target: target, Message: "x", Cron: "@every 1h"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Cancel("U2", r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel(other user) error = %v, want ErrNotFound", err)
	}
	if err := svc.Cancel("U1", r.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if sched.Has(jobName(r.ID)) {
		t.Fatal("cancelled job still scheduled")
	}
	_ = svc.fire(context.Background(), r.ID)
	if len(sender.replies) != 0 {
		t.Fatal("cancelled reminder fired")
	}
	if err := svc.Cancel("U1", r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Cancel() error = %v, want ErrNotFound", err)
	}
}

func TestListSortedAndScoped(t *testing.T) {
	svc, _, _ := newTestService(t)
	late, _ := svc.Schedule(Request{UserID: "U1", Target: target, Message: "late", At: "in 3 hours"})
	early, _ := svc.Schedule(Request{UserID: "U1", Target: target, Message: "early", At: "in 1 hour"})
	if _, err := svc.Schedule(Request{UserID: "U2", Target: target, Message: "other", At: "in 1 hour"}); err != nil {
		t.Fatal(err)
	}
	list := svc.List("U1")
	if len(list) != 2 || list[0].ID != early.ID || list[1].ID != late.ID {
		t.Fatalf("List() = %+v", list)
	}
}

func TestFireSendError(t *testing.T) {
	svc, _, sender := newTestService(t)
	sender.err = errors.New("channel_not_found")
	r, _ := svc.Schedule(Request{UserID: "U1", Target: target, Message: "x", At: "in 1 minute"})
	if err := svc.fire(context.Background(), r.ID); err == nil {
		t.Fatal("fire() should report delivery errors")
	}
}
