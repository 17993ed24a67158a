package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devanshuguptaa/Converge-AI/internal/cron"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

type failingStore struct {
	*MemoryStore
	loadErr   error
	appendErr error
	clearErr  error
}

func (s *failingStore) Load(ctx context.Context, key models.SessionKey) ([]*models.Turn, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.MemoryStore.Load(ctx, key)
}

func (s *failingStore) Append(ctx context.Context, key models.SessionKey, turn *models.Turn) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.MemoryStore.Append(ctx, key, turn)
}

func (s *failingStore) Clear(ctx context.Context, key models.SessionKey) error {
	if s.clearErr != nil {
		return s.clearErr
	}
	return s.MemoryStore.Clear(ctx, key)
}

func newTestManager(store Store) *Manager {
	return NewManager(store, Config{QueueDepth: 2}, nil, nil)
}

func completeTurn(t *testing.T, m *Manager, h *Handle, input string) *models.Turn {
	t.Helper()
	turn := models.NewTurn("t-"+input, h.Key(), h.UserID(), input)
	turn.Seq = h.Seq()
	if err := turn.Finish(models.TurnCompleted, "re: "+input, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendTurn(context.Background(), h, turn); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	return turn
}

func TestAcquireBusy(t *testing.T) {
	m := newTestManager(nil)
	ctx := context.Background()

	h, err := m.Acquire(ctx, testKey, "U1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := m.Acquire(ctx, testKey, "U1"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("second Acquire() error = %v, want ErrSessionBusy", err)
	}

	other := models.SessionKey{ConversationID: "D999"}
	if _, err := m.Acquire(ctx, other, "U2"); err != nil {
		t.Fatalf("Acquire(other) error = %v", err)
	}

	if job := m.Release(h); job != nil {
		t.Fatalf("Release() = %+v, want no job", job)
	}
	if _, err := m.Acquire(ctx, testKey, "U1"); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := newTestManager(nil)
	h, _ := m.Acquire(context.Background(), testKey, "U1")
	m.Release(h)
	if !h.Released() {
		t.Fatal("expected released handle")
	}
	if job := m.Release(h); job != nil {
		t.Fatal("second Release() should be a no-op")
	}
	if m.Release(nil) != nil {
		t.Fatal("Release(nil) should be a no-op")
	}
}

func TestQueuedMessageRunsWithUpdatedHistory(t *testing.T) {
	m := newTestManager(nil)
	ctx := context.Background()

	h, err := m.Acquire(ctx, testKey, "U1")
	if err != nil {
		t.Fatal(err)
	}

	queued := &models.InboundMessage{ConversationID: testKey.ConversationID, ThreadID: testKey.ThreadID, SenderID: "U1", Text: "and tomorrow?"}
	pos, err := m.Enqueue(testKey, queued)
	if err != nil || pos != 1 {
		t.Fatalf("Enqueue() = %d, %v; want position 1", pos, err)
	}

	first := completeTurn(t, m, h, "what's on today?")
	job := m.Release(h)
	if job == nil {
		t.Fatal("Release() should hand over the queued message")
	}
	if job.Message != queued {
		t.Fatal("handed over the wrong message")
	}
	if _, err := m.Acquire(ctx, testKey, "U1"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("session should stay held across the handoff, got %v", err)
	}

	view := m.View(job.Handle)
	if view.Len() != 1 || view.History()[0].ID != first.ID {
		t.Fatalf("queued turn sees %d turns, want the first turn", view.Len())
	}
	if job.Handle.Seq() != 2 {
		t.Fatalf("next Seq = %d, want 2", job.Handle.Seq())
	}
	completeTurn(t, m, job.Handle, queued.Text)
	if m.Release(job.Handle) != nil {
		t.Fatal("queue should be drained")
	}
}

func TestEnqueueLimits(t *testing.T) {
	m := newTestManager(nil)
	msg := &models.InboundMessage{ConversationID: testKey.ConversationID, ThreadID: testKey.ThreadID, SenderID: "U1", Text: "hi"}

	if _, err := m.Enqueue(testKey, msg); !errors.Is(err, ErrSessionIdle) {
		t.Fatalf("Enqueue() on idle session error = %v, want ErrSessionIdle", err)
	}

	h, _ := m.Acquire(context.Background(), testKey, "U1")
	defer m.Release(h)
	for i := 0; i < 2; i++ {
		if _, err := m.Enqueue(testKey, msg); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	if _, err := m.Enqueue(testKey, msg); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue() past depth error = %v, want ErrQueueFull", err)
	}
	if m.QueueLen(testKey) != 2 {
		t.Fatalf("QueueLen() = %d, want 2", m.QueueLen(testKey))
	}
}

func TestQueueDrainsInArrivalOrder(t *testing.T) {
	m := newTestManager(nil)
	h, _ := m.Acquire(context.Background(), testKey, "U1")
	for _, text := range []string{"first", "second"} {
		if _, err := m.Enqueue(testKey, &models.InboundMessage{ConversationID: testKey.ConversationID, ThreadID: testKey.ThreadID, SenderID: "U1", Text: text}); err != nil {
			t.Fatal(err)
		}
	}

	var order []string
	for job := m.Release(h); job != nil; job = m.Release(job.Handle) {
		order = append(order, job.Message.Text)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("drain order = %v", order)
	}
}

func TestAppendTurnValidation(t *testing.T) {
	m := newTestManager(nil)
	ctx := context.Background()
	h, _ := m.Acquire(ctx, testKey, "U1")

	pending := models.NewTurn("p", testKey, "U1", "x")
	pending.Seq = 1
	if err := m.AppendTurn(ctx, h, pending); !errors.Is(err, ErrTurnNotFinal) {
		t.Fatalf("AppendTurn(pending) error = %v, want ErrTurnNotFinal", err)
	}

	skipped := models.NewTurn("s", testKey, "U1", "x")
	skipped.Seq = 3
	_ = skipped.Finish(models.TurnCompleted, "ok", nil)
	if err := m.AppendTurn(ctx, h, skipped); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("AppendTurn(seq 3) error = %v, want ErrOutOfOrder", err)
	}

	m.Release(h)
	late := models.NewTurn("l", testKey, "U1", "x")
	late.Seq = 1
	_ = late.Finish(models.TurnFailed, "", errors.New("boom"))
	if err := m.AppendTurn(ctx, h, late); !errors.Is(err, ErrHandleReleased) {
		t.Fatalf("AppendTurn(released) error = %v, want ErrHandleReleased", err)
	}
}

func TestHistoryReloadedAfterEviction(t *testing.T) {
	store := NewMemoryStore(0)
	m := newTestManager(store)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	h, _ := m.Acquire(ctx, testKey, "U1")
	completeTurn(t, m, h, "one")
	completeTurn(t, m, h, "two")
	m.Release(h)

	if n := m.EvictIdle(base.Add(10 * time.Minute)); n != 0 {
		t.Fatalf("EvictIdle() before timeout = %d", n)
	}
	if n := m.EvictIdle(base.Add(31 * time.Minute)); n != 1 {
		t.Fatalf("EvictIdle() = %d, want 1", n)
	}
	if m.Len() != 0 {
		t.Fatalf("Len() = %d after eviction", m.Len())
	}

	h, err := m.Acquire(ctx, testKey, "U1")
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(h)
	if v := m.View(h); v.Len() != 2 || v.LastSeq() != 2 {
		t.Fatalf("reloaded view has %d turns, last seq %d", v.Len(), v.LastSeq())
	}
	if h.Seq() != 3 {
		t.Fatalf("Seq() = %d, want 3", h.Seq())
	}
}

func TestEvictIdleKeepsHeldSessions(t *testing.T) {
	m := newTestManager(nil)
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	h, _ := m.Acquire(context.Background(), testKey, "U1")
	if n := m.EvictIdle(base.Add(2 * time.Hour)); n != 0 {
		t.Fatalf("EvictIdle() evicted a held session")
	}
	m.Release(h)
	if n := m.EvictIdle(base.Add(2 * time.Hour)); n != 1 {
		t.Fatalf("EvictIdle() = %d, want 1", n)
	}
}

func TestAcquireLoadFailure(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(0), loadErr: errors.New("db down")}
	m := newTestManager(store)

	if _, err := m.Acquire(context.Background(), testKey, "U1"); err == nil {
		t.Fatal("Acquire() should surface load errors")
	}
	if m.Len() != 0 {
		t.Fatal("failed acquire should not leave a session behind")
	}

	store.loadErr = nil
	if _, err := m.Acquire(context.Background(), testKey, "U1"); err != nil {
		t.Fatalf("Acquire() after recovery error = %v", err)
	}
}

func TestAppendTurnStoreFailureKeepsMemory(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(0), appendErr: errors.New("write failed")}
	m := newTestManager(store)
	ctx := context.Background()
	h, _ := m.Acquire(ctx, testKey, "U1")

	turn := models.NewTurn("t1", testKey, "U1", "hi")
	turn.Seq = 1
	_ = turn.Finish(models.TurnCompleted, "hello", nil)
	if err := m.AppendTurn(ctx, h, turn); err == nil {
		t.Fatal("AppendTurn() should report the store failure")
	}
	if v := m.View(h); v.Len() != 1 {
		t.Fatalf("in-memory history has %d turns, want 1", v.Len())
	}
	if h.Seq() != 2 {
		t.Fatalf("Seq() = %d, want 2", h.Seq())
	}
}

func TestReset(t *testing.T) {
	store := NewMemoryStore(0)
	m := newTestManager(store)
	ctx := context.Background()

	h, _ := m.Acquire(ctx, testKey, "U1")
	completeTurn(t, m, h, "one")
	if err := m.Reset(ctx, testKey); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("Reset() while held error = %v, want ErrSessionBusy", err)
	}
	m.Release(h)

	if err := m.Reset(ctx, testKey); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if turns, _ := store.Load(ctx, testKey); len(turns) != 0 {
		t.Fatalf("store still has %d turns", len(turns))
	}
	h, _ = m.Acquire(ctx, testKey, "U1")
	defer m.Release(h)
	if m.View(h).Len() != 0 || h.Seq() != 1 {
		t.Fatal("reset session should start empty")
	}
}

func TestResetStoreFailure(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(0), clearErr: errors.New("nope")}
	m := newTestManager(store)
	if err := m.Reset(context.Background(), testKey); err == nil {
		t.Fatal("Reset() should surface store errors")
	}
	if _, err := m.Acquire(context.Background(), testKey, "U1"); err != nil {
		t.Fatalf("session should be acquirable after failed reset: %v", err)
	}
}

func TestConcurrentAcquireSingleHolder(t *testing.T) {
	m := newTestManager(nil)
	ctx := context.Background()

	var holders, maxHolders, acquired int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Acquire(ctx, testKey, "U1")
			if err != nil {
				if !errors.Is(err, ErrSessionBusy) {
					t.Errorf("Acquire() error = %v", err)
				}
				return
			}
			atomic.AddInt32(&acquired, 1)
			n := atomic.AddInt32(&holders, 1)
			for {
				cur := atomic.LoadInt32(&maxHolders)
				if n <= cur || atomic.CompareAndSwapInt32(&maxHolders, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&holders, -1)
			m.Release(h)
		}()
	}
	wg.Wait()

	if maxHolders != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxHolders)
	}
	if acquired == 0 {
		t.Fatal("no goroutine acquired the session")
	}
}

func TestViewImplementsHistory(t *testing.T) {
	m := newTestManager(nil)
	h, _ := m.Acquire(context.Background(), testKey, "U1")
	completeTurn(t, m, h, "one")

	v := m.View(h)
	if v.Key() != testKey || v.UserID() != "U1" {
		t.Fatalf("View() = %+v", v)
	}
	completeTurn(t, m, h, "two")
	if v.Len() != 1 {
		t.Fatal("view should be a snapshot")
	}

	m.Release(h)
	if stale := m.View(h); stale.Len() != 0 {
		t.Fatal("stale handle should yield an empty view")
	}
}

func TestSweeperEvicts(t *testing.T) {
	m := NewManager(nil, Config{IdleTimeout: time.Nanosecond}, nil, nil)
	h, _ := m.Acquire(context.Background(), testKey, "U1")
	m.Release(h)
	time.Sleep(time.Millisecond)

	sched := cron.NewScheduler()
	sw, err := NewSweeper(m, sched, "", nil)
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}
	if !sched.Has(sweepJobName) {
		t.Fatal("sweep job not registered")
	}
	if n := sw.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	m := newTestManager(nil)
	if _, err := NewSweeper(m, cron.NewScheduler(), "not a schedule", nil); err == nil {
		t.Fatal("NewSweeper() should reject an invalid schedule")
	}
}
