package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devanshuguptaa/Converge-AI/internal/agent"
	"github.com/devanshuguptaa/Converge-AI/internal/commands"
	"github.com/devanshuguptaa/Converge-AI/internal/pairing"
	"github.com/devanshuguptaa/Converge-AI/internal/sessions"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

type fakeTransport struct {
	in chan *models.InboundMessage

	mu      sync.Mutex
	replies []*models.OutboundReply
	reacted []string
	sent    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan *models.InboundMessage, 16), sent: make(chan struct{}, 64)}
}

func (f *fakeTransport) Messages() <-chan *models.InboundMessage { return f.in }

func (f *fakeTransport) Send(_ context.Context, r *models.OutboundReply) error {
	f.mu.Lock()
	f.replies = append(f.replies, r)
	f.mu.Unlock()
	f.sent <- struct{}{}
	return nil
}

func (f *fakeTransport) React(_ context.Context, m *models.InboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacted = append(f.reacted, "+"+m.MessageTS)
	return nil
}

func (f *fakeTransport) Unreact(_ context.Context, m *models.InboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacted = append(f.reacted, "-"+m.MessageTS)
	return nil
}

func (f *fakeTransport) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.replies))
	for i, r := range f.replies {
		out[i] = r.Text
	}
	return out
}

func (f *fakeTransport) waitReplies(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.sent:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for reply %d of %d; got %v", i+1, n, f.texts())
		}
	}
}

// echoRunner answers "echo: <text> (history N)". Messages starting with
// "slow" block until release is closed.
type echoRunner struct {
	started chan string
	release chan struct{}

	mu     sync.Mutex
	active int
	max    int
	panics bool
	grants map[string]models.ScopeSet
}

func newEchoRunner() *echoRunner {
	return &echoRunner{started: make(chan string, 16), release: make(chan struct{})}
}

func (r *echoRunner) Run(_ context.Context, in *agent.TurnInput) *models.Turn {
	r.mu.Lock()
	r.active++
	if r.active > r.max {
		r.max = r.active
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	r.mu.Lock()
	if r.grants == nil {
		r.grants = map[string]models.ScopeSet{}
	}
	r.grants[in.UserID] = in.Granted
	r.mu.Unlock()

	r.started <- in.Text
	if r.panics {
		panic("boom")
	}
	if strings.HasPrefix(in.Text, "slow") {
		<-r.release
	}
	turn := models.NewTurn(fmt.Sprintf("t-%s", in.Text), in.Key, in.UserID, in.Text)
	turn.Seq = in.Seq
	_ = turn.Finish(models.TurnCompleted, fmt.Sprintf("echo: %s (history %d)", in.Text, len(in.Session.History())), nil)
	return turn
}

type harness struct {
	gw        *Gateway
	transport *fakeTransport
	runner    *echoRunner
	sessions  *sessions.Manager
}

func newHarness(t *testing.T, cfg Config, pair *pairing.Store) *harness {
	t.Helper()
	tr := newFakeTransport()
	runner := newEchoRunner()
	mgr := sessions.NewManager(nil, sessions.Config{QueueDepth: 1}, nil, nil)
	cmds := commands.NewRegistry(nil)
	if err := commands.RegisterBuiltins(cmds, mgr, func(err error) bool { return errors.Is(err, sessions.ErrSessionBusy) }); err != nil {
		t.Fatal(err)
	}
	gw, err := New(cfg, Deps{Transport: tr, Sessions: mgr, Agent: runner, Commands: cmds, Pairing: pair})
	if err != nil {
		t.Fatal(err)
	}
	return &harness{gw: gw, transport: tr, runner: runner, sessions: mgr}
}

func dm(user, text string) *models.InboundMessage {
	return &models.InboundMessage{ConversationID: "D" + user, SenderID: user, Text: text, MessageTS: "1." + text, IsDM: true}
}

func mention(user, text string) *models.InboundMessage {
	return &models.InboundMessage{ConversationID: "C1", ThreadID: "100.1", SenderID: user, Text: text, MessageTS: "2." + text}
}

func TestHandleRunsTurnAndReplies(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	msg := mention("U1", "what's up")
	h.gw.Handle(context.Background(), msg)

	h.transport.waitReplies(t, 1)
	got := h.transport.replies[0]
	if got.Text != "echo: what's up (history 0)" || got.ThreadID != "100.1" || got.ConversationID != "C1" {
		t.Fatalf("reply = %+v", got)
	}
	if strings.Join(h.transport.reacted, ",") != "+2.what's up,-2.what's up" {
		t.Fatalf("reactions = %v", h.transport.reacted)
	}

	h.gw.Handle(context.Background(), mention("U1", "again"))
	h.transport.waitReplies(t, 1)
	if h.transport.texts()[1] != "echo: again (history 1)" {
		t.Fatalf("second reply = %q", h.transport.texts()[1])
	}
}

func TestBusySessionQueuesAndProcessesAfter(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		h.gw.Handle(ctx, mention("U1", "slow first"))
		close(done)
	}()
	if got := <-h.runner.started; got != "slow first" {
		t.Fatalf("started %q", got)
	}

	// Same session while the first turn runs: queued, no reply yet.
	h.gw.Handle(ctx, mention("U2", "second"))
	if n := h.sessions.QueueLen(models.SessionKey{ConversationID: "C1", ThreadID: "100.1"}); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}

	// Queue depth is 1, so a third message gets the busy notice.
	h.gw.Handle(ctx, mention("U3", "third"))
	h.transport.waitReplies(t, 1)
	if h.transport.texts()[0] != BusyText {
		t.Fatalf("notice = %q", h.transport.texts()[0])
	}

	close(h.runner.release)
	<-done
	h.transport.waitReplies(t, 2)

	texts := h.transport.texts()
	if texts[1] != "echo: slow first (history 0)" || texts[2] != "echo: second (history 1)" {
		t.Fatalf("replies = %v", texts)
	}
	if h.runner.max != 1 {
		t.Fatalf("max concurrent turns for one session = %d", h.runner.max)
	}
}

func TestDistinctSessionsRunConcurrently(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for _, user := range []string{"U1", "U2"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			h.gw.Handle(ctx, dm(u, "slow "+u))
		}(user)
	}
	<-h.runner.started
	<-h.runner.started
	close(h.runner.release)
	wg.Wait()
	if h.runner.max != 2 {
		t.Fatalf("max concurrent = %d, want 2", h.runner.max)
	}
}

func TestCommandsBypassAgent(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	h.gw.Handle(ctx, dm("U1", "hello"))
	h.transport.waitReplies(t, 1)
	<-h.runner.started

	h.gw.Handle(ctx, dm("U1", "/help"))
	h.gw.Handle(ctx, dm("U1", "reset"))
	h.transport.waitReplies(t, 2)
	texts := h.transport.texts()
	if texts[1] != commands.HelpText || texts[2] != commands.ResetText {
		t.Fatalf("replies = %q", texts[1:])
	}

	h.gw.Handle(ctx, dm("U1", "after reset"))
	h.transport.waitReplies(t, 1)
	if got := h.transport.texts()[3]; got != "echo: after reset (history 0)" {
		t.Fatalf("after reset = %q", got)
	}
	select {
	case extra := <-h.runner.started:
		if extra != "after reset" {
			t.Fatalf("agent ran for %q", extra)
		}
	default:
	}
}

func TestAllowlistPolicy(t *testing.T) {
	h := newHarness(t, Config{Access: AccessConfig{DMPolicy: PolicyAllowlist, AllowedUsers: []string{"U1"}}}, nil)
	ctx := context.Background()

	h.gw.Handle(ctx, dm("U2", "let me in"))
	h.gw.Handle(ctx, dm("U1", "hi"))
	h.gw.Handle(ctx, mention("U2", "in a channel"))
	h.transport.waitReplies(t, 3)

	texts := h.transport.texts()
	if texts[0] != DeniedText || texts[1] != "echo: hi (history 0)" || !strings.HasPrefix(texts[2], "echo: in a channel") {
		t.Fatalf("replies = %v", texts)
	}

	h.gw.SetAccess(AccessConfig{DMPolicy: PolicyAllowlist, AllowedUsers: []string{"U1", "U2"}})
	h.gw.Handle(ctx, dm("U2", "now?"))
	h.transport.waitReplies(t, 1)
	if !strings.HasPrefix(h.transport.texts()[3], "echo: now?") {
		t.Fatalf("after reload = %q", h.transport.texts()[3])
	}
}

func TestPairingPolicy(t *testing.T) {
	store, err := pairing.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, Config{Access: AccessConfig{DMPolicy: PolicyPairing}}, store)
	ctx := context.Background()

	h.gw.Handle(ctx, dm("U9", "hello"))
	h.transport.waitReplies(t, 1)
	pending, _ := store.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %v", pending)
	}
	if want := fmt.Sprintf(PairingTextFormat, pending[0].Code); h.transport.texts()[0] != want {
		t.Fatalf("notice = %q, want %q", h.transport.texts()[0], want)
	}

	if _, err := store.Approve(pending[0].Code); err != nil {
		t.Fatal(err)
	}
	h.gw.Handle(ctx, dm("U9", "hello again"))
	h.transport.waitReplies(t, 1)
	if !strings.HasPrefix(h.transport.texts()[1], "echo: hello again") {
		t.Fatalf("after approval = %q", h.transport.texts()[1])
	}
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, Config{Access: AccessConfig{RatePerMinute: 1, Burst: 1}}, nil)
	ctx := context.Background()
	h.gw.Handle(ctx, dm("U1", "one"))
	h.gw.Handle(ctx, dm("U1", "two"))
	h.gw.Handle(ctx, dm("U2", "other user"))
	h.transport.waitReplies(t, 3)
	texts := h.transport.texts()
	if texts[1] != RateLimitText || !strings.HasPrefix(texts[2], "echo: other user") {
		t.Fatalf("replies = %v", texts)
	}
}

func TestPanicRepliesWithError(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.runner.panics = true
	msg := dm("U1", "explode")
	h.gw.Handle(context.Background(), msg)
	h.transport.waitReplies(t, 1)
	if h.transport.texts()[0] != ErrorText {
		t.Fatalf("reply = %q", h.transport.texts()[0])
	}
	// The session lock was released despite the panic.
	hd, err := h.sessions.Acquire(context.Background(), msg.Key(), "U1")
	if err != nil {
		t.Fatalf("Acquire() after panic error = %v", err)
	}
	h.sessions.Release(hd)
}

func TestRunConsumesUntilClosed(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.transport.in <- dm("U1", "a")
	h.transport.in <- dm("U2", "b")
	close(h.transport.in)
	if err := h.gw.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(h.transport.texts()) != 2 {
		t.Fatalf("replies = %v", h.transport.texts())
	}
}

func TestUserLimiterDisabled(t *testing.T) {
	var l *userLimiter
	if !l.Allow("anyone") {
		t.Fatal("nil limiter should allow")
	}
	if newUserLimiter(0, 3) != nil {
		t.Fatal("zero rate should disable limiting")
	}
}

func (r *echoRunner) grantedTo(user string) models.ScopeSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grants[user]
}

func TestGrantedScopes(t *testing.T) {
	shared := models.NewScopeSet(models.ScopeMemoryRead)
	h := newHarness(t, Config{Granted: shared}, nil)
	h.gw.Handle(context.Background(), dm("U1", "hi"))
	h.transport.waitReplies(t, 1)
	if got := h.runner.grantedTo("U1"); !got.Has(models.ScopeMemoryRead) || len(got) != 1 {
		t.Fatalf("granted to U1 = %v", got)
	}

	h = newHarness(t, Config{
		Granted: shared,
		Grants: func(user string) models.ScopeSet {
			if user == "U2" {
				return models.NewScopeSet(models.ScopeMailRead)
			}
			return models.ScopeSet{}
		},
	}, nil)
	h.gw.Handle(context.Background(), dm("U2", "inbox"))
	h.gw.Handle(context.Background(), dm("U3", "inbox"))
	h.transport.waitReplies(t, 2)
	if got := h.runner.grantedTo("U2"); !got.Has(models.ScopeMailRead) || got.Has(models.ScopeMemoryRead) {
		t.Fatalf("granted to U2 = %v", got)
	}
	if got := h.runner.grantedTo("U3"); len(got) != 0 {
		t.Fatalf("granted to U3 = %v", got)
	}
}
