// Package sessions owns conversation state: per-key turn history, the
// exclusive lock that keeps at most one turn pending per session, a bounded
// queue for messages that arrive while a turn is running, and idle eviction.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devanshuguptaa/Converge-AI/internal/observability"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// Config tunes the Manager.
type Config struct {
	// IdleTimeout is how long an unheld session stays in memory.
	IdleTimeout time.Duration

	// QueueDepth bounds the per-session FIFO of waiting messages.
	QueueDepth int

	// HistoryLimit caps turns kept in memory per session.
	HistoryLimit int
}

// DefaultConfig returns the default manager settings.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:  30 * time.Minute,
		QueueDepth:   5,
		HistoryLimit: DefaultMaxTurns,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = d.QueueDepth
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	return c
}

// session is the in-memory state for one key. Every field is guarded by
// Manager.mu.
type session struct {
	key        models.SessionKey
	userID     string
	turns      []*models.Turn
	lastSeq    int64
	held       *Handle
	lastActive time.Time
	queue      []*models.InboundMessage
}

// Handle is exclusive ownership of a session for one turn.
type Handle struct {
	key      models.SessionKey
	userID   string
	seq      int64
	released atomic.Bool
}

// Key returns the session key.
func (h *Handle) Key() models.SessionKey { return h.key }

// UserID returns the user the session was acquired for.
func (h *Handle) UserID() string { return h.userID }

// Seq returns the sequence number the next appended turn must carry.
func (h *Handle) Seq() int64 { return h.seq }

// Released reports whether Release was called.
func (h *Handle) Released() bool { return h.released.Load() }

// Job is a queued message handed over together with the session lock.
type Job struct {
	Message *models.InboundMessage
	Handle  *Handle
}

// Manager coordinates sessions. It is safe for concurrent use.
type Manager struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[models.SessionKey]*session
}

// NewManager creates a manager over store. A nil store keeps history in
// memory only.
func NewManager(store Store, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	cfg = cfg.withDefaults()
	if store == nil {
		store = NewMemoryStore(cfg.HistoryLimit)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "sessions"),
		metrics:  metrics,
		now:      time.Now,
		sessions: make(map[models.SessionKey]*session),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Acquire takes exclusive ownership of the session for key. It returns
// ErrSessionBusy if another handle holds it. A session seen for the first
// time is created and its persisted history loaded.
func (m *Manager) Acquire(ctx context.Context, key models.SessionKey, userID string) (*Handle, error) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		if s.held != nil {
			m.mu.Unlock()
			return nil, ErrSessionBusy
		}
		h := m.claimLocked(s, userID)
		m.mu.Unlock()
		return h, nil
	}

	// Claim a placeholder so concurrent acquirers see Busy while the store
	// loads outside the lock.
	s = &session{key: key, userID: userID, lastActive: m.now()}
	m.sessions[key] = s
	h := m.claimLocked(s, userID)
	m.reportLocked()
	m.mu.Unlock()

	turns, err := m.store.Load(ctx, key)
	if err != nil {
		m.mu.Lock()
		dropped := len(s.queue)
		delete(m.sessions, key)
		m.reportLocked()
		m.mu.Unlock()
		h.released.Store(true)
		if dropped > 0 {
			m.logger.Warn("dropped queued messages after load failure", "session", key.String(), "count", dropped)
		}
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}

	m.mu.Lock()
	if len(turns) > m.cfg.HistoryLimit {
		turns = turns[len(turns)-m.cfg.HistoryLimit:]
	}
	s.turns = turns
	if n := len(turns); n > 0 {
		s.lastSeq = turns[n-1].Seq
	}
	h.seq = s.lastSeq + 1
	m.mu.Unlock()

	m.logger.Debug("session created", "session", key.String(), "turns", len(turns))
	return h, nil
}

func (m *Manager) claimLocked(s *session, userID string) *Handle {
	if userID != "" {
		s.userID = userID
	}
	h := &Handle{key: s.key, userID: s.userID, seq: s.lastSeq + 1}
	s.held = h
	s.lastActive = m.now()
	return h
}

// Release gives up the handle. It is idempotent. When a message is queued
// for the session, ownership passes straight to a new handle returned in
// the Job so queued messages run in arrival order.
func (m *Manager) Release(h *Handle) *Job {
	if h == nil || h.released.Swap(true) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[h.key]
	if !ok || s.held != h {
		return nil
	}
	s.held = nil
	s.lastActive = m.now()
	if len(s.queue) == 0 {
		return nil
	}

	msg := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	next := m.claimLocked(s, msg.SenderID)
	return &Job{Message: msg, Handle: next}
}

// AppendTurn records a finished turn. The handle must be live, the turn
// final, and its Seq must equal h.Seq(). The turn is persisted first; if
// that fails the in-memory history still advances and the error is
// returned for logging.
func (m *Manager) AppendTurn(ctx context.Context, h *Handle, turn *models.Turn) error {
	if turn == nil {
		return errors.New("turn is required")
	}
	if !turn.Status.IsFinal() {
		return ErrTurnNotFinal
	}

	m.mu.Lock()
	s, err := m.liveLocked(h)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if turn.Seq != s.lastSeq+1 {
		m.mu.Unlock()
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, turn.Seq, s.lastSeq+1)
	}
	m.mu.Unlock()

	storeErr := m.store.Append(ctx, h.key, turn)

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, err = m.liveLocked(h); err != nil {
		return err
	}
	s.turns = append(s.turns, turn.Clone())
	if len(s.turns) > m.cfg.HistoryLimit {
		s.turns = append([]*models.Turn(nil), s.turns[len(s.turns)-m.cfg.HistoryLimit:]...)
	}
	s.lastSeq = turn.Seq
	h.seq = s.lastSeq + 1
	s.lastActive = m.now()

	if storeErr != nil {
		return fmt.Errorf("persist turn %s: %w", turn.ID, storeErr)
	}
	return nil
}

func (m *Manager) liveLocked(h *Handle) (*session, error) {
	if h == nil || h.released.Load() {
		return nil, ErrHandleReleased
	}
	s, ok := m.sessions[h.key]
	if !ok || s.held != h {
		return nil, ErrHandleReleased
	}
	return s, nil
}

// Enqueue parks msg behind the running turn and returns its 1-based queue
// position. It returns ErrQueueFull past QueueDepth and ErrSessionIdle when
// no turn is running.
func (m *Manager) Enqueue(key models.SessionKey, msg *models.InboundMessage) (int, error) {
	if msg == nil {
		return 0, errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok || s.held == nil {
		return 0, ErrSessionIdle
	}
	if len(s.queue) >= m.cfg.QueueDepth {
		return 0, ErrQueueFull
	}
	s.queue = append(s.queue, msg)
	return len(s.queue), nil
}

// QueueLen returns how many messages wait for key.
func (m *Manager) QueueLen(key models.SessionKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return len(s.queue)
	}
	return 0
}

// View returns a read-only snapshot of the session held by h. A stale
// handle yields an empty view.
func (m *Manager) View(h *Handle) View {
	if h == nil {
		return View{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.liveLocked(h)
	if err != nil {
		return View{key: h.key, userID: h.userID}
	}
	turns := make([]*models.Turn, len(s.turns))
	copy(turns, s.turns)
	return View{key: s.key, userID: s.userID, turns: turns, lastSeq: s.lastSeq}
}

// Reset clears a session's history. It is refused with ErrSessionBusy while
// the session is held.
func (m *Manager) Reset(ctx context.Context, key models.SessionKey) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok && s.held != nil {
		m.mu.Unlock()
		return ErrSessionBusy
	}
	if !ok {
		s = &session{key: key}
		m.sessions[key] = s
	}
	// Hold the session while the store clears so no turn can interleave.
	guard := &Handle{key: key}
	s.held = guard
	m.mu.Unlock()

	err := m.store.Clear(ctx, key)

	m.mu.Lock()
	defer m.mu.Unlock()
	s.held = nil
	guard.released.Store(true)
	if err != nil {
		if !ok {
			delete(m.sessions, key)
		}
		return fmt.Errorf("reset session %s: %w", key, err)
	}
	s.turns = nil
	s.lastActive = m.now()
	if len(s.queue) == 0 {
		delete(m.sessions, key)
	}
	m.reportLocked()
	m.logger.Info("session reset", "session", key.String())
	return nil
}

// EvictIdle drops sessions idle longer than IdleTimeout. Held sessions and
// sessions with queued messages are kept. Evicted history is reloaded from
// the store on the next Acquire.
func (m *Manager) EvictIdle(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for key, s := range m.sessions {
		if s.held != nil || len(s.queue) > 0 {
			continue
		}
		if now.Sub(s.lastActive) > m.cfg.IdleTimeout {
			delete(m.sessions, key)
			evicted++
		}
	}
	if evicted > 0 {
		m.reportLocked()
		m.logger.Debug("evicted idle sessions", "count", evicted, "remaining", len(m.sessions))
	}
	return evicted
}

// Len returns the number of sessions in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close closes the store if it holds resources.
func (m *Manager) Close() error {
	if c, ok := m.store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (m *Manager) reportLocked() {
	m.metrics.SetActiveSessions(len(m.sessions))
}
