// Package gateway routes inbound messages through access control, control
// commands and the session manager into the agent loop, and sends the
// replies back.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/devanshuguptaa/Converge-AI/internal/agent"
	"github.com/devanshuguptaa/Converge-AI/internal/commands"
	"github.com/devanshuguptaa/Converge-AI/internal/observability"
	"github.com/devanshuguptaa/Converge-AI/internal/pairing"
	"github.com/devanshuguptaa/Converge-AI/internal/sessions"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// Fixed replies.
const (
	ErrorText         = "Sorry, I encountered an error processing your message. Please try again."
	BusyText          = "I'm still processing your previous messages in this conversation. Please wait for my reply before sending more."
	RateLimitText     = "You're sending messages faster than I can keep up with. Please wait a moment and try again."
	DeniedText        = "Sorry, you're not authorized to use this assistant."
	PairingTextFormat = "I don't know you yet. Ask an operator to approve your access with `converge pairing approve %s`."
)

const (
	defaultMaxConcurrent = 64

	// maxInputBytes bounds a single message's text.
	maxInputBytes = 16 << 10
)

// Transport delivers inbound messages and sends replies.
type Transport interface {
	Messages() <-chan *models.InboundMessage
	Send(ctx context.Context, reply *models.OutboundReply) error
}

// Reactor is implemented by transports that can mark a message while it is
// being processed.
type Reactor interface {
	React(ctx context.Context, msg *models.InboundMessage) error
	Unreact(ctx context.Context, msg *models.InboundMessage) error
}

// Runner runs one turn. *agent.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context, in *agent.TurnInput) *models.Turn
}

// GrantResolver returns the scopes a sender's turns may use.
type GrantResolver func(userID string) models.ScopeSet

// Config tunes the gateway.
type Config struct {
	Access AccessConfig

	// Granted is the scope set offered to every turn when Grants is nil.
	Granted models.ScopeSet

	// Grants, when set, resolves scopes per sender.
	Grants GrantResolver

	// MaxConcurrent bounds messages handled at once. Default 64.
	MaxConcurrent int
}

// Deps are the gateway's collaborators. Commands and Pairing are optional.
type Deps struct {
	Transport Transport
	Sessions  *sessions.Manager
	Agent     Runner
	Commands  *commands.Registry
	Pairing   *pairing.Store
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Gateway is the message router.
type Gateway struct {
	transport Transport
	sessions  *sessions.Manager
	agent     Runner
	commands  *commands.Registry
	pairing   *pairing.Store
	logger    *slog.Logger
	metrics   *observability.Metrics

	grants  GrantResolver
	access  atomic.Pointer[accessState]
	sem     chan struct{}
	wg      sync.WaitGroup
}

// New wires a gateway.
func New(cfg Config, deps Deps) (*Gateway, error) {
	if deps.Transport == nil || deps.Sessions == nil || deps.Agent == nil {
		return nil, errors.New("gateway: transport, sessions and agent are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	g := &Gateway{
		transport: deps.Transport,
		sessions:  deps.Sessions,
		agent:     deps.Agent,
		commands:  deps.Commands,
		pairing:   deps.Pairing,
		logger:    logger.With("component", "gateway"),
		metrics:   deps.Metrics,
		grants:    cfg.Grants,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
	if g.grants == nil {
		granted := cfg.Granted
		g.grants = func(string) models.ScopeSet { return granted }
	}
	g.access.Store(newAccessState(cfg.Access))
	return g, nil
}

// SetAccess swaps the access policy and rate limits. Used on config reload.
func (g *Gateway) SetAccess(cfg AccessConfig) {
	g.access.Store(newAccessState(cfg))
	g.logger.Info("access policy updated", "dm_policy", cfg.DMPolicy, "allowed_users", len(cfg.AllowedUsers))
}

// Run consumes the transport until ctx is done or the message channel
// closes, then waits for in-flight messages.
func (g *Gateway) Run(ctx context.Context) error {
	messages := g.transport.Messages()
	defer g.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if msg == nil {
				continue
			}
			select {
			case g.sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			g.wg.Add(1)
			go func() {
				defer func() {
					<-g.sem
					g.wg.Done()
				}()
				g.Handle(ctx, msg)
			}()
		}
	}
}

// Handle processes one inbound message to completion, including any
// messages queued behind it for the same session.
func (g *Gateway) Handle(ctx context.Context, msg *models.InboundMessage) {
	g.metrics.MessageReceived()
	ctx = observability.AddChannel(ctx, msg.ConversationID)
	ctx = observability.AddUserID(ctx, msg.SenderID)

	st := g.access.Load()
	if notice, ok := g.admit(ctx, st, msg); !ok {
		g.reply(ctx, msg, notice)
		return
	}
	if !st.limiter.Allow(msg.SenderID) {
		g.logger.InfoContext(ctx, "rate limited", "user", msg.SenderID)
		g.reply(ctx, msg, RateLimitText)
		return
	}

	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		msg.Text = "help"
	}
	if len(msg.Text) > maxInputBytes {
		msg.Text = truncateUTF8(msg.Text, maxInputBytes)
	}

	if g.runCommand(ctx, msg) {
		return
	}

	h, err := g.acquire(ctx, msg)
	if err != nil {
		if !errors.Is(err, errQueued) {
			g.logger.ErrorContext(ctx, "acquire session failed", "session", msg.Key().String(), "error", err)
			g.reply(ctx, msg, ErrorText)
		}
		return
	}

	for h != nil {
		g.runTurn(ctx, h, msg)
		job := g.sessions.Release(h)
		if job == nil {
			return
		}
		h, msg = job.Handle, job.Message
	}
}

var errQueued = errors.New("message queued")

// acquire takes the session or parks the message behind the running turn.
func (g *Gateway) acquire(ctx context.Context, msg *models.InboundMessage) (*sessions.Handle, error) {
	key := msg.Key()
	for attempt := 0; attempt < 3; attempt++ {
		h, err := g.sessions.Acquire(ctx, key, msg.SenderID)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, sessions.ErrSessionBusy) {
			return nil, err
		}
		pos, err := g.sessions.Enqueue(key, msg)
		switch {
		case err == nil:
			g.logger.DebugContext(ctx, "message queued", "session", key.String(), "position", pos)
			return nil, errQueued
		case errors.Is(err, sessions.ErrQueueFull):
			g.reply(ctx, msg, BusyText)
			return nil, errQueued
		case errors.Is(err, sessions.ErrSessionIdle):
			// released between Acquire and Enqueue
			continue
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("session %s: %w", key, sessions.ErrSessionBusy)
}

func (g *Gateway) runCommand(ctx context.Context, msg *models.InboundMessage) bool {
	if g.commands == nil {
		return false
	}
	cmd, name, ok := g.commands.Match(msg.Text)
	if !ok {
		return false
	}
	res, err := g.commands.Execute(ctx, &commands.Invocation{Command: cmd, Name: name, Message: msg})
	if err != nil {
		g.logger.ErrorContext(ctx, "command failed", "command", cmd.Name, "error", err)
		g.reply(ctx, msg, ErrorText)
		return true
	}
	if res != nil && res.Text != "" {
		g.reply(ctx, msg, res.Text)
	}
	return true
}

// runTurn runs the agent for msg under h, records the turn and replies.
func (g *Gateway) runTurn(ctx context.Context, h *sessions.Handle, msg *models.InboundMessage) {
	ctx = observability.AddSessionID(ctx, h.Key().String())
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "turn panicked", "panic", r, "stack", string(debug.Stack()))
			g.reply(ctx, msg, ErrorText)
		}
	}()

	reactor, canReact := g.transport.(Reactor)
	if canReact {
		if err := reactor.React(ctx, msg); err != nil {
			g.logger.DebugContext(ctx, "add reaction failed", "error", err)
		}
		defer func() {
			if err := reactor.Unreact(context.WithoutCancel(ctx), msg); err != nil {
				g.logger.DebugContext(ctx, "remove reaction failed", "error", err)
			}
		}()
	}

	view := g.sessions.View(h)
	turn := g.agent.Run(ctx, &agent.TurnInput{
		Session: view,
		Key:     h.Key(),
		Seq:     h.Seq(),
		UserID:  msg.SenderID,
		Text:    msg.Text,
		Granted: g.grants(msg.SenderID),
	})
	if turn == nil {
		g.reply(ctx, msg, ErrorText)
		return
	}

	if err := g.sessions.AppendTurn(context.WithoutCancel(ctx), h, turn); err != nil {
		g.logger.WarnContext(ctx, "record turn failed", "turn_id", turn.ID, "error", err)
	}

	answer := strings.TrimSpace(turn.Answer)
	if answer == "" {
		answer = ErrorText
	}
	g.reply(ctx, msg, answer)
}

// reply sends text to msg's conversation. Delivery failures are logged.
func (g *Gateway) reply(ctx context.Context, msg *models.InboundMessage, text string) {
	if err := g.transport.Send(context.WithoutCancel(ctx), models.ReplyTo(msg, text)); err != nil {
		g.logger.WarnContext(ctx, "send reply failed", "conversation", msg.ConversationID, "error", err)
		return
	}
	g.metrics.MessageSent()
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
