// Package slack connects Converge to a Slack workspace over Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// ProcessingReaction marks a message while its turn runs.
const ProcessingReaction = "eyes"

// DefaultInboundBuffer is how many messages wait for the gateway before new
// ones are turned away.
const DefaultInboundBuffer = 100

// OverloadedText is posted when the inbound buffer is full.
const OverloadedText = "I'm swamped with messages right now. Please try again in a moment."

const overloadedTimeout = 10 * time.Second

// Config holds the adapter credentials.
type Config struct {
	BotToken string // xoxb- token for API calls
	AppToken string // xapp- token for Socket Mode
	Debug    bool

	// InboundBuffer defaults to DefaultInboundBuffer.
	InboundBuffer int
}

// Validate checks the token shapes.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.BotToken, "xoxb-") {
		return errors.New("slack bot_token must start with xoxb-")
	}
	if !strings.HasPrefix(c.AppToken, "xapp-") {
		return errors.New("slack app_token must start with xapp-")
	}
	return nil
}

// Adapter receives mentions and direct messages and posts replies.
type Adapter struct {
	api    API
	socket SocketClient
	logger *slog.Logger

	messages chan *models.InboundMessage
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	mu        sync.RWMutex
	botUserID string
	connected bool
}

// NewAdapter creates an adapter from tokens.
func NewAdapter(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	socket := socketmode.New(client, socketmode.OptionDebug(cfg.Debug))
	return newAdapter(client, socketModeClient{socket}, cfg.InboundBuffer, logger), nil
}

func newAdapter(api API, socket SocketClient, buffer int, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultInboundBuffer
	}
	return &Adapter{
		api:      api,
		socket:   socket,
		logger:   logger.With("adapter", "slack"),
		messages: make(chan *models.InboundMessage, buffer),
	}
}

// Client returns the Web API client the adapter posts with.
func (a *Adapter) Client() API { return a.api }

// Start authenticates and begins consuming Socket Mode events.
func (a *Adapter) Start(ctx context.Context) error {
	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("authenticate with slack: %w", err)
	}
	a.mu.Lock()
	a.botUserID = auth.UserID
	a.mu.Unlock()
	a.logger.Info("slack adapter started", "bot_user_id", auth.UserID, "team", auth.Team)

	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.handleEvents(ctx)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.socket.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("socket mode stopped", "error", err)
			a.setConnected(false)
		}
	}()
	return nil
}

// Stop ends the connection and closes the message channel.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		close(a.messages)
		a.setConnected(false)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns inbound messages addressed to the bot.
func (a *Adapter) Messages() <-chan *models.InboundMessage {
	return a.messages
}

// Connected reports whether Socket Mode is connected.
func (a *Adapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// Send posts a reply, in a thread when the reply carries a thread id.
func (a *Adapter) Send(ctx context.Context, reply *models.OutboundReply) error {
	if reply == nil || reply.ConversationID == "" {
		return errors.New("slack: reply has no conversation")
	}
	opts := buildMessage(reply)
	if reply.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(reply.ThreadID))
	}
	channel, ts, err := a.api.PostMessageContext(ctx, reply.ConversationID, opts...)
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	a.logger.Debug("reply posted", "channel", channel, "ts", ts)
	return nil
}

// React adds the processing indicator to msg.
func (a *Adapter) React(ctx context.Context, msg *models.InboundMessage) error {
	if msg.MessageTS == "" {
		return nil
	}
	return a.api.AddReactionContext(ctx, ProcessingReaction, slack.NewRefToMessage(msg.ConversationID, msg.MessageTS))
}

// Unreact removes the processing indicator from msg.
func (a *Adapter) Unreact(ctx context.Context, msg *models.InboundMessage) error {
	if msg.MessageTS == "" {
		return nil
	}
	return a.api.RemoveReactionContext(ctx, ProcessingReaction, slack.NewRefToMessage(msg.ConversationID, msg.MessageTS))
}

func (a *Adapter) handleEvents(ctx context.Context) {
	events := a.socket.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				a.logger.Debug("connecting to socket mode")
			case socketmode.EventTypeConnectionError:
				a.logger.Warn("socket mode connection error", "data", evt.Data)
				a.setConnected(false)
			case socketmode.EventTypeConnected:
				a.logger.Info("connected to socket mode")
				a.setConnected(true)
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(ctx, evt)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if evt.Request != nil {
					a.socket.Ack(*evt.Request)
				}
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, evt socketmode.Event) {
	if evt.Request != nil {
		a.socket.Ack(*evt.Request)
	}
	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok || apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	var msg *models.InboundMessage
	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		msg = a.fromMention(ev)
	case *slackevents.MessageEvent:
		msg = a.fromMessage(ev)
	}
	if msg == nil {
		return
	}

	select {
	case a.messages <- msg:
	case <-ctx.Done():
	default:
		a.logger.Warn("inbound buffer full, turning message away", "channel", msg.ConversationID, "user", msg.SenderID)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.replyOverloaded(ctx, msg)
		}()
	}
}

func (a *Adapter) replyOverloaded(ctx context.Context, msg *models.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), overloadedTimeout)
	defer cancel()
	if err := a.Send(ctx, models.ReplyTo(msg, OverloadedText)); err != nil {
		a.logger.Warn("overload notice failed", "channel", msg.ConversationID, "error", err)
	}
}

// fromMention converts a channel mention. Replies go to the message's
// thread, starting one when the mention is top level.
func (a *Adapter) fromMention(ev *slackevents.AppMentionEvent) *models.InboundMessage {
	if ev.BotID != "" || ev.User == "" || ev.User == a.botID() {
		return nil
	}
	thread := ev.ThreadTimeStamp
	if thread == "" {
		thread = ev.TimeStamp
	}
	return &models.InboundMessage{
		ConversationID: ev.Channel,
		ThreadID:       thread,
		SenderID:       ev.User,
		Text:           StripMentions(ev.Text),
		Timestamp:      parseTimestamp(ev.TimeStamp),
		MessageTS:      ev.TimeStamp,
	}
}

// fromMessage converts a direct message. Channel messages are ignored here
// because mentions arrive separately as app_mention events.
func (a *Adapter) fromMessage(ev *slackevents.MessageEvent) *models.InboundMessage {
	if ev.ChannelType != "im" {
		return nil
	}
	if ev.BotID != "" || ev.SubType != "" || ev.User == "" || ev.User == a.botID() {
		return nil
	}
	return &models.InboundMessage{
		ConversationID: ev.Channel,
		ThreadID:       ev.ThreadTimeStamp,
		SenderID:       ev.User,
		Text:           StripMentions(ev.Text),
		Timestamp:      parseTimestamp(ev.TimeStamp),
		MessageTS:      ev.TimeStamp,
		IsDM:           true,
	}
}

func (a *Adapter) botID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.botUserID
}

func (a *Adapter) setConnected(v bool) {
	a.mu.Lock()
	a.connected = v
	a.mu.Unlock()
}

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

// StripMentions removes user mentions and surrounding whitespace.
func StripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// buildMessage renders the reply as a mrkdwn section with a plain text
// fallback for notifications.
func buildMessage(reply *models.OutboundReply) []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(reply.Text, false)}
	if reply.Text != "" && len(reply.Text) <= maxSectionText {
		section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, reply.Text, false, false), nil, nil)
		opts = append(opts, slack.MsgOptionBlocks(section))
	}
	if len(reply.Attachments) > 0 {
		atts := make([]slack.Attachment, 0, len(reply.Attachments))
		for _, att := range reply.Attachments {
			atts = append(atts, slack.Attachment{Title: att.Title, TitleLink: att.URL, Text: att.Text})
		}
		opts = append(opts, slack.MsgOptionAttachments(atts...))
	}
	return opts
}

// maxSectionText is Slack's limit for a section block's text.
const maxSectionText = 3000

// parseTimestamp converts "1234567890.123456" to a time.
func parseTimestamp(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Now()
	}
	var usec int64
	if frac != "" {
		if usec, err = strconv.ParseInt(frac, 10, 64); err != nil {
			usec = 0
		}
	}
	return time.Unix(s, usec*1000)
}
