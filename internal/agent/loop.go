// Package agent runs the orchestration loop that turns one user message into
// tool calls and a final reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devanshuguptaa/Converge-AI/internal/backoff"
	"github.com/devanshuguptaa/Converge-AI/internal/grounding"
	"github.com/devanshuguptaa/Converge-AI/internal/observability"
	"github.com/devanshuguptaa/Converge-AI/internal/tools"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// State is a step of the turn state machine.
type State string

const (
	StateGrounding    State = "grounding"
	StateReasoning    State = "reasoning"
	StateToolDispatch State = "tool_dispatch"
	StateFinalizing   State = "finalizing"
	StateDone         State = "done"
	StateAborted      State = "aborted"
)

// Fixed replies for turns that end without a model answer.
const (
	ReplyEngineUnavailable = "Sorry, I can't reach my reasoning service right now. Please try again in a moment."
	ReplyLoopBound         = "I was unable to complete that request within my step limit. Could you break it into smaller pieces?"
	ReplyTimeout           = "Sorry, that took too long and I had to stop. Please try again."
	ReplyEmpty             = "I processed your request, but I don't have anything specific to say. How else can I help?"
)

// LoopConfig bounds a turn.
type LoopConfig struct {
	// MaxIterations caps tool dispatch rounds. Default 6.
	MaxIterations int

	// TurnTimeout caps the whole turn. Default 2m.
	TurnTimeout time.Duration

	// EngineTimeout caps one reasoning attempt. Default 60s.
	EngineTimeout time.Duration

	// RetryAttempts is the number of reasoning attempts per step. Default 3.
	RetryAttempts int

	Backoff backoff.Policy

	SystemPrompt string
	MaxTokens    int
}

// DefaultLoopConfig returns the default bounds.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: 6,
		TurnTimeout:   2 * time.Minute,
		EngineTimeout: 60 * time.Second,
		RetryAttempts: 3,
		Backoff:       backoff.DefaultPolicy(),
		SystemPrompt:  DefaultSystemPrompt,
		MaxTokens:     4096,
	}
}

func (c LoopConfig) withDefaults() LoopConfig {
	d := DefaultLoopConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = d.TurnTimeout
	}
	if c.EngineTimeout <= 0 {
		c.EngineTimeout = d.EngineTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff = d.Backoff
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}

// Assembler builds the grounding bundle for a turn.
type Assembler interface {
	Assemble(ctx context.Context, session grounding.Session, userID, text string) *models.ContextBundle
}

// TurnInput is one user message ready for processing.
type TurnInput struct {
	// TurnID is generated when empty.
	TurnID  string
	Session grounding.Session
	Key     models.SessionKey
	Seq     int64
	UserID  string
	Text    string
	Granted models.ScopeSet
}

// StateObserver is notified on every state transition.
type StateObserver func(turnID string, state State)

// Loop drives Grounding, Reasoning, ToolDispatch, and Finalizing for a turn.
// A Loop is safe for concurrent use across sessions.
type Loop struct {
	engine   ReasoningEngine
	pipeline Assembler
	registry *tools.Registry
	executor *Executor
	cfg      LoopConfig
	tel      Telemetry

	observe StateObserver
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time
}

// NewLoop wires a loop.
func NewLoop(engine ReasoningEngine, pipeline Assembler, registry *tools.Registry, executor *Executor, cfg LoopConfig, tel Telemetry) *Loop {
	tel.Logger = tel.logger().With("component", "agent")
	return &Loop{
		engine:   engine,
		pipeline: pipeline,
		registry: registry,
		executor: executor,
		cfg:      cfg.withDefaults(),
		tel:      tel,
		sleep:    backoff.Sleep,
		now:      time.Now,
	}
}

// Observe installs a state observer. Call before the loop is shared.
func (l *Loop) Observe(fn StateObserver) { l.observe = fn }

// Config returns the effective bounds.
func (l *Loop) Config() LoopConfig { return l.cfg }

// run carries the per-turn mutable state.
type run struct {
	turn  *models.Turn
	state State
	seen  map[string]struct{}
}

// Run processes one message and returns the finished turn. It never returns
// nil and never returns a pending turn; failures are recorded on the turn.
func (l *Loop) Run(ctx context.Context, in *TurnInput) *models.Turn {
	key := in.Key
	if in.Session != nil {
		key = in.Session.Key()
	}
	id := in.TurnID
	if id == "" {
		id = uuid.NewString()
	}
	r := &run{
		turn: models.NewTurn(id, key, in.UserID, in.Text),
		seen: make(map[string]struct{}),
	}
	r.turn.Seq = in.Seq

	ctx = observability.AddSessionID(ctx, key.String())
	ctx = observability.AddUserID(ctx, in.UserID)
	ctx, span := l.tel.Tracer.TraceTurn(ctx, key.String(), in.UserID)
	defer span.End()

	turnCtx, cancel := context.WithTimeout(ctx, l.cfg.TurnTimeout)
	defer cancel()
	turnCtx = tools.WithCaller(turnCtx, tools.Caller{UserID: in.UserID, Session: key})

	l.process(turnCtx, r, in)

	l.tel.Metrics.RecordTurn(string(r.turn.Status), r.turn.FinishedAt.Sub(r.turn.StartedAt).Seconds())
	if r.turn.Error != "" {
		span.RecordError(errors.New(r.turn.Error))
	}
	l.tel.logger().InfoContext(ctx, "turn finished",
		"turn_id", r.turn.ID,
		"status", r.turn.Status,
		"iterations", r.turn.Iterations,
		"retries", r.turn.Retries,
		"tool_calls", len(r.turn.Exchanges),
		"duration", r.turn.FinishedAt.Sub(r.turn.StartedAt),
	)
	return r.turn
}

func (l *Loop) process(ctx context.Context, r *run, in *TurnInput) {
	l.enter(r, StateGrounding)
	bundle := l.ground(ctx, in)
	if bundle == nil {
		bundle = &models.ContextBundle{}
	}
	r.turn.Context = bundle
	if ctx.Err() != nil {
		l.abort(ctx, r)
		return
	}

	granted := in.Granted
	if granted == nil {
		granted = models.ScopeSet{}
	}
	req := &Request{
		SystemPrompt: BuildSystemPrompt(l.cfg.SystemPrompt, bundle, l.now()),
		Tools:        ToolSpecs(l.registry.Catalog(granted)),
		History:      HistoryMessages(bundle.History),
		Input:        in.Text,
		MaxTokens:    l.cfg.MaxTokens,
	}

	for {
		l.enter(r, StateReasoning)
		resp, err := l.reason(ctx, r, req)
		if err != nil {
			if ctx.Err() != nil {
				l.abort(ctx, r)
				return
			}
			l.finalize(r, models.TurnFailed, ReplyEngineUnavailable,
				&LoopError{State: StateReasoning, Iteration: r.turn.Iterations, Cause: err})
			return
		}

		if resp.Kind == ResponseAnswer {
			answer := resp.Text
			if answer == "" {
				answer = ReplyEmpty
			}
			l.finalize(r, models.TurnCompleted, answer, nil)
			return
		}

		if r.turn.Iterations >= l.cfg.MaxIterations {
			l.finalize(r, models.TurnCompleted, ReplyLoopBound,
				&LoopError{State: StateToolDispatch, Iteration: r.turn.Iterations, Cause: ErrLoopBoundExceeded})
			return
		}
		r.turn.Iterations++

		l.enter(r, StateToolDispatch)
		calls := normalizeCallIDs(resp.ToolCalls, r.seen)
		results, ok := l.dispatch(ctx, calls, granted)
		if !ok {
			l.abort(ctx, r)
			return
		}
		results = pairResults(calls, results)
		for i := range calls {
			r.turn.Exchanges = append(r.turn.Exchanges, models.ToolExchange{Call: calls[i], Result: results[i]})
		}
		req.Steps = append(req.Steps, Step{Text: resp.Text, Calls: calls, Results: results})
	}
}

// reason asks the engine for the next step, retrying transient failures.
func (l *Loop) reason(ctx context.Context, r *run, req *Request) (*Response, error) {
	res, err := backoff.Retry(ctx, l.cfg.Backoff, l.cfg.RetryAttempts, backoff.Options{
		Retryable: func(err error) bool { return ctx.Err() == nil && IsTransient(err) },
		OnRetry: func(attempt int, err error, wait time.Duration) {
			l.tel.Metrics.EngineRetry()
			l.tel.logger().WarnContext(ctx, "reasoning engine attempt failed, retrying",
				"provider", l.engine.Name(),
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		},
		Sleep: l.sleep,
	}, func(ctx context.Context, attempt int) (*Response, error) {
		return l.generate(ctx, req, attempt)
	})
	r.turn.Retries += res.Retries()
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

type generateOutcome struct {
	resp *Response
	err  error
}

// ground assembles context but gives up when the turn deadline passes,
// leaving a stuck assembler behind.
func (l *Loop) ground(ctx context.Context, in *TurnInput) *models.ContextBundle {
	done := make(chan *models.ContextBundle, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				l.tel.logger().ErrorContext(ctx, "context assembly panicked", "panic", p)
				done <- nil
			}
		}()
		done <- l.pipeline.Assemble(ctx, in.Session, in.UserID, in.Text)
	}()

	select {
	case bundle := <-done:
		return bundle
	case <-ctx.Done():
		return nil
	}
}

func (l *Loop) generate(ctx context.Context, req *Request, attempt int) (*Response, error) {
	provider := l.engine.Name()
	ctx, span := l.tel.Tracer.TraceReasoning(ctx, provider, attempt)
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, l.cfg.EngineTimeout)
	defer cancel()

	done := make(chan generateOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- generateOutcome{err: &EngineError{Provider: provider, Cause: fmt.Errorf("engine panicked: %v", p)}}
			}
		}()
		resp, err := l.engine.Generate(attemptCtx, req)
		done <- generateOutcome{resp: resp, err: err}
	}()

	var out generateOutcome
	select {
	case out = <-done:
	case <-attemptCtx.Done():
		out.err = attemptCtx.Err()
	}

	if out.err == nil {
		out.err = validateResponse(provider, out.resp)
	}
	if out.err != nil {
		out.err = classify(ctx, provider, out.err)
		observability.RecordError(span, out.err)
		l.tel.Metrics.RecordEngineRequest(provider, "error")
		return nil, out.err
	}
	l.tel.Metrics.RecordEngineRequest(provider, "success")
	return out.resp, nil
}

// classify turns an attempt failure into an EngineError. An attempt deadline
// while the turn is still alive is transient; turn cancellation is returned
// unchanged.
func classify(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{
		Provider:  provider,
		Transient: errors.Is(err, context.DeadlineExceeded),
		Cause:     err,
	}
}

func validateResponse(provider string, resp *Response) error {
	if resp == nil {
		return &EngineError{Provider: provider, Cause: errors.New("empty response")}
	}
	switch resp.Kind {
	case ResponseAnswer:
		return nil
	case ResponseToolCalls:
		if len(resp.ToolCalls) == 0 {
			resp.Kind = ResponseAnswer
		}
		return nil
	default:
		return &EngineError{Provider: provider, Cause: fmt.Errorf("unknown response kind %d", resp.Kind)}
	}
}

// dispatch runs a batch and waits for it unless the turn ends first. On turn
// end the batch keeps running in the background and its results are dropped.
func (l *Loop) dispatch(ctx context.Context, calls []models.ToolCall, granted models.ScopeSet) ([]models.ToolResult, bool) {
	done := make(chan []models.ToolResult, 1)
	go func() {
		done <- l.executor.ExecuteBatch(ctx, calls, granted)
	}()
	select {
	case results := <-done:
		return results, true
	case <-ctx.Done():
		return nil, false
	}
}

func (l *Loop) enter(r *run, s State) {
	r.state = s
	if l.observe != nil {
		l.observe(r.turn.ID, s)
	}
}

func (l *Loop) finalize(r *run, status models.TurnStatus, answer string, cause error) {
	l.enter(r, StateFinalizing)
	_ = r.turn.Finish(status, answer, cause)
	l.enter(r, StateDone)
}

func (l *Loop) abort(ctx context.Context, r *run) {
	cause := ErrTurnTimeout
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		cause = fmt.Errorf("%w: %v", ErrTurnTimeout, ctx.Err())
	}
	_ = r.turn.Finish(models.TurnAborted, ReplyTimeout,
		&LoopError{State: r.state, Iteration: r.turn.Iterations, Cause: cause})
	l.enter(r, StateAborted)
}

// normalizeCallIDs gives every call an id unique within the turn. Missing
// and repeated ids are replaced.
func normalizeCallIDs(calls []models.ToolCall, seen map[string]struct{}) []models.ToolCall {
	out := make([]models.ToolCall, len(calls))
	for i, c := range calls {
		if _, dup := seen[c.ID]; c.ID == "" || dup {
			c.ID = "call_" + uuid.NewString()
		}
		seen[c.ID] = struct{}{}
		out[i] = c
	}
	return out
}

// pairResults returns exactly one result per call, in call order, keyed by
// the call's id.
func pairResults(calls []models.ToolCall, results []models.ToolResult) []models.ToolResult {
	byID := make(map[string]models.ToolResult, len(results))
	for _, res := range results {
		if _, ok := byID[res.CallID]; !ok {
			byID[res.CallID] = res
		}
	}
	out := make([]models.ToolResult, len(calls))
	for i, c := range calls {
		res, ok := byID[c.ID]
		if !ok {
			res = models.ToolResult{Error: "no result produced", ErrorKind: models.ToolErrExecution}
		}
		res.CallID = c.ID
		out[i] = res
	}
	return out
}
