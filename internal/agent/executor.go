package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/devanshuguptaa/Converge-AI/internal/observability"
	"github.com/devanshuguptaa/Converge-AI/internal/tools"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// Telemetry bundles the logging, metrics, and tracing handles shared by the
// executor and the loop. Zero values are valid.
type Telemetry struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

func (t Telemetry) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

// ExecutorConfig tunes tool execution.
type ExecutorConfig struct {
	// MaxConcurrency bounds parallel calls within a batch. Default 4.
	MaxConcurrency int

	// DefaultTimeout applies to tools without their own. Default 15s.
	DefaultTimeout time.Duration

	// MaxOutputBytes truncates long observations. Default 16 KiB.
	MaxOutputBytes int
}

// DefaultExecutorConfig returns the default execution settings.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency: 4,
		DefaultTimeout: 15 * time.Second,
		MaxOutputBytes: 16 * 1024,
	}
}

// Executor turns tool calls into tool results. It checks permissions before
// anything else, validates arguments, and runs the integration under a hard
// timeout. Failures are returned as data; Execute never panics or errors.
type Executor struct {
	registry *tools.Registry
	cfg      ExecutorConfig
	tel      Telemetry
}

// NewExecutor creates an executor over a registry.
func NewExecutor(registry *tools.Registry, cfg ExecutorConfig, tel Telemetry) *Executor {
	d := DefaultExecutorConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = d.MaxConcurrency
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = d.DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = d.MaxOutputBytes
	}
	tel.Logger = tel.logger().With("component", "executor")
	return &Executor{registry: registry, cfg: cfg, tel: tel}
}

// Execute runs one call on behalf of a caller holding granted.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall, granted models.ScopeSet) models.ToolResult {
	start := time.Now()
	ctx, span := e.tel.Tracer.TraceToolExecution(ctx, call.Name, call.ID)
	defer span.End()

	result := e.execute(ctx, call, granted)
	result.CallID = call.ID
	result.Elapsed = time.Since(start)

	status := "success"
	if !result.Success {
		status = string(result.ErrorKind)
		observability.RecordError(span, errors.New(result.Error))
		e.tel.logger().WarnContext(ctx, "tool call failed",
			"tool", call.Name,
			"call_id", call.ID,
			"kind", result.ErrorKind,
			"error", result.Error,
		)
	} else {
		e.tel.logger().DebugContext(ctx, "tool call succeeded",
			"tool", call.Name,
			"call_id", call.ID,
			"elapsed", result.Elapsed,
		)
	}
	e.tel.Metrics.RecordToolExecution(call.Name, status, result.Elapsed.Seconds())
	return result
}

func (e *Executor) execute(ctx context.Context, call models.ToolCall, granted models.ScopeSet) models.ToolResult {
	d, err := e.registry.Resolve(call.Name)
	if err != nil {
		return failure(models.ToolErrNotFound, "unknown tool %q", call.Name)
	}

	if decision := tools.Authorize(granted, d); !decision.Allowed {
		return failure(models.ToolErrPermissionDenied, "%s: missing scope(s) %s",
			ErrPermissionDenied, models.JoinScopes(decision.Missing))
	}

	if err := d.ValidateArgs(call.Arguments); err != nil {
		return failure(models.ToolErrInvalidInput, "%v", err)
	}

	// Calls that had not started when the turn ended are skipped.
	if err := ctx.Err(); err != nil {
		return failure(models.ToolErrCancelled, "cancelled before start: %v", err)
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	return e.invoke(ctx, d, call, timeout)
}

type invokeOutcome struct {
	output   string
	err      error
	panicked bool
}

// invoke runs the integration detached from turn cancellation so a started
// call can finish; the hard timeout still applies.
func (e *Executor) invoke(ctx context.Context, d *tools.Descriptor, call models.ToolCall, timeout time.Duration) models.ToolResult {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan invokeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.tel.logger().ErrorContext(ctx, "tool panicked",
					"tool", d.Name,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				done <- invokeOutcome{err: fmt.Errorf("tool panicked: %v", r), panicked: true}
			}
		}()
		out, err := d.Invoker.Invoke(callCtx, call.Arguments)
		done <- invokeOutcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		switch {
		case o.panicked:
			return failure(models.ToolErrPanic, "%v", o.err)
		case o.err != nil && callCtx.Err() == context.DeadlineExceeded:
			return failure(models.ToolErrTimeout, "timed out after %s", timeout)
		case o.err != nil:
			return failure(models.ToolErrExecution, "%s: %v", ErrToolExecution, o.err)
		}
		return models.ToolResult{Success: true, Content: truncate(o.output, e.cfg.MaxOutputBytes)}
	case <-callCtx.Done():
		return failure(models.ToolErrTimeout, "timed out after %s", timeout)
	}
}

// ExecuteBatch runs calls concurrently, bounded by MaxConcurrency, and
// returns once every call has resolved. results[i] belongs to calls[i].
func (e *Executor) ExecuteBatch(ctx context.Context, calls []models.ToolCall, granted models.ScopeSet) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.Execute(ctx, call, granted)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func failure(kind models.ToolErrorKind, format string, args ...any) models.ToolResult {
	return models.ToolResult{
		Success:   false,
		Error:     fmt.Sprintf(format, args...),
		ErrorKind: kind,
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n...[truncated %d bytes]", len(s)-cut)
}
