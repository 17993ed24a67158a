package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors. Every method is safe on a nil
// receiver so components can run without metrics.
type Metrics struct {
	// Messages counts inbound and outbound messages. Labels: direction.
	Messages *prometheus.CounterVec

	// Turns counts finished turns. Labels: status.
	Turns *prometheus.CounterVec

	TurnDuration prometheus.Histogram

	// EngineRequests counts reasoning engine attempts. Labels: provider, status.
	EngineRequests *prometheus.CounterVec

	EngineRetries prometheus.Counter

	// ToolExecutions counts tool results. Labels: tool, status.
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time. Labels: tool.
	ToolDuration *prometheus.HistogramVec

	ActiveSessions prometheus.Gauge

	// ContextDegraded counts collaborator failures during grounding.
	// Labels: collaborator.
	ContextDegraded *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors with reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_messages_total",
			Help: "Messages handled by direction",
		}, []string{"direction"}),

		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_turns_total",
			Help: "Finished turns by status",
		}, []string{"status"}),

		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "converge_turn_duration_seconds",
			Help:    "Wall time of a turn from grounding to finalizing",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		EngineRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_engine_requests_total",
			Help: "Reasoning engine attempts by provider and status",
		}, []string{"provider", "status"}),

		EngineRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "converge_engine_retries_total",
			Help: "Reasoning engine retries after transient failures",
		}),

		ToolExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_tool_executions_total",
			Help: "Tool executions by tool and status",
		}, []string{"tool", "status"}),

		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "converge_tool_execution_duration_seconds",
			Help:    "Tool execution time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 15, 30},
		}, []string{"tool"}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "converge_active_sessions",
			Help: "Sessions currently held in memory",
		}),

		ContextDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "converge_context_degraded_total",
			Help: "Grounding collaborator failures by collaborator",
		}, []string{"collaborator"}),
	}
}

// MessageReceived counts an inbound message.
func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues("inbound").Inc()
}

// MessageSent counts an outbound reply.
func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues("outbound").Inc()
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(status string, seconds float64) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(status).Inc()
	m.TurnDuration.Observe(seconds)
}

// RecordEngineRequest records one reasoning engine attempt.
func (m *Metrics) RecordEngineRequest(provider, status string) {
	if m == nil {
		return
	}
	m.EngineRequests.WithLabelValues(provider, status).Inc()
}

// EngineRetry counts one retry.
func (m *Metrics) EngineRetry() {
	if m == nil {
		return
	}
	m.EngineRetries.Inc()
}

// RecordToolExecution records one tool result.
func (m *Metrics) RecordToolExecution(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(seconds)
}

// SetActiveSessions sets the live session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordDegraded counts a grounding collaborator failure.
func (m *Metrics) RecordDegraded(collaborator string) {
	if m == nil {
		return
	}
	m.ContextDegraded.WithLabelValues(collaborator).Inc()
}

// Handler serves the metrics gathered by g, or the default gatherer when g is
// nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
