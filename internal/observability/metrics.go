package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime-loop
// metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - LLM request performance and response times
//   - Tool execution patterns and latencies
//   - Retry/backoff and compaction activity
//   - Error rates categorized by type and component
//   - FSM state occupancy and event bus throughput
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.LLMRequestDuration.WithLabelValues("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// LLMRequestDuration measures provider request latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider requests by provider, model, status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|timeout)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (fsm|stream|tool|compaction), error_type
	ErrorCounter *prometheus.CounterVec

	// RetryAttempts counts retry attempts by classification and outcome.
	// Labels: class (transient|overflow|fatal), outcome (scheduled|exhausted)
	RetryAttempts *prometheus.CounterVec

	// CompactionRuns counts compaction passes by trigger.
	// Labels: trigger (threshold|overflow)
	CompactionRuns *prometheus.CounterVec

	// ContextWindowUsed tracks estimated context window utilization.
	// Labels: provider, model
	ContextWindowUsed *prometheus.HistogramVec

	// RunAttempts counts turn attempts by status.
	// Labels: status (success|retry|failed)
	RunAttempts *prometheus.CounterVec

	// EventBusPublishTotal counts events published on the bus.
	// Labels: kind
	EventBusPublishTotal *prometheus.CounterVec

	// FSMStateGauge tracks the current number of sessions in each FSM state.
	// Labels: state (idle|running|streaming|executing_tools)
	FSMStateGauge *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics. This should be
// called once at application startup; all metrics register against
// Prometheus's default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentloop_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentloop_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_retry_attempts_total",
				Help: "Total number of retry attempts by classification and outcome",
			},
			[]string{"class", "outcome"},
		),

		CompactionRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_compaction_runs_total",
				Help: "Total number of compaction passes by trigger",
			},
			[]string{"trigger"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentloop_context_window_tokens",
				Help:    "Estimated context window tokens used",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_run_attempts_total",
				Help: "Total number of run attempts by status",
			},
			[]string{"status"},
		),

		EventBusPublishTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_eventbus_publish_total",
				Help: "Total number of events published on the event bus by kind",
			},
			[]string{"kind"},
		),

		FSMStateGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentloop_fsm_state_sessions",
				Help: "Current number of sessions occupying each FSM state",
			},
			[]string{"state"},
		),
	}
}

// RecordLLMRequest records metrics for a provider request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordRetryAttempt records a scheduled or exhausted retry.
func (m *Metrics) RecordRetryAttempt(class, outcome string) {
	m.RetryAttempts.WithLabelValues(class, outcome).Inc()
}

// RecordCompactionRun records a compaction pass.
func (m *Metrics) RecordCompactionRun(trigger string) {
	m.CompactionRuns.WithLabelValues(trigger).Inc()
}

// RecordContextWindow records context window utilization.
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordRunAttempt records a turn attempt.
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}

// RecordEventPublished records one event bus publish.
func (m *Metrics) RecordEventPublished(kind string) {
	m.EventBusPublishTotal.WithLabelValues(kind).Inc()
}

// SetFSMState updates the gauge tracking how many sessions sit in state.
// Callers transition the gauge by decrementing the prior state and
// incrementing the new one around each FSM transition.
func (m *Metrics) SetFSMState(state string, delta float64) {
	m.FSMStateGauge.WithLabelValues(state).Add(delta)
}
