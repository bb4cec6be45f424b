package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the centralized Prometheus instrumentation surface shared by
// C1 (event bus lag), C3 (budget expiry), C4/C10 (model calls, usage/cost),
// C5 (tool execution), C6 (interrupts), and C7 (delegation).
type Metrics struct {
	// ExecutionsStarted/Finished count executions by terminal status.
	// Labels: agent_id, mode
	ExecutionsStarted *prometheus.CounterVec
	// Labels: agent_id, mode, status
	ExecutionsFinished *prometheus.CounterVec

	// ExecutionDuration measures wall time from start to terminal state.
	// Labels: agent_id, mode
	ExecutionDuration *prometheus.HistogramVec

	// ActiveExecutions is a live gauge of non-terminal executions.
	ActiveExecutions prometheus.Gauge

	// LLMRequestDuration measures model-call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model calls by outcome.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption by kind.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD accumulates estimated spend.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by outcome.
	// Labels: tool_name, status (success|error|timeout)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// InterruptsCreated/Resolved track the approval state machine.
	// Labels: resolution (accept|edit|respond|ignore|expired)
	InterruptsResolved *prometheus.CounterVec

	// DelegationsSpawned counts child executions spawned by C7.
	// Labels: source_agent_id, target_agent_id
	DelegationsSpawned *prometheus.CounterVec

	// DelegationsDeduped counts single-flight hits that avoided a spawn.
	DelegationsDeduped prometheus.Counter

	// BudgetExpiries counts forced terminations by expiring dimension.
	// Labels: reason (wall_clock|max_tool_calls|max_agent_steps)
	BudgetExpiries *prometheus.CounterVec

	// EventBusLagged counts events discarded for a lagging subscriber.
	EventBusLagged prometheus.Counter

	// ErrorCounter tracks errors by component and kind.
	// Labels: component, error_kind
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers every metric against Prometheus's
// default registry. Call once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ExecutionsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_executions_started_total",
				Help: "Total executions started by agent and mode",
			},
			[]string{"agent_id", "mode"},
		),
		ExecutionsFinished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_executions_finished_total",
				Help: "Total executions reaching a terminal status",
			},
			[]string{"agent_id", "mode", "status"},
		),
		ExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_execution_duration_seconds",
				Help:    "Execution wall time from start to terminal state",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"agent_id", "mode"},
		),
		ActiveExecutions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_active_executions",
				Help: "Current number of non-terminal executions",
			},
		),
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_llm_request_duration_seconds",
				Help:    "Duration of model invocations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_llm_requests_total",
				Help: "Total model invocations by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_llm_tokens_total",
				Help: "Total tokens consumed by provider, model, and kind",
			},
			[]string{"provider", "model", "type"},
		),
		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_llm_cost_usd_total",
				Help: "Estimated model spend in USD",
			},
			[]string{"provider", "model"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		InterruptsResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_interrupts_resolved_total",
				Help: "Total interrupts resolved by resolution kind",
			},
			[]string{"resolution"},
		),
		DelegationsSpawned: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_delegations_spawned_total",
				Help: "Total child executions spawned by delegation",
			},
			[]string{"source_agent_id", "target_agent_id"},
		),
		DelegationsDeduped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_delegations_deduped_total",
				Help: "Total delegation calls that joined an in-flight child instead of spawning one",
			},
		),
		BudgetExpiries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_budget_expiries_total",
				Help: "Total budget expiries by the dimension that tripped",
			},
			[]string{"reason"},
		),
		EventBusLagged: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_event_bus_lagged_total",
				Help: "Total events discarded for a lagging subscriber",
			},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_errors_total",
				Help: "Total errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),
	}
}

// RecordLLMRequest records metrics for a single model invocation.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records metrics for a tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a component and error kind.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// ExecutionStarted records the start of an execution and bumps the active gauge.
func (m *Metrics) ExecutionStarted(agentID, mode string) {
	m.ExecutionsStarted.WithLabelValues(agentID, mode).Inc()
	m.ActiveExecutions.Inc()
}

// ExecutionFinished records a terminal transition and its wall time.
func (m *Metrics) ExecutionFinished(agentID, mode, status string, durationSeconds float64) {
	m.ExecutionsFinished.WithLabelValues(agentID, mode, status).Inc()
	m.ExecutionDuration.WithLabelValues(agentID, mode).Observe(durationSeconds)
	m.ActiveExecutions.Dec()
}
