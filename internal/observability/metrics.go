package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for the service.
// Uses a custom registry rather than the package-global default.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Workflow engine metrics.
	WorkflowRunsTotal   *prometheus.CounterVec
	WorkflowRunDuration *prometheus.HistogramVec
	WorkflowStepsTotal  *prometheus.CounterVec
	WorkflowIterations  prometheus.Histogram
	ActiveRuns          prometheus.Gauge

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Tool execution metrics.
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		WorkflowRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uamuzi",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Total workflow runs by final status and request type.",
		}, []string{"status", "request_type"}),

		WorkflowRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uamuzi",
			Subsystem: "workflow",
			Name:      "run_duration_seconds",
			Help:      "End-to-end workflow run duration in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"request_type"}),

		WorkflowStepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uamuzi",
			Subsystem: "workflow",
			Name:      "steps_total",
			Help:      "Total engine steps by node and outcome.",
		}, []string{"node", "status"}),

		WorkflowIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "uamuzi",
			Subsystem: "workflow",
			Name:      "run_iterations",
			Help:      "Rework iterations consumed per run.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),

		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uamuzi",
			Name:      "active_runs",
			Help:      "Number of currently executing workflow runs.",
		}),

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uamuzi",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uamuzi",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uamuzi",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "model", "direction"}),

		ToolExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uamuzi",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Total tool executions.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uamuzi",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uamuzi",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox executions.",
		}, []string{"type", "status"}),

		SandboxExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uamuzi",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"type"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uamuzi",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uamuzi",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uamuzi",
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of HTTP requests currently in flight.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.WorkflowRunsTotal,
		m.WorkflowRunDuration,
		m.WorkflowStepsTotal,
		m.WorkflowIterations,
		m.ActiveRuns,
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
