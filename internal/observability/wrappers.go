package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/uamuzi/internal/llm"
	"github.com/jkaninda/uamuzi/internal/sandbox"
	"github.com/jkaninda/uamuzi/internal/tools"
	"github.com/jkaninda/uamuzi/internal/workflow"
)

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.Provider with metrics and tracing.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProvider{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "llm.send_message",
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
				attribute.String("llm.model", req.Model),
			))
		defer span.End()
	}

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if p.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, req.Model, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider, req.Model).Observe(duration)

		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, req.Model, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, req.Model, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	return resp, err
}

// --- InstrumentedSandbox ---

// InstrumentedSandbox wraps a sandbox.Sandbox with metrics and tracing.
// Metric labels come from the inner sandbox's Kind.
type InstrumentedSandbox struct {
	inner   sandbox.Sandbox
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedSandbox wraps a sandbox with observability.
func NewInstrumentedSandbox(inner sandbox.Sandbox, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedSandbox {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSandbox{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (s *InstrumentedSandbox) Kind() string { return s.inner.Kind() }

func (s *InstrumentedSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	kind := s.inner.Kind()

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.execute",
			trace.WithAttributes(
				attribute.String("sandbox.type", kind),
			))
		defer span.End()
	}

	start := time.Now()
	result, err := s.inner.Execute(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if result != nil && result.ExitCode != 0 {
		status = "nonzero_exit"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.SetAttributes(attribute.Int("sandbox.exit_code", result.ExitCode))
		}
	}

	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(kind, status).Inc()
		s.metrics.SandboxExecutionDuration.WithLabelValues(kind).Observe(duration)
	}

	return result, err
}

// --- InstrumentedTool ---

// InstrumentedTool wraps a tools.Tool with metrics and tracing.
type InstrumentedTool struct {
	inner   tools.Tool
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedTool wraps a tool with observability.
func NewInstrumentedTool(inner tools.Tool, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedTool {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedTool{inner: inner, metrics: metrics, tracer: tracer}
}

func (t *InstrumentedTool) Name() string                        { return t.inner.Name() }
func (t *InstrumentedTool) Description() string                 { return t.inner.Description() }
func (t *InstrumentedTool) InputSchema() map[string]any         { return t.inner.InputSchema() }
func (t *InstrumentedTool) ReadOnly() bool                      { return t.inner.ReadOnly() }
func (t *InstrumentedTool) Validate(input map[string]any) error { return t.inner.Validate(input) }

func (t *InstrumentedTool) Execute(ctx context.Context, input map[string]any) (*tools.Result, error) {
	name := t.inner.Name()

	if t.tracer != nil {
		var span trace.Span
		ctx, span = t.tracer.Start(ctx, "tool.execute",
			trace.WithAttributes(attribute.String("tool.name", name)))
		defer span.End()
	}

	start := time.Now()
	result, err := t.inner.Execute(ctx, input)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case err != nil:
		status = "error"
		if t.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	case result != nil && !result.Success:
		status = "failed"
	}

	if t.metrics != nil {
		t.metrics.ToolExecutionsTotal.WithLabelValues(name, status).Inc()
		t.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(duration)
	}

	return result, err
}

// --- Workflow engine hook ---

// StepHook returns a workflow.StepHook recording per-step metrics.
// Safe to call on a nil collector (returns a no-op hook).
func (m *MetricsCollector) StepHook() workflow.StepHook {
	if m == nil {
		return func(workflow.StepEvent) {}
	}
	return func(ev workflow.StepEvent) {
		status := "ok"
		if ev.Err != nil {
			status = "error"
		}
		m.WorkflowStepsTotal.WithLabelValues(string(ev.Node), status).Inc()
	}
}

// RunStarted marks a run as active.
func (m *MetricsCollector) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records a completed run's outcome.
func (m *MetricsCollector) RunFinished(status, requestType string, duration time.Duration, iterations int) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.WorkflowRunsTotal.WithLabelValues(status, requestType).Inc()
	m.WorkflowRunDuration.WithLabelValues(requestType).Observe(duration.Seconds())
	m.WorkflowIterations.Observe(float64(iterations))
}

// --- net/http middleware ---

// HTTPMetricsMiddleware instruments a plain http.Handler. The gateway's
// okapi routes use MetricsMiddleware instead.
func HTTPMetricsMiddleware(metrics *MetricsCollector, tracer trace.Tracer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tracer != nil {
			_, span := tracer.Start(r.Context(), "http.request",
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.path", r.URL.Path),
				))
			defer span.End()
		}

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		duration := time.Since(start).Seconds()

		if metrics != nil {
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, statusCode(rec.code)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// --- Compile-time interface checks ---

var (
	_ llm.Provider    = (*InstrumentedProvider)(nil)
	_ sandbox.Sandbox = (*InstrumentedSandbox)(nil)
	_ tools.Tool      = (*InstrumentedTool)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
