package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/uamuzi/internal/config"
	"github.com/jkaninda/uamuzi/internal/llm"
	"github.com/jkaninda/uamuzi/internal/sandbox"
	"github.com/jkaninda/uamuzi/internal/tools"
	"github.com/jkaninda/uamuzi/internal/workflow"
)

// --- No-op path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Error("nil config should produce nil observability")
	}
	obs.Shutdown(context.Background())
	if obs.MetricsOrNil() != nil || obs.TracerOrNil() != nil {
		t.Error("nil receiver accessors must return nil")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if obs == nil {
		t.Fatal("expected non-nil observability")
	}
	if obs.Metrics != nil || obs.Tracer != nil {
		t.Error("disabled features should stay nil")
	}
	if obs.Health == nil {
		t.Error("health checker should always exist")
	}
}

func TestNew_MetricsEnabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if obs.Metrics == nil {
		t.Fatal("metrics should be created")
	}
	if _, err := obs.Metrics.Registry.Gather(); err != nil {
		t.Errorf("gather: %v", err)
	}
}

// --- Workflow metrics ---

func TestStepHookRecordsSteps(t *testing.T) {
	metrics := NewMetricsCollector()
	hook := metrics.StepHook()

	hook(workflow.StepEvent{Node: workflow.NodeOrchestrator})
	hook(workflow.StepEvent{Node: workflow.NodeResearch, Err: errors.New("boom")})

	ok := counterValue(t, metrics.Registry, "uamuzi_workflow_steps_total",
		prometheus.Labels{"node": "orchestrator", "status": "ok"})
	if ok != 1 {
		t.Errorf("ok steps = %v, want 1", ok)
	}
	failed := counterValue(t, metrics.Registry, "uamuzi_workflow_steps_total",
		prometheus.Labels{"node": "research", "status": "error"})
	if failed != 1 {
		t.Errorf("error steps = %v, want 1", failed)
	}
}

func TestStepHookNilCollector(t *testing.T) {
	var m *MetricsCollector
	hook := m.StepHook()
	hook(workflow.StepEvent{Node: workflow.NodeOrchestrator}) // must not panic
	m.RunStarted()
	m.RunFinished("completed", "general_task", time.Second, 1)
}

func TestRunFinishedRecordsOutcome(t *testing.T) {
	metrics := NewMetricsCollector()
	metrics.RunStarted()
	metrics.RunFinished("completed", "deployment_decision", 42*time.Second, 2)

	runs := counterValue(t, metrics.Registry, "uamuzi_workflow_runs_total",
		prometheus.Labels{"status": "completed", "request_type": "deployment_decision"})
	if runs != 1 {
		t.Errorf("runs = %v, want 1", runs)
	}
}

// --- InstrumentedProvider ---

type mockProvider struct {
	name   string
	resp   *llm.Response
	err    error
	called int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) SendMessage(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	m.called++
	return m.resp, m.err
}

func TestInstrumentedProvider_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockProvider{
		name: "test",
		resp: &llm.Response{
			Content: "hello",
			Usage:   llm.Usage{InputTokens: 10, OutputTokens: 20},
		},
	}

	p := NewInstrumentedProvider(inner, metrics, nil)
	resp, err := p.SendMessage(context.Background(), &llm.Request{Model: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("content = %q, want hello", resp.Content)
	}
	if inner.called != 1 {
		t.Errorf("inner called %d times, want 1", inner.called)
	}

	val := counterValue(t, metrics.Registry, "uamuzi_llm_requests_total",
		prometheus.Labels{"provider": "test", "model": "m1", "status": "success"})
	if val != 1 {
		t.Errorf("requests_total = %v, want 1", val)
	}
	in := counterValue(t, metrics.Registry, "uamuzi_llm_tokens_used_total",
		prometheus.Labels{"provider": "test", "model": "m1", "direction": "input"})
	if in != 10 {
		t.Errorf("input tokens = %v, want 10", in)
	}
}

func TestInstrumentedProvider_Error(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockProvider{name: "test", err: errors.New("api error")}

	p := NewInstrumentedProvider(inner, metrics, nil)
	if _, err := p.SendMessage(context.Background(), &llm.Request{}); err == nil {
		t.Fatal("expected error")
	}

	val := counterValue(t, metrics.Registry, "uamuzi_llm_requests_total",
		prometheus.Labels{"provider": "test", "model": "", "status": "error"})
	if val != 1 {
		t.Errorf("error requests_total = %v, want 1", val)
	}
}

func TestInstrumentedProvider_NilMetrics(t *testing.T) {
	inner := &mockProvider{name: "test", resp: &llm.Response{Content: "ok"}}

	p := NewInstrumentedProvider(inner, nil, nil)
	resp, err := p.SendMessage(context.Background(), &llm.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q, want ok", resp.Content)
	}
}

// --- InstrumentedSandbox ---

type mockSandbox struct {
	kind   string
	result *sandbox.ExecutionResult
	err    error
}

func (m *mockSandbox) Kind() string { return m.kind }

func (m *mockSandbox) Execute(_ context.Context, _ sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	return m.result, m.err
}

func TestInstrumentedSandbox_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockSandbox{
		kind:   "process",
		result: &sandbox.ExecutionResult{ExitCode: 0, Duration: 100 * time.Millisecond},
	}

	s := NewInstrumentedSandbox(inner, metrics, nil)
	result, err := s.Execute(context.Background(), sandbox.ExecutionRequest{Command: []string{"echo"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}

	val := counterValue(t, metrics.Registry, "uamuzi_sandbox_executions_total",
		prometheus.Labels{"type": "process", "status": "success"})
	if val != 1 {
		t.Errorf("sandbox executions = %v, want 1", val)
	}
}

func TestInstrumentedSandbox_NonzeroExit(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockSandbox{kind: "docker", result: &sandbox.ExecutionResult{ExitCode: 2}}

	s := NewInstrumentedSandbox(inner, metrics, nil)
	if _, err := s.Execute(context.Background(), sandbox.ExecutionRequest{}); err != nil {
		t.Fatal(err)
	}

	val := counterValue(t, metrics.Registry, "uamuzi_sandbox_executions_total",
		prometheus.Labels{"type": "docker", "status": "nonzero_exit"})
	if val != 1 {
		t.Errorf("nonzero_exit executions = %v, want 1", val)
	}
}

// --- InstrumentedTool ---

type mockTool struct {
	result *tools.Result
	err    error
}

func (m *mockTool) Name() string                  { return "mock" }
func (m *mockTool) Description() string           { return "mock" }
func (m *mockTool) InputSchema() map[string]any   { return nil }
func (m *mockTool) ReadOnly() bool                { return true }
func (m *mockTool) Validate(map[string]any) error { return nil }
func (m *mockTool) Execute(_ context.Context, _ map[string]any) (*tools.Result, error) {
	return m.result, m.err
}

func TestInstrumentedTool(t *testing.T) {
	metrics := NewMetricsCollector()
	tool := NewInstrumentedTool(&mockTool{result: &tools.Result{Success: true}}, metrics, nil)

	if tool.Name() != "mock" || !tool.ReadOnly() {
		t.Error("wrapper must delegate metadata")
	}
	if _, err := tool.Execute(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	val := counterValue(t, metrics.Registry, "uamuzi_tool_executions_total",
		prometheus.Labels{"tool": "mock", "status": "success"})
	if val != 1 {
		t.Errorf("tool executions = %v, want 1", val)
	}

	failing := NewInstrumentedTool(&mockTool{result: &tools.Result{Success: false}}, metrics, nil)
	if _, err := failing.Execute(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	val = counterValue(t, metrics.Registry, "uamuzi_tool_executions_total",
		prometheus.Labels{"tool": "mock", "status": "failed"})
	if val != 1 {
		t.Errorf("failed tool executions = %v, want 1", val)
	}
}

// --- Health checker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(context.Context) error { return nil })
	h.AddCheck("provider", func(context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if len(status.Checks) != 2 {
		t.Errorf("checks = %d, want 2", len(status.Checks))
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(context.Context) error { return nil })
	h.AddCheck("provider", func(context.Context) error { return errors.New("unreachable") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["provider"].Status != "fail" {
		t.Errorf("provider check = %+v", status.Checks["provider"])
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	if got := h.CheckHealth(); got.Status != "ok" {
		t.Errorf("liveness = %q, want ok", got.Status)
	}
}

// --- HTTP middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	val := counterValue(t, metrics.Registry, "uamuzi_http_requests_total",
		prometheus.Labels{"method": "GET", "path": "/test", "status_code": "200"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

// --- Helpers ---

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}
