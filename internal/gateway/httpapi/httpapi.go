// Package httpapi implements the HTTP API gateway for uamuzi.
//
// Security:
//   - Bearer token authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-client rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/uamuzi/internal/observability"
	"github.com/jkaninda/uamuzi/internal/ratelimit"
	"github.com/jkaninda/uamuzi/internal/scheduler"
	"github.com/jkaninda/uamuzi/internal/storage"
	"github.com/jkaninda/uamuzi/internal/workflow"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// RunService is the slice of the engine the gateway needs: submitting
// runs and attaching to their live step events.
type RunService interface {
	Submit(ctx context.Context, request, correlationID string) (*storage.Run, error)
	Subscribe(runID uuid.UUID) (<-chan workflow.StepEvent, func())
}

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	AuthToken      string // Bearer token. Empty = auth disabled.
	EnableDocs     bool
	MaxRequestSize int64 // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	service RunService
	runs    storage.RunStore
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	sched      *scheduler.Scheduler // nil = scheduler endpoints disabled.
	sseEnabled bool

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway over the run service and store.
func NewGateway(cfg Config, service RunService, runs storage.RunStore, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:  cfg,
		service: service,
		runs:    runs,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithScheduler attaches the cron scheduler for the job status endpoint.
func (g *Gateway) WithScheduler(s *scheduler.Scheduler) *Gateway {
	g.sched = s
	return g
}

// WithSSE enables the SSE step-event streaming endpoint.
func (g *Gateway) WithSSE(enabled bool) *Gateway {
	g.sseEnabled = enabled
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given
// pattern. Used for the WebSocket endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

func (g *Gateway) withOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Uamuzi",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group, instrumented when metrics are enabled.
	// The rate limit runs first so unauthenticated floods are shed
	// before the token comparison.
	groupMW := []okapi.Middleware{g.rateLimit, g.authenticate}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		groupMW = append(groupMW, observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer))
	}
	g.group = g.okapi.Group("/v1", groupMW...)

	g.group.Post("/runs", g.handleRunSubmit,
		okapi.DocSummary("Submit a new workflow run"),
		okapi.DocTags("Runs"),
		okapi.DocRequestBody(RunSubmitRequest{}),
		okapi.DocResponse(http.StatusAccepted, RunResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Get("/runs", g.handleRunList,
		okapi.DocSummary("List workflow runs"),
		okapi.DocTags("Runs"),
		okapi.DocQueryParam("status", "string", "Filter by run status", false),
		okapi.DocQueryParam("limit", "int", "Page size (default 50)", false),
		okapi.DocQueryParam("offset", "int", "Page offset", false),
		okapi.DocResponse([]RunResponse{}),
	)
	g.group.Get("/runs/{id}", g.handleRunGet,
		okapi.DocSummary("Get a workflow run"),
		okapi.DocTags("Runs"),
		okapi.DocPathParam("id", "string", "Run ID (UUID)"),
		okapi.DocResponse(RunResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/runs/{id}/transcript", g.handleRunTranscript,
		okapi.DocSummary("Get a run's transcript"),
		okapi.DocTags("Runs"),
		okapi.DocPathParam("id", "string", "Run ID (UUID)"),
		okapi.DocResponse([]TranscriptEntryResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/runs/{id}/steps", g.handleRunSteps,
		okapi.DocSummary("Get a run's step history"),
		okapi.DocTags("Runs"),
		okapi.DocPathParam("id", "string", "Run ID (UUID)"),
		okapi.DocResponse([]StepResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	if g.sseEnabled {
		g.group.Get("/runs/{id}/events", g.handleRunEvents,
			okapi.DocSummary("Stream a run's step events via SSE"),
			okapi.DocTags("Runs"),
			okapi.DocPathParam("id", "string", "Run ID (UUID)"),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	if g.sched != nil {
		g.group.Get("/scheduler/jobs", g.handleSchedulerJobs,
			okapi.DocSummary("List scheduled jobs with next firings"),
			okapi.DocTags("Scheduler"),
			okapi.DocResponse([]scheduler.JobStatus{}),
		)
	}

	// Extra handlers (e.g., the WebSocket endpoint). These live outside the
	// /v1 group, so they get the plain http.Handler instrumentation.
	for _, er := range g.extraRoutes {
		h := er.handler
		if g.config.Metrics != nil || g.config.Tracer != nil {
			h = observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, h)
		}
		g.okapi.HandleStd("GET", er.pattern, h.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.withOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// RunSubmitRequest is the JSON body for POST /v1/runs.
type RunSubmitRequest struct {
	Request string `json:"request"`
}

// RunResponse is the JSON representation of a run.
type RunResponse struct {
	ID                   string     `json:"id"`
	Status               string     `json:"status"`
	Request              string     `json:"request"`
	RequestType          string     `json:"request_type,omitempty"`
	CorrelationID        string     `json:"correlation_id"`
	ImplementationPrompt string     `json:"implementation_prompt,omitempty"`
	IterationCount       int        `json:"iteration_count"`
	TokensUsed           int        `json:"tokens_used"`
	Error                string     `json:"error,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

func runResponse(run *storage.Run) RunResponse {
	return RunResponse{
		ID:                   run.ID.String(),
		Status:               string(run.Status),
		Request:              run.Request,
		RequestType:          run.RequestType,
		CorrelationID:        run.CorrelationID,
		ImplementationPrompt: run.ImplementationPrompt,
		IterationCount:       run.IterationCount,
		TokensUsed:           run.TokensUsed,
		Error:                run.LastError,
		CreatedAt:            run.CreatedAt,
		CompletedAt:          run.CompletedAt,
	}
}

func (g *Gateway) handleRunSubmit(c *okapi.Context) error {
	var req RunSubmitRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("request is required")
	}
	if strings.TrimSpace(req.Request) == "" {
		return c.AbortBadRequest("request is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http run submit",
		slog.String("correlation_id", correlationID),
	)

	run, err := g.service.Submit(c.Context(), req.Request, correlationID)
	if err != nil {
		g.logger.Error("run submission failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("run submission failed")
	}

	return c.JSON(http.StatusAccepted, runResponse(run))
}

// runListQuery binds the list filter query parameters.
type runListQuery struct {
	Status string `query:"status"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
}

func (g *Gateway) handleRunList(c *okapi.Context) error {
	var q runListQuery
	if err := c.Bind(&q); err != nil {
		return c.AbortBadRequest("invalid query parameters")
	}

	runs, err := g.runs.List(c.Context(), storage.ListFilter{
		Status: storage.RunStatus(q.Status),
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		g.logger.Error("listing runs", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing runs failed")
	}

	resp := make([]RunResponse, len(runs))
	for i, run := range runs {
		resp[i] = runResponse(run)
	}
	return c.OK(resp)
}

func (g *Gateway) handleRunGet(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}

	run, err := g.runs.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
		}
		return c.AbortInternalServerError("loading run failed")
	}
	return c.OK(runResponse(run))
}

// TranscriptEntryResponse is one transcript message.
type TranscriptEntryResponse struct {
	Seq     int    `json:"seq"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (g *Gateway) handleRunTranscript(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}
	if _, err := g.runs.Get(c.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
		}
		return c.AbortInternalServerError("loading run failed")
	}

	entries, err := g.runs.Transcript(c.Context(), id, 0)
	if err != nil {
		return c.AbortInternalServerError("loading transcript failed")
	}

	resp := make([]TranscriptEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = TranscriptEntryResponse{Seq: e.Seq, Role: e.Role, Content: e.Content}
	}
	return c.OK(resp)
}

// StepResponse is one step history record.
type StepResponse struct {
	Step     int       `json:"step"`
	Node     string    `json:"node"`
	Next     string    `json:"next"`
	Error    string    `json:"error,omitempty"`
	Terminal bool      `json:"terminal"`
	At       time.Time `json:"at"`
}

func (g *Gateway) handleRunSteps(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}
	if _, err := g.runs.Get(c.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
		}
		return c.AbortInternalServerError("loading run failed")
	}

	steps, err := g.runs.Steps(c.Context(), id)
	if err != nil {
		return c.AbortInternalServerError("loading steps failed")
	}

	resp := make([]StepResponse, len(steps))
	for i, s := range steps {
		resp[i] = StepResponse{
			Step:     s.Step,
			Node:     s.Node,
			Next:     s.Next,
			Error:    s.ErrMsg,
			Terminal: s.Terminal,
			At:       s.At,
		}
	}
	return c.OK(resp)
}

func (g *Gateway) handleSchedulerJobs(c *okapi.Context) error {
	return c.OK(g.sched.Jobs())
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the Bearer token in constant time. An empty
// configured token disables authentication.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.config.AuthToken == "" {
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(token), []byte(g.config.AuthToken)) != 1 {
			return c.AbortUnauthorized("invalid token")
		}
		return next(c)
	}
}

// rateLimit applies the per-client rate limit, keyed by remote address,
// on every /v1 request. A nil limiter disables it.
func (g *Gateway) rateLimit(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.limiter == nil {
			return next(c)
		}
		if err := g.limiter.Allow(c.RealIP()); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
		return next(c)
	}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
