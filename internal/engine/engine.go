// Package engine wires configuration, provider, storage, sandbox, tools,
// and the workflow graph into a single run-executing component shared by
// the CLI, the HTTP gateway, and the scheduler.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/uamuzi/internal/agents"
	"github.com/jkaninda/uamuzi/internal/config"
	"github.com/jkaninda/uamuzi/internal/llm"
	"github.com/jkaninda/uamuzi/internal/llm/anthropic"
	"github.com/jkaninda/uamuzi/internal/llm/openai"
	"github.com/jkaninda/uamuzi/internal/observability"
	"github.com/jkaninda/uamuzi/internal/sandbox"
	"github.com/jkaninda/uamuzi/internal/secrets"
	"github.com/jkaninda/uamuzi/internal/storage"
	pgstore "github.com/jkaninda/uamuzi/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/uamuzi/internal/storage/sqlite"
	"github.com/jkaninda/uamuzi/internal/tools"
	"github.com/jkaninda/uamuzi/internal/tools/database"
	"github.com/jkaninda/uamuzi/internal/tools/file"
	mcptools "github.com/jkaninda/uamuzi/internal/tools/mcp"
	"github.com/jkaninda/uamuzi/internal/tools/shell"
	"github.com/jkaninda/uamuzi/internal/tools/web"
	"github.com/jkaninda/uamuzi/internal/workflow"
)

// Engine owns the initialized subsystems and executes workflow runs
// against them. Built once by New, torn down by Close.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Store
	provider llm.Provider
	sandbox  sandbox.Sandbox
	registry *tools.Registry
	obs      *observability.Observability
	graph    *workflow.Graph

	mu   sync.Mutex
	subs map[uuid.UUID][]chan workflow.StepEvent

	cleanups []func()
}

// New performs all initialization: data directory, observability, LLM
// provider chain, storage (with migrations), sandbox, and tool registry.
// Callers must call Close when done.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[uuid.UUID][]chan workflow.StepEvent),
	}

	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	e.obs = obs
	e.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})

	if err := resolveSecrets(cfg); err != nil {
		e.Close()
		return nil, fmt.Errorf("resolving credential references: %w", err)
	}

	provider, err := newProvider(cfg, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))
	if m := obs.MetricsOrNil(); m != nil {
		provider = observability.NewInstrumentedProvider(provider, m, obs.TracerOrNil())
	}
	e.provider = provider

	store, err := initStore(cfg, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	e.store = store
	e.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	if err := store.Migrate(context.Background()); err != nil {
		e.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("database", store.Ping)
	}

	sbx, err := initSandbox(cfg, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("initializing sandbox: %w", err)
	}
	if m := obs.MetricsOrNil(); m != nil {
		sbx = observability.NewInstrumentedSandbox(sbx, m, obs.TracerOrNil())
	}
	e.sandbox = sbx
	logger.Debug("sandbox initialized",
		slog.String("type", cfg.Sandbox.SandboxType()),
		slog.String("timeout", cfg.Sandbox.ExecutionTimeout().String()),
	)

	if err := e.initTools(); err != nil {
		e.Close()
		return nil, fmt.Errorf("initializing tools: %w", err)
	}
	logger.Debug("tools registered", slog.Any("tools", e.registry.List()))

	graph, err := e.buildGraph()
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("building workflow graph: %w", err)
	}
	e.graph = graph

	return e, nil
}

// Close runs all deferred cleanup functions in reverse order.
func (e *Engine) Close() {
	for i := len(e.cleanups) - 1; i >= 0; i-- {
		e.cleanups[i]()
	}
	e.cleanups = nil
}

// Store exposes the run store for read endpoints.
func (e *Engine) Store() storage.Store { return e.store }

// Observability exposes the metrics/tracing/health facade. May be nil.
func (e *Engine) Observability() *observability.Observability { return e.obs }

func (e *Engine) addCleanup(fn func()) {
	e.cleanups = append(e.cleanups, fn)
}

// initTools builds the tool registry: sandboxed shell execution, the
// optional read-only database, web fetch, and file tools, and tools
// discovered from external MCP servers. Every tool is wrapped with
// instrumentation when metrics are enabled.
func (e *Engine) initTools() error {
	reg := tools.NewRegistry()

	var shellOpts []shell.Option
	if e.cfg.Sandbox.HostEnabled() {
		host := sandbox.NewHostSandbox(sandbox.HostConfig{
			TargetPID:      e.cfg.Sandbox.Host.TargetPID,
			DefaultTimeout: e.cfg.Sandbox.ExecutionTimeout(),
		}, e.logger)
		shellOpts = append(shellOpts, shell.WithHostSandbox(host))
		e.logger.Warn("host execution enabled for shell tool",
			slog.Int("target_pid", e.cfg.Sandbox.Host.TargetPID))
	}
	e.register(reg, shell.NewTool(e.sandbox, e.logger, shellOpts...))

	if dsn := e.cfg.Tools.Database.DSN; dsn != "" {
		e.register(reg, database.NewTool(database.Config{
			DSN:            dsn,
			MaxRows:        e.cfg.Tools.Database.MaxRows,
			TimeoutSeconds: e.cfg.Tools.Database.TimeoutSeconds,
		}, e.logger))
	}

	if webCfg := e.cfg.Tools.Web; webCfg != nil && len(webCfg.AllowedDomains) > 0 {
		e.register(reg, web.NewTool(web.Config{
			AllowedDomains:   webCfg.AllowedDomains,
			MaxResponseBytes: webCfg.MaxResponseBytes,
			TimeoutSeconds:   webCfg.TimeoutSeconds,
		}, e.logger))
	}

	if fileCfg := e.cfg.Tools.File; fileCfg != nil && len(fileCfg.AllowedPaths) > 0 {
		e.register(reg, file.NewTool(file.Config{
			AllowedPaths:     fileCfg.AllowedPaths,
			MaxFileSizeBytes: fileCfg.MaxFileSizeBytes,
		}, e.logger))
	}

	if len(e.cfg.Tools.MCP) > 0 {
		bridge := mcptools.NewBridge(e.logger)
		mcpCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		for _, mcpCfg := range e.cfg.Tools.MCP {
			discovered, err := bridge.ConnectAndDiscover(mcpCtx, mcpCfg)
			if err != nil {
				e.logger.Error("MCP server failed, skipping",
					slog.String("server", mcpCfg.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			for _, t := range discovered {
				e.register(reg, t)
			}
		}
		cancel()
		e.addCleanup(bridge.Close)
	}

	e.registry = reg
	return nil
}

func (e *Engine) register(reg *tools.Registry, t tools.Tool) {
	if m := e.obs.MetricsOrNil(); m != nil {
		t = observability.NewInstrumentedTool(t, m, e.obs.TracerOrNil())
	}
	reg.Register(t)
}

// buildGraph assembles the agent nodes and the star-topology graph.
// The graph is stateless across runs; a single instance serves all of
// them concurrently.
func (e *Engine) buildGraph() (*workflow.Graph, error) {
	wf := e.cfg.Workflow

	nodes := []workflow.Node{
		agents.NewOrchestrator(e.runnerFor(workflow.NodeOrchestrator, true), e.logger),
		agents.NewPlanning(e.runnerFor(workflow.NodePlanning, true), e.logger),
		agents.NewResearch(e.runnerFor(workflow.NodeResearch, false), e.logger, wf.DirectFinish()),
		agents.NewDecision(e.runnerFor(workflow.NodeDecision, true), e.logger),
		agents.NewReview(e.runnerFor(workflow.NodeReview, true), e.logger, wf.Ceiling()),
		agents.NewCode(e.runnerFor(workflow.NodeCodeBackend, false), e.logger, workflow.NodeCodeBackend),
		agents.NewCode(e.runnerFor(workflow.NodeCodeFrontend, false), e.logger, workflow.NodeCodeFrontend),
		agents.NewCode(e.runnerFor(workflow.NodeCodeInfra, false), e.logger, workflow.NodeCodeInfra),
		agents.NewPromptGenerator(e.runnerFor(workflow.NodePromptGenerator, false), e.logger),
	}

	var hook workflow.StepHook
	if m := e.obs.MetricsOrNil(); m != nil {
		hook = m.StepHook()
	}

	return workflow.NewGraph(nodes, workflow.GraphConfig{
		Entry:            workflow.NodeOrchestrator,
		Default:          workflow.NodeOrchestrator,
		IterationCeiling: wf.Ceiling(),
		MaxSteps:         wf.StepBound(),
		Logger:           e.logger,
		Hook:             hook,
	})
}

// runnerFor builds the per-node model runner. Nodes that must return
// structured JSON run cold unless the config overrides the temperature.
func (e *Engine) runnerFor(node workflow.NodeName, cold bool) *agents.Runner {
	ov := e.cfg.Workflow.NodeOverride(string(node))
	temp := ov.Temperature
	if temp == nil && cold {
		temp = llm.ColdTemperature()
	}
	return agents.NewRunner(e.provider, e.registryFor(node), e.logger, agents.RunnerConfig{
		Model:       ov.Model,
		Temperature: temp,
		MaxTokens:   ov.MaxTokens,
	})
}

// registryFor resolves the tool grant for a node. An explicit grant
// names the allowed tools; without one only the research node gets
// tools, restricted to the read-only subset.
func (e *Engine) registryFor(node workflow.NodeName) *tools.Registry {
	if e.registry == nil {
		return nil
	}
	if names, ok := e.cfg.Tools.Grants[string(node)]; ok {
		return e.registry.Subset(names...)
	}
	if node == workflow.NodeResearch {
		return e.registry.ReadOnlySubset()
	}
	return nil
}

// initStore creates the configured storage backend.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.Storage.StorageDriver(); driver {
	case storage.DriverPostgres:
		var pgCfg pgstore.Config
		if cfg.Storage != nil && cfg.Storage.Postgres != nil {
			pgCfg.DSN = cfg.Storage.Postgres.DSN
			pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
			pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
			if cfg.Storage.Postgres.ConnMaxLifetime != "" {
				d, err := time.ParseDuration(cfg.Storage.Postgres.ConnMaxLifetime)
				if err != nil {
					return nil, fmt.Errorf("invalid conn_max_lifetime: %w", err)
				}
				pgCfg.ConnMaxLifetime = d
			}
		}
		if pgCfg.DSN == "" {
			return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or UAMUZI_DB_DSN)")
		}
		db, err := pgstore.Open(pgCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return pgstore.NewStore(db), nil
	case storage.DriverSQLite:
		path := cfg.DatabasePath()
		if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.Path != "" {
			path = cfg.Storage.SQLite.Path
		}
		return sqlitestore.Open(sqlitestore.Config{Path: path}, logger)
	case storage.DriverMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

// initSandbox creates the configured sandbox.
func initSandbox(cfg *config.Config, logger *slog.Logger) (sandbox.Sandbox, error) {
	switch cfg.Sandbox.SandboxType() {
	case "docker":
		if cfg.Sandbox.Docker.Image == "" {
			return nil, fmt.Errorf("sandbox.docker.image is required when type is \"docker\"")
		}
		return sandbox.NewDockerSandbox(sandbox.DockerConfig{
			Image:          cfg.Sandbox.Docker.Image,
			DefaultTimeout: cfg.Sandbox.ExecutionTimeout(),
			MemoryMB:       cfg.Sandbox.MaxMemoryMB,
			CPUCores:       cfg.Sandbox.Docker.CPUCores,
			PIDsLimit:      cfg.Sandbox.Docker.PIDsLimit,
			NetworkAllowed: cfg.Sandbox.NetworkAllowed,
		}, logger), nil
	case "process":
		return sandbox.NewProcessSandbox(sandbox.ProcessConfig{
			DefaultTimeout: cfg.Sandbox.ExecutionTimeout(),
			DefaultLimits: sandbox.ResourceLimits{
				MaxCPUSeconds: cfg.Sandbox.MaxCPUSeconds,
				MaxMemoryMB:   cfg.Sandbox.MaxMemoryMB,
			},
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown sandbox type: %q (supported: process, docker)", cfg.Sandbox.Type)
	}
}

// resolveSecrets expands env:// and vault:// references in credential
// fields once at startup, before any subsystem reads them.
func resolveSecrets(cfg *config.Config) error {
	resolver, err := secrets.NewResolver(cfg.Secrets)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fields := []*string{
		&cfg.Providers.Anthropic.APIKey,
		&cfg.Providers.OpenAI.APIKey,
		&cfg.Tools.Database.DSN,
	}
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		fields = append(fields, &cfg.Storage.Postgres.DSN)
	}
	if cfg.Gateway != nil {
		fields = append(fields, &cfg.Gateway.AuthToken)
	}

	for _, f := range fields {
		resolved, err := secrets.Expand(ctx, resolver, *f)
		if err != nil {
			return err
		}
		*f = resolved
	}
	return nil
}

// newProvider builds the default provider plus the configured fallback chain.
func newProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(cfg.Providers.DefaultProvider(), cfg, logger)
	if err != nil {
		return nil, err
	}

	if len(cfg.Providers.Fallback) > 0 {
		providers := []llm.Provider{primary}
		for _, name := range cfg.Providers.Fallback {
			fb, err := buildProvider(name, cfg, logger)
			if err != nil {
				logger.Warn("skipping fallback provider",
					slog.String("provider", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			providers = append(providers, fb)
		}
		if len(providers) > 1 {
			return llm.NewFallbackProvider(providers, logger), nil
		}
	}

	return primary, nil
}

func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "anthropic", "":
		return anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
		), nil
	case "openai":
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		), nil
	case "ollama":
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient(
			"",
			cfg.Providers.Ollama.Model,
			logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}
