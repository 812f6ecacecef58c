// Package config handles loading and validating uamuzi configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.uamuzi/data. Override: UAMUZI_DATA_DIR env var.
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Workflow      *WorkflowConfig      `json:"workflow,omitempty" yaml:"workflow,omitempty"`           // nil = defaults (decision workflow, ceiling 3)
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Secrets       *SecretsConfig       `json:"secrets,omitempty" yaml:"secrets,omitempty"`             // nil = env:// references only
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite under the data dir
	Gateway       *GatewayConfig       `json:"gateway,omitempty" yaml:"gateway,omitempty"`             // nil = HTTP gateway disabled (CLI only)
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = cron scheduler disabled
}

// --- Providers ---

type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"`                       // "anthropic", "openai", "ollama". Empty = "anthropic".
	Fallback  []string        `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Fallback providers tried in order when default fails.
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Ollama    OllamaConfig    `json:"ollama" yaml:"ollama"`
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"` // Override: ANTHROPIC_API_KEY env var.
	Model  string `json:"model" yaml:"model"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"` // Override: OPENAI_API_KEY env var.
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// DefaultProvider returns the configured default provider name.
func (p *ProvidersConfig) DefaultProvider() string {
	if p.Default != "" {
		return p.Default
	}
	return "anthropic"
}

// --- Workflow ---

// WorkflowConfig tunes the multi-agent workflow engine.
// When nil, every accessor returns its default.
type WorkflowConfig struct {
	IterationCeiling     int                       `json:"iteration_ceiling" yaml:"iteration_ceiling"`           // Max rework loops per run. Default: 3.
	MaxSteps             int                       `json:"max_steps" yaml:"max_steps"`                           // Hard bound on node dispatches per run. Default: 50.
	ResearchDirectFinish *bool                     `json:"research_direct_finish" yaml:"research_direct_finish"` // Information queries end straight after research. Default: true.
	Nodes                map[string]NodeOverrides  `json:"nodes,omitempty" yaml:"nodes,omitempty"`               // Per-node model settings, keyed by node name.
}

// NodeOverrides tunes a single agent node.
type NodeOverrides struct {
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`             // Provider model override for this node.
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"` // nil = node's own default.
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// Ceiling returns the iteration ceiling with a default of 3.
func (w *WorkflowConfig) Ceiling() int {
	if w != nil && w.IterationCeiling > 0 {
		return w.IterationCeiling
	}
	return 3
}

// StepBound returns the max node dispatches per run with a default of 50.
func (w *WorkflowConfig) StepBound() int {
	if w != nil && w.MaxSteps > 0 {
		return w.MaxSteps
	}
	return 50
}

// DirectFinish reports whether information queries terminate straight
// after the research node. Default: true.
func (w *WorkflowConfig) DirectFinish() bool {
	if w != nil && w.ResearchDirectFinish != nil {
		return *w.ResearchDirectFinish
	}
	return true
}

// NodeOverride returns the overrides for a node, or a zero value.
func (w *WorkflowConfig) NodeOverride(node string) NodeOverrides {
	if w == nil {
		return NodeOverrides{}
	}
	return w.Nodes[node]
}

// --- Sandbox ---

type SandboxConfig struct {
	Type                string              `json:"type" yaml:"type"` // "process" (default) or "docker"
	MaxMemoryMB         int                 `json:"max_memory_mb" yaml:"max_memory_mb"`
	MaxCPUSeconds       int                 `json:"max_cpu_seconds" yaml:"max_cpu_seconds"`
	MaxExecutionSeconds int                 `json:"max_execution_seconds" yaml:"max_execution_seconds"`
	NetworkAllowed      bool                `json:"network_allowed" yaml:"network_allowed"`
	Docker              DockerSandboxConfig `json:"docker" yaml:"docker"`
	Host                *HostSandboxConfig  `json:"host,omitempty" yaml:"host,omitempty"` // nil = host execution disabled
}

// DockerSandboxConfig holds Docker-specific sandbox settings.
type DockerSandboxConfig struct {
	Image     string  `json:"image" yaml:"image"`           // Container image (e.g. "uamuzi-runtime:latest").
	CPUCores  float64 `json:"cpu_cores" yaml:"cpu_cores"`   // Docker --cpus flag (e.g. 0.5). 0 = 1.0 default.
	PIDsLimit int     `json:"pids_limit" yaml:"pids_limit"` // Docker --pids-limit flag. 0 = 64 default.
}

// HostSandboxConfig enables the nsenter-based host execution target.
type HostSandboxConfig struct {
	Enabled   bool `json:"enabled" yaml:"enabled"`
	TargetPID int  `json:"target_pid" yaml:"target_pid"` // Process whose namespaces are entered. Default: 1.
}

// SandboxType returns the sandbox kind with a default of "process".
func (s *SandboxConfig) SandboxType() string {
	if s.Type != "" {
		return s.Type
	}
	return "process"
}

// ExecutionTimeout returns the per-command timeout with a default of 30s.
func (s *SandboxConfig) ExecutionTimeout() time.Duration {
	if s.MaxExecutionSeconds > 0 {
		return time.Duration(s.MaxExecutionSeconds) * time.Second
	}
	return 30 * time.Second
}

// HostEnabled reports whether the host execution target is configured.
func (s *SandboxConfig) HostEnabled() bool {
	return s.Host != nil && s.Host.Enabled
}

// --- Tools ---

// ToolsConfig configures individual tool settings.
type ToolsConfig struct {
	Database DatabaseToolConfig  `json:"database" yaml:"database"`
	Web      *WebToolConfig      `json:"web,omitempty" yaml:"web,omitempty"`       // nil = web fetch tool disabled.
	File     *FileToolConfig     `json:"file,omitempty" yaml:"file,omitempty"`     // nil = file read tool disabled.
	MCP      []MCPServerConfig   `json:"mcp,omitempty" yaml:"mcp,omitempty"`       // External MCP tool servers.
	Grants   map[string][]string `json:"grants,omitempty" yaml:"grants,omitempty"` // Node name → allowed tool names. Absent node = read-only tools only.
}

// WebToolConfig configures the read-only HTTP fetch tool.
type WebToolConfig struct {
	AllowedDomains   []string `json:"allowed_domains" yaml:"allowed_domains"`             // Exact hostnames allowed. Empty = deny all.
	MaxResponseBytes int64    `json:"max_response_bytes" yaml:"max_response_bytes"`       // Response body cap. Default: 5 MB.
	TimeoutSeconds   int      `json:"timeout_seconds" yaml:"timeout_seconds"`             // Per-request timeout. Default: 10.
}

// FileToolConfig configures the read-only file inspection tool.
type FileToolConfig struct {
	AllowedPaths     []string `json:"allowed_paths" yaml:"allowed_paths"`           // Directory prefixes readable by the tool. Empty = deny all.
	MaxFileSizeBytes int64    `json:"max_file_size_bytes" yaml:"max_file_size_bytes"` // Per-file read cap. Default: 10 MB.
}

// DatabaseToolConfig configures the read-only database query tool.
type DatabaseToolConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`                         // Connection string. Override: UAMUZI_TOOL_DB_DSN env var.
	MaxRows        int    `json:"max_rows" yaml:"max_rows"`               // Maximum rows per query. Default: 1000.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-query timeout. Default: 30.
}

// MCPServerConfig defines a single external MCP server connection.
// The process acts as an MCP client, connecting at startup, discovering
// tools, and registering them in the tool registry.
type MCPServerConfig struct {
	Name      string            `json:"name" yaml:"name"`                           // Server ID used for tool namespacing (e.g., "k8s").
	Transport string            `json:"transport" yaml:"transport"`                 // "stdio", "sse", or "streamable_http".
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"` // Executable to launch (stdio only).
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`       // Command arguments (stdio only).
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`         // Subprocess env vars (stdio only). Values support ${VAR} expansion.
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`         // Server endpoint (sse/streamable_http only).
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"` // HTTP headers (sse/streamable_http). Values support ${VAR} expansion.
	ReadOnly  bool              `json:"read_only" yaml:"read_only"`                 // Mark this server's tools as observation-only.
}

// --- Secrets ---

// SecretsConfig configures credential reference resolution. String fields
// such as API keys, DSNs, and the gateway token may hold "env://VAR" or
// "vault://path#field" references instead of literal values; they are
// resolved once at startup.
type SecretsConfig struct {
	Vault *VaultConfig `json:"vault,omitempty" yaml:"vault,omitempty"` // nil = vault:// references rejected.
}

// VaultConfig connects to a HashiCorp Vault KV v2 backend.
type VaultConfig struct {
	Address       string `json:"address" yaml:"address"` // Server URL. Override: VAULT_ADDR env var.
	Token         string `json:"token,omitempty" yaml:"token,omitempty"` // Override: VAULT_TOKEN env var.
	Namespace     string `json:"namespace,omitempty" yaml:"namespace,omitempty"` // Enterprise namespace. Override: VAULT_NAMESPACE env var.
	Timeout       string `json:"timeout,omitempty" yaml:"timeout,omitempty"` // HTTP timeout, e.g. "5s". Default: 5s.
	TLSSkipVerify bool   `json:"tls_skip_verify" yaml:"tls_skip_verify"`
}

// --- Storage ---

// StorageConfig configures the run persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default), "postgres", or "memory".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: <data_dir>/uamuzi.db.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN             string `json:"dsn" yaml:"dsn"` // Override: UAMUZI_DB_DSN env var.
	MaxOpenConns    int    `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int    `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime string `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"` // Duration string, e.g. "30m".
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// --- Gateway ---

// GatewayConfig configures the HTTP API gateway.
type GatewayConfig struct {
	Enabled             bool   `json:"enabled" yaml:"enabled"`
	ListenAddr          string `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	AuthToken           string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"` // Bearer token. Override: UAMUZI_API_TOKEN env var. Empty = auth disabled.
	EnableDocs          bool   `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64  `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	RequestsPerMinute   int    `json:"requests_per_minute,omitempty" yaml:"requests_per_minute,omitempty"` // Per-client rate limit. 0 = unlimited.
	SSE                 bool   `json:"sse" yaml:"sse"`             // Enable SSE step-event streaming endpoint.
	WebSocket           bool   `json:"websocket" yaml:"websocket"` // Enable WebSocket step-event streaming endpoint.
	WebSocketPath       string `json:"websocket_path,omitempty" yaml:"websocket_path,omitempty"` // Default: "/ws/runs".
}

// Addr returns the listen address with a default of ":8080".
func (g *GatewayConfig) Addr() string {
	if g != nil && g.ListenAddr != "" {
		return g.ListenAddr
	}
	return ":8080"
}

// WSPath returns the WebSocket path with a default of "/ws/runs".
func (g *GatewayConfig) WSPath() string {
	if g != nil && g.WebSocketPath != "" {
		return g.WebSocketPath
	}
	return "/ws/runs"
}

// MaxRequestSize returns the request size cap with a default of 1 MB.
func (g *GatewayConfig) MaxRequestSize() int64 {
	if g != nil && g.MaxRequestSizeBytes > 0 {
		return g.MaxRequestSizeBytes
	}
	return 1 << 20
}

// --- Observability ---

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"` // Default: "/metrics".
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317".
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" (default) or "http".
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio"` // 0 = always sample.
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "uamuzi".
}

// --- Scheduler ---

// SchedulerConfig defines cron-scheduled workflow runs.
type SchedulerConfig struct {
	Jobs []ScheduledJobConfig `json:"jobs" yaml:"jobs"`
}

// ScheduledJobConfig is a single recurring workflow submission.
type ScheduledJobConfig struct {
	Name     string `json:"name" yaml:"name"`
	Schedule string `json:"schedule" yaml:"schedule"` // Cron expression, standard 5-field syntax.
	Request  string `json:"request" yaml:"request"`   // User request text submitted each tick.
}

// --- Loading ---

// DefaultConfigPath returns the default config file path (~/.uamuzi/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/uamuzi.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".uamuzi", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Provider API keys and the gateway token can be set in the
// config file or overridden by environment variables. Environment variables
// take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	// Resolve DataDir default.
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".uamuzi", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variables over file values.
func (c *Config) applyEnvOverrides() {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		c.Providers.Anthropic.APIKey = envKey
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		c.Providers.OpenAI.APIKey = envKey
	}
	if envDD := os.Getenv("UAMUZI_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envToken := os.Getenv("UAMUZI_API_TOKEN"); envToken != "" {
		if c.Gateway == nil {
			c.Gateway = &GatewayConfig{Enabled: true}
		}
		c.Gateway.AuthToken = envToken
	}
	if envDSN := os.Getenv("UAMUZI_TOOL_DB_DSN"); envDSN != "" {
		c.Tools.Database.DSN = envDSN
	}
	if envDSN := os.Getenv("UAMUZI_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".uamuzi", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "uamuzi.db")
}

func (c *Config) validate() error {
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	if err := c.validateProvider(c.Providers.Default); err != nil {
		return err
	}
	for _, name := range c.Providers.Fallback {
		if err := c.validateProvider(name); err != nil {
			return fmt.Errorf("fallback provider: %w", err)
		}
	}

	switch c.Sandbox.SandboxType() {
	case "process", "docker":
	default:
		return fmt.Errorf("sandbox.type must be \"process\" or \"docker\", got %q", c.Sandbox.Type)
	}

	switch c.Storage.StorageDriver() {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required when driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be \"sqlite\", \"postgres\", or \"memory\", got %q", c.Storage.Driver)
	}

	for i, m := range c.Tools.MCP {
		if m.Name == "" {
			return fmt.Errorf("tools.mcp[%d]: name is required", i)
		}
		switch m.Transport {
		case "stdio":
			if m.Command == "" {
				return fmt.Errorf("tools.mcp[%q]: command is required for stdio transport", m.Name)
			}
		case "sse", "streamable_http":
			if m.URL == "" {
				return fmt.Errorf("tools.mcp[%q]: url is required for %s transport", m.Name, m.Transport)
			}
		default:
			return fmt.Errorf("tools.mcp[%q]: unsupported transport %q", m.Name, m.Transport)
		}
	}

	if c.Scheduler != nil {
		for i, j := range c.Scheduler.Jobs {
			if j.Name == "" || j.Schedule == "" || j.Request == "" {
				return fmt.Errorf("scheduler.jobs[%d]: name, schedule, and request are all required", i)
			}
		}
	}

	return nil
}

func (c *Config) validateProvider(name string) error {
	switch name {
	case "anthropic":
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("provider %q selected but no API key configured (set ANTHROPIC_API_KEY)", name)
		}
	case "openai":
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("provider %q selected but no API key configured (set OPENAI_API_KEY)", name)
		}
	case "ollama":
		// No key needed; model is required.
		if c.Providers.Ollama.Model == "" {
			return fmt.Errorf("provider %q selected but no model configured", name)
		}
	default:
		return fmt.Errorf("unknown provider %q (want anthropic, openai, or ollama)", name)
	}
	return nil
}
