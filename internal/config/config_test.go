package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeConfig(t, "config.yaml", `
providers:
  default: anthropic
  anthropic:
    api_key: sk-test
    model: claude-sonnet-4-20250514
workflow:
  iteration_ceiling: 5
  research_direct_finish: false
sandbox:
  type: process
  max_memory_mb: 256
tools:
  database:
    dsn: postgres://localhost/apps
  mcp:
    - name: k8s
      transport: stdio
      command: mcp-k8s
      read_only: true
gateway:
  enabled: true
  listen_addr: ":9090"
  sse: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.Providers.Anthropic.APIKey)
	}
	if cfg.Workflow.Ceiling() != 5 {
		t.Errorf("Ceiling() = %d, want 5", cfg.Workflow.Ceiling())
	}
	if cfg.Workflow.DirectFinish() {
		t.Error("DirectFinish() = true, want false")
	}
	if cfg.Gateway.Addr() != ":9090" {
		t.Errorf("Addr() = %q", cfg.Gateway.Addr())
	}
	if len(cfg.Tools.MCP) != 1 || !cfg.Tools.MCP[0].ReadOnly {
		t.Errorf("mcp = %+v", cfg.Tools.MCP)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	path := writeConfig(t, "config.yaml", `
providers:
  anthropic:
    model: claude-sonnet-4-20250514
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	// Env var takes precedence and satisfies validation.
	if cfg.Providers.Anthropic.APIKey != "sk-env" {
		t.Errorf("api key = %q, want env override", cfg.Providers.Anthropic.APIKey)
	}
	if cfg.Providers.DefaultProvider() != "anthropic" {
		t.Errorf("default provider = %q", cfg.Providers.DefaultProvider())
	}
	// Nil sections fall back to accessor defaults.
	if cfg.Workflow.Ceiling() != 3 {
		t.Errorf("Ceiling() = %d, want 3", cfg.Workflow.Ceiling())
	}
	if cfg.Workflow.StepBound() != 50 {
		t.Errorf("StepBound() = %d, want 50", cfg.Workflow.StepBound())
	}
	if !cfg.Workflow.DirectFinish() {
		t.Error("DirectFinish() = false, want default true")
	}
	if cfg.Storage.StorageDriver() != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Storage.StorageDriver())
	}
	if cfg.Sandbox.SandboxType() != "process" {
		t.Errorf("sandbox type = %q, want process", cfg.Sandbox.SandboxType())
	}
}

func TestLoadRejectsMissingProviderKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeConfig(t, "config.yaml", `
providers:
  default: anthropic
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestLoadRejectsBadMCP(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	path := writeConfig(t, "config.yaml", `
providers:
  default: anthropic
tools:
  mcp:
    - name: broken
      transport: stdio
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for stdio server without command")
	}
}

func TestLoadAcceptsMemoryDriver(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("UAMUZI_DB_DSN", "")
	path := writeConfig(t, "config.yaml", `
providers:
  default: anthropic
storage:
  driver: memory
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.StorageDriver() != "memory" {
		t.Errorf("driver = %q, want memory", cfg.Storage.StorageDriver())
	}
}

func TestLoadPostgresRequiresDSN(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("UAMUZI_DB_DSN", "")
	path := writeConfig(t, "config.yaml", `
providers:
  default: anthropic
storage:
  driver: postgres
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for postgres driver without DSN")
	}
}

func TestNodeOverride(t *testing.T) {
	w := &WorkflowConfig{Nodes: map[string]NodeOverrides{
		"planning": {Model: "claude-haiku-4", MaxTokens: 2048},
	}}
	if got := w.NodeOverride("planning").Model; got != "claude-haiku-4" {
		t.Errorf("Model = %q", got)
	}
	if got := w.NodeOverride("unknown"); got.Model != "" || got.MaxTokens != 0 {
		t.Errorf("unknown node override = %+v, want zero value", got)
	}
	var nilCfg *WorkflowConfig
	if got := nilCfg.NodeOverride("planning"); got.Model != "" {
		t.Error("nil config should return zero override")
	}
}
