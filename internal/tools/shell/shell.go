// Package shell implements the sandboxed shell execution tool used by
// the research and code agents. Commands run through a sandbox by
// default; an explicit "target":"host" crosses into the host namespaces
// and is only honored when a host sandbox was configured.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/uamuzi/internal/sandbox"
	"github.com/jkaninda/uamuzi/internal/tools"
)

// Tool executes shell commands inside a sandbox.
type Tool struct {
	sandbox sandbox.Sandbox
	host    sandbox.Sandbox // nil = host execution disabled
	logger  *slog.Logger
}

// Option configures the shell tool.
type Option func(*Tool)

// WithHostSandbox enables the "target":"host" escape hatch.
func WithHostSandbox(host sandbox.Sandbox) Option {
	return func(t *Tool) { t.host = host }
}

// NewTool creates a shell tool that delegates all execution to the given sandbox.
func NewTool(sbx sandbox.Sandbox, logger *slog.Logger, opts ...Option) *Tool {
	t := &Tool{
		sandbox: sbx,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ tools.Tool = (*Tool)(nil)

func (t *Tool) Name() string        { return "shell_exec" }
func (t *Tool) Description() string {
	return "Execute a shell command in a sandboxed environment. Use for kubectl, helm, and other cluster inspection commands."
}

func (t *Tool) InputSchema() map[string]any {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":     map[string]any{"type": "string", "description": "The shell command to execute"},
			"timeout":     map[string]any{"type": "string", "description": "Duration string (e.g. '10s', '1m'), overrides default timeout"},
			"working_dir": map[string]any{"type": "string", "description": "Working directory override"},
		},
		"required": []string{"command"},
	}
	if t.host != nil {
		props := schema["properties"].(map[string]any)
		props["target"] = map[string]any{
			"type":        "string",
			"enum":        []string{"sandbox", "host"},
			"description": "Where to run the command. 'host' enters the node's namespaces; use only when sandbox inspection is insufficient.",
		}
	}
	return schema
}

// ReadOnly is false: arbitrary shell commands can mutate.
func (t *Tool) ReadOnly() bool { return false }

// Validate checks that required params are present and well-formed.
func (t *Tool) Validate(params map[string]any) error {
	if _, err := requireString(params, "command"); err != nil {
		return err
	}
	if timeout, ok := params["timeout"].(string); ok && timeout != "" {
		if _, err := time.ParseDuration(timeout); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", timeout, err)
		}
	}
	if target, ok := params["target"].(string); ok && target == "host" && t.host == nil {
		return fmt.Errorf("host execution is not enabled")
	}
	return nil
}

// Execute runs the command through the sandbox.
//
// Required params:
//
//	"command" (string): the shell command to execute
//
// Optional params:
//
//	"timeout" (string): duration string (e.g. "10s", "1m"), overrides default
//	"working_dir" (string): working directory override
//	"target" (string): "sandbox" (default) or "host"
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	command, err := requireString(params, "command")
	if err != nil {
		return nil, err
	}

	req := sandbox.ExecutionRequest{
		// The command runs inside sh -c, which the sandbox further wraps
		// with ulimit enforcement. The outer sh applies resource limits,
		// the inner sh interprets the command string (pipes, redirects).
		Command: []string{"sh", "-c", command},
	}

	if timeout, ok := params["timeout"].(string); ok && timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", timeout, err)
		}
		req.Timeout = d
	}

	if dir, ok := params["working_dir"].(string); ok {
		req.WorkingDir = dir
	}

	executor := t.sandbox
	target := "sandbox"
	if v, ok := params["target"].(string); ok && v == "host" {
		if t.host == nil {
			return nil, fmt.Errorf("host execution is not enabled")
		}
		executor = t.host
		target = "host"
	}

	t.logger.InfoContext(ctx, "shell tool executing",
		slog.String("command", command),
		slog.String("target", target),
	)

	result, err := executor.Execute(ctx, req)
	if err != nil {
		// Timeouts and sandbox failures become a failed result so the
		// model sees the error text and can adjust.
		return &tools.Result{
			Output:  fmt.Sprintf("execution error: %v", err),
			Success: false,
			Metadata: map[string]any{
				"target": target,
			},
		}, nil
	}

	output := result.Stdout
	if result.Stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += result.Stderr
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(output, tools.MaxOutputBytes),
		Success: result.ExitCode == 0,
		Metadata: map[string]any{
			"exit_code": result.ExitCode,
			"duration":  result.Duration.String(),
			"target":    target,
		},
	}, nil
}

// requireString extracts a required string parameter.
func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}
