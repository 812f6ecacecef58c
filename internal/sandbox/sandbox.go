// Package sandbox provides the isolated execution targets behind the
// shell tool. Agent-requested commands (kubectl, docker, systemctl, ...)
// never run directly on the engine's host process: they go through a
// process sandbox with rlimits, a Docker container, or an explicit
// nsenter-based host target.
package sandbox

import (
	"context"
	"time"
)

// Sandbox executes a single command in an isolated environment.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)

	// Kind identifies the isolation mechanism ("process", "docker",
	// "host") for logs and metric labels.
	Kind() string
}

// ExecutionRequest defines what to run and under what constraints.
type ExecutionRequest struct {
	// Command is the program and its arguments (e.g. ["kubectl", "get", "pods"]).
	Command []string

	// WorkingDir overrides the working directory. Empty = isolated temp dir.
	WorkingDir string

	// Env adds variables on top of the sandbox's minimal safe base set.
	Env map[string]string

	// Timeout overrides the sandbox default. Zero = use default.
	Timeout time.Duration

	// Limits overrides resource limits. Zero values = sandbox defaults.
	Limits ResourceLimits
}

// ResourceLimits constrains the sandboxed process.
type ResourceLimits struct {
	MaxCPUSeconds int // CPU time limit (ulimit -t).
	MaxMemoryMB   int // Virtual memory limit in MB (ulimit -v).
}

// ExecutionResult captures the outcome of a sandboxed command.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}
