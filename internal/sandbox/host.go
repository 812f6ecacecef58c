package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// HostSandbox executes commands in the host's namespaces via nsenter.
// It is the explicit escape hatch for agents that must inspect or change
// the node the orchestrator runs on, e.g. reading kubelet state from
// inside a pod. It is never the default: callers opt in per command,
// and the configuration must enable it before NewHostSandbox is reached.
//
// Unlike ProcessSandbox there is no ulimit wrapping and no scratch
// directory; the whole point is to run against the real host. Timeout
// and output caps still apply.
type HostSandbox struct {
	targetPID      int
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// HostConfig configures host-namespace execution.
type HostConfig struct {
	// TargetPID is the process whose namespaces are entered, normally 1.
	TargetPID      int
	DefaultTimeout time.Duration
}

// NewHostSandbox creates a sandbox that crosses into the host namespaces.
func NewHostSandbox(cfg HostConfig, logger *slog.Logger) *HostSandbox {
	pid := cfg.TargetPID
	if pid <= 0 {
		pid = 1
	}
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &HostSandbox{targetPID: pid, defaultTimeout: timeout, logger: logger}
}

var _ Sandbox = (*HostSandbox)(nil)

// Execute runs the command inside the host's mount, UTS, IPC, network
// and PID namespaces.
func (s *HostSandbox) Kind() string { return "host" }

func (s *HostSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-t", fmt.Sprintf("%d", s.targetPID),
		"-m", "-u", "-i", "-n", "-p", "--",
	}
	args = append(args, req.Command...)

	cmd := exec.CommandContext(ctx, "nsenter", args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	s.logger.Warn("executing on host namespaces",
		slog.Any("command", req.Command),
		slog.Int("target_pid", s.targetPID),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("host execution timed out after %s", timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("host execution failed: %w", runErr)
		}
	}

	return &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}
