package sandbox

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

const (
	defaultDockerPIDsLimit = 64
	defaultDockerCPUCores  = 1.0
	defaultDockerImage     = "uamuzi-runtime:latest"
)

// DockerConfig configures the Docker-based sandbox.
type DockerConfig struct {
	Image          string        // Container image (e.g. "uamuzi-runtime:latest").
	DefaultTimeout time.Duration // Wall-clock timeout per execution.
	MemoryMB       int           // --memory hard limit.
	CPUCores       float64       // --cpus rate limit (e.g. 0.5 = half a core).
	PIDsLimit      int           // --pids-limit (prevents fork bombs).
	NetworkAllowed bool          // false = --network=none (no network stack at all).
}

// DockerSandbox runs each command in its own ephemeral container:
// all capabilities dropped, read-only root filesystem, non-root user,
// no privilege escalation, swap disabled, PIDs capped, and no network
// unless explicitly allowed. The image is expected to carry the
// operator tooling (kubectl, helm) the agents invoke.
type DockerSandbox struct {
	config DockerConfig
	logger *slog.Logger
}

var _ Sandbox = (*DockerSandbox)(nil)

// NewDockerSandbox creates a Docker-based sandbox.
func NewDockerSandbox(cfg DockerConfig, logger *slog.Logger) *DockerSandbox {
	if cfg.Image == "" {
		cfg.Image = defaultDockerImage
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = defaultMemoryMB
	}
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = defaultDockerCPUCores
	}
	if cfg.PIDsLimit <= 0 {
		cfg.PIDsLimit = defaultDockerPIDsLimit
	}
	return &DockerSandbox{config: cfg, logger: logger}
}

func (s *DockerSandbox) Kind() string { return "docker" }

// Execute runs one command inside a hardened, single-use container.
func (s *DockerSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	containerName, err := newContainerName()
	if err != nil {
		return nil, fmt.Errorf("generating container name: %w", err)
	}

	memoryMB := s.config.MemoryMB
	if req.Limits.MaxMemoryMB > 0 {
		memoryMB = req.Limits.MaxMemoryMB
	}

	args := s.runArgs(containerName, memoryMB, req)
	args = append(args, req.Command...)

	cmd := exec.CommandContext(ctx, "docker", args...)
	// Killing the docker client drops the attach; the daemon stops the
	// container once the client is gone.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	s.logger.Info("docker sandbox executing",
		slog.String("container", containerName),
		slog.String("image", s.config.Image),
		slog.Any("command", req.Command),
		slog.Int("memory_mb", memoryMB),
		slog.Float64("cpu_cores", s.config.CPUCores),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	// --rm does not fire on OOM kill, daemon restart, or a cancel race,
	// so always force-remove the container afterwards.
	s.removeContainer(containerName)

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil {
			s.logger.Warn("docker sandbox timed out",
				slog.String("container", containerName),
				slog.Duration("timeout", timeout),
				slog.Duration("duration", duration),
			)
			return nil, fmt.Errorf("execution timed out after %s", timeout)
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("docker execution failed: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	s.logger.Info("docker sandbox completed",
		slog.String("container", containerName),
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdoutBuf.Len()),
		slog.Int("stderr_bytes", stderrBuf.Len()),
	)

	return &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// runArgs builds the docker run argument list up to and including the
// image name. The caller appends the command.
func (s *DockerSandbox) runArgs(name string, memoryMB int, req ExecutionRequest) []string {
	memoryFlag := strconv.Itoa(memoryMB) + "m"

	args := []string{
		"run", "--rm",
		"--name", name,

		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--read-only",
		"--user=65534:65534", // nobody

		"--memory=" + memoryFlag,
		"--memory-swap=" + memoryFlag, // equal to memory: swap disabled, OOM kill on exceed
		"--cpus=" + strconv.FormatFloat(s.config.CPUCores, 'f', 2, 64),
		"--pids-limit=" + strconv.Itoa(s.config.PIDsLimit),

		// Writable scratch space on an otherwise read-only filesystem.
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
		"--tmpfs", "/home/sandbox:rw,noexec,nosuid,size=64m",

		// Fixed environment; nothing inherited from the host.
		"--env", "HOME=/home/sandbox",
		"--env", "PATH=/usr/local/bin:/usr/bin:/bin",
		"--env", "LANG=en_US.UTF-8",
		"--env", "TERM=dumb",
	}

	if s.config.NetworkAllowed {
		args = append(args, "--network=bridge")
	} else {
		args = append(args, "--network=none")
	}

	workdir := req.WorkingDir
	if workdir == "" {
		workdir = "/home/sandbox"
	}
	args = append(args, "--workdir", workdir)

	for k, v := range req.Env {
		args = append(args, "--env", k+"="+v)
	}

	return append(args, s.config.Image)
}

// removeContainer force-removes a container by name. Best effort; a
// missing container means --rm already cleaned up.
func (s *DockerSandbox) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil && !bytes.Contains(out, []byte("No such container")) {
		s.logger.Warn("docker rm -f failed",
			slog.String("container", name),
			slog.String("error", err.Error()),
			slog.String("output", string(out)),
		)
	}
}

// newContainerName returns a unique name: uamuzi-sbx-<16 hex chars>.
func newContainerName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "uamuzi-sbx-" + hex.EncodeToString(b), nil
}
