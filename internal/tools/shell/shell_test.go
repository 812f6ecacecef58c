package shell

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jkaninda/uamuzi/internal/sandbox"
)

// fakeSandbox records the last request and returns a scripted result.
type fakeSandbox struct {
	lastReq sandbox.ExecutionRequest
	result  *sandbox.ExecutionResult
	err     error
}

func (f *fakeSandbox) Kind() string { return "fake" }

func (f *fakeSandbox) Execute(_ context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShellExecuteWrapsCommand(t *testing.T) {
	sbx := &fakeSandbox{result: &sandbox.ExecutionResult{Stdout: "3 nodes", ExitCode: 0}}
	tool := NewTool(sbx, discardLogger())

	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "kubectl get nodes",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Output != "3 nodes" {
		t.Errorf("result = %+v", result)
	}
	want := []string{"sh", "-c", "kubectl get nodes"}
	if len(sbx.lastReq.Command) != 3 || sbx.lastReq.Command[2] != want[2] {
		t.Errorf("sandbox command = %v, want %v", sbx.lastReq.Command, want)
	}
}

func TestShellNonZeroExitIsFailedResult(t *testing.T) {
	sbx := &fakeSandbox{result: &sandbox.ExecutionResult{Stderr: "not found", ExitCode: 1}}
	tool := NewTool(sbx, discardLogger())

	result, err := tool.Execute(context.Background(), map[string]any{"command": "kubectl get foo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Error("expected failed result")
	}
	if !strings.Contains(result.Output, "not found") {
		t.Errorf("output = %q", result.Output)
	}
}

func TestShellSandboxErrorIsContained(t *testing.T) {
	sbx := &fakeSandbox{err: errors.New("execution timed out after 30s")}
	tool := NewTool(sbx, discardLogger())

	result, err := tool.Execute(context.Background(), map[string]any{"command": "sleep 999"})
	if err != nil {
		t.Fatalf("sandbox error should become a failed result, got error: %v", err)
	}
	if result.Success {
		t.Error("expected failed result")
	}
	if !strings.Contains(result.Output, "timed out") {
		t.Errorf("output = %q, want timeout message for the model", result.Output)
	}
}

func TestShellHostTarget(t *testing.T) {
	sbx := &fakeSandbox{result: &sandbox.ExecutionResult{Stdout: "pod"}}
	host := &fakeSandbox{result: &sandbox.ExecutionResult{Stdout: "node"}}
	tool := NewTool(sbx, discardLogger(), WithHostSandbox(host))

	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "systemctl status kubelet",
		"target":  "host",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output != "node" {
		t.Errorf("output = %q, expected host sandbox to handle the call", result.Output)
	}
	if host.lastReq.Command == nil {
		t.Error("host sandbox was not invoked")
	}
	if sbx.lastReq.Command != nil {
		t.Error("default sandbox should not have been invoked")
	}
}

func TestShellHostTargetDisabled(t *testing.T) {
	tool := NewTool(&fakeSandbox{}, discardLogger())

	if err := tool.Validate(map[string]any{"command": "id", "target": "host"}); err == nil {
		t.Error("expected validation error when host execution is disabled")
	}
	if _, err := tool.Execute(context.Background(), map[string]any{"command": "id", "target": "host"}); err == nil {
		t.Error("expected execute error when host execution is disabled")
	}
}

func TestShellValidate(t *testing.T) {
	tool := NewTool(&fakeSandbox{}, discardLogger())

	if err := tool.Validate(map[string]any{}); err == nil {
		t.Error("expected error for missing command")
	}
	if err := tool.Validate(map[string]any{"command": "ls", "timeout": "bogus"}); err == nil {
		t.Error("expected error for invalid timeout")
	}
	if err := tool.Validate(map[string]any{"command": "ls", "timeout": "10s"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
