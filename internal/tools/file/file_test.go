package file

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTool(t *testing.T, cfg Config) (*Tool, string) {
	t.Helper()
	dir := t.TempDir()
	cfg.AllowedPaths = append(cfg.AllowedPaths, dir)
	return NewTool(cfg, testLogger()), dir
}

func TestReadFile(t *testing.T) {
	tool, dir := testTool(t, Config{})
	path := filepath.Join(dir, "deployment.yaml")
	if err := os.WriteFile(path, []byte("replicas: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := tool.Execute(context.Background(), map[string]any{"path": path})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if res.Output != "replicas: 3\n" {
		t.Errorf("got output %q", res.Output)
	}
}

func TestListDirectory(t *testing.T) {
	tool, dir := testTool(t, Config{})
	for _, name := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	res, err := tool.Execute(context.Background(), map[string]any{"path": dir, "operation": "list"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Output, "a.yaml") || !strings.Contains(res.Output, "b.yaml") {
		t.Errorf("listing missing entries: %q", res.Output)
	}
	if res.Metadata["count"] != 2 {
		t.Errorf("got count=%v, want 2", res.Metadata["count"])
	}
}

func TestRejectsPathOutsideAllowlist(t *testing.T) {
	tool, _ := testTool(t, Config{})

	if err := tool.Validate(map[string]any{"path": "/etc/passwd"}); err == nil {
		t.Error("expected error for path outside allowlist")
	}
}

func TestRejectsTraversal(t *testing.T) {
	tool, dir := testTool(t, Config{})

	params := map[string]any{"path": filepath.Join(dir, "..", "..", "etc", "passwd")}
	if err := tool.Validate(params); err == nil {
		t.Error("expected error for traversal path")
	}
}

func TestRejectsSymlinkEscape(t *testing.T) {
	tool, dir := testTool(t, Config{})

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret")
	if err := os.WriteFile(secret, []byte("top secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"path": link}); err == nil {
		t.Error("expected error for symlink escaping the allowlist")
	}
}

func TestRejectsOversizedFile(t *testing.T) {
	tool, dir := testTool(t, Config{MaxFileSizeBytes: 4})
	path := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(path, []byte("more than four bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"path": path}); err == nil {
		t.Error("expected error for oversized file")
	}
}

func TestValidateRejectsBadOperation(t *testing.T) {
	tool, dir := testTool(t, Config{})
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := tool.Validate(map[string]any{"path": path, "operation": "delete"}); err == nil {
		t.Error("expected error for unknown operation")
	}
}

func TestToolIsReadOnly(t *testing.T) {
	tool, _ := testTool(t, Config{})
	if !tool.ReadOnly() {
		t.Error("file_read must be read-only")
	}
	if tool.Name() != "file_read" {
		t.Errorf("got name %q", tool.Name())
	}
}
