// Package file implements a read-only file inspection tool. The research
// node uses it to read manifests, compose files, and service configs on
// the host when gathering evidence for a decision.
//
// Every path is resolved to its absolute, symlink-free form and checked
// against the configured allowlist before any I/O occurs. This blocks
// traversal via ../ sequences, symlink escapes, and relative path tricks.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jkaninda/uamuzi/internal/tools"
)

// Config restricts where the tool may read.
type Config struct {
	AllowedPaths     []string // Directory prefixes that are readable. Empty = deny all.
	MaxFileSizeBytes int64    // Per-file read cap. 0 = 10 MB default.
}

const defaultMaxFileSize = 10 << 20 // 10 MB

// Tool reads files and lists directories within allowed paths.
type Tool struct {
	config Config
	logger *slog.Logger
}

// NewTool creates a file read tool restricted to the given paths.
func NewTool(cfg Config, logger *slog.Logger) *Tool {
	return &Tool{config: cfg, logger: logger}
}

func (t *Tool) Name() string   { return "file_read" }
func (t *Tool) ReadOnly() bool { return true }
func (t *Tool) Description() string {
	return "Read file contents or list a directory within allowed paths"
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":      map[string]any{"type": "string", "description": "Absolute path to the file or directory"},
			"operation": map[string]any{"type": "string", "enum": []string{"read", "list"}, "description": "'read' for file contents, 'list' for a directory listing. Defaults to 'read'"},
		},
		"required": []string{"path"},
	}
}

func (t *Tool) Validate(params map[string]any) error {
	path, err := requireString(params, "path")
	if err != nil {
		return err
	}
	if op := operation(params); op != "read" && op != "list" {
		return fmt.Errorf("operation must be \"read\" or \"list\", got %q", op)
	}
	_, err = safePath(path, t.config.AllowedPaths)
	return err
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return nil, err
	}
	resolved, err := safePath(path, t.config.AllowedPaths)
	if err != nil {
		return nil, err
	}

	op := operation(params)
	t.logger.InfoContext(ctx, "file_read executing",
		slog.String("operation", op),
		slog.String("path", resolved),
	)

	if op == "list" {
		return t.listDir(resolved)
	}
	return t.readFile(resolved)
}

func (t *Tool) readFile(path string) (*tools.Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, use operation=\"list\"", path)
	}
	if info.Size() > t.maxSize() {
		return nil, fmt.Errorf("file size %d exceeds limit %d bytes", info.Size(), t.maxSize())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(string(data), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"path":       path,
			"size_bytes": info.Size(),
		},
	}, nil
}

func (t *Tool) listDir(path string) (*tools.Result, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}

	var b strings.Builder
	for _, e := range entries {
		info, _ := e.Info()
		mode := "-"
		size := int64(0)
		if info != nil {
			mode = info.Mode().String()
			size = info.Size()
		}
		fmt.Fprintf(&b, "%s %8d %s\n", mode, size, e.Name())
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(b.String(), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"path":  path,
			"count": len(entries),
		},
	}, nil
}

func (t *Tool) maxSize() int64 {
	if t.config.MaxFileSizeBytes > 0 {
		return t.config.MaxFileSizeBytes
	}
	return defaultMaxFileSize
}

func operation(params map[string]any) string {
	if v, ok := params["operation"].(string); ok && v != "" {
		return v
	}
	return "read"
}

// safePath resolves a user-supplied path to its absolute, symlink-free
// form and verifies it falls within one of the allowed prefixes.
func safePath(raw string, allowed []string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path must not be empty")
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks for %q: %w", raw, err)
	}

	for _, prefix := range allowed {
		absPrefix, err := filepath.Abs(prefix)
		if err != nil {
			continue
		}
		// "/etc/uamuzi" must match "/etc/uamuzi/app.yaml" but not "/etc/uamuzi-evil".
		if resolved == absPrefix || strings.HasPrefix(resolved, absPrefix+string(filepath.Separator)) {
			return resolved, nil
		}
	}

	return "", fmt.Errorf("path %q resolves to %q which is outside allowed directories", raw, resolved)
}

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
