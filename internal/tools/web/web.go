// Package web implements the read-only HTTP fetch tool the research node
// uses to pull evidence from runbooks, status pages, and internal docs.
//
// Security:
//   - Hostname allowlist enforced before every request and on every redirect
//   - DNS resolution checked: private and internal IPs are refused
//   - Response body capped
//   - Only GET and HEAD methods
package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jkaninda/uamuzi/internal/tools"
)

// Config restricts what the fetch tool may reach.
type Config struct {
	AllowedDomains   []string // Exact hostnames allowed. Empty = deny all.
	MaxResponseBytes int64    // Response body cap. 0 = 5 MB default.
	TimeoutSeconds   int      // Per-request timeout. 0 = 10s default.
}

const (
	defaultMaxResponseBytes = 5 << 20 // 5 MB
	defaultTimeoutSeconds   = 10
	maxRedirects            = 5
)

// Tool fetches URLs within the configured allowlist.
type Tool struct {
	config Config
	logger *slog.Logger
}

// NewTool creates a web fetch tool restricted to the given domains.
func NewTool(cfg Config, logger *slog.Logger) *Tool {
	return &Tool{config: cfg, logger: logger}
}

func (t *Tool) Name() string        { return "web_fetch" }
func (t *Tool) ReadOnly() bool      { return true }
func (t *Tool) Description() string { return "Fetch content from an allowlisted URL (GET or HEAD)" }

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":    map[string]any{"type": "string", "description": "The URL to fetch (http or https)"},
			"method": map[string]any{"type": "string", "enum": []string{"GET", "HEAD"}, "description": "HTTP method. Defaults to GET"},
		},
		"required": []string{"url"},
	}
}

func (t *Tool) Validate(params map[string]any) error {
	rawURL, err := requireString(params, "url")
	if err != nil {
		return err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("only http/https schemes allowed, got %q", parsed.Scheme)
	}
	if !domainAllowed(parsed.Hostname(), t.config.AllowedDomains) {
		return fmt.Errorf("domain %q is not in the allowlist", parsed.Hostname())
	}

	if m := requestMethod(params); m != http.MethodGet && m != http.MethodHead {
		return fmt.Errorf("only GET and HEAD methods allowed, got %q", m)
	}
	return nil
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	rawURL, err := requireString(params, "url")
	if err != nil {
		return nil, err
	}
	method := requestMethod(params)

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if err := guardHost(parsed.Hostname()); err != nil {
		return nil, err
	}

	timeout := time.Duration(t.config.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &http.Client{CheckRedirect: t.checkRedirect}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Uamuzi/1.0")

	t.logger.InfoContext(ctx, "web_fetch executing",
		slog.String("method", method),
		slog.String("url", rawURL),
	)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	maxBytes := t.config.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	truncated := false
	if int64(len(body)) > maxBytes {
		body = body[:maxBytes]
		truncated = true
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(string(body), tools.MaxOutputBytes),
		Success: resp.StatusCode >= 200 && resp.StatusCode < 400,
		Metadata: map[string]any{
			"status_code": resp.StatusCode,
			"url":         resp.Request.URL.String(),
			"truncated":   truncated,
		},
	}, nil
}

// checkRedirect re-validates the allowlist and IP ranges on every hop.
func (t *Tool) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("too many redirects (max %d)", maxRedirects)
	}
	host := req.URL.Hostname()
	if !domainAllowed(host, t.config.AllowedDomains) {
		return fmt.Errorf("redirect to disallowed domain %q blocked", host)
	}
	return guardHost(host)
}

func requestMethod(params map[string]any) string {
	if m, ok := params["method"].(string); ok && m != "" {
		return strings.ToUpper(m)
	}
	return http.MethodGet
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
