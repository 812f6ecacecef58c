// Package mcp bridges external Model Context Protocol servers into the
// tool registry. Tools discovered over MCP are adapted to tools.Tool, so
// the research agent calls them exactly like built-ins.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/uamuzi/internal/config"
	"github.com/jkaninda/uamuzi/internal/tools"
)

// Tool adapts one remote MCP tool. Names are namespaced as
// "mcp__<server>__<tool>" so two servers can expose the same tool name.
type Tool struct {
	name        string
	description string
	inputSchema map[string]any
	readOnly    bool // declared per server in configuration
	client      mcpclient.MCPClient
	remoteName  string // the name the server knows the tool by
	server      string
	logger      *slog.Logger
}

var _ tools.Tool = (*Tool)(nil)

func (t *Tool) Name() string                { return t.name }
func (t *Tool) Description() string         { return t.description }
func (t *Tool) InputSchema() map[string]any { return t.inputSchema }
func (t *Tool) ReadOnly() bool              { return t.readOnly }

// Validate checks the schema's required keys are present. Full schema
// validation is left to the server, which owns the schema.
func (t *Tool) Validate(params map[string]any) error {
	required, _ := t.inputSchema["required"].([]any)
	for _, r := range required {
		key, ok := r.(string)
		if !ok {
			continue
		}
		if _, exists := params[key]; !exists {
			return fmt.Errorf("missing required parameter: %s", key)
		}
	}
	return nil
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	t.logger.InfoContext(ctx, "mcp tool executing",
		slog.String("server", t.server),
		slog.String("tool", t.remoteName),
	)

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = t.remoteName
	callReq.Params.Arguments = params

	callResult, err := t.client.CallTool(ctx, callReq)
	if err != nil {
		return nil, fmt.Errorf("MCP call to %s/%s failed: %w", t.server, t.remoteName, err)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(flattenContent(callResult.Content), tools.MaxOutputBytes),
		Success: !callResult.IsError,
		Metadata: map[string]any{
			"mcp_server":    t.server,
			"mcp_tool":      t.remoteName,
			"content_items": len(callResult.Content),
		},
	}, nil
}

// flattenContent joins MCP content items into one string. Text items
// pass through; anything else (image, resource) is serialized as JSON.
func flattenContent(content []mcp.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n")
		}
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
			continue
		}
		data, _ := json.Marshal(c)
		sb.Write(data)
	}
	return sb.String()
}

// Bridge owns the MCP client connections for the engine's lifetime and
// produces Tool adapters for the registry.
type Bridge struct {
	clients []mcpclient.MCPClient
	logger  *slog.Logger
}

func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{logger: logger}
}

// ConnectAndDiscover dials one MCP server, runs the initialize
// handshake, lists its tools, and returns adapters ready to register.
func (b *Bridge) ConnectAndDiscover(ctx context.Context, cfg config.MCPServerConfig) ([]*Tool, error) {
	c, err := b.dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating MCP client for %q: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "uamuzi",
		Version: "0.1.0",
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("MCP initialize for %q: %w", cfg.Name, err)
	}

	b.clients = append(b.clients, c)

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("MCP list tools for %q: %w", cfg.Name, err)
	}

	adapted := make([]*Tool, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		adapted = append(adapted, &Tool{
			name:        fmt.Sprintf("mcp__%s__%s", cfg.Name, t.Name),
			description: fmt.Sprintf("[MCP:%s] %s", cfg.Name, t.Description),
			inputSchema: genericSchema(t.InputSchema),
			readOnly:    cfg.ReadOnly,
			client:      c,
			remoteName:  t.Name,
			server:      cfg.Name,
			logger:      b.logger,
		})
	}

	b.logger.Info("MCP server connected",
		slog.String("server", cfg.Name),
		slog.String("transport", cfg.Transport),
		slog.Int("tools_discovered", len(adapted)),
		slog.Bool("read_only", cfg.ReadOnly),
	)

	return adapted, nil
}

// Close shuts down all MCP client connections.
func (b *Bridge) Close() {
	for _, c := range b.clients {
		if err := c.Close(); err != nil {
			b.logger.Error("closing MCP client", slog.String("error", err.Error()))
		}
	}
}

func (b *Bridge) dial(cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		return mcpclient.NewStdioMCPClient(cfg.Command, expandEnvList(cfg.Env), cfg.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(expandEnvValues(cfg.Headers)))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)

	case "streamable_http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(expandEnvValues(cfg.Headers)))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

// genericSchema converts the typed MCP input schema to the map form the
// registry hands to the model.
func genericSchema(schema mcp.ToolInputSchema) map[string]any {
	out := map[string]any{"type": schema.Type}
	if schema.Properties != nil {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		required := make([]any, len(schema.Required))
		for i, r := range schema.Required {
			required[i] = r
		}
		out["required"] = required
	}
	return out
}

// expandEnvList renders a key/value map as "KEY=value" pairs with
// $VAR references expanded from the host environment.
func expandEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

// expandEnvValues expands $VAR references in every value.
func expandEnvValues(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
