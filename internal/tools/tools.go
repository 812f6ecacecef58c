// Package tools defines the tool interface and registry exposed to the
// workflow's agent nodes. Each node sees only the subset of tools its
// role is granted.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jkaninda/uamuzi/internal/llm"
)

// Tool is the interface all tools must implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "shell_exec").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's parameters.
	// This is sent to the LLM as the tool's input_schema for function calling.
	InputSchema() map[string]any

	// ReadOnly reports whether the tool only observes. Mutating tools are
	// withheld from research-phase nodes.
	ReadOnly() bool

	// Validate checks that params are well-formed before execution.
	Validate(params map[string]any) error

	// Execute runs the tool with the given parameters. A failed execution
	// should return a Result with Success=false where possible; an error
	// return is reserved for infrastructure failures. Either way the
	// caller reports the failure back to the model instead of aborting.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution.
type Result struct {
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Success  bool           `json:"success"`
}

// MaxOutputBytes is the default cap for tool output to prevent OOM.
const MaxOutputBytes = 1 << 20 // 1 MB

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// TruncateLines caps a string at maxLines lines, appending a notice with the
// number of lines dropped. Commands like kubectl get pods over a busy cluster
// produce hundreds of uniform rows; the head is almost always what matters.
func TruncateLines(s string, maxLines int) string {
	if maxLines <= 0 {
		return s
	}
	idx := 0
	for n := 0; n < maxLines; n++ {
		next := strings.IndexByte(s[idx:], '\n')
		if next < 0 {
			return s
		}
		idx += next + 1
	}
	if idx >= len(s) {
		return s
	}
	dropped := strings.Count(s[idx:], "\n") + 1
	return s[:idx] + fmt.Sprintf("... [%d more lines truncated]", dropped)
}

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered tools.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	return result
}

// Subset returns a new registry restricted to the named tools. Unknown
// names are skipped so a node's grant list can reference optional tools
// (e.g. MCP tools that only exist when a server is configured).
func (r *Registry) Subset(names ...string) *Registry {
	sub := NewRegistry()
	for _, name := range names {
		if t := r.Get(name); t != nil {
			sub.Register(t)
		}
	}
	return sub
}

// ReadOnlySubset returns a new registry restricted to read-only tools.
func (r *Registry) ReadOnlySubset() *Registry {
	sub := NewRegistry()
	for _, t := range r.All() {
		if t.ReadOnly() {
			sub.Register(t)
		}
	}
	return sub
}

// ToLLMDefinitions converts all registered tools into LLM tool definitions.
func ToLLMDefinitions(reg *Registry) []llm.ToolDefinition {
	all := reg.All()
	defs := make([]llm.ToolDefinition, len(all))
	for i, t := range all {
		defs[i] = llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		}
	}
	return defs
}
