// Package agents implements the workflow's agent nodes: the orchestrator
// hub plus the planning, research, decision, review, code, and prompt
// generation specialists. Every node talks to the model through a shared
// Runner that owns the tool-call loop.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jkaninda/uamuzi/internal/llm"
	"github.com/jkaninda/uamuzi/internal/tools"
)

const (
	defaultMaxToolRounds = 2
	maxToolRounds        = 5
	maxCallsPerRound     = 4
	defaultMaxTokens     = 4096

	// Caps on tool output fed back into the conversation. Outputs are
	// trimmed by line count first, then by bytes, so a handful of very
	// long lines cannot blow the context either.
	maxResultLines = 40
	maxResultBytes = 8192
)

// ToolCall records one tool execution made during a completion, including
// failures. The transcript of calls is attached to research findings so
// reviewers can see what the agent actually ran.
type ToolCall struct {
	Name     string         `json:"name"`
	Input    map[string]any `json:"input,omitempty"`
	Output   string         `json:"output"`
	Success  bool           `json:"success"`
	Duration string         `json:"duration,omitempty"`
}

// Completion is the result of a Runner call.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Usage     llm.Usage
	// Exhausted is set when the tool-round budget ran out and the final
	// answer was produced by a best-effort finalization query.
	Exhausted bool
}

// Runner drives model completions for a single node: one-shot prompts
// and the bounded tool-call loop.
type Runner struct {
	provider    llm.Provider
	registry    *tools.Registry
	logger      *slog.Logger
	model       string
	temperature *float64
	maxTokens   int
	maxRounds   int
}

// RunnerConfig carries per-node model settings.
type RunnerConfig struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	MaxRounds   int
}

// NewRunner creates a runner. registry may be nil for nodes without tools.
func NewRunner(provider llm.Provider, registry *tools.Registry, logger *slog.Logger, cfg RunnerConfig) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	rounds := cfg.MaxRounds
	if rounds <= 0 {
		rounds = defaultMaxToolRounds
	}
	if rounds > maxToolRounds {
		rounds = maxToolRounds
	}
	return &Runner{
		provider:    provider,
		registry:    registry,
		logger:      logger,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		maxRounds:   rounds,
	}
}

// Complete sends a single prompt with no tools and returns the text.
func (r *Runner) Complete(ctx context.Context, system, prompt string) (*Completion, error) {
	resp, err := r.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Model:        r.model,
		MaxTokens:    r.maxTokens,
		Temperature:  r.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("model request: %w", err)
	}
	return &Completion{Text: resp.Content, Usage: resp.Usage}, nil
}

// CompleteWithTools runs the bounded agentic loop: the model may request
// tool executions, their results are fed back as tool_result blocks, and
// the conversation continues until the model answers in text or the round
// budget is exhausted. When the budget runs out a final query without
// tools asks the model to answer from what it has gathered.
func (r *Runner) CompleteWithTools(ctx context.Context, system, prompt string) (*Completion, error) {
	if r.registry == nil || len(r.registry.All()) == 0 {
		return r.Complete(ctx, system, prompt)
	}

	defs := tools.ToLLMDefinitions(r.registry)
	history := []llm.Message{{Role: llm.RoleUser, Content: prompt}}

	comp := &Completion{}
	for round := 0; round < r.maxRounds; round++ {
		resp, err := r.provider.SendMessage(ctx, &llm.Request{
			SystemPrompt: system,
			Messages:     history,
			Model:        r.model,
			MaxTokens:    r.maxTokens,
			Temperature:  r.temperature,
			Tools:        defs,
		})
		if err != nil {
			return nil, fmt.Errorf("model request (round %d): %w", round+1, err)
		}
		comp.Usage.InputTokens += resp.Usage.InputTokens
		comp.Usage.OutputTokens += resp.Usage.OutputTokens

		if !resp.HasToolUse() {
			comp.Text = resp.Content
			return comp, nil
		}

		resultBlocks := r.executeToolCalls(ctx, resp.ToolUseBlocks(), comp)

		history = append(history,
			llm.Message{Role: llm.RoleAssistant, ContentBlocks: resp.ContentBlocks},
			llm.Message{Role: llm.RoleUser, ContentBlocks: resultBlocks},
		)
	}

	// Round budget exhausted: ask for a final answer without tools.
	history = append(history, llm.Message{
		Role:    llm.RoleUser,
		Content: "Tool budget exhausted. Answer now using only the information gathered above.",
	})
	resp, err := r.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: system,
		Messages:     history,
		Model:        r.model,
		MaxTokens:    r.maxTokens,
		Temperature:  r.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("finalization request: %w", err)
	}
	comp.Usage.InputTokens += resp.Usage.InputTokens
	comp.Usage.OutputTokens += resp.Usage.OutputTokens
	comp.Text = resp.Content
	comp.Exhausted = true
	return comp, nil
}

// executeToolCalls runs each requested tool and converts the outcomes to
// tool_result blocks. A failed tool never aborts the loop: the error text
// is returned to the model as an error result so it can adjust. Calls
// past the per-round limit are refused the same way, so every requested
// tool_use ID still receives a result block.
func (r *Runner) executeToolCalls(ctx context.Context, calls []llm.ContentBlock, comp *Completion) []llm.ContentBlock {
	resultBlocks := make([]llm.ContentBlock, 0, len(calls))
	for i, call := range calls {
		if i >= maxCallsPerRound {
			msg := fmt.Sprintf("Error: tool call limit (%d per round) reached; retry next round", maxCallsPerRound)
			comp.ToolCalls = append(comp.ToolCalls, ToolCall{
				Name:    call.Name,
				Input:   call.Input,
				Output:  msg,
				Success: false,
			})
			resultBlocks = append(resultBlocks, llm.ToolResultBlock(call.ID, msg, true))
			continue
		}
		output, success := r.executeOne(ctx, call, comp)
		output = tools.TruncateOutput(tools.TruncateLines(output, maxResultLines), maxResultBytes)
		resultBlocks = append(resultBlocks, llm.ToolResultBlock(call.ID, output, !success))
	}
	return resultBlocks
}

func (r *Runner) executeOne(ctx context.Context, call llm.ContentBlock, comp *Completion) (string, bool) {
	start := time.Now()
	record := func(output string, success bool) (string, bool) {
		comp.ToolCalls = append(comp.ToolCalls, ToolCall{
			Name:     call.Name,
			Input:    call.Input,
			Output:   tools.TruncateOutput(output, 4096),
			Success:  success,
			Duration: time.Since(start).Round(time.Millisecond).String(),
		})
		return output, success
	}

	tool := r.registry.Get(call.Name)
	if tool == nil {
		return record(fmt.Sprintf("Error: unknown tool %q", call.Name), false)
	}
	if err := tool.Validate(call.Input); err != nil {
		return record(fmt.Sprintf("Error: invalid parameters: %v", err), false)
	}

	r.logger.Info("tool call", slog.String("tool", call.Name))
	result, err := tool.Execute(ctx, call.Input)
	if err != nil {
		r.logger.Warn("tool failed",
			slog.String("tool", call.Name),
			slog.String("error", err.Error()),
		)
		return record(fmt.Sprintf("Error: %v", err), false)
	}
	return record(result.Output, result.Success)
}

// mustJSON renders v for inclusion in prompts; marshal failures collapse
// to an empty object rather than aborting a run.
func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
