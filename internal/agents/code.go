package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/uamuzi/internal/workflow"
)

// Code implements one engineering discipline (backend, frontend, or
// infrastructure). The same type serves all three, parameterized by
// node name; its output is free text, not a structured record.
type Code struct {
	runner     *Runner
	logger     *slog.Logger
	node       workflow.NodeName
	role       workflow.Role
	discipline string
}

// NewCode creates a code node for the given discipline.
func NewCode(runner *Runner, logger *slog.Logger, node workflow.NodeName) *Code {
	c := &Code{runner: runner, logger: logger, node: node}
	switch node {
	case workflow.NodeCodeFrontend:
		c.role, c.discipline = workflow.RoleCodeFrontend, "frontend"
	case workflow.NodeCodeInfra:
		c.role, c.discipline = workflow.RoleCodeInfra, "infrastructure"
	default:
		c.node = workflow.NodeCodeBackend
		c.role, c.discipline = workflow.RoleCodeBackend, "backend"
	}
	return c
}

var _ workflow.Node = (*Code)(nil)

func (c *Code) Name() workflow.NodeName { return c.node }

func (c *Code) Run(ctx context.Context, state *workflow.State) error {
	system := fmt.Sprintf(codeSystemPromptTemplate, c.discipline, c.discipline)
	comp, err := c.runner.CompleteWithTools(ctx, system, buildContext(state))
	if err != nil {
		return fmt.Errorf("%s code: %w", c.discipline, err)
	}
	track(state, comp.Usage)

	if state.CodeOutputs == nil {
		state.CodeOutputs = make(map[workflow.Role]string)
	}
	state.CodeOutputs[c.role] = comp.Text
	state.ReworkRound = state.IterationCount
	state.Append(c.role, fmt.Sprintf("%s implementation produced (%d bytes)", c.discipline, len(comp.Text)))

	c.logger.Debug("code node complete",
		"run_id", state.RunID,
		slog.String("discipline", c.discipline),
		slog.Int("tool_calls", len(comp.ToolCalls)),
	)

	state.NextAgent = workflow.NodeOrchestrator
	return nil
}
