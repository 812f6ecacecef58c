package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/uamuzi/internal/workflow"
)

// PromptGenerator turns an approved decision into a ready-to-use
// implementation prompt. It is the terminal node of the approval path:
// it always routes to end.
type PromptGenerator struct {
	runner *Runner
	logger *slog.Logger
}

// NewPromptGenerator creates the prompt generation node.
func NewPromptGenerator(runner *Runner, logger *slog.Logger) *PromptGenerator {
	return &PromptGenerator{runner: runner, logger: logger}
}

var _ workflow.Node = (*PromptGenerator)(nil)

func (p *PromptGenerator) Name() workflow.NodeName { return workflow.NodePromptGenerator }

func (p *PromptGenerator) Run(ctx context.Context, state *workflow.State) error {
	comp, err := p.runner.Complete(ctx, promptGeneratorSystemPrompt, buildContext(state))
	if err != nil {
		return fmt.Errorf("prompt generation: %w", err)
	}
	track(state, comp.Usage)

	state.ImplementationPrompt = comp.Text
	state.Append(workflow.RolePromptGenerator, "implementation prompt ready")
	p.logger.Debug("implementation prompt produced",
		"run_id", state.RunID, "bytes", len(comp.Text))

	state.NextAgent = workflow.NodeEnd
	return nil
}
