package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/uamuzi/internal/workflow"
)

// Planning produces the structured task plan. It never uses tools: the
// plan is decomposition, not investigation.
type Planning struct {
	runner *Runner
	logger *slog.Logger
}

// NewPlanning creates the planning node.
func NewPlanning(runner *Runner, logger *slog.Logger) *Planning {
	return &Planning{runner: runner, logger: logger}
}

var _ workflow.Node = (*Planning)(nil)

func (p *Planning) Name() workflow.NodeName { return workflow.NodePlanning }

func (p *Planning) Run(ctx context.Context, state *workflow.State) error {
	prompt := buildContext(state)
	comp, err := p.runner.Complete(ctx, planningSystemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	track(state, comp.Usage)

	var plan workflow.TaskPlan
	if derr := workflow.DecodePayload(comp.Text, &plan); derr != nil {
		// A malformed reply becomes the documented default record; the
		// run continues with the error noted on the plan itself.
		p.logger.Warn("plan response was not valid JSON",
			"run_id", state.RunID, "error", derr)
		plan = workflow.TaskPlan{
			TaskType: "k8s_decision",
			Summary:  firstLine(comp.Text),
			Error:    derr.Error(),
		}
	}

	state.TaskPlan = &plan
	state.Append(workflow.RolePlanning, fmt.Sprintf("plan ready: %s", plan.Summary))
	state.NextAgent = workflow.NodeOrchestrator
	return nil
}

// firstLine returns the first non-empty line of s, for use as a stand-in
// summary when the structured payload could not be parsed.
func firstLine(s string) string {
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				return s[start:i]
			}
			start = i + 1
		}
	}
	return s[start:]
}
