package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/uamuzi/internal/workflow"
)

// Decision weighs the plan and research into an approve/reject report.
// A rejection is a final answer: the run ends without further hops. An
// approval goes back through the orchestrator toward prompt generation.
type Decision struct {
	runner *Runner
	logger *slog.Logger
}

// NewDecision creates the decision node.
func NewDecision(runner *Runner, logger *slog.Logger) *Decision {
	return &Decision{runner: runner, logger: logger}
}

var _ workflow.Node = (*Decision)(nil)

func (d *Decision) Name() workflow.NodeName { return workflow.NodeDecision }

func (d *Decision) Run(ctx context.Context, state *workflow.State) error {
	comp, err := d.runner.Complete(ctx, decisionSystemPrompt, buildContext(state))
	if err != nil {
		return fmt.Errorf("decision: %w", err)
	}
	track(state, comp.Usage)

	var report workflow.DecisionReport
	if derr := workflow.DecodePayload(comp.Text, &report); derr != nil {
		d.logger.Warn("decision response was not valid JSON",
			"run_id", state.RunID, "error", derr)
		// Unparseable decisions are conservative rejections.
		report = workflow.DecisionReport{
			Approved:       false,
			Recommendation: firstLine(comp.Text),
			Error:          derr.Error(),
		}
	}

	state.DecisionReport = &report
	verdict := "rejected"
	if report.Approved {
		verdict = "approved"
	}
	state.Append(workflow.RoleDecision,
		fmt.Sprintf("decision %s: %s", verdict, report.Recommendation))

	if !report.Approved {
		state.NextAgent = workflow.NodeEnd
		return nil
	}
	state.NextAgent = workflow.NodeOrchestrator
	return nil
}
