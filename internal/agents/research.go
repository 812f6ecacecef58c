package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/uamuzi/internal/workflow"
)

// Research gathers facts with read-only tools. It runs in two modes:
// investigation (feeding the decision or build phase) and answer
// (information queries, where its result is the final output).
type Research struct {
	runner *Runner
	logger *slog.Logger
	// directFinish ends information-query runs straight from this node
	// instead of hopping back through the orchestrator.
	directFinish bool
}

// NewResearch creates the research node.
func NewResearch(runner *Runner, logger *slog.Logger, directFinish bool) *Research {
	return &Research{runner: runner, logger: logger, directFinish: directFinish}
}

var _ workflow.Node = (*Research)(nil)

func (r *Research) Name() workflow.NodeName { return workflow.NodeResearch }

func (r *Research) Run(ctx context.Context, state *workflow.State) error {
	system := researchSystemPrompt
	if state.RequestType == workflow.RequestInformationQuery {
		system = researchAnswerSystemPrompt
	}

	comp, err := r.runner.CompleteWithTools(ctx, system, buildContext(state))
	if err != nil {
		return fmt.Errorf("research: %w", err)
	}
	track(state, comp.Usage)

	var data workflow.ResearchData
	if derr := workflow.DecodePayload(comp.Text, &data); derr != nil {
		r.logger.Warn("research response was not valid JSON",
			"run_id", state.RunID, "error", derr)
		data = workflow.ResearchData{
			Summary: firstLine(comp.Text),
			Result:  comp.Text,
			Error:   derr.Error(),
		}
	}
	// Attach the tool transcript, including failed calls, so reviewers
	// and the decision node can see what was actually run.
	for _, call := range comp.ToolCalls {
		data.Findings = append(data.Findings, workflow.Finding{
			Category: "tool:" + call.Name,
			Data:     fmt.Sprintf("success=%t output=%s", call.Success, call.Output),
		})
	}
	if comp.Exhausted {
		r.logger.Info("research finalized at tool budget", "run_id", state.RunID)
	}

	state.ResearchData = &data
	state.Append(workflow.RoleResearch, fmt.Sprintf("research complete: %s", data.Summary))

	if state.RequestType == workflow.RequestInformationQuery && r.directFinish {
		state.NextAgent = workflow.NodeEnd
		return nil
	}
	state.NextAgent = workflow.NodeOrchestrator
	return nil
}
