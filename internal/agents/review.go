package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/uamuzi/internal/workflow"
)

// Review assesses produced work. A rejection under the iteration ceiling
// sends the run back for rework; at the ceiling the run ends with the
// feedback attached as the best available result.
type Review struct {
	runner  *Runner
	logger  *slog.Logger
	ceiling int
}

// NewReview creates the review node.
func NewReview(runner *Runner, logger *slog.Logger, ceiling int) *Review {
	if ceiling <= 0 {
		ceiling = workflow.DefaultIterationCeiling
	}
	return &Review{runner: runner, logger: logger, ceiling: ceiling}
}

var _ workflow.Node = (*Review)(nil)

func (r *Review) Name() workflow.NodeName { return workflow.NodeReview }

func (r *Review) Run(ctx context.Context, state *workflow.State) error {
	comp, err := r.runner.Complete(ctx, reviewSystemPrompt, buildContext(state))
	if err != nil {
		return fmt.Errorf("review: %w", err)
	}
	track(state, comp.Usage)

	var feedback workflow.ReviewFeedback
	if derr := workflow.DecodePayload(comp.Text, &feedback); derr != nil {
		r.logger.Warn("review response was not valid JSON",
			"run_id", state.RunID, "error", derr)
		feedback = workflow.ReviewFeedback{
			Approved: false,
			Summary:  firstLine(comp.Text),
			Error:    derr.Error(),
		}
	}

	state.ReviewFeedback = &feedback
	state.Append(workflow.RoleReview,
		fmt.Sprintf("review approved=%t score=%d: %s",
			feedback.Approved, feedback.OverallScore, feedback.Summary))

	if feedback.Approved {
		state.NextAgent = workflow.NodeEnd
		return nil
	}

	state.IterationCount++
	if state.IterationCount >= r.ceiling {
		r.logger.Info("iteration ceiling reached",
			"run_id", state.RunID, "iterations", state.IterationCount)
		state.Append(workflow.RoleReview,
			fmt.Sprintf("iteration ceiling (%d) reached; finishing with current result", r.ceiling))
		state.NextAgent = workflow.NodeEnd
		return nil
	}

	// Rework: research data and code outputs stay in place. The raised
	// iteration count routes the run back through the code phase with
	// the feedback in context.
	state.NextAgent = workflow.NodeOrchestrator
	return nil
}
