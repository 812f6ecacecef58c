package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jkaninda/uamuzi/internal/llm"
	"github.com/jkaninda/uamuzi/internal/workflow"
)

// Orchestrator is the hub node. It classifies the request on first visit
// and routes every subsequent visit from the state's field presence. The
// model's classification is trusted once; its routing suggestion is only
// a hint and never overrides the precedence table.
type Orchestrator struct {
	runner *Runner
	logger *slog.Logger
}

// classification is the orchestrator model's structured reply.
type classification struct {
	RequestType string `json:"request_type"`
	Reasoning   string `json:"reasoning"`
}

// NewOrchestrator creates the hub node.
func NewOrchestrator(runner *Runner, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{runner: runner, logger: logger}
}

var _ workflow.Node = (*Orchestrator)(nil)

func (o *Orchestrator) Name() workflow.NodeName { return workflow.NodeOrchestrator }

func (o *Orchestrator) Run(ctx context.Context, state *workflow.State) error {
	if state.RequestType == workflow.RequestUnclassified {
		if err := o.classify(ctx, state); err != nil {
			// Fall back to the deployment-decision path so the run can
			// still proceed through planning and research.
			o.logger.Warn("classification failed, defaulting",
				"run_id", state.RunID, "error", err)
			state.Classify(workflow.RequestDeploymentDecision)
			state.Append(workflow.RoleOrchestrator,
				fmt.Sprintf("classification failed (%v); treating as deployment decision", err))
		}
	}

	next := workflow.NextByPrecedence(state)
	state.NextAgent = next
	state.Append(workflow.RoleOrchestrator, fmt.Sprintf("routing to %s", next))
	o.logger.Debug("orchestrator routed",
		"run_id", state.RunID,
		"request_type", string(state.RequestType),
		"next", string(next),
	)
	return nil
}

func (o *Orchestrator) classify(ctx context.Context, state *workflow.State) error {
	comp, err := o.runner.Complete(ctx, orchestratorSystemPrompt, state.UserRequest())
	if err != nil {
		return err
	}
	track(state, comp.Usage)

	var c classification
	if err := workflow.DecodePayload(comp.Text, &c); err != nil {
		return fmt.Errorf("parsing classification: %w", err)
	}

	rt := parseRequestType(c.RequestType)
	state.Classify(rt)
	state.Append(workflow.RoleOrchestrator,
		fmt.Sprintf("classified as %s: %s", rt, c.Reasoning))

	// The NEXT_AGENT line, when present, is logged but not obeyed; the
	// precedence table decides.
	if hint := parseNextAgentHint(comp.Text); hint != "" {
		o.logger.Debug("model routing hint",
			"run_id", state.RunID, "hint", hint)
	}
	return nil
}

// parseRequestType maps the model's classification string onto a known
// request type, defaulting to deployment decision.
func parseRequestType(s string) workflow.RequestType {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "information_query":
		return workflow.RequestInformationQuery
	case "general_task":
		return workflow.RequestGeneralTask
	default:
		return workflow.RequestDeploymentDecision
	}
}

// parseNextAgentHint extracts the advisory "NEXT_AGENT: x" line, if any.
func parseNextAgentHint(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "NEXT_AGENT:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// buildContext assembles the prompt sections downstream nodes share:
// the original request plus whatever structured records exist so far.
func buildContext(state *workflow.State) string {
	var sb strings.Builder
	sb.WriteString("User request:\n")
	sb.WriteString(state.UserRequest())
	sb.WriteString("\n")
	if state.TaskPlan != nil {
		sb.WriteString("\nTask plan:\n")
		sb.WriteString(mustJSON(state.TaskPlan))
		sb.WriteString("\n")
	}
	if state.ResearchData != nil {
		sb.WriteString("\nResearch data:\n")
		sb.WriteString(mustJSON(state.ResearchData))
		sb.WriteString("\n")
	}
	if state.DecisionReport != nil {
		sb.WriteString("\nDecision report:\n")
		sb.WriteString(mustJSON(state.DecisionReport))
		sb.WriteString("\n")
	}
	if state.ReviewFeedback != nil {
		sb.WriteString("\nPrevious review feedback:\n")
		sb.WriteString(mustJSON(state.ReviewFeedback))
		sb.WriteString("\n")
	}
	for role, output := range state.CodeOutputs {
		sb.WriteString("\nOutput from ")
		sb.WriteString(string(role))
		sb.WriteString(":\n")
		sb.WriteString(output)
		sb.WriteString("\n")
	}
	return sb.String()
}

// track adds a completion's token usage to the run total.
func track(state *workflow.State, usage llm.Usage) {
	state.TokensUsed += usage.InputTokens + usage.OutputTokens
}
