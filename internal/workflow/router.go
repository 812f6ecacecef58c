package workflow

// Router resolves the next node after every engine step. It trusts the
// NextAgent field set by the node that just ran when that value names a
// declared node or the terminal sentinel; anything else falls through to
// the field-presence precedence table, and finally to the default node.
// The model's free-text routing suggestion is advisory only: the
// precedence table is authoritative (see NextByPrecedence).
type Router struct {
	declared map[NodeName]bool
	fallback NodeName
	ceiling  int
}

// NewRouter creates a router over the given declared node set.
// fallback must be one of the declared nodes.
func NewRouter(declared []NodeName, fallback NodeName, ceiling int) *Router {
	set := make(map[NodeName]bool, len(declared))
	for _, n := range declared {
		set[n] = true
	}
	return &Router{declared: set, fallback: fallback, ceiling: ceiling}
}

// Route returns the next node to dispatch. It never returns an
// undeclared name and never panics on garbage in NextAgent.
func (r *Router) Route(s *State) NodeName {
	if s.NextAgent == NodeEnd {
		return NodeEnd
	}
	if r.declared[s.NextAgent] {
		return s.NextAgent
	}
	// Unrecognized hop: resolve deterministically from field presence.
	next := NextByPrecedence(s)
	if next == NodeEnd || r.declared[next] {
		return next
	}
	return r.fallback
}

// NextByPrecedence is the deterministic field-presence precedence table.
// A "later" step is never reachable while its required upstream field is
// missing: decision never runs before research data exists, the prompt
// generator never runs before an approved decision. Nodes' and models'
// own suggestions are hints that this table overrides.
func NextByPrecedence(s *State) NodeName {
	switch s.RequestType {
	case RequestInformationQuery:
		// Information queries skip planning entirely.
		if s.ResearchData == nil {
			return NodeResearch
		}
		return NodeEnd

	case RequestGeneralTask:
		return nextGeneralTask(s)

	default:
		// Deployment decision, and the unclassified default.
		return nextDeploymentDecision(s)
	}
}

// nextDeploymentDecision implements the linear progression
// planning → research → decision → (approved: prompt_generator) → end.
func nextDeploymentDecision(s *State) NodeName {
	if s.TaskPlan == nil {
		return NodePlanning
	}
	if s.ResearchData == nil {
		return NodeResearch
	}
	if s.DecisionReport == nil {
		return NodeDecision
	}
	if s.DecisionReport.Approved && s.ImplementationPrompt == "" {
		return NodePromptGenerator
	}
	return NodeEnd
}

// nextGeneralTask implements the iterative build progression
// planning → research → code → review, looping back through the code
// phase on rejection while under the iteration ceiling.
func nextGeneralTask(s *State) NodeName {
	if s.TaskPlan == nil {
		return NodePlanning
	}
	if s.ResearchData == nil {
		return NodeResearch
	}
	if len(s.CodeOutputs) == 0 {
		return codeNodeFor(s.TaskPlan)
	}
	if s.ReviewFeedback == nil {
		return NodeReview
	}
	if !s.ReviewFeedback.Approved {
		// A rejection raised IterationCount; until the code node stamps
		// ReworkRound for that round the rework is still pending. The
		// ceiling bounds the loop.
		if s.ReworkRound < s.IterationCount {
			return codeNodeFor(s.TaskPlan)
		}
		return NodeReview
	}
	return NodeEnd
}

// codeNodeFor picks the code node matching the plan's task type.
// Unknown task types default to the backend node.
func codeNodeFor(plan *TaskPlan) NodeName {
	switch plan.TaskType {
	case "frontend":
		return NodeCodeFrontend
	case "infrastructure", "k8s_infrastructure":
		return NodeCodeInfra
	default:
		return NodeCodeBackend
	}
}
