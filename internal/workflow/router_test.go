package workflow

import "testing"

func testRouter() *Router {
	return NewRouter([]NodeName{
		NodeOrchestrator, NodePlanning, NodeResearch, NodeDecision,
		NodeReview, NodeCodeBackend, NodePromptGenerator,
	}, NodeOrchestrator, DefaultIterationCeiling)
}

func TestRouteTrustsDeclaredHop(t *testing.T) {
	r := testRouter()
	s := NewState("req")
	s.NextAgent = NodeResearch
	if got := r.Route(s); got != NodeResearch {
		t.Errorf("Route() = %q, want %q", got, NodeResearch)
	}
}

func TestRouteTerminalSentinel(t *testing.T) {
	r := testRouter()
	s := NewState("req")
	s.NextAgent = NodeEnd
	if got := r.Route(s); got != NodeEnd {
		t.Errorf("Route() = %q, want %q", got, NodeEnd)
	}
}

func TestRouteUnrecognizedHopFallsBackToPrecedence(t *testing.T) {
	r := testRouter()
	s := NewState("req")
	s.Classify(RequestDeploymentDecision)
	s.NextAgent = "nonexistent_agent"
	// No plan yet, so the precedence table says planning.
	if got := r.Route(s); got != NodePlanning {
		t.Errorf("Route() = %q, want %q", got, NodePlanning)
	}
}

func TestPrecedenceDeploymentDecision(t *testing.T) {
	s := NewState("Tekton 도입할까?")
	s.Classify(RequestDeploymentDecision)

	if got := NextByPrecedence(s); got != NodePlanning {
		t.Fatalf("no plan: got %q, want %q", got, NodePlanning)
	}
	s.TaskPlan = &TaskPlan{TaskType: "k8s_decision", Summary: "evaluate Tekton"}
	if got := NextByPrecedence(s); got != NodeResearch {
		t.Fatalf("plan, no research: got %q, want %q", got, NodeResearch)
	}
	s.ResearchData = &ResearchData{Summary: "cluster survey"}
	if got := NextByPrecedence(s); got != NodeDecision {
		t.Fatalf("research, no decision: got %q, want %q", got, NodeDecision)
	}
	s.DecisionReport = &DecisionReport{Approved: true, ToolName: "tekton"}
	if got := NextByPrecedence(s); got != NodePromptGenerator {
		t.Fatalf("approved, no prompt: got %q, want %q", got, NodePromptGenerator)
	}
	s.ImplementationPrompt = "install Tekton pipelines"
	if got := NextByPrecedence(s); got != NodeEnd {
		t.Fatalf("complete: got %q, want %q", got, NodeEnd)
	}
}

func TestPrecedenceRejectedDecisionEnds(t *testing.T) {
	s := NewState("req")
	s.Classify(RequestDeploymentDecision)
	s.TaskPlan = &TaskPlan{}
	s.ResearchData = &ResearchData{}
	s.DecisionReport = &DecisionReport{Approved: false, Recommendation: "hold off"}
	if got := NextByPrecedence(s); got != NodeEnd {
		t.Errorf("rejected decision: got %q, want %q", got, NodeEnd)
	}
}

func TestPrecedenceInformationQuery(t *testing.T) {
	s := NewState("what pods are running?")
	s.Classify(RequestInformationQuery)
	if got := NextByPrecedence(s); got != NodeResearch {
		t.Fatalf("no research: got %q, want %q", got, NodeResearch)
	}
	s.ResearchData = &ResearchData{Result: "12 pods in default"}
	if got := NextByPrecedence(s); got != NodeEnd {
		t.Errorf("answered: got %q, want %q", got, NodeEnd)
	}
}

func TestPrecedenceGeneralTask(t *testing.T) {
	s := NewState("build a health endpoint")
	s.Classify(RequestGeneralTask)
	s.TaskPlan = &TaskPlan{TaskType: "backend"}
	s.ResearchData = &ResearchData{}

	if got := NextByPrecedence(s); got != NodeCodeBackend {
		t.Fatalf("no code yet: got %q, want %q", got, NodeCodeBackend)
	}
	s.CodeOutputs = map[Role]string{RoleCodeBackend: "package main"}
	if got := NextByPrecedence(s); got != NodeReview {
		t.Fatalf("code, no review: got %q, want %q", got, NodeReview)
	}
	// A rejection raises the iteration count; the rework is pending until
	// the code node stamps the new round.
	s.ReviewFeedback = &ReviewFeedback{Approved: false}
	s.IterationCount = 1
	if got := NextByPrecedence(s); got != NodeCodeBackend {
		t.Fatalf("rejected review: got %q, want %q", got, NodeCodeBackend)
	}
	// Once the rework pass answers the round, the new result gets re-reviewed.
	s.ReworkRound = 1
	if got := NextByPrecedence(s); got != NodeReview {
		t.Fatalf("rework complete: got %q, want %q", got, NodeReview)
	}
	s.ReviewFeedback = &ReviewFeedback{Approved: true, OverallScore: 9}
	if got := NextByPrecedence(s); got != NodeEnd {
		t.Errorf("approved review: got %q, want %q", got, NodeEnd)
	}
}

// TestPrecedenceFieldPresenceCombinations walks every combination of
// populated and empty optional fields and checks the structural
// properties of the precedence table: no downstream node is ever chosen
// while its upstream field is missing, and the result is always one of
// the declared nodes or the terminal sentinel.
func TestPrecedenceFieldPresenceCombinations(t *testing.T) {
	declared := map[NodeName]bool{
		NodeOrchestrator: true, NodePlanning: true, NodeResearch: true,
		NodeDecision: true, NodeReview: true, NodeCodeBackend: true,
		NodeCodeFrontend: true, NodeCodeInfra: true, NodePromptGenerator: true,
	}

	types := []RequestType{
		RequestUnclassified, RequestInformationQuery,
		RequestDeploymentDecision, RequestGeneralTask,
	}
	plans := []*TaskPlan{nil, {TaskType: "backend"}, {TaskType: "frontend"}}
	research := []*ResearchData{nil, {Summary: "facts"}}
	decisions := []*DecisionReport{nil, {Approved: true}, {Approved: false}}
	reviews := []*ReviewFeedback{nil, {Approved: true}, {Approved: false}}
	codes := []map[Role]string{nil, {RoleCodeBackend: "code"}}
	prompts := []string{"", "install it"}
	rounds := []struct{ iter, rework int }{{0, 0}, {1, 0}, {1, 1}}

	for _, rt := range types {
		for _, tp := range plans {
			for _, rd := range research {
				for _, dec := range decisions {
					for _, rev := range reviews {
						for _, co := range codes {
							for _, ip := range prompts {
								for _, rr := range rounds {
									s := NewState("req")
									s.RequestType = rt
									s.TaskPlan = tp
									s.ResearchData = rd
									s.DecisionReport = dec
									s.ReviewFeedback = rev
									s.CodeOutputs = co
									s.ImplementationPrompt = ip
									s.IterationCount = rr.iter
									s.ReworkRound = rr.rework

									got := NextByPrecedence(s)
									desc := func() string {
										return "type=" + string(rt) +
											" plan=" + yesNo(tp != nil) +
											" research=" + yesNo(rd != nil) +
											" decision=" + describeVerdict(dec == nil, dec != nil && dec.Approved) +
											" review=" + describeVerdict(rev == nil, rev != nil && rev.Approved) +
											" code=" + yesNo(len(co) > 0) +
											" prompt=" + yesNo(ip != "")
									}

									if got != NodeEnd && !declared[got] {
										t.Fatalf("%s: undeclared node %q", desc(), got)
									}
									if rt == RequestInformationQuery && got != NodeResearch && got != NodeEnd {
										t.Fatalf("%s: information query routed to %q", desc(), got)
									}
									if got == NodePlanning && tp != nil {
										t.Fatalf("%s: planning chosen with a plan present", desc())
									}
									if got == NodeResearch && rt != RequestInformationQuery && tp == nil {
										t.Fatalf("%s: research chosen before planning", desc())
									}
									if got == NodeDecision && (tp == nil || rd == nil || dec != nil) {
										t.Fatalf("%s: decision chosen out of order", desc())
									}
									if got == NodePromptGenerator && (dec == nil || !dec.Approved || ip != "") {
										t.Fatalf("%s: prompt generator chosen out of order", desc())
									}
									if got == NodeReview && len(co) == 0 {
										t.Fatalf("%s: review chosen without code output", desc())
									}
									isCode := got == NodeCodeBackend || got == NodeCodeFrontend || got == NodeCodeInfra
									if isCode && (tp == nil || rd == nil) {
										t.Fatalf("%s: code chosen before plan and research", desc())
									}
									if rt == RequestGeneralTask && rev != nil && rev.Approved &&
										len(co) > 0 && got != NodeEnd {
										t.Fatalf("%s: approved review must end the run, got %q", desc(), got)
									}
								}
							}
						}
					}
				}
			}
		}
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func describeVerdict(missing, approved bool) string {
	switch {
	case missing:
		return "none"
	case approved:
		return "approved"
	default:
		return "rejected"
	}
}

func TestCodeNodeForTaskType(t *testing.T) {
	cases := []struct {
		taskType string
		want     NodeName
	}{
		{"frontend", NodeCodeFrontend},
		{"infrastructure", NodeCodeInfra},
		{"k8s_infrastructure", NodeCodeInfra},
		{"backend", NodeCodeBackend},
		{"", NodeCodeBackend},
	}
	for _, tc := range cases {
		if got := codeNodeFor(&TaskPlan{TaskType: tc.taskType}); got != tc.want {
			t.Errorf("codeNodeFor(%q) = %q, want %q", tc.taskType, got, tc.want)
		}
	}
}
