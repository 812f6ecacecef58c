package workflow

import "context"

// NodeName identifies a node in the workflow graph.
type NodeName string

// Declared node names. NodeEnd is the terminal sentinel: it is a valid
// routing target but never a registered node.
const (
	NodeOrchestrator    NodeName = "orchestrator"
	NodePlanning        NodeName = "planning"
	NodeResearch        NodeName = "research"
	NodeDecision        NodeName = "decision"
	NodeReview          NodeName = "review"
	NodeCodeBackend     NodeName = "code_backend"
	NodeCodeFrontend    NodeName = "code_frontend"
	NodeCodeInfra       NodeName = "code_infrastructure"
	NodePromptGenerator NodeName = "prompt_generator"
	NodeEnd             NodeName = "end"
)

// Node is one named unit of the workflow graph. Run mutates the shared
// state in place: it reads upstream fields, writes its own result fields,
// appends a transcript entry, and sets NextAgent.
//
// Run must contain its own failures: a model or tool error is recorded
// into the state (LastError plus a transcript entry) and returned for
// logging, but the engine keeps the run alive by re-routing rather than
// aborting.
type Node interface {
	Name() NodeName
	Run(ctx context.Context, state *State) error
}
