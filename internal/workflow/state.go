// Package workflow implements the directed graph execution engine that
// threads a single shared state record through specialized agent nodes.
// The orchestrator node decides routing after every step; the engine
// enforces transcript monotonicity and the iteration ceiling regardless
// of what any node decides.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies which node produced a transcript entry.
type Role string

const (
	RoleUser            Role = "user"
	RoleOrchestrator    Role = "orchestrator"
	RolePlanning        Role = "planning"
	RoleResearch        Role = "research"
	RoleDecision        Role = "decision"
	RoleReview          Role = "review"
	RoleCodeBackend     Role = "code_backend"
	RoleCodeFrontend    Role = "code_frontend"
	RoleCodeInfra       Role = "code_infrastructure"
	RolePromptGenerator Role = "prompt_generator"
)

// Message is a single transcript entry. The transcript is append-only:
// no node may delete or rewrite a prior entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RequestType classifies the user's request. It is set once by the
// orchestrator on first classification and never overwritten.
type RequestType string

const (
	RequestUnclassified       RequestType = ""
	RequestInformationQuery   RequestType = "information_query"
	RequestDeploymentDecision RequestType = "deployment_decision"
	RequestGeneralTask        RequestType = "general_task"
)

// PlanStep is one step of an implementation plan.
type PlanStep struct {
	Step        int      `json:"step"`
	Description string   `json:"description"`
	Files       []string `json:"files,omitempty"`
}

// TaskPlan is the planning node's output: what to deploy or build,
// and what information must be gathered before deciding.
type TaskPlan struct {
	TaskType       string     `json:"task_type,omitempty"`
	Summary        string     `json:"summary"`
	TargetTool     string     `json:"target_tool,omitempty"`
	K8sResources   []string   `json:"k8s_resources,omitempty"`
	ResearchNeeded []string   `json:"research_needed,omitempty"`
	Steps          []PlanStep `json:"implementation_steps,omitempty"`
	Error          string     `json:"error,omitempty"` // Set when the model payload could not be parsed.
}

// Finding is one categorized fact collected during research.
type Finding struct {
	Category string `json:"category"`
	Data     string `json:"data"`
}

// ResearchData is the research node's output.
type ResearchData struct {
	Summary     string         `json:"summary"`
	Result      string         `json:"result,omitempty"` // Direct answer for information queries.
	ClusterInfo map[string]any `json:"cluster_info,omitempty"`
	Findings    []Finding      `json:"findings"`
	Error       string         `json:"error,omitempty"`
}

// DecisionReport is the decision node's verdict on a deployment request.
type DecisionReport struct {
	Approved       bool   `json:"approved"`
	Recommendation string `json:"recommendation"` // "approve" or "reject".
	ToolName       string `json:"tool_name,omitempty"`
	Reasoning      string `json:"reasoning,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ReviewIssue is one problem the review node found.
type ReviewIssue struct {
	Severity       string `json:"severity"` // "high", "medium", "low".
	Category       string `json:"category"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation,omitempty"`
}

// ReviewFeedback is the review node's verdict on generated code.
type ReviewFeedback struct {
	Approved     bool          `json:"approved"`
	OverallScore int           `json:"overall_score,omitempty"`
	Summary      string        `json:"summary"`
	Issues       []ReviewIssue `json:"issues,omitempty"`
	Strengths    []string      `json:"strengths,omitempty"`
	NextSteps    []string      `json:"next_steps,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// State is the single mutable record threaded through every node of a run.
// Exactly one node executes per engine step, so State needs no locking:
// mutation is exclusive by construction.
//
// Structured fields follow an append-once lifecycle: absent (nil) until
// the producing node runs, never cleared within a run. Nodes that fail
// to parse a structured payload must write a default record carrying an
// Error field, never leave the field half-formed.
type State struct {
	RunID         uuid.UUID
	CorrelationID string
	StartedAt     time.Time

	// Messages is the append-only transcript. Messages[0] is always the
	// original user request, preserved verbatim for the life of the run.
	Messages []Message

	// NextAgent is the node the router should dispatch to next, or
	// NodeEnd. An unrecognized value falls back to the configured
	// default node; it never crashes the engine.
	NextAgent NodeName

	// RequestType is sticky: set once by the orchestrator, then read-only.
	RequestType RequestType

	TaskPlan             *TaskPlan
	ResearchData         *ResearchData
	DecisionReport       *DecisionReport
	ReviewFeedback       *ReviewFeedback
	CodeOutputs          map[Role]string
	ImplementationPrompt string

	// IterationCount is incremented only by nodes that loop back into the
	// rework path. It never decreases; the engine forces termination once
	// it reaches the configured ceiling.
	IterationCount int

	// ReworkRound is the iteration number the code phase last answered.
	// A rejection raises IterationCount; the code node stamps ReworkRound
	// once it has produced the rework, which is how the router tells a
	// pending rework from one awaiting re-review.
	ReworkRound int

	// LastError holds the most recent node-level error for diagnostics.
	// A populated LastError does not stop the run.
	LastError string

	TokensUsed int
}

// NewState creates the state for one user turn: transcript seeded with the
// user's request, all optional fields empty, iteration count zero.
func NewState(userRequest string) *State {
	return &State{
		RunID:       uuid.New(),
		StartedAt:   time.Now().UTC(),
		Messages:    []Message{{Role: RoleUser, Content: userRequest}},
		NextAgent:   NodeOrchestrator,
		CodeOutputs: make(map[Role]string),
	}
}

// Append adds a transcript entry. The transcript only ever grows.
func (s *State) Append(role Role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

// UserRequest returns the original request (messages[0]).
func (s *State) UserRequest() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[0].Content
}

// Classify sets the request type once. Subsequent calls are no-ops:
// downstream routing must not flip classification mid-run.
func (s *State) Classify(rt RequestType) {
	if s.RequestType == RequestUnclassified {
		s.RequestType = rt
	}
}

// Validate checks the structural invariants the engine relies on.
func (s *State) Validate() error {
	if len(s.Messages) == 0 {
		return fmt.Errorf("state has no messages")
	}
	if s.Messages[0].Role != RoleUser {
		return fmt.Errorf("messages[0] must be the user request, got role %q", s.Messages[0].Role)
	}
	if s.IterationCount < 0 {
		return fmt.Errorf("negative iteration count %d", s.IterationCount)
	}
	return nil
}
