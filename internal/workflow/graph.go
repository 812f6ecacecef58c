package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// defaults applied when the caller passes zero values.
const (
	DefaultIterationCeiling = 3
	DefaultMaxSteps         = 50
)

// StepHook is called after every node execution, before the event is
// emitted. Used for metrics and tracing without coupling this package
// to the observability stack.
type StepHook func(ev StepEvent)

// Graph is the star-topology workflow engine. Nodes run one at a time
// against a single shared State; after every step the router decides
// the next hop. There is exactly one goroutine mutating the state, so
// nodes need no locking.
type Graph struct {
	nodes    map[NodeName]Node
	entry    NodeName
	router   *Router
	ceiling  int
	maxSteps int
	logger   *slog.Logger
	hook     StepHook
}

// GraphConfig carries construction parameters for a Graph.
type GraphConfig struct {
	Entry            NodeName
	Default          NodeName
	IterationCeiling int
	MaxSteps         int
	Logger           *slog.Logger
	Hook             StepHook
}

// NewGraph builds a graph over the given nodes. Entry and Default must
// name one of the nodes.
func NewGraph(nodes []Node, cfg GraphConfig) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("workflow: graph requires at least one node")
	}
	m := make(map[NodeName]Node, len(nodes))
	names := make([]NodeName, 0, len(nodes))
	for _, n := range nodes {
		name := n.Name()
		if name == NodeEnd {
			return nil, fmt.Errorf("workflow: %q is reserved as the terminal sentinel", NodeEnd)
		}
		if _, dup := m[name]; dup {
			return nil, fmt.Errorf("workflow: duplicate node %q", name)
		}
		m[name] = n
		names = append(names, name)
	}
	if cfg.Entry == "" {
		cfg.Entry = NodeOrchestrator
	}
	if _, ok := m[cfg.Entry]; !ok {
		return nil, fmt.Errorf("workflow: entry node %q not registered", cfg.Entry)
	}
	if cfg.Default == "" {
		cfg.Default = cfg.Entry
	}
	if _, ok := m[cfg.Default]; !ok {
		return nil, fmt.Errorf("workflow: default node %q not registered", cfg.Default)
	}
	if cfg.IterationCeiling <= 0 {
		cfg.IterationCeiling = DefaultIterationCeiling
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Graph{
		nodes:    m,
		entry:    cfg.Entry,
		router:   NewRouter(names, cfg.Default, cfg.IterationCeiling),
		ceiling:  cfg.IterationCeiling,
		maxSteps: cfg.MaxSteps,
		logger:   cfg.Logger,
		hook:     cfg.Hook,
	}, nil
}

// IterationCeiling reports the configured rework ceiling.
func (g *Graph) IterationCeiling() int { return g.ceiling }

// Run executes the workflow to completion, emitting a StepEvent after
// every node. The returned channel is closed once the run terminates,
// whether normally, by ceiling, by step bound, by node error that
// cannot be contained, or by context cancellation. Run blocks until
// the run is finished; use RunAsync to consume events concurrently.
func (g *Graph) Run(ctx context.Context, state *State) ([]StepEvent, error) {
	var events []StepEvent
	err := g.run(ctx, state, func(ev StepEvent) {
		events = append(events, ev)
	})
	return events, err
}

// RunAsync starts the workflow in a new goroutine and streams step
// events on the returned channel. The channel is closed when the run
// terminates; the final event carries Terminal=true and, on failure,
// the error.
func (g *Graph) RunAsync(ctx context.Context, state *State) <-chan StepEvent {
	ch := make(chan StepEvent, 8)
	go func() {
		defer close(ch)
		err := g.run(ctx, state, func(ev StepEvent) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			g.logger.Error("workflow run failed", "run_id", state.RunID, "error", err)
		}
	}()
	return ch
}

func (g *Graph) run(ctx context.Context, state *State, emit func(StepEvent)) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("workflow: invalid initial state: %w", err)
	}
	current := g.entry
	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if step > g.maxSteps {
			state.LastError = fmt.Sprintf("step bound %d exceeded", g.maxSteps)
			g.logger.Warn("forcing termination at step bound",
				"run_id", state.RunID, "max_steps", g.maxSteps)
			emit(StepEvent{Step: step, Node: current, Next: NodeEnd,
				ErrMsg: state.LastError, Terminal: true, At: time.Now(), State: state})
			return nil
		}

		node := g.nodes[current]
		prev := snapshot(state)

		start := time.Now()
		err := node.Run(ctx, state)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Node failure is contained: record it on the state and let
			// the run continue or end rather than crashing the engine.
			state.LastError = err.Error()
			g.logger.Error("node failed", "run_id", state.RunID,
				"node", current, "step", step, "error", err)
			if state.NextAgent == current {
				// A node that failed without advancing would loop forever.
				state.NextAgent = NodeEnd
			}
		}

		if verr := g.checkInvariants(state, prev); verr != nil {
			emit(StepEvent{Step: step, Node: current, Next: NodeEnd, Err: verr,
				ErrMsg: verr.Error(), Terminal: true, At: time.Now(), State: state})
			return verr
		}

		next := g.router.Route(state)
		if next != NodeEnd && state.IterationCount >= g.ceiling && isReworkHop(current, next) {
			g.logger.Info("iteration ceiling reached, finalizing",
				"run_id", state.RunID, "iterations", state.IterationCount)
			next = NodeEnd
		}

		ev := StepEvent{
			Step:     step,
			Node:     current,
			Next:     next,
			Err:      err,
			Terminal: next == NodeEnd,
			At:       time.Now(),
			State:    state,
		}
		if err != nil {
			ev.ErrMsg = err.Error()
		}
		if g.hook != nil {
			g.hook(ev)
		}
		g.logger.Debug("step complete", "run_id", state.RunID, "step", step,
			"node", current, "next", next, "duration", time.Since(start))
		emit(ev)

		if next == NodeEnd {
			return nil
		}
		current = next
	}
}

// stateSnapshot captures the parts of the state contract a node must not
// roll back.
type stateSnapshot struct {
	transcriptLen int
	userRequest   string
	requestType   RequestType
	planSet       bool
	researchSet   bool
}

func snapshot(s *State) stateSnapshot {
	return stateSnapshot{
		transcriptLen: len(s.Messages),
		userRequest:   s.UserRequest(),
		requestType:   s.RequestType,
		planSet:       s.TaskPlan != nil,
		researchSet:   s.ResearchData != nil,
	}
}

// checkInvariants verifies the per-step state contract: the transcript
// only grows, the original user request survives verbatim, a
// classification once set never changes, and the append-once structured
// records are never cleared.
func (g *Graph) checkInvariants(s *State, prev stateSnapshot) error {
	if len(s.Messages) < prev.transcriptLen {
		return fmt.Errorf("workflow: transcript shrank from %d to %d entries", prev.transcriptLen, len(s.Messages))
	}
	if s.UserRequest() != prev.userRequest {
		return fmt.Errorf("workflow: original user request was modified")
	}
	if prev.requestType != RequestUnclassified && s.RequestType != prev.requestType {
		return fmt.Errorf("workflow: request classification changed from %q to %q", prev.requestType, s.RequestType)
	}
	if prev.planSet && s.TaskPlan == nil {
		return fmt.Errorf("workflow: task plan was cleared")
	}
	if prev.researchSet && s.ResearchData == nil {
		return fmt.Errorf("workflow: research data was cleared")
	}
	return nil
}

// isReworkHop reports whether a transition re-enters an earlier phase,
// which is only allowed under the iteration ceiling.
func isReworkHop(from, to NodeName) bool {
	if from != NodeReview && from != NodeOrchestrator {
		return false
	}
	switch to {
	case NodeResearch, NodePlanning, NodeCodeBackend, NodeCodeFrontend, NodeCodeInfra:
		return true
	}
	return false
}
