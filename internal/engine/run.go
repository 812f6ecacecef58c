package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/uamuzi/internal/storage"
	"github.com/jkaninda/uamuzi/internal/workflow"
)

// Execute runs a workflow to completion, persisting the run record,
// transcript, and step history. It blocks until the run finishes.
func (e *Engine) Execute(ctx context.Context, request, correlationID string) (*storage.Run, error) {
	run, state, err := e.createRun(ctx, request, correlationID)
	if err != nil {
		return nil, err
	}
	return e.executeRun(ctx, run, state), nil
}

// Submit starts a run asynchronously and returns the pending record.
// The run detaches from the caller's context; progress is observable
// via Subscribe and the persisted run record.
func (e *Engine) Submit(ctx context.Context, request, correlationID string) (*storage.Run, error) {
	run, state, err := e.createRun(ctx, request, correlationID)
	if err != nil {
		return nil, err
	}
	go e.executeRun(context.WithoutCancel(ctx), run, state)
	return run, nil
}

// SubmitWithEvents starts a run asynchronously with a subscription
// attached before the first step, so the caller sees every event.
func (e *Engine) SubmitWithEvents(ctx context.Context, request, correlationID string) (*storage.Run, <-chan workflow.StepEvent, error) {
	run, state, err := e.createRun(ctx, request, correlationID)
	if err != nil {
		return nil, nil, err
	}
	events, _ := e.Subscribe(run.ID)
	go e.executeRun(context.WithoutCancel(ctx), run, state)
	return run, events, nil
}

// SubmitRun starts a run asynchronously and returns its ID. Satisfies
// the scheduler's submitter interface.
func (e *Engine) SubmitRun(ctx context.Context, request, correlationID string) (uuid.UUID, error) {
	run, err := e.Submit(ctx, request, correlationID)
	if err != nil {
		return uuid.Nil, err
	}
	return run.ID, nil
}

// Subscribe returns a channel of step events for the given run. The
// channel is closed when the run terminates. The returned cancel
// function detaches the subscriber; it is safe to call more than once.
// Subscribing to a run that is not in flight yields a closed channel.
func (e *Engine) Subscribe(runID uuid.UUID) (<-chan workflow.StepEvent, func()) {
	ch := make(chan workflow.StepEvent, 16)

	e.mu.Lock()
	subs, live := e.subs[runID]
	if !live {
		e.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	e.subs[runID] = append(subs, ch)
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, sub := range e.subs[runID] {
			if sub == ch {
				e.subs[runID] = append(e.subs[runID][:i], e.subs[runID][i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// createRun persists the pending run record and registers the run for
// subscribers before any step executes.
func (e *Engine) createRun(ctx context.Context, request, correlationID string) (*storage.Run, *workflow.State, error) {
	state := workflow.NewState(request)
	state.CorrelationID = correlationID

	now := time.Now().UTC()
	run := &storage.Run{
		ID:            state.RunID,
		CorrelationID: correlationID,
		Request:       request,
		Status:        storage.RunPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.Runs().Create(ctx, run); err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	e.subs[state.RunID] = nil
	e.mu.Unlock()

	return run, state, nil
}

// executeRun drives the graph for one run, streaming events to
// subscribers and persisting the outcome. Persistence failures are
// logged, never fatal to the run.
func (e *Engine) executeRun(ctx context.Context, run *storage.Run, state *workflow.State) *storage.Run {
	start := time.Now()
	if m := e.obs.MetricsOrNil(); m != nil {
		m.RunStarted()
	}

	run.Status = storage.RunRunning
	run.UpdatedAt = time.Now().UTC()
	if err := e.store.Runs().Update(ctx, run); err != nil {
		e.logger.Error("updating run status", slog.String("run_id", run.ID.String()), slog.String("error", err.Error()))
	}

	var (
		steps       []storage.StepRecord
		sawTerminal bool
		terminalErr string
	)
	for ev := range e.graph.RunAsync(ctx, state) {
		steps = append(steps, storage.StepRecord{
			RunID:    run.ID,
			Step:     ev.Step,
			Node:     string(ev.Node),
			Next:     string(ev.Next),
			ErrMsg:   ev.ErrMsg,
			Terminal: ev.Terminal,
			At:       ev.At,
		})
		if ev.Terminal {
			sawTerminal = true
			if ev.Err != nil {
				terminalErr = ev.ErrMsg
			}
		}
		e.publish(run.ID, ev)
	}

	status := storage.RunCompleted
	switch {
	case terminalErr != "":
		status = storage.RunFailed
		run.LastError = terminalErr
	case !sawTerminal:
		// The channel closed without a terminal event: the run was
		// canceled or aborted before it could finish.
		status = storage.RunFailed
		run.LastError = "run aborted"
		if err := ctx.Err(); err != nil {
			run.LastError = err.Error()
		}
	default:
		run.LastError = state.LastError
	}

	snapshot, err := json.Marshal(state)
	if err != nil {
		e.logger.Error("marshaling run snapshot", slog.String("run_id", run.ID.String()), slog.String("error", err.Error()))
	} else {
		run.Snapshot = snapshot
	}

	completed := time.Now().UTC()
	run.Status = status
	run.RequestType = string(state.RequestType)
	run.ImplementationPrompt = state.ImplementationPrompt
	run.IterationCount = state.IterationCount
	run.TokensUsed = state.TokensUsed
	run.UpdatedAt = completed
	run.CompletedAt = &completed

	// Persist with a fresh context so a canceled run still gets recorded.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	e.persistOutcome(persistCtx, run, state, steps)

	// Subscribers are released only after the final record is durable,
	// so a client reading the store right after the stream closes sees
	// the finished run.
	e.closeSubscribers(run.ID)

	if m := e.obs.MetricsOrNil(); m != nil {
		m.RunFinished(string(status), string(state.RequestType), time.Since(start), state.IterationCount)
	}
	e.logger.Info("run finished",
		slog.String("run_id", run.ID.String()),
		slog.String("status", string(status)),
		slog.String("request_type", string(state.RequestType)),
		slog.Int("steps", len(steps)),
		slog.Int("iterations", state.IterationCount),
		slog.Int("tokens", state.TokensUsed),
	)
	return run
}

func (e *Engine) persistOutcome(ctx context.Context, run *storage.Run, state *workflow.State, steps []storage.StepRecord) {
	runs := e.store.Runs()

	if err := runs.Update(ctx, run); err != nil {
		e.logger.Error("persisting run outcome", slog.String("run_id", run.ID.String()), slog.String("error", err.Error()))
	}

	if len(steps) > 0 {
		if err := runs.AppendSteps(ctx, run.ID, steps); err != nil {
			e.logger.Error("persisting run steps", slog.String("run_id", run.ID.String()), slog.String("error", err.Error()))
		}
	}

	entries := make([]storage.TranscriptEntry, 0, len(state.Messages))
	for _, msg := range state.Messages {
		entries = append(entries, storage.TranscriptEntry{
			RunID:   run.ID,
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	if len(entries) > 0 {
		if err := runs.AppendTranscript(ctx, run.ID, entries); err != nil {
			e.logger.Error("persisting run transcript", slog.String("run_id", run.ID.String()), slog.String("error", err.Error()))
		}
	}
}

// publish fans a step event out to subscribers. Slow subscribers drop
// events rather than stalling the run.
func (e *Engine) publish(runID uuid.UUID, ev workflow.StepEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs[runID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *Engine) closeSubscribers(runID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs[runID] {
		close(ch)
	}
	delete(e.subs, runID)
}
