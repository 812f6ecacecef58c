package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryStoreRunLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	run := &Run{
		ID:      uuid.New(),
		Request: "Tekton 도입할까?",
		Status:  RunPending,
	}
	if err := s.Runs().Create(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, err := s.Runs().Get(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Request != run.Request || got.Status != RunPending {
		t.Errorf("got %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set on create")
	}

	got.Status = RunCompleted
	got.TokensUsed = 1234
	if err := s.Runs().Update(ctx, got); err != nil {
		t.Fatal(err)
	}
	got, err = s.Runs().Get(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != RunCompleted || got.TokensUsed != 1234 {
		t.Errorf("update lost: %+v", got)
	}

	if _, err := s.Runs().Get(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing run: err = %v, want ErrNotFound", err)
	}
	if err := s.Runs().Update(ctx, &Run{ID: uuid.New()}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update of missing run: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreListFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		status := RunCompleted
		if i == 0 {
			status = RunFailed
		}
		if err := s.Runs().Create(ctx, &Run{ID: uuid.New(), Request: "r", Status: status}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.Runs().List(ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}

	failed, err := s.Runs().List(ctx, ListFilter{Status: RunFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 {
		t.Errorf("failed runs = %d, want 1", len(failed))
	}

	page, err := s.Runs().List(ctx, ListFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Errorf("page = %d, want 2", len(page))
	}
}

func TestMemoryStoreTranscriptSequencing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	runID := uuid.New()

	first := []TranscriptEntry{
		{Role: "user", Content: "question"},
		{Role: "orchestrator", Content: "classified"},
	}
	if err := s.Runs().AppendTranscript(ctx, runID, first); err != nil {
		t.Fatal(err)
	}
	if err := s.Runs().AppendTranscript(ctx, runID, []TranscriptEntry{{Role: "research", Content: "findings"}}); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Runs().Transcript(ctx, runID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Seq != i+1 {
			t.Errorf("entry %d seq = %d, want %d", i, e.Seq, i+1)
		}
	}

	tail, err := s.Runs().Transcript(ctx, runID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 1 || tail[0].Role != "research" {
		t.Errorf("tail = %+v", tail)
	}
}

func TestMemoryStoreSteps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	runID := uuid.New()

	steps := []StepRecord{
		{Step: 1, Node: "orchestrator", Next: "planning"},
		{Step: 2, Node: "planning", Next: "orchestrator"},
	}
	if err := s.Runs().AppendSteps(ctx, runID, steps); err != nil {
		t.Fatal(err)
	}
	got, err := s.Runs().Steps(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Node != "orchestrator" || got[1].Next != "orchestrator" {
		t.Errorf("steps = %+v", got)
	}
	for _, st := range got {
		if st.RunID != runID {
			t.Errorf("run id not stamped: %+v", st)
		}
	}
}
