package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps runs in process memory. It backs tests and runs
// that do not need persistence across restarts.
type MemoryStore struct {
	mu          sync.RWMutex
	runs        map[uuid.UUID]*Run
	transcripts map[uuid.UUID][]TranscriptEntry
	steps       map[uuid.UUID][]StepRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[uuid.UUID]*Run),
		transcripts: make(map[uuid.UUID][]TranscriptEntry),
		steps:       make(map[uuid.UUID][]StepRecord),
	}
}

var _ Store = (*MemoryStore)(nil)
var _ RunStore = (*MemoryStore)(nil)

func (s *MemoryStore) Runs() RunStore { return s }

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Driver() string { return DriverMemory }

func (s *MemoryStore) Create(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	cp := *run
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.runs[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) Update(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *run
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	s.runs[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		cp := *run
		all = append(all, &cp)
	}
	// Newest first, like the SQL backends.
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if filter.Offset >= len(all) {
		return nil, nil
	}
	all = all[filter.Offset:]
	if limit := filter.PageSize(); len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) AppendTranscript(_ context.Context, runID uuid.UUID, entries []TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := len(s.transcripts[runID])
	now := time.Now().UTC()
	for _, e := range entries {
		seq++
		e.RunID = runID
		e.Seq = seq
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		s.transcripts[runID] = append(s.transcripts[runID], e)
	}
	return nil
}

func (s *MemoryStore) Transcript(_ context.Context, runID uuid.UUID, limit int) ([]TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.transcripts[runID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]TranscriptEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) AppendSteps(_ context.Context, runID uuid.UUID, steps []StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range steps {
		st.RunID = runID
		s.steps[runID] = append(s.steps[runID], st)
	}
	return nil
}

func (s *MemoryStore) Steps(_ context.Context, runID uuid.UUID) ([]StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StepRecord, len(s.steps[runID]))
	copy(out, s.steps[runID])
	return out, nil
}
