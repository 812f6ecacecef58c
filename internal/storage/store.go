// Package storage defines the persistence interface for workflow runs.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL,
// plus an in-memory store for tests and ephemeral use.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("storage: not found")

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the persisted record of one workflow execution. The Snapshot
// field holds the serialized final state; the discrete columns exist so
// runs can be listed and filtered without deserializing it.
type Run struct {
	ID                   uuid.UUID       `json:"id"`
	CorrelationID        string          `json:"correlation_id,omitempty"`
	Request              string          `json:"request"`
	RequestType          string          `json:"request_type,omitempty"`
	Status               RunStatus       `json:"status"`
	ImplementationPrompt string          `json:"implementation_prompt,omitempty"`
	IterationCount       int             `json:"iteration_count"`
	TokensUsed           int             `json:"tokens_used"`
	LastError            string          `json:"last_error,omitempty"`
	Snapshot             json.RawMessage `json:"snapshot,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// TranscriptEntry is one persisted transcript message. Seq is assigned
// by the store, monotonically per run, matching the in-memory ordering.
type TranscriptEntry struct {
	RunID     uuid.UUID `json:"run_id"`
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// StepRecord is one persisted engine step: which node ran and where the
// run went next.
type StepRecord struct {
	RunID    uuid.UUID `json:"run_id"`
	Step     int       `json:"step"`
	Node     string    `json:"node"`
	Next     string    `json:"next"`
	ErrMsg   string    `json:"error,omitempty"`
	Terminal bool      `json:"terminal"`
	At       time.Time `json:"at"`
}

// ListFilter narrows List results. Zero values mean no constraint;
// Limit defaults to 50.
type ListFilter struct {
	Status RunStatus
	Limit  int
	Offset int
}

// PageSize returns the effective limit.
func (f ListFilter) PageSize() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

// RunStore persists runs, their transcripts, and their step history.
type RunStore interface {
	Create(ctx context.Context, run *Run) error
	Update(ctx context.Context, run *Run) error
	Get(ctx context.Context, id uuid.UUID) (*Run, error)
	List(ctx context.Context, filter ListFilter) ([]*Run, error)

	// AppendTranscript assigns sequence numbers after the current max
	// and inserts atomically.
	AppendTranscript(ctx context.Context, runID uuid.UUID, entries []TranscriptEntry) error
	Transcript(ctx context.Context, runID uuid.UUID, limit int) ([]TranscriptEntry, error)

	AppendSteps(ctx context.Context, runID uuid.UUID, steps []StepRecord) error
	Steps(ctx context.Context, runID uuid.UUID) ([]StepRecord, error)
}

// Store is the unified persistence interface. Both backends implement it.
type Store interface {
	Runs() RunStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite", "postgres", "memory").
	Driver() string
}

// Driver names. Driver selection itself lives in the config package;
// these are the values Store.Driver reports.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)
