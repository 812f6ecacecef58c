package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB is a json.RawMessage stored in a jsonb column (TEXT under SQLite).
type JSONB json.RawMessage

// RunModel maps to the "runs" table.
type RunModel struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey"`
	CorrelationID        string    `gorm:"index"`
	Request              string    `gorm:"not null"`
	RequestType          string    `gorm:"index"`
	Status               string    `gorm:"not null;index"`
	ImplementationPrompt string
	IterationCount       int `gorm:"not null;default:0"`
	TokensUsed           int `gorm:"not null;default:0"`
	LastError            string
	Snapshot             JSONB `gorm:"type:jsonb"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          *time.Time
}

func (RunModel) TableName() string { return "runs" }

// TranscriptEntryModel maps to the "run_transcript" table.
type TranscriptEntryModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID     uuid.UUID `gorm:"type:uuid;not null;index:idx_transcript_run_seq,priority:1"`
	SeqNum    int       `gorm:"not null;index:idx_transcript_run_seq,priority:2"`
	Role      string    `gorm:"not null"`
	Content   string
	CreatedAt time.Time
}

func (TranscriptEntryModel) TableName() string { return "run_transcript" }

// StepModel maps to the "run_steps" table.
type StepModel struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID    uuid.UUID `gorm:"type:uuid;not null;index:idx_steps_run_step,priority:1"`
	StepNum  int       `gorm:"not null;index:idx_steps_run_step,priority:2"`
	Node     string    `gorm:"not null"`
	Next     string    `gorm:"not null"`
	ErrMsg   string
	Terminal bool `gorm:"not null;default:false"`
	At       time.Time
}

func (StepModel) TableName() string { return "run_steps" }
