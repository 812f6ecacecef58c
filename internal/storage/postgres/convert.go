package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/uamuzi/internal/storage"
)

func toRunModel(run *storage.Run) RunModel {
	return RunModel{
		ID:                   run.ID,
		CorrelationID:        run.CorrelationID,
		Request:              run.Request,
		RequestType:          run.RequestType,
		Status:               string(run.Status),
		ImplementationPrompt: run.ImplementationPrompt,
		IterationCount:       run.IterationCount,
		TokensUsed:           run.TokensUsed,
		LastError:            run.LastError,
		Snapshot:             JSONB(run.Snapshot),
		CreatedAt:            run.CreatedAt,
		UpdatedAt:            run.UpdatedAt,
		CompletedAt:          run.CompletedAt,
	}
}

func toRunDomain(m *RunModel) *storage.Run {
	return &storage.Run{
		ID:                   m.ID,
		CorrelationID:        m.CorrelationID,
		Request:              m.Request,
		RequestType:          m.RequestType,
		Status:               storage.RunStatus(m.Status),
		ImplementationPrompt: m.ImplementationPrompt,
		IterationCount:       m.IterationCount,
		TokensUsed:           m.TokensUsed,
		LastError:            m.LastError,
		Snapshot:             json.RawMessage(m.Snapshot),
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
		CompletedAt:          m.CompletedAt,
	}
}

func toTranscriptModel(runID uuid.UUID, seq int, e storage.TranscriptEntry) TranscriptEntryModel {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return TranscriptEntryModel{
		ID:        uuid.New(),
		RunID:     runID,
		SeqNum:    seq,
		Role:      e.Role,
		Content:   e.Content,
		CreatedAt: createdAt,
	}
}

func toTranscriptDomain(m *TranscriptEntryModel) storage.TranscriptEntry {
	return storage.TranscriptEntry{
		RunID:     m.RunID,
		Seq:       m.SeqNum,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func toStepModel(runID uuid.UUID, s storage.StepRecord) StepModel {
	return StepModel{
		ID:       uuid.New(),
		RunID:    runID,
		StepNum:  s.Step,
		Node:     s.Node,
		Next:     s.Next,
		ErrMsg:   s.ErrMsg,
		Terminal: s.Terminal,
		At:       s.At,
	}
}

func toStepDomain(m *StepModel) storage.StepRecord {
	return storage.StepRecord{
		RunID:    m.RunID,
		Step:     m.StepNum,
		Node:     m.Node,
		Next:     m.Next,
		ErrMsg:   m.ErrMsg,
		Terminal: m.Terminal,
		At:       m.At,
	}
}
