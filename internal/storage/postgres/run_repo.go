package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/uamuzi/internal/storage"
)

// Compile-time interface check.
var _ storage.RunStore = (*RunRepository)(nil)

// RunRepository implements storage.RunStore with GORM. It is shared by
// the PostgreSQL and SQLite backends; the dialect handles the SQL
// differences.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *storage.Run) error {
	model := toRunModel(run)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

func (r *RunRepository) Update(ctx context.Context, run *storage.Run) error {
	model := toRunModel(run)
	result := r.db.WithContext(ctx).Save(&model)
	if result.Error != nil {
		return fmt.Errorf("updating run %s: %w", run.ID, result.Error)
	}
	return nil
}

func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*storage.Run, error) {
	var model RunModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting run %s: %w", id, err)
	}
	return toRunDomain(&model), nil
}

func (r *RunRepository) List(ctx context.Context, filter storage.ListFilter) ([]*storage.Run, error) {
	q := r.db.WithContext(ctx).Model(&RunModel{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	var models []RunModel
	err := q.Order("created_at DESC").
		Limit(filter.PageSize()).
		Offset(filter.Offset).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	runs := make([]*storage.Run, len(models))
	for i := range models {
		runs[i] = toRunDomain(&models[i])
	}
	return runs, nil
}

// AppendTranscript atomically appends entries, assigning sequence
// numbers after the current max.
func (r *RunRepository) AppendTranscript(ctx context.Context, runID uuid.UUID, entries []storage.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		err := tx.Model(&TranscriptEntryModel{}).
			Where("run_id = ?", runID).
			Select("COALESCE(MAX(seq_num), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return fmt.Errorf("getting max seq_num: %w", err)
		}

		models := make([]TranscriptEntryModel, 0, len(entries))
		for i, e := range entries {
			models = append(models, toTranscriptModel(runID, maxSeq+i+1, e))
		}
		if err := tx.Create(&models).Error; err != nil {
			return fmt.Errorf("inserting transcript entries: %w", err)
		}
		return nil
	})
}

// Transcript returns the most recent entries, ordered oldest-first.
// limit <= 0 returns everything.
func (r *RunRepository) Transcript(ctx context.Context, runID uuid.UUID, limit int) ([]storage.TranscriptEntry, error) {
	q := r.db.WithContext(ctx).Where("run_id = ?", runID)
	var models []TranscriptEntryModel
	if limit > 0 {
		err := q.Order("seq_num DESC").Limit(limit).Find(&models).Error
		if err != nil {
			return nil, fmt.Errorf("loading transcript: %w", err)
		}
		// Reverse to oldest-first order.
		for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
			models[i], models[j] = models[j], models[i]
		}
	} else {
		if err := q.Order("seq_num ASC").Find(&models).Error; err != nil {
			return nil, fmt.Errorf("loading transcript: %w", err)
		}
	}
	entries := make([]storage.TranscriptEntry, len(models))
	for i := range models {
		entries[i] = toTranscriptDomain(&models[i])
	}
	return entries, nil
}

func (r *RunRepository) AppendSteps(ctx context.Context, runID uuid.UUID, steps []storage.StepRecord) error {
	if len(steps) == 0 {
		return nil
	}
	models := make([]StepModel, 0, len(steps))
	for _, s := range steps {
		models = append(models, toStepModel(runID, s))
	}
	if err := r.db.WithContext(ctx).Create(&models).Error; err != nil {
		return fmt.Errorf("inserting steps: %w", err)
	}
	return nil
}

func (r *RunRepository) Steps(ctx context.Context, runID uuid.UUID) ([]storage.StepRecord, error) {
	var models []StepModel
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step_num ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading steps: %w", err)
	}
	steps := make([]storage.StepRecord, len(models))
	for i := range models {
		steps[i] = toStepDomain(&models[i])
	}
	return steps, nil
}
