package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/nordvik/beacon/internal/domain"
)

// RunRepository persists the append-only autonomous run audit trail.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Append records one completed run. Records are never updated or deleted.
func (r *RunRepository) Append(ctx context.Context, rec *domain.RunRecord) error {
	model := toRunRecordModel(rec)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending run record: %w", err)
	}
	return nil
}

// List returns the most recent run records, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []RunRecordModel
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing run records: %w", err)
	}
	out := make([]domain.RunRecord, len(models))
	for i := range models {
		out[i] = *toRunRecordDomain(&models[i])
	}
	return out, nil
}
