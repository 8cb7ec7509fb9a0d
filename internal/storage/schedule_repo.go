package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/nordvik/beacon/internal/domain"
)

// ScheduleRepository persists the singleton execution schedule.
type ScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a ScheduleRepository.
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Read returns the current schedule, creating the default row on first call.
func (r *ScheduleRepository) Read(ctx context.Context) (*domain.Schedule, error) {
	var model ScheduleModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", scheduleRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		def := domain.DefaultSchedule()
		if writeErr := r.Write(ctx, def); writeErr != nil {
			return nil, writeErr
		}
		return def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading schedule: %w", err)
	}
	return toScheduleDomain(&model), nil
}

// Write overwrites the singleton schedule row.
func (r *ScheduleRepository) Write(ctx context.Context, s *domain.Schedule) error {
	model := toScheduleModel(s)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("writing schedule: %w", err)
	}
	return nil
}
