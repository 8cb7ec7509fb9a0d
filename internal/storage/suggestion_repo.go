package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nordvik/beacon/internal/domain"
)

// SuggestionRepository persists queued suggestions.
type SuggestionRepository struct {
	db *gorm.DB
}

// NewSuggestionRepository creates a SuggestionRepository.
func NewSuggestionRepository(db *gorm.DB) *SuggestionRepository {
	return &SuggestionRepository{db: db}
}

// Create persists a new suggestion.
func (r *SuggestionRepository) Create(ctx context.Context, s *domain.Suggestion) error {
	model := toSuggestionModel(s)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating suggestion: %w", err)
	}
	return nil
}

// Get retrieves a suggestion by ID.
func (r *SuggestionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Suggestion, error) {
	var model SuggestionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("getting suggestion %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting suggestion %s: %w", id, err)
	}
	return toSuggestionDomain(&model), nil
}

// List returns suggestions, optionally filtered by status, newest first.
func (r *SuggestionRepository) List(ctx context.Context, status domain.SuggestionStatus, limit int) ([]domain.Suggestion, error) {
	q := r.db.WithContext(ctx).Order("scheduled_time DESC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []SuggestionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing suggestions: %w", err)
	}
	out := make([]domain.Suggestion, len(models))
	for i := range models {
		out[i] = *toSuggestionDomain(&models[i])
	}
	return out, nil
}

// Delete removes a suggestion.
func (r *SuggestionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&SuggestionModel{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("deleting suggestion %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("deleting suggestion %s: %w", id, ErrNotFound)
	}
	return nil
}

// FindDue returns pending suggestions whose scheduled time has passed,
// earliest-due first, capped at limit. The cap is the dispatch cycle's
// backpressure control.
func (r *SuggestionRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.Suggestion, error) {
	var models []SuggestionModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_time <= ?", string(domain.SuggestionPending), now).
		Order("scheduled_time ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("finding due suggestions: %w", err)
	}
	out := make([]domain.Suggestion, len(models))
	for i := range models {
		out[i] = *toSuggestionDomain(&models[i])
	}
	return out, nil
}

// MarkDelivered transitions a pending suggestion to delivered. The status
// guard in the WHERE clause makes the transition idempotent: marking an
// already-delivered suggestion affects zero rows and is not an error.
func (r *SuggestionRepository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).
		Model(&SuggestionModel{}).
		Where("id = ? AND status = ?", id, string(domain.SuggestionPending)).
		Updates(map[string]any{
			"status":       string(domain.SuggestionDelivered),
			"delivered_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return fmt.Errorf("marking suggestion %s delivered: %w", id, err)
	}
	return nil
}

// Reschedule moves a recurring suggestion to its next occurrence,
// keeping it pending.
func (r *SuggestionRepository) Reschedule(ctx context.Context, id uuid.UUID, next time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&SuggestionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"scheduled_time": next,
			"updated_at":     time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("rescheduling suggestion %s: %w", id, err)
	}
	return nil
}

// CountOverdue returns the number of pending suggestions due before cutoff.
func (r *SuggestionRepository) CountOverdue(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SuggestionModel{}).
		Where("status = ? AND scheduled_time <= ?", string(domain.SuggestionPending), cutoff).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting overdue suggestions: %w", err)
	}
	return count, nil
}

// ListUpcoming returns pending suggestions scheduled within the window,
// earliest first.
func (r *SuggestionRepository) ListUpcoming(ctx context.Context, from, until time.Time) ([]domain.Suggestion, error) {
	var models []SuggestionModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_time > ? AND scheduled_time <= ?",
			string(domain.SuggestionPending), from, until).
		Order("scheduled_time ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing upcoming suggestions: %w", err)
	}
	out := make([]domain.Suggestion, len(models))
	for i := range models {
		out[i] = *toSuggestionDomain(&models[i])
	}
	return out, nil
}

// PruneDelivered removes delivered suggestions older than cutoff.
// Returns the number of rows removed.
func (r *SuggestionRepository) PruneDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND delivered_at IS NOT NULL AND delivered_at < ?",
			string(domain.SuggestionDelivered), cutoff).
		Delete(&SuggestionModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning delivered suggestions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
