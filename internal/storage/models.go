package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/nordvik/beacon/internal/domain"
)

// scheduleRowID is the fixed primary key of the singleton schedule row.
const scheduleRowID = 1

// ScheduleModel maps to the "execution_schedule" table. Exactly one row.
type ScheduleModel struct {
	ID             int `gorm:"primaryKey"`
	Enabled        bool
	Frequency      string `gorm:"not null"`
	LastExecution  *time.Time
	NextExecution  *time.Time
	WebhookURL     string `gorm:"not null;default:''"`
	NtfyTopic      string `gorm:"not null;default:''"`
	SlackChannelID string `gorm:"not null;default:''"`
	EmailTo        string `gorm:"not null;default:''"`
	UpdatedAt      time.Time
}

func (ScheduleModel) TableName() string { return "execution_schedule" }

func toScheduleModel(s *domain.Schedule) ScheduleModel {
	return ScheduleModel{
		ID:             scheduleRowID,
		Enabled:        s.Enabled,
		Frequency:      string(s.Frequency),
		LastExecution:  s.LastExecution,
		NextExecution:  s.NextExecution,
		WebhookURL:     s.ChannelTargets.WebhookURL,
		NtfyTopic:      s.ChannelTargets.NtfyTopic,
		SlackChannelID: s.ChannelTargets.SlackChannelID,
		EmailTo:        s.ChannelTargets.EmailTo,
		UpdatedAt:      s.UpdatedAt,
	}
}

func toScheduleDomain(m *ScheduleModel) *domain.Schedule {
	return &domain.Schedule{
		Enabled:       m.Enabled,
		Frequency:     domain.Frequency(m.Frequency),
		LastExecution: m.LastExecution,
		NextExecution: m.NextExecution,
		ChannelTargets: domain.ChannelTargets{
			WebhookURL:     m.WebhookURL,
			NtfyTopic:      m.NtfyTopic,
			SlackChannelID: m.SlackChannelID,
			EmailTo:        m.EmailTo,
		},
		UpdatedAt: m.UpdatedAt,
	}
}

// SuggestionModel maps to the "suggestions" table.
type SuggestionModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Title          string    `gorm:"not null"`
	Body           string    `gorm:"type:text;not null"`
	ScheduledTime  time.Time `gorm:"not null;index"`
	Status         string    `gorm:"not null;index;default:'pending'"`
	Recurrence     string    `gorm:"not null;default:''"`
	WebhookURL     string    `gorm:"not null;default:''"`
	NtfyTopic      string    `gorm:"not null;default:''"`
	SlackChannelID string    `gorm:"not null;default:''"`
	EmailTo        string    `gorm:"not null;default:''"`
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (SuggestionModel) TableName() string { return "suggestions" }

func toSuggestionModel(s *domain.Suggestion) SuggestionModel {
	return SuggestionModel{
		ID:             s.ID,
		Title:          s.Title,
		Body:           s.Body,
		ScheduledTime:  s.ScheduledTime,
		Status:         string(s.Status),
		Recurrence:     s.Recurrence,
		WebhookURL:     s.ChannelSnapshot.WebhookURL,
		NtfyTopic:      s.ChannelSnapshot.NtfyTopic,
		SlackChannelID: s.ChannelSnapshot.SlackChannelID,
		EmailTo:        s.ChannelSnapshot.EmailTo,
		DeliveredAt:    s.DeliveredAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func toSuggestionDomain(m *SuggestionModel) *domain.Suggestion {
	return &domain.Suggestion{
		ID:            m.ID,
		Title:         m.Title,
		Body:          m.Body,
		ScheduledTime: m.ScheduledTime,
		Status:        domain.SuggestionStatus(m.Status),
		Recurrence:    m.Recurrence,
		ChannelSnapshot: domain.ChannelTargets{
			WebhookURL:     m.WebhookURL,
			NtfyTopic:      m.NtfyTopic,
			SlackChannelID: m.SlackChannelID,
			EmailTo:        m.EmailTo,
		},
		DeliveredAt: m.DeliveredAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// RunRecordModel maps to the "run_records" table. Append-only.
type RunRecordModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	CorrelationID string    `gorm:"not null;index"`
	Status        string    `gorm:"not null"`
	Trigger       string    `gorm:"column:trigger_source;not null"`
	StartedAt     time.Time `gorm:"not null;index"`
	DurationMS    int64     `gorm:"not null;default:0"`
	ToolCalls     int       `gorm:"not null;default:0"`
	ToolCallsJSON string    `gorm:"type:text;not null;default:''"`
	Error         string    `gorm:"type:text;not null;default:''"`
	CreatedAt     time.Time
}

func (RunRecordModel) TableName() string { return "run_records" }

func toRunRecordModel(r *domain.RunRecord) RunRecordModel {
	return RunRecordModel{
		ID:            r.ID,
		CorrelationID: r.CorrelationID,
		Status:        string(r.Status),
		Trigger:       r.Trigger,
		StartedAt:     r.StartedAt,
		DurationMS:    r.DurationMS,
		ToolCalls:     r.ToolCalls,
		ToolCallsJSON: r.ToolCallsJSON,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
	}
}

func toRunRecordDomain(m *RunRecordModel) *domain.RunRecord {
	return &domain.RunRecord{
		ID:            m.ID,
		CorrelationID: m.CorrelationID,
		Status:        domain.RunStatus(m.Status),
		Trigger:       m.Trigger,
		StartedAt:     m.StartedAt,
		DurationMS:    m.DurationMS,
		ToolCalls:     m.ToolCalls,
		ToolCallsJSON: m.ToolCallsJSON,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}
