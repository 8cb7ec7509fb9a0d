// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Frequency is how often the autonomous execution loop fires.
// Closed set — anything else is rejected at the configuration boundary.
type Frequency string

const (
	Every15Min Frequency = "15m"
	Every30Min Frequency = "30m"
	EveryHour  Frequency = "1h"
	Every3H    Frequency = "3h"
	Every6H    Frequency = "6h"
	Every12H   Frequency = "12h"
	Every24H   Frequency = "24h"
)

var frequencyDurations = map[Frequency]time.Duration{
	Every15Min: 15 * time.Minute,
	Every30Min: 30 * time.Minute,
	EveryHour:  time.Hour,
	Every3H:    3 * time.Hour,
	Every6H:    6 * time.Hour,
	Every12H:   12 * time.Hour,
	Every24H:   24 * time.Hour,
}

// ParseFrequency validates a frequency string.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(s)
	if _, ok := frequencyDurations[f]; !ok {
		return "", fmt.Errorf("invalid frequency %q (allowed: 15m, 30m, 1h, 3h, 6h, 12h, 24h)", s)
	}
	return f, nil
}

// Duration returns the wall-clock interval for this frequency.
func (f Frequency) Duration() time.Duration {
	d, ok := frequencyDurations[f]
	if !ok {
		// Unknown values only appear if a row predates a frequency rename;
		// fall back to the most conservative interval.
		return 24 * time.Hour
	}
	return d
}

// Valid reports whether f is a member of the closed frequency set.
func (f Frequency) Valid() bool {
	_, ok := frequencyDurations[f]
	return ok
}

// ChannelTargets is the closed set of optional notification endpoints.
// Every non-empty field is an independent delivery target; any combination
// may be active at once, including none.
type ChannelTargets struct {
	WebhookURL     string `json:"webhook_url,omitempty"`
	NtfyTopic      string `json:"ntfy_topic,omitempty"`
	SlackChannelID string `json:"slack_channel_id,omitempty"`
	EmailTo        string `json:"email_to,omitempty"` // Comma-separated recipient list.
}

// Empty reports whether no channel is configured.
func (t ChannelTargets) Empty() bool {
	return t.WebhookURL == "" && t.NtfyTopic == "" && t.SlackChannelID == "" && t.EmailTo == ""
}

// Schedule is the process-wide autonomous execution schedule. Singleton:
// exactly one row exists, created with defaults on first start and only
// ever overwritten.
//
// Invariant: NextExecution, when set, is always LastExecution plus the
// frequency duration as of the last completed run. It is never derived
// from the polling clock.
type Schedule struct {
	Enabled        bool
	Frequency      Frequency
	LastExecution  *time.Time
	NextExecution  *time.Time
	ChannelTargets ChannelTargets
	UpdatedAt      time.Time
}

// DefaultSchedule is the schedule created on first start: disabled, hourly.
func DefaultSchedule() *Schedule {
	return &Schedule{
		Enabled:   false,
		Frequency: EveryHour,
		UpdatedAt: time.Now().UTC(),
	}
}

// SuggestionStatus is the delivery state of a queued suggestion.
type SuggestionStatus string

const (
	SuggestionPending   SuggestionStatus = "pending"
	SuggestionDelivered SuggestionStatus = "delivered"
)

// Suggestion is a durable reminder queued for delivery at ScheduledTime.
// Produced upstream; read and transitioned only by the dispatch cycle.
// The pending -> delivered transition happens exactly once and only after
// at least one channel accepted the message.
type Suggestion struct {
	ID            uuid.UUID
	Title         string
	Body          string
	ScheduledTime time.Time
	Status        SuggestionStatus
	// Recurrence is an optional 5-field cron expression. When set, successful
	// delivery reschedules the suggestion to the next occurrence instead of
	// marking it delivered.
	Recurrence string
	// ChannelSnapshot pins the targets resolved when the suggestion was
	// created, so later schedule edits do not redirect queued reminders.
	ChannelSnapshot ChannelTargets
	DeliveredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RunStatus is the terminal outcome of one autonomous run.
type RunStatus string

const (
	RunSucceeded RunStatus = "success"
	RunFailed    RunStatus = "failure"
)

// RunRecord is an append-only record of one autonomous run.
// Never updated or deleted (audit trail).
type RunRecord struct {
	ID            uuid.UUID
	CorrelationID string
	Status        RunStatus
	Trigger       string // "schedule" or "manual".
	StartedAt     time.Time
	DurationMS    int64
	ToolCalls     int
	ToolCallsJSON string // Serialized tool-call records for UI/audit display.
	Error         string
	CreatedAt     time.Time
}
