package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/nordvik/beacon/internal/dispatch"
	"github.com/nordvik/beacon/internal/domain"
	"github.com/nordvik/beacon/internal/notification"
	"github.com/nordvik/beacon/internal/scheduler"
	"github.com/nordvik/beacon/internal/storage"
)

// SuggestionStore is the slice of the suggestion repository the API needs.
type SuggestionStore interface {
	Create(ctx context.Context, s *domain.Suggestion) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Suggestion, error)
	List(ctx context.Context, status domain.SuggestionStatus, limit int) ([]domain.Suggestion, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RunStore lists recorded runs for the history endpoint.
type RunStore interface {
	List(ctx context.Context, limit int) ([]domain.RunRecord, error)
}

// --- Schedule handlers ---

// ChannelTargetsBody mirrors domain.ChannelTargets on the wire.
type ChannelTargetsBody struct {
	WebhookURL     string `json:"webhook_url,omitempty"`
	NtfyTopic      string `json:"ntfy_topic,omitempty"`
	SlackChannelID string `json:"slack_channel_id,omitempty"`
	EmailTo        string `json:"email_to,omitempty"`
}

func (b ChannelTargetsBody) toDomain() domain.ChannelTargets {
	return domain.ChannelTargets{
		WebhookURL:     b.WebhookURL,
		NtfyTopic:      b.NtfyTopic,
		SlackChannelID: b.SlackChannelID,
		EmailTo:        b.EmailTo,
	}
}

func channelTargetsBody(t domain.ChannelTargets) ChannelTargetsBody {
	return ChannelTargetsBody{
		WebhookURL:     t.WebhookURL,
		NtfyTopic:      t.NtfyTopic,
		SlackChannelID: t.SlackChannelID,
		EmailTo:        t.EmailTo,
	}
}

// validate rejects malformed targets at the configuration boundary, before
// they reach the loops. The SSRF check stays in the webhook sender; this only
// catches inputs that could never be delivered to.
func (b ChannelTargetsBody) validate() error {
	if b.WebhookURL != "" {
		u, err := url.Parse(b.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook_url must be an absolute http(s) URL")
		}
	}
	if strings.ContainsAny(b.NtfyTopic, " /") {
		return fmt.Errorf("ntfy_topic must not contain spaces or slashes")
	}
	return nil
}

// ScheduleRequest is the JSON body for PUT /v1/schedule.
type ScheduleRequest struct {
	Enabled   bool               `json:"enabled"`
	Frequency string             `json:"frequency"` // One of: 15m, 30m, 1h, 3h, 6h, 12h, 24h.
	Channels  ChannelTargetsBody `json:"channels"`
}

// ScheduleResponse is the JSON representation of the execution schedule.
type ScheduleResponse struct {
	Enabled       bool               `json:"enabled"`
	Frequency     string             `json:"frequency"`
	LastExecution *time.Time         `json:"last_execution,omitempty"`
	NextExecution *time.Time         `json:"next_execution,omitempty"`
	Channels      ChannelTargetsBody `json:"channels"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func scheduleResponse(s domain.Schedule) ScheduleResponse {
	return ScheduleResponse{
		Enabled:       s.Enabled,
		Frequency:     string(s.Frequency),
		LastExecution: s.LastExecution,
		NextExecution: s.NextExecution,
		Channels:      channelTargetsBody(s.ChannelTargets),
		UpdatedAt:     s.UpdatedAt,
	}
}

func (g *Gateway) handleScheduleGet(c *okapi.Context) error {
	if err := g.rateLimit(c); err != nil {
		return err
	}

	sched, err := g.loop.Schedule(c.Context())
	if err != nil {
		g.logger.Error("failed to read schedule", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to read schedule")
	}
	return c.OK(scheduleResponse(sched))
}

func (g *Gateway) handleScheduleUpdate(c *okapi.Context) error {
	if err := g.rateLimit(c); err != nil {
		return err
	}

	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	freq, err := domain.ParseFrequency(req.Frequency)
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}
	if err := req.Channels.validate(); err != nil {
		return c.AbortBadRequest(err.Error())
	}

	sched, err := g.loop.UpdateSchedule(c.Context(), req.Enabled, freq, req.Channels.toDomain())
	if err != nil {
		g.logger.Error("failed to update schedule", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to update schedule")
	}
	return c.OK(scheduleResponse(sched))
}

// TriggerResponse is returned with HTTP 202 when a manual run starts.
type TriggerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (g *Gateway) handleTrigger(c *okapi.Context) error {
	if err := g.rateLimit(c); err != nil {
		return err
	}

	if err := g.loop.TriggerNow(c.Context()); err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			return c.JSON(http.StatusConflict, ErrorBody{Error: "a run is already in progress"})
		}
		g.logger.Error("manual trigger failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("trigger failed")
	}

	return c.JSON(http.StatusAccepted, TriggerResponse{
		Status:  "accepted",
		Message: "run started",
	})
}

// --- Channel test handler ---

// ChannelTestRequest is the JSON body for POST /v1/channels/test.
type ChannelTestRequest struct {
	Channels ChannelTargetsBody `json:"channels"`
}

// ChannelTestResponse reports the per-channel outcome of a test send.
type ChannelTestResponse struct {
	Attempted int               `json:"attempted"`
	Delivered bool              `json:"delivered"` // At least one channel accepted.
	Errors    map[string]string `json:"errors,omitempty"`
}

func (g *Gateway) handleChannelTest(c *okapi.Context) error {
	if err := g.rateLimit(c); err != nil {
		return err
	}

	var req ChannelTestRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	targets := req.Channels.toDomain()
	if targets.Empty() {
		return c.AbortBadRequest("at least one channel is required")
	}

	result := g.dispatcher.Notify(c.Context(), targets, &notification.Message{
		Title:    "Beacon test notification",
		Body:     "If you can read this, the channel is configured correctly.",
		Metadata: map[string]string{"type": "channel_test"},
	})

	resp := ChannelTestResponse{
		Attempted: result.Attempted,
		Delivered: result.AnySuccess(),
	}
	for channel, err := range result.Errors {
		if err == nil {
			continue
		}
		if resp.Errors == nil {
			resp.Errors = make(map[string]string)
		}
		resp.Errors[channel] = err.Error()
	}
	return c.OK(resp)
}

// --- Suggestion handlers ---

// SuggestionRequest is the JSON body for POST /v1/suggestions.
type SuggestionRequest struct {
	Title         string              `json:"title"`
	Body          string              `json:"body"`
	ScheduledTime time.Time           `json:"scheduled_time"`
	Recurrence    string              `json:"recurrence,omitempty"` // Optional 5-field cron expression.
	Channels      *ChannelTargetsBody `json:"channels,omitempty"`   // nil = snapshot the schedule's channels.
}

// SuggestionResponse is the JSON representation of a suggestion.
type SuggestionResponse struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Body          string             `json:"body"`
	ScheduledTime time.Time          `json:"scheduled_time"`
	Status        string             `json:"status"`
	Recurrence    string             `json:"recurrence,omitempty"`
	Channels      ChannelTargetsBody `json:"channels"`
	DeliveredAt   *time.Time         `json:"delivered_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

func suggestionResponse(s *domain.Suggestion) SuggestionResponse {
	return SuggestionResponse{
		ID:            s.ID.String(),
		Title:         s.Title,
		Body:          s.Body,
		ScheduledTime: s.ScheduledTime,
		Status:        string(s.Status),
		Recurrence:    s.Recurrence,
		Channels:      channelTargetsBody(s.ChannelSnapshot),
		DeliveredAt:   s.DeliveredAt,
		CreatedAt:     s.CreatedAt,
	}
}

func (g *Gateway) handleSuggestionCreate(c *okapi.Context) error {
	if err := g.rateLimit(c); err != nil {
		return err
	}

	var req SuggestionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Title == "" {
		return c.AbortBadRequest("title is required")
	}
	if req.ScheduledTime.IsZero() {
		return c.AbortBadRequest("scheduled_time is required")
	}
	if req.Recurrence != "" {
		if err := dispatch.ValidRecurrence(req.Recurrence); err != nil {
			return c.AbortBadRequest("invalid recurrence expression")
		}
	}
	if req.Channels != nil {
		if err := req.Channels.validate(); err != nil {
			return c.AbortBadRequest(err.Error())
		}
	}

	// Pin channels at creation time so later schedule edits do not redirect
	// queued reminders.
	var snapshot domain.ChannelTargets
	if req.Channels != nil {
		snapshot = req.Channels.toDomain()
	} else {
		sched, err := g.loop.Schedule(c.Context())
		if err != nil {
			g.logger.Error("failed to read schedule", slog.String("error", err.Error()))
			return c.AbortInternalServerError("failed to resolve channels")
		}
		snapshot = sched.ChannelTargets
	}

	now := time.Now().UTC()
	s := &domain.Suggestion{
		ID:              uuid.New(),
		Title:           req.Title,
		Body:            req.Body,
		ScheduledTime:   req.ScheduledTime.UTC(),
		Status:          domain.SuggestionPending,
		Recurrence:      req.Recurrence,
		ChannelSnapshot: snapshot,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := g.suggestions.Create(c.Context(), s); err != nil {
		g.logger.Error("failed to create suggestion", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to create suggestion")
	}

	g.logger.Info("suggestion queued",
		slog.String("suggestion_id", s.ID.String()),
		slog.Time("scheduled_time", s.ScheduledTime),
	)
	return c.JSON(http.StatusCreated, suggestionResponse(s))
}

func (g *Gateway) handleSuggestionList(c *okapi.Context) error {
	if err := g.rateLimit(c); err != nil {
		return err
	}

	var status domain.SuggestionStatus
	switch q := c.Request().URL.Query().Get("status"); q {
	case "":
	case string(domain.SuggestionPending), string(domain.SuggestionDelivered):
		status = domain.SuggestionStatus(q)
	default:
		return c.AbortBadRequest("status must be pending or delivered")
	}

	limit := 100
	if q := c.Request().URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			return c.AbortBadRequest("limit must be a positive integer")
		}
		limit = n
	}

	list, err := g.suggestions.List(c.Context(), status, limit)
	if err != nil {
		g.logger.Error("failed to list suggestions", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to list suggestions")
	}

	resp := make([]SuggestionResponse, len(list))
	for i := range list {
		resp[i] = suggestionResponse(&list[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleSuggestionGet(c *okapi.Context) error {
	if err := g.rateLimit(c); err != nil {
		return err
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid suggestion ID")
	}

	s, err := g.suggestions.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorBody{Error: "suggestion not found"})
		}
		g.logger.Error("failed to get suggestion", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to get suggestion")
	}
	return c.OK(suggestionResponse(s))
}

func (g *Gateway) handleSuggestionDelete(c *okapi.Context) error {
	if err := g.rateLimit(c); err != nil {
		return err
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid suggestion ID")
	}

	if err := g.suggestions.Delete(c.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorBody{Error: "suggestion not found"})
		}
		g.logger.Error("failed to delete suggestion", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to delete suggestion")
	}

	g.logger.Info("suggestion deleted", slog.String("suggestion_id", id.String()))
	return c.OK(map[string]string{"status": "deleted"})
}

// --- Run history handler ---

// RunResponse is one entry in the run history.
type RunResponse struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Status        string    `json:"status"`
	Trigger       string    `json:"trigger"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    int64     `json:"duration_ms"`
	ToolCalls     int       `json:"tool_calls"`
	Error         string    `json:"error,omitempty"`
}

func (g *Gateway) handleRunList(c *okapi.Context) error {
	if err := g.rateLimit(c); err != nil {
		return err
	}

	limit := 50
	if q := c.Request().URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			return c.AbortBadRequest("limit must be a positive integer")
		}
		limit = n
	}

	records, err := g.runs.List(c.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list runs", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to list runs")
	}

	resp := make([]RunResponse, len(records))
	for i, r := range records {
		resp[i] = RunResponse{
			ID:            r.ID.String(),
			CorrelationID: r.CorrelationID,
			Status:        string(r.Status),
			Trigger:       r.Trigger,
			StartedAt:     r.StartedAt,
			DurationMS:    r.DurationMS,
			ToolCalls:     r.ToolCalls,
			Error:         r.Error,
		}
	}
	return c.OK(resp)
}
