// Package dispatch implements the suggestion delivery cycle: a short poll
// loop that finds due pending suggestions and pushes them through the
// notification fan-out. A suggestion becomes delivered only after at least
// one channel accepted it; total failures leave it pending so the next
// cycle retries. Recurring suggestions are rescheduled to their next cron
// occurrence instead of being marked delivered.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nordvik/beacon/internal/domain"
	"github.com/nordvik/beacon/internal/notification"
)

// SuggestionStore is the slice of the suggestion repository the cycle needs.
type SuggestionStore interface {
	FindDue(ctx context.Context, now time.Time, limit int) ([]domain.Suggestion, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, next time.Time) error
}

// Config tunes the delivery cycle.
type Config struct {
	PollInterval time.Duration // Default: 10s.
	MaxPerCycle  int           // Cap on suggestions processed per poll. Default: 20.
	SendTimeout  time.Duration // Per-suggestion fan-out budget. Default: 30s.
}

func (c Config) poll() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 10 * time.Second
}

func (c Config) maxPerCycle() int {
	if c.MaxPerCycle > 0 {
		return c.MaxPerCycle
	}
	return 20
}

func (c Config) sendTimeout() time.Duration {
	if c.SendTimeout > 0 {
		return c.SendTimeout
	}
	return 30 * time.Second
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextOccurrence computes the next fire time of a 5-field cron expression
// strictly after the given instant.
func NextOccurrence(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse recurrence %q: %w", expr, err)
	}
	return sched.Next(after), nil
}

// ValidRecurrence reports whether expr parses as a 5-field cron expression.
func ValidRecurrence(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// Cycle is the suggestion delivery loop.
type Cycle struct {
	store      SuggestionStore
	dispatcher *notification.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
	config     Config

	now func() time.Time
}

// New creates a Cycle. Call Start to begin polling.
func New(store SuggestionStore, d *notification.Dispatcher, metrics *Metrics, logger *slog.Logger, cfg Config) *Cycle {
	return &Cycle{
		store:      store,
		dispatcher: d,
		metrics:    metrics,
		logger:     logger,
		config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the poll loop and returns a cancel function.
func (c *Cycle) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		c.logger.InfoContext(ctx, "suggestion dispatch cycle started",
			slog.String("poll", c.config.poll().String()),
			slog.Int("max_per_cycle", c.config.maxPerCycle()),
		)

		ticker := time.NewTicker(c.config.poll())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.logger.Info("suggestion dispatch cycle stopped")
				return
			case <-ticker.C:
				c.runCycle(ctx)
			}
		}
	}()

	return cancel
}

// runCycle processes at most MaxPerCycle due suggestions, earliest first.
func (c *Cycle) runCycle(ctx context.Context) {
	now := c.now()
	due, err := c.store.FindDue(ctx, now, c.config.maxPerCycle())
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to query due suggestions",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(due) == 0 {
		return
	}

	c.logger.DebugContext(ctx, "processing due suggestions", slog.Int("count", len(due)))
	for i := range due {
		c.deliver(ctx, &due[i])
	}
}

// deliver fans one suggestion out to its pinned channel snapshot and
// transitions it on success.
func (c *Cycle) deliver(ctx context.Context, s *domain.Suggestion) {
	if c.metrics != nil {
		c.metrics.Attempted.Inc()
	}

	if s.ChannelSnapshot.Empty() {
		// Nothing to send to. Mark delivered so it does not clog the queue.
		c.logger.WarnContext(ctx, "suggestion has no channels, marking delivered",
			slog.String("suggestion_id", s.ID.String()),
		)
		c.finish(ctx, s)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.config.sendTimeout())
	result := c.dispatcher.Notify(sendCtx, s.ChannelSnapshot, &notification.Message{
		Title: s.Title,
		Body:  s.Body,
		Metadata: map[string]string{
			"type":          "suggestion",
			"suggestion_id": s.ID.String(),
		},
	})
	cancel()

	if !result.AnySuccess() {
		if c.metrics != nil {
			c.metrics.Failed.Inc()
		}
		c.logger.WarnContext(ctx, "suggestion delivery failed on all channels, will retry",
			slog.String("suggestion_id", s.ID.String()),
			slog.Int("channels", result.Attempted),
		)
		return
	}

	if c.metrics != nil {
		c.metrics.Delivered.Inc()
	}
	c.finish(ctx, s)
}

// finish transitions a suggestion after a successful (or channel-less)
// delivery: recurring suggestions advance to the next occurrence, one-shot
// suggestions become delivered.
func (c *Cycle) finish(ctx context.Context, s *domain.Suggestion) {
	if s.Recurrence != "" {
		next, err := NextOccurrence(s.Recurrence, c.now())
		if err != nil {
			// Broken expression; demote to one-shot rather than retry forever.
			c.logger.ErrorContext(ctx, "invalid recurrence, marking delivered",
				slog.String("suggestion_id", s.ID.String()),
				slog.String("recurrence", s.Recurrence),
				slog.String("error", err.Error()),
			)
		} else {
			if err := c.store.Reschedule(ctx, s.ID, next); err != nil {
				c.logger.ErrorContext(ctx, "failed to reschedule suggestion",
					slog.String("suggestion_id", s.ID.String()),
					slog.String("error", err.Error()),
				)
			} else {
				c.logger.InfoContext(ctx, "recurring suggestion delivered and rescheduled",
					slog.String("suggestion_id", s.ID.String()),
					slog.Time("next", next),
				)
			}
			return
		}
	}

	if err := c.store.MarkDelivered(ctx, s.ID); err != nil {
		c.logger.ErrorContext(ctx, "failed to mark suggestion delivered",
			slog.String("suggestion_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	c.logger.InfoContext(ctx, "suggestion delivered",
		slog.String("suggestion_id", s.ID.String()),
		slog.String("title", s.Title),
	)
}
