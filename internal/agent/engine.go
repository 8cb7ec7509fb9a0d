// Package agent contains the built-in maintenance engine that autonomous
// runs execute. Each run walks a fixed set of housekeeping tasks over the
// suggestion queue, reporting every task through the tracker hooks so the
// run is observable and notifiable like any other workload.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nordvik/beacon/internal/domain"
	"github.com/nordvik/beacon/internal/tracker"
)

// SuggestionStore is the slice of the suggestion repository the engine uses.
type SuggestionStore interface {
	Create(ctx context.Context, s *domain.Suggestion) error
	CountOverdue(ctx context.Context, cutoff time.Time) (int64, error)
	ListUpcoming(ctx context.Context, from, until time.Time) ([]domain.Suggestion, error)
	PruneDelivered(ctx context.Context, cutoff time.Time) (int64, error)
}

// ScheduleReader resolves the channel targets pinned onto digest suggestions.
type ScheduleReader interface {
	Read(ctx context.Context) (*domain.Schedule, error)
}

// Config tunes the maintenance tasks.
type Config struct {
	DigestWindow time.Duration // Lookahead for the upcoming digest. Default: 24h.
	Retention    time.Duration // How long delivered suggestions are kept. Default: 30 days.
}

func (c Config) digestWindow() time.Duration {
	if c.DigestWindow > 0 {
		return c.DigestWindow
	}
	return 24 * time.Hour
}

func (c Config) retention() time.Duration {
	if c.Retention > 0 {
		return c.Retention
	}
	return 30 * 24 * time.Hour
}

// Engine is the default run workload: scan for overdue suggestions, queue a
// digest of what is coming up, prune old delivered rows.
type Engine struct {
	store    SuggestionStore
	schedule ScheduleReader
	logger   *slog.Logger
	config   Config

	now func() time.Time
}

// New creates an Engine.
func New(store SuggestionStore, schedule ScheduleReader, logger *slog.Logger, cfg Config) *Engine {
	return &Engine{
		store:    store,
		schedule: schedule,
		logger:   logger,
		config:   cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one maintenance pass. Every task is reported through the
// listener; a failed task does not stop the pass, but the run as a whole
// fails if any task failed.
func (e *Engine) Run(ctx context.Context, listener tracker.Listener) error {
	var errs []error

	for _, task := range []struct {
		kind string
		fn   func(context.Context, tracker.Listener) (string, error)
	}{
		{tracker.KindScanOverdue, e.scanOverdue},
		{tracker.KindQueueDigest, e.queueDigest},
		{tracker.KindPruneDelivered, e.pruneDelivered},
	} {
		if err := ctx.Err(); err != nil {
			return err
		}
		listener.OnToolStart(task.kind, nil)
		output, err := task.fn(ctx, listener)
		if err != nil {
			listener.OnToolError(err)
			errs = append(errs, fmt.Errorf("%s: %w", task.kind, err))
			continue
		}
		listener.OnToolEnd(output)
	}

	return errors.Join(errs...)
}

// scanOverdue counts pending suggestions whose scheduled time has passed by
// more than one dispatch cycle. A non-zero count usually means every channel
// is down.
func (e *Engine) scanOverdue(ctx context.Context, _ tracker.Listener) (string, error) {
	cutoff := e.now().Add(-5 * time.Minute)
	count, err := e.store.CountOverdue(ctx, cutoff)
	if err != nil {
		return "", fmt.Errorf("count overdue: %w", err)
	}
	if count == 0 {
		return "No overdue suggestions.", nil
	}
	e.logger.WarnContext(ctx, "overdue suggestions found", slog.Int64("count", count))
	return fmt.Sprintf("%d suggestion(s) overdue by more than 5 minutes; check channel health.", count), nil
}

// queueDigest queues an immediate digest suggestion summarizing what is due
// within the lookahead window. Skipped when the window is empty.
func (e *Engine) queueDigest(ctx context.Context, _ tracker.Listener) (string, error) {
	now := e.now()
	upcoming, err := e.store.ListUpcoming(ctx, now, now.Add(e.config.digestWindow()))
	if err != nil {
		return "", fmt.Errorf("list upcoming: %w", err)
	}
	if len(upcoming) == 0 {
		return "Nothing due in the next window; no digest queued.", nil
	}

	sched, err := e.schedule.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("read schedule: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d reminder(s) due in the next %s:\n", len(upcoming), e.config.digestWindow())
	for _, s := range upcoming {
		fmt.Fprintf(&b, "- %s at %s\n", s.Title, s.ScheduledTime.Format(time.RFC3339))
	}

	digest := &domain.Suggestion{
		ID:              uuid.New(),
		Title:           "Upcoming reminders",
		Body:            strings.TrimRight(b.String(), "\n"),
		ScheduledTime:   now,
		Status:          domain.SuggestionPending,
		ChannelSnapshot: sched.ChannelTargets,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.Create(ctx, digest); err != nil {
		return "", fmt.Errorf("queue digest: %w", err)
	}
	return fmt.Sprintf("Queued digest covering %d upcoming reminder(s).", len(upcoming)), nil
}

// pruneDelivered deletes delivered suggestions older than the retention
// window.
func (e *Engine) pruneDelivered(ctx context.Context, _ tracker.Listener) (string, error) {
	cutoff := e.now().Add(-e.config.retention())
	pruned, err := e.store.PruneDelivered(ctx, cutoff)
	if err != nil {
		return "", fmt.Errorf("prune delivered: %w", err)
	}
	if pruned == 0 {
		return "Nothing to prune.", nil
	}
	return fmt.Sprintf("Pruned %d delivered suggestion(s).", pruned), nil
}
