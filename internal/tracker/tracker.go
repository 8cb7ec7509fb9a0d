// Package tracker instruments one agent run. It records the lifecycle of
// every unit of work the run performs and, in autonomous mode, pushes a
// formatted notification through the fan-out on each completion or failure.
// The same instrumentation path serves interactive runs with notifications
// disabled.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nordvik/beacon/internal/domain"
	"github.com/nordvik/beacon/internal/notification"
)

// Listener receives tool-call lifecycle callbacks from the run engine.
// Calls arrive synchronously in invocation order; implementations must not
// block the run.
type Listener interface {
	OnToolStart(kind string, input map[string]any)
	OnToolEnd(output string)
	OnToolError(err error)
}

// Status is the lifecycle state of a tracked tool call.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record holds the full lifecycle of a single tool call within one run.
// Transitions are monotonic: started -> completed | failed, terminal either way.
type Record struct {
	ID        uuid.UUID      `json:"id"`
	Kind      string         `json:"kind"`
	Status    Status         `json:"status"`
	Input     map[string]any `json:"input,omitempty"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at,omitzero"`
}

const defaultNotifyTimeout = 30 * time.Second

// Tracker is the instrumentation sink for one run. Constructed per run and
// discarded at run end; Records() hands the sequence to the caller first.
type Tracker struct {
	mu      sync.Mutex
	records []*Record

	notifyEnabled bool
	targets       domain.ChannelTargets
	dispatcher    *notification.Dispatcher
	notifyTimeout time.Duration
	observer      Listener // Optional secondary listener (live event feed).
	logger        *slog.Logger

	// Outstanding fire-and-forget notification sends.
	sends sync.WaitGroup
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithObserver attaches a secondary listener that mirrors every hook.
// Used by the run-event stream; must be non-blocking.
func WithObserver(l Listener) Option {
	return func(t *Tracker) { t.observer = l }
}

// WithNotifyTimeout bounds each asynchronous notification send.
func WithNotifyTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.notifyTimeout = d
		}
	}
}

// New creates a Tracker for one run. notifyEnabled is true for autonomous
// runs and false for interactive ones; the record sequence is kept either way.
func New(notifyEnabled bool, targets domain.ChannelTargets, d *notification.Dispatcher, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		notifyEnabled: notifyEnabled,
		targets:       targets,
		dispatcher:    d,
		notifyTimeout: defaultNotifyTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnToolStart appends a new record in the started state.
func (t *Tracker) OnToolStart(kind string, input map[string]any) {
	t.mu.Lock()
	t.records = append(t.records, &Record{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    StatusStarted,
		Input:     input,
		StartedAt: time.Now().UTC(),
	})
	t.mu.Unlock()

	t.logger.Debug("tool call started", slog.String("kind", kind))

	if t.observer != nil {
		t.observer.OnToolStart(kind, input)
	}
}

// OnToolEnd closes the most recently started open record as completed.
// Concurrent tool calls do not interleave within one run, so
// last-started-first-closed is sufficient. A call with no open record is a
// warning-logged no-op.
func (t *Tracker) OnToolEnd(output string) {
	rec := t.closeLast(StatusCompleted, output, "")
	if rec == nil {
		return
	}

	t.logger.Debug("tool call completed",
		slog.String("kind", rec.Kind),
		slog.String("duration", rec.EndedAt.Sub(rec.StartedAt).String()),
	)

	if t.observer != nil {
		t.observer.OnToolEnd(output)
	}
	if t.notifyEnabled {
		t.dispatchAsync(formatCompletion(rec))
	}
}

// OnToolError closes the most recently started open record as failed.
func (t *Tracker) OnToolError(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	rec := t.closeLast(StatusFailed, "", msg)
	if rec == nil {
		return
	}

	t.logger.Warn("tool call failed",
		slog.String("kind", rec.Kind),
		slog.String("error", msg),
	)

	if t.observer != nil {
		t.observer.OnToolError(err)
	}
	if t.notifyEnabled {
		t.dispatchAsync(formatFailure(rec))
	}
}

// closeLast transitions the most recent started record. Returns nil if no
// record is open.
func (t *Tracker) closeLast(status Status, result, errMsg string) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.records) - 1; i >= 0; i-- {
		rec := t.records[i]
		if rec.Status != StatusStarted {
			continue
		}
		rec.Status = status
		rec.Result = result
		rec.Error = errMsg
		rec.EndedAt = time.Now().UTC()
		return rec
	}

	t.logger.Warn("tool call close with no open record — duplicate callback ignored",
		slog.String("status", string(status)),
	)
	return nil
}

// dispatchAsync sends a message through the fan-out without blocking the run.
// Each send gets its own bounded timeout; errors are contained here so a
// channel outage never fails the underlying task.
func (t *Tracker) dispatchAsync(msg *notification.Message) {
	if t.dispatcher == nil || t.targets.Empty() {
		return
	}

	t.sends.Add(1)
	go func() {
		defer t.sends.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.notifyTimeout)
		defer cancel()

		res := t.dispatcher.Notify(ctx, t.targets, msg)
		if res.AllFailed() {
			t.logger.Warn("tool call notification failed on all channels",
				slog.String("title", msg.Title),
			)
		}
	}()
}

// Records returns a snapshot of the full record sequence, in invocation order.
func (t *Tracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, len(t.records))
	for i, rec := range t.records {
		out[i] = *rec
	}
	return out
}

// Flush blocks until outstanding notification sends finish or ctx expires.
// Called during graceful shutdown; the run itself never waits on this.
func (t *Tracker) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.sends.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
