// Package scheduler implements the autonomous execution loop for Beacon.
// It polls on a short fixed tick, decides whether enough time has elapsed
// since the last autonomous run, and fires an instrumented run while a
// single in-flight guard prevents overlap. Manual triggers go through the
// same guard and are rejected, never queued, while a run is active.
//
// Core invariant: next_execution is always last_execution plus the
// frequency duration, anchored to the previous run rather than to the
// polling clock.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nordvik/beacon/internal/domain"
	"github.com/nordvik/beacon/internal/notification"
	"github.com/nordvik/beacon/internal/tracker"
)

// ErrRunInProgress is returned by TriggerNow while a run is active.
var ErrRunInProgress = errors.New("run in progress")

// ScheduleStore persists the singleton execution schedule.
type ScheduleStore interface {
	Read(ctx context.Context) (*domain.Schedule, error)
	Write(ctx context.Context, s *domain.Schedule) error
}

// RunStore records completed runs for UI/audit consumers.
type RunStore interface {
	Append(ctx context.Context, rec *domain.RunRecord) error
}

// Runner executes one agent run, reporting every unit of work through the
// listener hooks. The engine behind this boundary is free to do whatever a
// run entails; the loop only cares about the final error.
type Runner interface {
	Run(ctx context.Context, listener tracker.Listener) error
}

// Config tunes the loop.
type Config struct {
	TickInterval time.Duration // Due-ness re-evaluation cadence. Default: 60s.
	RunTimeout   time.Duration // Hard cap on one run. Default: 30m.
}

func (c Config) tick() time.Duration {
	if c.TickInterval > 0 {
		return c.TickInterval
	}
	return time.Minute
}

func (c Config) runTimeout() time.Duration {
	if c.RunTimeout > 0 {
		return c.RunTimeout
	}
	return 30 * time.Minute
}

// Loop is the execution scheduler. Single writer of the schedule singleton.
type Loop struct {
	store      ScheduleStore
	runs       RunStore
	runner     Runner
	dispatcher *notification.Dispatcher
	observer   tracker.Listener // Optional mirror of tracker hooks (live feed).
	metrics    *Metrics
	logger     *slog.Logger
	config     Config

	mu       sync.Mutex
	schedule *domain.Schedule
	inFlight bool

	now func() time.Time
}

// New creates a Loop. Call Start to begin ticking.
func New(store ScheduleStore, runs RunStore, runner Runner, d *notification.Dispatcher, metrics *Metrics, logger *slog.Logger, cfg Config) *Loop {
	return &Loop{
		store:      store,
		runs:       runs,
		runner:     runner,
		dispatcher: d,
		metrics:    metrics,
		logger:     logger,
		config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithObserver attaches a listener mirroring every tracker hook of every run.
func (l *Loop) WithObserver(obs tracker.Listener) *Loop {
	l.observer = obs
	return l
}

// Start loads the schedule and begins the tick loop.
// Returns a cancel function (matches the dispatch cycle's Start).
func (l *Loop) Start(ctx context.Context) (func(), error) {
	sched, err := l.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.schedule = sched
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		l.logger.InfoContext(ctx, "execution scheduler started",
			slog.String("tick", l.config.tick().String()),
			slog.Bool("enabled", sched.Enabled),
			slog.String("frequency", string(sched.Frequency)),
		)

		ticker := time.NewTicker(l.config.tick())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				l.logger.Info("execution scheduler stopped")
				return
			case <-ticker.C:
				l.tick(ctx)
			}
		}
	}()

	return cancel, nil
}

// tick evaluates due-ness and fires a run when one is owed. A due tick
// during an active run is skipped, not queued.
func (l *Loop) tick(ctx context.Context) {
	l.mu.Lock()
	sched := l.schedule
	if sched == nil || !sched.Enabled {
		l.mu.Unlock()
		return
	}

	now := l.now()
	due := sched.LastExecution == nil || now.Sub(*sched.LastExecution) >= sched.Frequency.Duration()
	if !due || l.inFlight {
		l.mu.Unlock()
		return
	}
	l.inFlight = true
	targets := sched.ChannelTargets
	l.mu.Unlock()

	l.executeRun(ctx, targets, "schedule")
}

// TriggerNow starts a run immediately, bypassing the due-ness check but not
// the in-flight guard: a concurrent trigger is rejected with ErrRunInProgress
// rather than queued. The run itself proceeds in the background.
func (l *Loop) TriggerNow(ctx context.Context) error {
	l.mu.Lock()
	if l.inFlight {
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.TriggersRejected.Inc()
		}
		return ErrRunInProgress
	}
	if l.schedule == nil {
		sched, err := l.store.Read(ctx)
		if err != nil {
			l.mu.Unlock()
			return err
		}
		l.schedule = sched
	}
	l.inFlight = true
	targets := l.schedule.ChannelTargets
	l.mu.Unlock()

	go l.executeRun(context.WithoutCancel(ctx), targets, "manual")
	return nil
}

// executeRun performs one instrumented run and advances the schedule.
// The schedule advances whether the run succeeded or failed — a permanently
// broken run must not retry-storm on every tick. Revisit if skipped cycles
// turn out to matter more than storm protection.
func (l *Loop) executeRun(ctx context.Context, targets domain.ChannelTargets, trigger string) {
	correlationID := newCorrelationID()
	start := l.now()

	if l.metrics != nil {
		l.metrics.RunsStarted.Inc()
	}
	l.logger.InfoContext(ctx, "autonomous run starting",
		slog.String("trigger", trigger),
		slog.String("correlation_id", correlationID),
	)

	var opts []tracker.Option
	if l.observer != nil {
		opts = append(opts, tracker.WithObserver(l.observer))
	}
	tr := tracker.New(true, targets, l.dispatcher, l.logger, opts...)

	runCtx, cancel := context.WithTimeout(ctx, l.config.runTimeout())
	runErr := l.runner.Run(runCtx, tr)
	cancel()

	now := l.now()
	next := now.Add(l.frequency().Duration())

	l.mu.Lock()
	l.schedule.LastExecution = &now
	l.schedule.NextExecution = &next
	l.schedule.UpdatedAt = now
	snapshot := *l.schedule
	l.inFlight = false
	l.mu.Unlock()

	if err := l.store.Write(ctx, &snapshot); err != nil {
		l.logger.ErrorContext(ctx, "failed to persist schedule",
			slog.String("error", err.Error()),
		)
	}

	duration := now.Sub(start)
	records := tr.Records()
	l.appendRunRecord(ctx, correlationID, trigger, start, duration, records, runErr)

	if l.metrics != nil {
		l.metrics.RunDuration.Observe(duration.Seconds())
	}

	if runErr != nil {
		if l.metrics != nil {
			l.metrics.RunsFailed.Inc()
		}
		l.logger.ErrorContext(ctx, "autonomous run failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", runErr.Error()),
		)
		l.notifyRunFailure(ctx, targets, correlationID, runErr)
		return
	}

	if l.metrics != nil {
		l.metrics.RunsSucceeded.Inc()
	}
	l.logger.InfoContext(ctx, "autonomous run completed",
		slog.String("correlation_id", correlationID),
		slog.String("duration", duration.String()),
		slog.Int("tool_calls", len(records)),
	)
}

func (l *Loop) appendRunRecord(ctx context.Context, correlationID, trigger string, start time.Time, duration time.Duration, records []tracker.Record, runErr error) {
	if l.runs == nil {
		return
	}

	status := domain.RunSucceeded
	errMsg := ""
	if runErr != nil {
		status = domain.RunFailed
		errMsg = runErr.Error()
	}

	recordsJSON, err := json.Marshal(records)
	if err != nil {
		recordsJSON = []byte("[]")
	}

	rec := &domain.RunRecord{
		ID:            uuid.New(),
		CorrelationID: correlationID,
		Status:        status,
		Trigger:       trigger,
		StartedAt:     start,
		DurationMS:    duration.Milliseconds(),
		ToolCalls:     len(records),
		ToolCallsJSON: string(recordsJSON),
		Error:         errMsg,
		CreatedAt:     l.now(),
	}
	if err := l.runs.Append(ctx, rec); err != nil {
		l.logger.WarnContext(ctx, "failed to append run record",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// notifyRunFailure surfaces a failed run through the same fan-out as tool
// completions. Best effort.
func (l *Loop) notifyRunFailure(ctx context.Context, targets domain.ChannelTargets, correlationID string, runErr error) {
	if l.dispatcher == nil || targets.Empty() {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	l.dispatcher.Notify(notifyCtx, targets, &notification.Message{
		Title: "Autonomous run failed",
		Body:  runErr.Error(),
		Metadata: map[string]string{
			"type":           "run_failure",
			"correlation_id": correlationID,
		},
	})
}

// Schedule returns a snapshot of the current schedule. Reads are
// eventually-consistent; only the loop writes.
func (l *Loop) Schedule(ctx context.Context) (domain.Schedule, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.schedule == nil {
		sched, err := l.store.Read(ctx)
		if err != nil {
			return domain.Schedule{}, err
		}
		l.schedule = sched
	}
	return *l.schedule, nil
}

// UpdateSchedule applies a configuration update: enabled flag, frequency,
// and channel targets. Validation happens at the HTTP boundary; this method
// serializes the write against the loop. When the frequency changes,
// next_execution is recomputed from last_execution, preserving the
// anchor-to-previous-run invariant.
func (l *Loop) UpdateSchedule(ctx context.Context, enabled bool, freq domain.Frequency, targets domain.ChannelTargets) (domain.Schedule, error) {
	l.mu.Lock()
	if l.schedule == nil {
		sched, err := l.store.Read(ctx)
		if err != nil {
			l.mu.Unlock()
			return domain.Schedule{}, err
		}
		l.schedule = sched
	}

	l.schedule.Enabled = enabled
	l.schedule.Frequency = freq
	l.schedule.ChannelTargets = targets
	if l.schedule.LastExecution != nil {
		next := l.schedule.LastExecution.Add(freq.Duration())
		l.schedule.NextExecution = &next
	}
	l.schedule.UpdatedAt = l.now()
	snapshot := *l.schedule
	l.mu.Unlock()

	if err := l.store.Write(ctx, &snapshot); err != nil {
		return domain.Schedule{}, err
	}

	l.logger.InfoContext(ctx, "schedule updated",
		slog.Bool("enabled", enabled),
		slog.String("frequency", string(freq)),
	)
	return snapshot, nil
}

// InFlight reports whether a run is currently active.
func (l *Loop) InFlight() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

func (l *Loop) frequency() domain.Frequency {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.schedule.Frequency
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
