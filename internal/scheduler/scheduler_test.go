package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nordvik/beacon/internal/domain"
	"github.com/nordvik/beacon/internal/tracker"
)

type memScheduleStore struct {
	mu     sync.Mutex
	sched  domain.Schedule
	writes int
}

func (m *memScheduleStore) Read(ctx context.Context) (*domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sched
	return &s, nil
}

func (m *memScheduleStore) Write(ctx context.Context, s *domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sched = *s
	m.writes++
	return nil
}

type memRunStore struct {
	mu      sync.Mutex
	records []domain.RunRecord
}

func (m *memRunStore) Append(ctx context.Context, rec *domain.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memRunStore) list() []domain.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RunRecord, len(m.records))
	copy(out, m.records)
	return out
}

type fakeRunner struct {
	mu      sync.Mutex
	runs    int
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, listener tracker.Listener) error {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	listener.OnToolStart("scan_overdue", nil)
	listener.OnToolEnd("done")
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func newTestLoop(t *testing.T, sched domain.Schedule, runner *fakeRunner) (*Loop, *memScheduleStore, *memRunStore) {
	t.Helper()
	store := &memScheduleStore{sched: sched}
	runs := &memRunStore{}
	logger := slog.New(slog.DiscardHandler)
	l := New(store, runs, runner, nil, nil, logger, Config{})

	ctx := context.Background()
	s, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("read schedule: %v", err)
	}
	l.schedule = s
	return l, store, runs
}

func enabledSchedule(freq domain.Frequency, last *time.Time) domain.Schedule {
	return domain.Schedule{
		Enabled:        true,
		Frequency:      freq,
		LastExecution:  last,
		ChannelTargets: domain.ChannelTargets{},
	}
}

func TestTickFiresWhenNeverExecuted(t *testing.T) {
	runner := &fakeRunner{}
	l, store, runs := newTestLoop(t, enabledSchedule(domain.EveryHour, nil), runner)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.tick(context.Background())

	if runner.count() != 1 {
		t.Fatalf("expected 1 run, got %d", runner.count())
	}
	if store.sched.LastExecution == nil || !store.sched.LastExecution.Equal(now) {
		t.Fatalf("last execution not advanced: %v", store.sched.LastExecution)
	}
	wantNext := now.Add(time.Hour)
	if store.sched.NextExecution == nil || !store.sched.NextExecution.Equal(wantNext) {
		t.Fatalf("next execution = %v, want %v", store.sched.NextExecution, wantNext)
	}
	if got := len(runs.list()); got != 1 {
		t.Fatalf("expected 1 run record, got %d", got)
	}
	if runs.list()[0].Status != domain.RunSucceeded {
		t.Fatalf("expected success status, got %s", runs.list()[0].Status)
	}
}

func TestTickSkipsWhenNotDue(t *testing.T) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	runner := &fakeRunner{}
	l, _, _ := newTestLoop(t, enabledSchedule(domain.EveryHour, &last), runner)

	l.now = func() time.Time { return last.Add(30 * time.Minute) }
	l.tick(context.Background())

	if runner.count() != 0 {
		t.Fatalf("expected no run, got %d", runner.count())
	}
}

func TestTickFiresWhenOverdue(t *testing.T) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	runner := &fakeRunner{}
	l, _, _ := newTestLoop(t, enabledSchedule(domain.EveryHour, &last), runner)

	l.now = func() time.Time { return last.Add(time.Hour) }
	l.tick(context.Background())

	if runner.count() != 1 {
		t.Fatalf("expected 1 run, got %d", runner.count())
	}
}

func TestTickNoOpWhenDisabled(t *testing.T) {
	sched := enabledSchedule(domain.EveryHour, nil)
	sched.Enabled = false
	runner := &fakeRunner{}
	l, _, _ := newTestLoop(t, sched, runner)

	l.tick(context.Background())

	if runner.count() != 0 {
		t.Fatalf("expected no run while disabled, got %d", runner.count())
	}
}

func TestFailedRunStillAdvancesSchedule(t *testing.T) {
	runner := &fakeRunner{err: errors.New("engine exploded")}
	l, store, runs := newTestLoop(t, enabledSchedule(domain.EveryHour, nil), runner)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.tick(context.Background())

	if store.sched.LastExecution == nil || !store.sched.LastExecution.Equal(now) {
		t.Fatalf("failed run must still advance last execution, got %v", store.sched.LastExecution)
	}
	recs := runs.list()
	if len(recs) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(recs))
	}
	if recs[0].Status != domain.RunFailed {
		t.Fatalf("expected failed status, got %s", recs[0].Status)
	}
	if recs[0].Error != "engine exploded" {
		t.Fatalf("unexpected error message: %q", recs[0].Error)
	}
}

func TestTriggerNowRejectsConcurrentRun(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{})}
	l, _, _ := newTestLoop(t, enabledSchedule(domain.EveryHour, nil), runner)

	if err := l.TriggerNow(context.Background()); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	<-runner.started

	if err := l.TriggerNow(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(runner.block)
	deadline := time.After(3 * time.Second)
	for l.InFlight() {
		select {
		case <-deadline:
			t.Fatal("run never finished")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if runner.count() != 1 {
		t.Fatalf("expected exactly 1 run, got %d", runner.count())
	}
}

func TestTriggerNowWorksWhileDisabled(t *testing.T) {
	sched := enabledSchedule(domain.EveryHour, nil)
	sched.Enabled = false
	runner := &fakeRunner{}
	l, _, _ := newTestLoop(t, sched, runner)

	if err := l.TriggerNow(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	deadline := time.After(3 * time.Second)
	for l.InFlight() {
		select {
		case <-deadline:
			t.Fatal("run never finished")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if runner.count() != 1 {
		t.Fatalf("manual trigger must run even when schedule disabled, got %d runs", runner.count())
	}
}

func TestUpdateScheduleRecomputesNextFromLast(t *testing.T) {
	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	runner := &fakeRunner{}
	l, store, _ := newTestLoop(t, enabledSchedule(domain.EveryHour, &last), runner)

	got, err := l.UpdateSchedule(context.Background(), true, domain.Every6H, domain.ChannelTargets{NtfyTopic: "beacon-alerts"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	wantNext := last.Add(6 * time.Hour)
	if got.NextExecution == nil || !got.NextExecution.Equal(wantNext) {
		t.Fatalf("next execution = %v, want %v", got.NextExecution, wantNext)
	}
	if store.sched.Frequency != domain.Every6H {
		t.Fatalf("frequency not persisted: %s", store.sched.Frequency)
	}
	if store.sched.ChannelTargets.NtfyTopic != "beacon-alerts" {
		t.Fatalf("targets not persisted: %+v", store.sched.ChannelTargets)
	}
}

func TestScheduleSnapshot(t *testing.T) {
	runner := &fakeRunner{}
	l, _, _ := newTestLoop(t, enabledSchedule(domain.Every24H, nil), runner)

	snap, err := l.Schedule(context.Background())
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if snap.Frequency != domain.Every24H {
		t.Fatalf("unexpected frequency: %s", snap.Frequency)
	}

	// Mutating the snapshot must not leak into the loop's state.
	snap.Enabled = false
	again, _ := l.Schedule(context.Background())
	if !again.Enabled {
		t.Fatal("snapshot mutation leaked into loop state")
	}
}
