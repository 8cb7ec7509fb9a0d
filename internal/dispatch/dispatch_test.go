package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nordvik/beacon/internal/domain"
	"github.com/nordvik/beacon/internal/notification"
)

type memSuggestionStore struct {
	mu          sync.Mutex
	suggestions map[uuid.UUID]*domain.Suggestion
	findErr     error
}

func newMemSuggestionStore() *memSuggestionStore {
	return &memSuggestionStore{suggestions: make(map[uuid.UUID]*domain.Suggestion)}
}

func (m *memSuggestionStore) add(s domain.Suggestion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.suggestions[s.ID] = &cp
}

func (m *memSuggestionStore) get(id uuid.UUID) domain.Suggestion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.suggestions[id]
}

func (m *memSuggestionStore) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var due []domain.Suggestion
	for _, s := range m.suggestions {
		if s.Status == domain.SuggestionPending && !s.ScheduledTime.After(now) {
			due = append(due, *s)
		}
	}
	for i := 0; i < len(due); i++ {
		for j := i + 1; j < len(due); j++ {
			if due[j].ScheduledTime.Before(due[i].ScheduledTime) {
				due[i], due[j] = due[j], due[i]
			}
		}
	}
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memSuggestionStore) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suggestions[id]
	if !ok {
		return errors.New("not found")
	}
	now := time.Now().UTC()
	s.Status = domain.SuggestionDelivered
	s.DeliveredAt = &now
	return nil
}

func (m *memSuggestionStore) Reschedule(ctx context.Context, id uuid.UUID, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suggestions[id]
	if !ok {
		return errors.New("not found")
	}
	s.ScheduledTime = next
	return nil
}

type stubSender struct {
	mu    sync.Mutex
	sends int
	err   error
}

func (s *stubSender) Type() string { return "stub" }

func (s *stubSender) Configured(targets domain.ChannelTargets) bool {
	return targets.NtfyTopic != ""
}

func (s *stubSender) Send(ctx context.Context, targets domain.ChannelTargets, msg *notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	return s.err
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

func newTestCycle(store *memSuggestionStore, sender *stubSender) *Cycle {
	logger := slog.New(slog.DiscardHandler)
	d := notification.NewDispatcher(time.Second, nil, logger)
	d.RegisterSender(sender)
	return New(store, d, nil, logger, Config{})
}

func pendingSuggestion(title string, at time.Time) domain.Suggestion {
	return domain.Suggestion{
		ID:              uuid.New(),
		Title:           title,
		Body:            "body",
		ScheduledTime:   at,
		Status:          domain.SuggestionPending,
		ChannelSnapshot: domain.ChannelTargets{NtfyTopic: "beacon"},
		CreatedAt:       time.Now().UTC(),
	}
}

func TestCycleDeliversDueSuggestion(t *testing.T) {
	store := newMemSuggestionStore()
	sender := &stubSender{}
	c := newTestCycle(store, sender)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	s := pendingSuggestion("standup", now.Add(-time.Minute))
	store.add(s)

	c.runCycle(context.Background())

	if sender.count() != 1 {
		t.Fatalf("expected 1 send, got %d", sender.count())
	}
	got := store.get(s.ID)
	if got.Status != domain.SuggestionDelivered {
		t.Fatalf("expected delivered, got %s", got.Status)
	}
	if got.DeliveredAt == nil {
		t.Fatal("delivered_at not set")
	}
}

func TestCycleSkipsFutureSuggestions(t *testing.T) {
	store := newMemSuggestionStore()
	sender := &stubSender{}
	c := newTestCycle(store, sender)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	s := pendingSuggestion("later", now.Add(time.Hour))
	store.add(s)

	c.runCycle(context.Background())

	if sender.count() != 0 {
		t.Fatalf("expected no sends, got %d", sender.count())
	}
	if got := store.get(s.ID); got.Status != domain.SuggestionPending {
		t.Fatalf("future suggestion must stay pending, got %s", got.Status)
	}
}

func TestCycleRetriesOnTotalFailure(t *testing.T) {
	store := newMemSuggestionStore()
	sender := &stubSender{err: errors.New("ntfy down")}
	c := newTestCycle(store, sender)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	s := pendingSuggestion("standup", now.Add(-time.Minute))
	store.add(s)

	c.runCycle(context.Background())
	if got := store.get(s.ID); got.Status != domain.SuggestionPending {
		t.Fatalf("failed delivery must stay pending, got %s", got.Status)
	}

	// Channel recovers; next cycle delivers.
	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	c.runCycle(context.Background())
	if got := store.get(s.ID); got.Status != domain.SuggestionDelivered {
		t.Fatalf("expected delivered after retry, got %s", got.Status)
	}
	if sender.count() != 2 {
		t.Fatalf("expected 2 sends, got %d", sender.count())
	}
}

func TestCycleMarksChannelLessSuggestionDelivered(t *testing.T) {
	store := newMemSuggestionStore()
	sender := &stubSender{}
	c := newTestCycle(store, sender)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	s := pendingSuggestion("orphan", now.Add(-time.Minute))
	s.ChannelSnapshot = domain.ChannelTargets{}
	store.add(s)

	c.runCycle(context.Background())

	if sender.count() != 0 {
		t.Fatalf("expected no sends, got %d", sender.count())
	}
	if got := store.get(s.ID); got.Status != domain.SuggestionDelivered {
		t.Fatalf("channel-less suggestion must be drained, got %s", got.Status)
	}
}

func TestCycleReschedulesRecurringSuggestion(t *testing.T) {
	store := newMemSuggestionStore()
	sender := &stubSender{}
	c := newTestCycle(store, sender)

	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	s := pendingSuggestion("daily digest", now.Add(-time.Minute))
	s.Recurrence = "0 9 * * *"
	store.add(s)

	c.runCycle(context.Background())

	got := store.get(s.ID)
	if got.Status != domain.SuggestionPending {
		t.Fatalf("recurring suggestion must stay pending, got %s", got.Status)
	}
	wantNext := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	if !got.ScheduledTime.Equal(wantNext) {
		t.Fatalf("next occurrence = %v, want %v", got.ScheduledTime, wantNext)
	}
	if sender.count() != 1 {
		t.Fatalf("expected 1 send, got %d", sender.count())
	}
}

func TestCycleRespectsMaxPerCycle(t *testing.T) {
	store := newMemSuggestionStore()
	sender := &stubSender{}
	logger := slog.New(slog.DiscardHandler)
	d := notification.NewDispatcher(time.Second, nil, logger)
	d.RegisterSender(sender)
	c := New(store, d, nil, logger, Config{MaxPerCycle: 2})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		store.add(pendingSuggestion("s", now.Add(-time.Duration(i+1)*time.Minute)))
	}

	c.runCycle(context.Background())

	if sender.count() != 2 {
		t.Fatalf("expected 2 sends with MaxPerCycle=2, got %d", sender.count())
	}
}

func TestNextOccurrence(t *testing.T) {
	after := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	next, err := NextOccurrence("*/15 * * * *", after)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	if _, err := NextOccurrence("not a cron", after); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}
