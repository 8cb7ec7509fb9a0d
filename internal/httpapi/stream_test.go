package httpapi

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestHubPublishesToSubscribers(t *testing.T) {
	h := NewHub(slog.New(slog.DiscardHandler))

	s := &subscriber{events: make(chan RunEvent, subscriberBuffer), closeSlow: func() {}}
	h.addSubscriber(s)
	defer h.removeSubscriber(s)

	h.OnToolStart("scan_overdue", map[string]any{"cutoff": "5m"})
	h.OnToolEnd("No overdue suggestions.")
	h.OnToolError(errors.New("db locked"))

	want := []struct {
		typ  string
		kind string
	}{
		{"tool_start", "scan_overdue"},
		{"tool_end", "scan_overdue"},
		{"tool_error", "scan_overdue"},
	}
	for i, w := range want {
		select {
		case ev := <-s.events:
			if ev.Type != w.typ || ev.Kind != w.kind {
				t.Fatalf("event %d = %s/%s, want %s/%s", i, ev.Type, ev.Kind, w.typ, w.kind)
			}
			if ev.Timestamp.IsZero() {
				t.Fatalf("event %d has zero timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d never arrived", i)
		}
	}
}

func TestHubDisconnectsSlowSubscriber(t *testing.T) {
	h := NewHub(slog.New(slog.DiscardHandler))

	closed := make(chan struct{})
	s := &subscriber{
		events:    make(chan RunEvent), // Unbuffered: always full.
		closeSlow: func() { close(closed) },
	}
	h.addSubscriber(s)
	defer h.removeSubscriber(s)

	h.OnToolStart("queue_digest", nil)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not disconnected")
	}
}

func TestHubSubscriberCount(t *testing.T) {
	h := NewHub(slog.New(slog.DiscardHandler))
	if h.SubscriberCount() != 0 {
		t.Fatalf("count = %d", h.SubscriberCount())
	}
	s := &subscriber{events: make(chan RunEvent, 1), closeSlow: func() {}}
	h.addSubscriber(s)
	if h.SubscriberCount() != 1 {
		t.Fatalf("count = %d", h.SubscriberCount())
	}
	h.removeSubscriber(s)
	if h.SubscriberCount() != 0 {
		t.Fatalf("count = %d", h.SubscriberCount())
	}
}

func TestChannelTargetsRoundTrip(t *testing.T) {
	body := ChannelTargetsBody{
		WebhookURL:     "https://hooks.example.com/x",
		NtfyTopic:      "beacon",
		SlackChannelID: "C0123",
		EmailTo:        "ops@example.com",
	}
	got := channelTargetsBody(body.toDomain())
	if got != body {
		t.Fatalf("round trip mismatch: %+v != %+v", got, body)
	}
}
