package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nordvik/beacon/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSender is a configurable in-memory Sender.
type fakeSender struct {
	typ        string
	configured bool
	err        error
	block      bool // Block until ctx is canceled, then return ctx.Err().
	calls      int
}

func (f *fakeSender) Type() string                          { return f.typ }
func (f *fakeSender) Configured(domain.ChannelTargets) bool { return f.configured }
func (f *fakeSender) Send(ctx context.Context, _ domain.ChannelTargets, _ *Message) error {
	f.calls++
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func TestNotify_PartialFailureStillAnySuccess(t *testing.T) {
	d := NewDispatcher(time.Second, nil, testLogger())
	failing := &fakeSender{typ: "webhook", configured: true, err: errors.New("connection refused")}
	working := &fakeSender{typ: "ntfy", configured: true}
	d.RegisterSender(failing)
	d.RegisterSender(working)

	res := d.Notify(context.Background(), domain.ChannelTargets{}, &Message{Title: "t", Body: "b"})

	if res.Attempted != 2 {
		t.Fatalf("attempted = %d, want 2", res.Attempted)
	}
	if !res.AnySuccess() {
		t.Fatal("expected any-success with one working channel")
	}
	if res.AllFailed() {
		t.Fatal("AllFailed must be false when one channel succeeded")
	}
	if res.Errors["webhook"] == nil {
		t.Fatal("expected webhook error to be recorded")
	}
	if res.Errors["ntfy"] != nil {
		t.Fatalf("unexpected ntfy error: %v", res.Errors["ntfy"])
	}
}

func TestNotify_AllFailed(t *testing.T) {
	d := NewDispatcher(time.Second, nil, testLogger())
	d.RegisterSender(&fakeSender{typ: "webhook", configured: true, err: errors.New("boom")})
	d.RegisterSender(&fakeSender{typ: "slack", configured: true, err: errors.New("boom")})

	res := d.Notify(context.Background(), domain.ChannelTargets{}, &Message{Body: "b"})

	if res.AnySuccess() {
		t.Fatal("expected no success")
	}
	if !res.AllFailed() {
		t.Fatal("expected all-failed")
	}
}

func TestNotify_NoChannelsConfiguredIsSilentNoop(t *testing.T) {
	d := NewDispatcher(time.Second, nil, testLogger())
	s := &fakeSender{typ: "webhook", configured: false}
	d.RegisterSender(s)

	res := d.Notify(context.Background(), domain.ChannelTargets{}, &Message{Body: "b"})

	if res.Attempted != 0 {
		t.Fatalf("attempted = %d, want 0", res.Attempted)
	}
	if res.AllFailed() {
		t.Fatal("zero attempts must not count as all-failed")
	}
	if s.calls != 0 {
		t.Fatalf("unconfigured sender was invoked %d times", s.calls)
	}
}

func TestNotify_SlowChannelBoundedByTimeout(t *testing.T) {
	d := NewDispatcher(50*time.Millisecond, nil, testLogger())
	d.RegisterSender(&fakeSender{typ: "webhook", configured: true, block: true})
	d.RegisterSender(&fakeSender{typ: "ntfy", configured: true})

	start := time.Now()
	res := d.Notify(context.Background(), domain.ChannelTargets{}, &Message{Body: "b"})

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("fan-out took %s, per-channel timeout not enforced", elapsed)
	}
	if !res.AnySuccess() {
		t.Fatal("fast channel should have succeeded")
	}
	if res.Errors["webhook"] == nil {
		t.Fatal("blocked channel should have timed out with an error")
	}
}

func TestNotify_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	d := NewDispatcher(time.Second, m, testLogger())
	d.RegisterSender(&fakeSender{typ: "webhook", configured: true, err: errors.New("down")})
	d.RegisterSender(&fakeSender{typ: "ntfy", configured: true})

	d.Notify(context.Background(), domain.ChannelTargets{}, &Message{Body: "b"})

	if got := counterValue(t, reg, "beacon_notification_sends_failed_total", "webhook"); got != 1 {
		t.Fatalf("sends_failed_total{webhook} = %v, want 1", got)
	}
	if got := counterValue(t, reg, "beacon_notification_sends_succeeded_total", "ntfy"); got != 1 {
		t.Fatalf("sends_succeeded_total{ntfy} = %v, want 1", got)
	}
}

// counterValue reads a labelled counter from the registry.
func counterValue(t *testing.T, reg *prometheus.Registry, name, channel string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelValue(metric, "channel") == channel {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestWebhookSender_Success(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(testLogger())
	s.allowPrivate = true // httptest listens on loopback.

	err := s.Send(context.Background(), domain.ChannelTargets{WebhookURL: srv.URL}, &Message{Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
}

func TestWebhookSender_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(testLogger())
	s.allowPrivate = true

	err := s.Send(context.Background(), domain.ChannelTargets{WebhookURL: srv.URL}, &Message{Body: "b"})
	if err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestWebhookSender_RejectsLoopbackURL(t *testing.T) {
	s := NewWebhookSender(testLogger())
	err := s.Send(context.Background(), domain.ChannelTargets{WebhookURL: "http://127.0.0.1:9/hook"}, &Message{Body: "b"})
	if err == nil {
		t.Fatal("expected SSRF guard to reject loopback URL")
	}
}

func TestNtfySender_PublishesToTopic(t *testing.T) {
	var gotPath, gotTitle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewNtfySender(srv.URL, "", testLogger())
	err := s.Send(context.Background(), domain.ChannelTargets{NtfyTopic: "beacon-alerts"}, &Message{Title: "Reminder", Body: "b"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if gotPath != "/beacon-alerts" {
		t.Fatalf("path = %q, want /beacon-alerts", gotPath)
	}
	if gotTitle != "Reminder" {
		t.Fatalf("title header = %q", gotTitle)
	}
}

func TestSenders_ConfiguredChecks(t *testing.T) {
	targets := domain.ChannelTargets{WebhookURL: "https://example.com/hook", NtfyTopic: "x"}

	if !(&WebhookSender{}).Configured(targets) {
		t.Fatal("webhook should be configured")
	}
	if !(&NtfySender{}).Configured(targets) {
		t.Fatal("ntfy should be configured")
	}
	if (&SlackSender{}).Configured(targets) {
		t.Fatal("slack should not be configured")
	}
	if (&EmailSender{config: SMTPConfig{Host: "smtp.example.com"}}).Configured(targets) {
		t.Fatal("email should not be configured without a recipient")
	}
}
