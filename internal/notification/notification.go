// Package notification implements the notification fan-out for Beacon.
// One logical message is delivered to every configured channel independently:
// each sender runs concurrently under its own timeout, and one channel's
// failure never blocks or fails another. Callers use the aggregate
// any-success outcome as their completion signal.
package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nordvik/beacon/internal/domain"
)

const defaultChannelTimeout = 15 * time.Second

// Sender is the interface for a single notification channel backend.
type Sender interface {
	// Type returns the channel type identifier ("webhook", "ntfy", "slack", "email").
	Type() string
	// Configured reports whether the target set carries an endpoint for this channel.
	Configured(targets domain.ChannelTargets) bool
	// Send delivers a message to this channel's endpoint in targets.
	// Transport failures are returned as errors, never panics.
	Send(ctx context.Context, targets domain.ChannelTargets, msg *Message) error
}

// Message is the payload to be sent through a notification channel.
type Message struct {
	Title    string            // Rendered as subject/title where the channel supports one.
	Body     string            // Plain text body.
	Metadata map[string]string // Extra data (kind, correlation_id, etc.).
}

// Result aggregates per-channel outcomes of one fan-out.
type Result struct {
	Attempted int
	Errors    map[string]error // Channel type -> nil on success.
}

// AnySuccess reports whether at least one channel delivered the message.
func (r Result) AnySuccess() bool {
	for _, err := range r.Errors {
		if err == nil {
			return true
		}
	}
	return false
}

// AllFailed reports whether every attempted channel failed.
// False when nothing was attempted: zero configured channels is a valid no-op.
func (r Result) AllFailed() bool {
	return r.Attempted > 0 && !r.AnySuccess()
}

// Dispatcher fans a message out to the static, closed list of channel senders.
// Thread-safe; senders are registered once at startup.
type Dispatcher struct {
	senders []Sender
	timeout time.Duration
	metrics *Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a notification dispatcher.
// A nil metrics disables instrumentation.
func NewDispatcher(timeout time.Duration, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultChannelTimeout
	}
	return &Dispatcher{
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

// RegisterSender adds a channel backend. Not thread-safe — call at startup only.
func (d *Dispatcher) RegisterSender(s Sender) {
	d.senders = append(d.senders, s)
}

// Notify delivers msg to every channel configured in targets. Channels are
// attempted concurrently, each bounded by the per-channel timeout; there is
// no aggregate deadline beyond that. Zero configured channels returns a
// Result with Attempted == 0 and is not an error — notifications are opt-in.
func (d *Dispatcher) Notify(ctx context.Context, targets domain.ChannelTargets, msg *Message) Result {
	result := Result{Errors: make(map[string]error, len(d.senders))}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, s := range d.senders {
		if !s.Configured(targets) {
			continue
		}
		result.Attempted++

		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			if d.metrics != nil {
				d.metrics.SendsAttempted.WithLabelValues(s.Type()).Inc()
			}

			err := s.Send(sendCtx, targets, msg)

			mu.Lock()
			result.Errors[s.Type()] = err
			mu.Unlock()

			if err != nil {
				if d.metrics != nil {
					d.metrics.SendsFailed.WithLabelValues(s.Type()).Inc()
				}
				d.logger.WarnContext(ctx, "notification send failed",
					slog.String("channel", s.Type()),
					slog.String("error", err.Error()),
				)
				return
			}

			if d.metrics != nil {
				d.metrics.SendsSucceeded.WithLabelValues(s.Type()).Inc()
			}
			d.logger.InfoContext(ctx, "notification sent",
				slog.String("channel", s.Type()),
				slog.String("title", msg.Title),
			)
		}(s)
	}

	wg.Wait()
	return result
}
