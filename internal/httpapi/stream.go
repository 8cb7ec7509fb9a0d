package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// RunEvent is one tool-call lifecycle event pushed to stream subscribers.
type RunEvent struct {
	Type      string         `json:"type"` // "tool_start", "tool_end", "tool_error".
	Kind      string         `json:"kind,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Output    string         `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const subscriberBuffer = 16

// Hub fans run events out to WebSocket subscribers. It implements the
// tracker listener hooks, so attaching it as the scheduler's observer
// mirrors every tool call of every run onto the stream. Slow subscribers
// are disconnected rather than allowed to block the run.
type Hub struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}

	// Kind of the most recent started call, for labeling end/error events.
	lastKind string
}

type subscriber struct {
	events    chan RunEvent
	closeSlow func()
}

// NewHub creates a Hub with no subscribers.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// OnToolStart publishes a tool_start event.
func (h *Hub) OnToolStart(kind string, input map[string]any) {
	h.mu.Lock()
	h.lastKind = kind
	h.mu.Unlock()
	h.publish(RunEvent{
		Type:      "tool_start",
		Kind:      kind,
		Input:     input,
		Timestamp: time.Now().UTC(),
	})
}

// OnToolEnd publishes a tool_end event.
func (h *Hub) OnToolEnd(output string) {
	h.publish(RunEvent{
		Type:      "tool_end",
		Kind:      h.currentKind(),
		Output:    output,
		Timestamp: time.Now().UTC(),
	})
}

// OnToolError publishes a tool_error event.
func (h *Hub) OnToolError(err error) {
	h.publish(RunEvent{
		Type:      "tool_error",
		Kind:      h.currentKind(),
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

func (h *Hub) currentKind() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastKind
}

// publish delivers the event to every subscriber without blocking. A
// subscriber whose buffer is full is disconnected.
func (h *Hub) publish(ev RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subscribers {
		select {
		case s.events <- ev:
		default:
			go s.closeSlow()
		}
	}
}

func (h *Hub) addSubscriber(s *subscriber) {
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) removeSubscriber(s *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, s)
	h.mu.Unlock()
}

// SubscriberCount returns the number of connected stream clients.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// handleRunStream upgrades the connection and forwards run events until the
// client disconnects. Authentication mirrors the REST endpoints but also
// accepts the key as a query parameter, since browser WebSocket clients
// cannot set headers.
func (g *Gateway) handleRunStream(w http.ResponseWriter, r *http.Request) {
	if len(g.config.APIKeys) > 0 {
		key := r.URL.Query().Get("key")
		if key == "" {
			auth := r.Header.Get("Authorization")
			key = strings.TrimPrefix(auth, "Bearer ")
		}
		matched := false
		for _, k := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
				matched = true
			}
		}
		if !matched {
			g.countAuthFailure()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	g.logger.Info("run stream client connected", slog.String("remote", r.RemoteAddr))
	err = g.hub.stream(r.Context(), conn)
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure || err == nil {
		g.logger.Info("run stream client disconnected", slog.String("remote", r.RemoteAddr))
		return
	}
	g.logger.Debug("run stream closed",
		slog.String("remote", r.RemoteAddr),
		slog.String("error", err.Error()),
	)
}

// stream pumps events to one connection until ctx ends or the write fails.
func (h *Hub) stream(ctx context.Context, conn *websocket.Conn) error {
	ctx = conn.CloseRead(ctx)

	s := &subscriber{
		events: make(chan RunEvent, subscriberBuffer),
		closeSlow: func() {
			conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
		},
	}
	h.addSubscriber(s)
	defer h.removeSubscriber(s)
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
