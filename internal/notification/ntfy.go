package notification

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nordvik/beacon/internal/domain"
)

// DefaultNtfyServer is the public ntfy.sh instance.
const DefaultNtfyServer = "https://ntfy.sh"

// NtfySender publishes notifications to a topic on an ntfy server.
// Anyone subscribed to the topic receives a push; the topic name is the
// only credential, so treat it as a secret.
type NtfySender struct {
	server     string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNtfySender creates a topic-push notification sender.
// An empty server defaults to ntfy.sh; authToken is optional and only
// needed for servers with access control.
func NewNtfySender(server, authToken string, logger *slog.Logger) *NtfySender {
	if server == "" {
		server = DefaultNtfyServer
	}
	return &NtfySender{
		server:    strings.TrimRight(server, "/"),
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (s *NtfySender) Type() string { return "ntfy" }

func (s *NtfySender) Configured(targets domain.ChannelTargets) bool {
	return targets.NtfyTopic != ""
}

func (s *NtfySender) Send(ctx context.Context, targets domain.ChannelTargets, msg *Message) error {
	topic := targets.NtfyTopic
	publishURL := fmt.Sprintf("%s/%s", s.server, topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, publishURL, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.Title != "" {
		req.Header.Set("Title", msg.Title)
	}
	if tag := msg.Metadata["kind"]; tag != "" {
		req.Header.Set("Tags", tag)
	}
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
