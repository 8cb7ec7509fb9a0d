package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/nordvik/beacon/internal/domain"
)

// slackAPI is the subset of the Slack client used by SlackSender.
// Narrowed to an interface so tests can stub the Web API.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackSender sends notifications via the Slack Web API.
type SlackSender struct {
	client slackAPI
	logger *slog.Logger
}

// NewSlackSender creates a Slack notification sender from a bot token.
func NewSlackSender(botToken string, logger *slog.Logger) *SlackSender {
	return &SlackSender{
		client: slack.New(botToken),
		logger: logger,
	}
}

func (s *SlackSender) Type() string { return "slack" }

func (s *SlackSender) Configured(targets domain.ChannelTargets) bool {
	return targets.SlackChannelID != ""
}

func (s *SlackSender) Send(ctx context.Context, targets domain.ChannelTargets, msg *Message) error {
	text := msg.Body
	if msg.Title != "" {
		text = fmt.Sprintf("*%s*\n%s", msg.Title, text)
	}

	_, _, err := s.client.PostMessageContext(ctx, targets.SlackChannelID,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("slack post message: %w", err)
	}
	return nil
}
