// Package notify delivers operator alerts. Slack is the only sink; a
// nil *Slack is a no-op so alerting stays optional.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Slack posts alerts to a single channel.
type Slack struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlack creates a Slack notifier for the given bot token and channel.
func NewSlack(botToken, channel string, logger *zap.Logger) *Slack {
	return &Slack{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

// EscalationAlert notifies operators that a task could not be placed.
func (s *Slack) EscalationAlert(ctx context.Context, taskID, taskType, reason string) {
	if s == nil {
		return
	}
	s.post(ctx, fmt.Sprintf(":rotating_light: task `%s` (%s) escalated: %s", taskID, taskType, reason))
}

// HealthAlert notifies operators of a component health transition.
func (s *Slack) HealthAlert(ctx context.Context, componentID, status string) {
	if s == nil {
		return
	}
	s.post(ctx, fmt.Sprintf(":warning: component `%s` is now %s", componentID, status))
}

func (s *Slack) post(ctx context.Context, text string) {
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false))
	if err != nil {
		s.logger.Warn("slack alert failed", zap.Error(err))
	}
}
