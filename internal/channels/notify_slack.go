package channels

import (
	"context"

	"github.com/slack-go/slack"
)

// SlackNotifier sends plain-text messages through a slack.Client bound to a
// bot token, the same client the rest of the ecosystem's Slack
// integrations build around.
type SlackNotifier struct {
	client *slack.Client
}

// NewSlackNotifier constructs a notifier from a bot token (xoxb-...).
func NewSlackNotifier(token string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token)}
}

// Send posts text to a Slack channel ID.
func (n *SlackNotifier) Send(ctx context.Context, target, text string) error {
	_, _, err := n.client.PostMessageContext(ctx, target, slack.MsgOptionText(text, false))
	return err
}
