// Package slack posts operational notices to a Slack channel. The
// pipeline runs from a scheduler with nobody watching, so a refused
// Salesforce request (typically an expired password) is reported where
// the operators are.
package slack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/okwatch/donorwall/config"

	slackapi "github.com/slack-go/slack"
)

// Notifier posts failure notices to one channel. A Notifier built
// without a token is a disabled no-op.
type Notifier struct {
	client  *slackapi.Client
	channel string
	log     *slog.Logger
}

// New builds a Notifier from the Slack configuration. Extra options are
// passed to the underlying client; tests use this to point it at a
// local server.
func New(cfg config.SlackConfig, logger *slog.Logger, opts ...slackapi.Option) *Notifier {
	n := &Notifier{channel: cfg.Channel, log: logger}
	if cfg.Enabled() {
		n.client = slackapi.New(cfg.Token, opts...)
	}
	return n
}

// Enabled reports whether notices will actually be sent.
func (n *Notifier) Enabled() bool {
	return n.client != nil
}

// NotifyRefusedRequest reports a Salesforce-refused request to the
// channel. A notification failure is logged and swallowed: the pipeline
// error it accompanies must stay the error the run fails with.
func (n *Notifier) NotifyRefusedRequest(ctx context.Context, message string) {
	if !n.Enabled() {
		n.log.Debug("slack disabled, not notifying", "message", message)
		return
	}
	text := fmt.Sprintf("ERROR: %s. @channel", message)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slackapi.MsgOptionText(text, false))
	if err != nil {
		n.log.Error("could not post to slack", "channel", n.channel, "error", err)
		return
	}
	n.log.Info("posted failure notice to slack", "channel", n.channel)
}
