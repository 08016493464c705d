// Package slack delivers notifications to a Slack channel through the
// chat.postMessage Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
)

const (
	maxAttempts    = 4
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// Notifier implements the notifier plugin contract for Slack.
type Notifier struct {
	client  *slack.Client
	channel string
	token   string
	logger  *logger.Logger
}

// New builds the Slack notifier from config. Extra options are applied
// to the underlying client; tests use them to point at a fake API.
func New(cfg config.SlackConfig, log *logger.Logger, opts ...slack.Option) *Notifier {
	return &Notifier{
		client:  slack.New(cfg.Token, opts...),
		channel: cfg.Channel,
		token:   cfg.Token,
		logger:  log.WithComponent("notify-slack"),
	}
}

func (n *Notifier) Name() string { return "slack" }

// Notify posts the notification text. Rate limits carry the server's
// Retry-After, which is honored; the exponential backoff is the floor
// between attempts.
func (n *Notifier) Notify(ctx context.Context, notif plugin.Notification) error {
	if n.token == "" {
		return oerr.E(oerr.KindConfig, "slack notifier has no token configured")
	}
	if n.channel == "" {
		return oerr.E(oerr.KindConfig, "slack notifier has no channel configured")
	}
	text := formatText(notif)

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
		if err == nil {
			return nil
		}
		retryAfter, transient := classify(err)
		if !transient {
			return oerr.Wrap(oerr.KindPlugin, err, "post slack message")
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		wait := backoff
		if retryAfter > wait {
			wait = retryAfter
		}
		if wait > maxBackoff {
			wait = maxBackoff
		}
		n.logger.Debug("slack delivery failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return oerr.Wrap(oerr.KindTransient, lastErr, "slack delivery failed after %d attempts", maxAttempts)
}

// classify splits delivery failures: rate limits retry after the
// server's hint, 5xx and transport errors retry on the backoff, API
// rejections (bad channel, bad token) are permanent.
func classify(err error) (time.Duration, bool) {
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	var sce slack.StatusCodeError
	if errors.As(err, &sce) {
		return 0, sce.Code >= 500
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return 0, true
	}
	return 0, false
}

func formatText(n plugin.Notification) string {
	prefix := priorityEmoji(n.Priority)
	return fmt.Sprintf("%s *%s* `%s` (%s): %s", prefix, n.Priority, n.SessionID, n.ProjectID, n.Message)
}

func priorityEmoji(priority string) string {
	switch priority {
	case "urgent":
		return ":rotating_light:"
	case "action":
		return ":warning:"
	case "warning":
		return ":small_orange_diamond:"
	default:
		return ":information_source:"
	}
}
