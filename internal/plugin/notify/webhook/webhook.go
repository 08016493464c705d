// Package webhook delivers notifications as JSON POSTs to a configured
// endpoint. Delivery is rate limited and retried: humans page on these.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

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

// Notifier implements the notifier plugin contract over a plain webhook.
type Notifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logger.Logger
}

// New builds the webhook notifier from config.
func New(cfg config.WebhookConfig, log *logger.Logger) *Notifier {
	return &Notifier{
		url:     cfg.URL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  log.WithComponent("notify-webhook"),
	}
}

func (n *Notifier) Name() string { return "webhook" }

// payload mirrors the event log's JSON field names.
type payload struct {
	Type      string    `json:"type"`
	Priority  string    `json:"priority"`
	SessionID string    `json:"sessionId"`
	ProjectID string    `json:"projectId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notify posts the notification. Rate-limit and server responses are
// retried with exponential backoff; other client errors are permanent.
func (n *Notifier) Notify(ctx context.Context, notif plugin.Notification) error {
	if n.url == "" {
		return oerr.E(oerr.KindConfig, "webhook notifier has no url configured")
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload{
		Type:      notif.Type,
		Priority:  notif.Priority,
		SessionID: notif.SessionID,
		ProjectID: notif.ProjectID,
		Message:   notif.Message,
		Timestamp: notif.Timestamp,
	})
	if err != nil {
		return oerr.Wrap(oerr.KindPlugin, err, "encode notification")
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryAfter, err := n.post(ctx, body)
		if err == nil {
			return nil
		}
		if !oerr.IsKind(err, oerr.KindTransient) {
			return err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		wait := backoff
		if retryAfter > wait {
			wait = retryAfter
		}
		n.logger.Debug("webhook delivery failed, retrying",
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
	return oerr.Wrap(oerr.KindTransient, lastErr, "webhook delivery failed after %d attempts", maxAttempts)
}

// post sends one request. Returns the server's Retry-After hint when the
// response carried one.
func (n *Notifier) post(ctx context.Context, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return 0, oerr.Wrap(oerr.KindPlugin, err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are worth retrying.
		return 0, oerr.Wrap(oerr.KindTransient, err, "post webhook")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return classifyResponse(resp.StatusCode, resp.Header.Get("Retry-After"))
}

func classifyResponse(status int, retryAfterHeader string) (time.Duration, error) {
	switch {
	case status >= 200 && status < 300:
		return 0, nil
	case status == http.StatusTooManyRequests || status >= 500:
		return parseRetryAfter(retryAfterHeader),
			oerr.E(oerr.KindTransient, "webhook returned %d", status)
	default:
		return 0, oerr.E(oerr.KindPlugin, "webhook returned %d", status)
	}
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs < 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
