package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/oerr"
)

// NATSBus implements Bus over a NATS connection, for deployments where
// dashboards or other processes consume orchestrator events remotely.
type NATSBus struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// NewNATSBus connects to NATS with reconnection handling.
func NewNATSBus(url string, maxReconnects int, log *logger.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name("agent-orchestrator"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			} else {
				log.Info("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil {
				log.Error("NATS connection closed", zap.Error(err))
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err), zap.String("subject", sub.Subject))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, oerr.Wrap(oerr.KindTransient, err, "connecting to NATS at %s", url)
	}
	log.Info("connected to NATS", zap.String("url", url))
	return &NATSBus{conn: conn, logger: log}, nil
}

// Publish sends the event as JSON on its subject.
func (b *NATSBus) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return oerr.Wrap(oerr.KindMetadata, err, "encoding event")
	}
	if err := b.conn.Publish(Subject(e), data); err != nil {
		return oerr.Wrap(oerr.KindTransient, err, "publishing event %s", e.ID)
	}
	return nil
}

// Subscribe registers a handler for a subject pattern.
func (b *NATSBus) Subscribe(pattern string, h Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(pattern, func(msg *nats.Msg) {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			b.logger.Error("failed to decode event",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		if err := h(context.Background(), e); err != nil {
			b.logger.Error("event handler error",
				zap.String("subject", msg.Subject),
				zap.String("event_id", e.ID),
				zap.Error(err))
		}
	})
	if err != nil {
		return nil, oerr.Wrap(oerr.KindTransient, err, "subscribing to %s", pattern)
	}
	return &natsSubscription{sub: sub}, nil
}

// Close drains the connection so in-flight messages are handled first.
func (b *NATSBus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("error draining NATS connection", zap.Error(err))
		b.conn.Close()
	}
}

func (b *NATSBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) IsValid() bool {
	return s.sub.IsValid()
}
