package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// catchUpEvents is how many recent events a new stream client gets
	// before live delivery begins.
	catchUpEvents = 25
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// hub fans bus events out to stream clients. A slow client drops
// messages rather than stalling the bus handler.
type hub struct {
	bus events.Bus
	rec *events.Recorder
	log *logger.Logger

	mu      sync.RWMutex
	clients map[*streamClient]bool
	sub     events.Subscription
	started bool
}

type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	log  *logger.Logger
}

func newHub(bus events.Bus, rec *events.Recorder, log *logger.Logger) *hub {
	return &hub{
		bus:     bus,
		rec:     rec,
		log:     log.WithComponent("gateway.stream"),
		clients: make(map[*streamClient]bool),
	}
}

// start subscribes the hub to every orchestrator event.
func (h *hub) start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.bus == nil {
		h.started = true
		return
	}
	sub, err := h.bus.Subscribe(events.SubjectAll, func(_ context.Context, e events.Event) error {
		h.broadcast(e)
		return nil
	})
	if err != nil {
		h.log.WithError(err).Warn("event subscription failed; stream is catch-up only")
	} else {
		h.sub = sub
	}
	h.started = true
	_ = ctx
}

func (h *hub) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sub != nil {
		_ = h.sub.Unsubscribe()
		h.sub = nil
	}
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) broadcast(e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.WithError(err).Warn("event marshal failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Buffer full; the write pump will notice the stall.
		}
	}
}

// serve upgrades one request to a stream connection, replays the tail of
// the event log, and starts the pumps.
func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &streamClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 256),
	}
	c.log = h.log.WithFields(zap.String("client_id", c.id))

	if h.rec != nil {
		if tail, err := h.rec.Tail(catchUpEvents); err == nil {
			for _, e := range tail {
				if data, err := json.Marshal(e); err == nil {
					c.send <- data
				}
			}
		}
	}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	c.log.Debug("stream client connected")

	go c.writePump()
	go c.readPump(h)
}

func (h *hub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	c.log.Debug("stream client disconnected")
}

// readPump discards client input; it exists to detect disconnects and
// answer pings.
func (c *streamClient) readPump(h *hub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("stream read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
