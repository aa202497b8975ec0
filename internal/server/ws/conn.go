// Package ws is the WebSocket transport for the event bus. Each connection
// subscribes to one named channel and implements bus.Subscriber, so routing
// and eviction policy live in the bus, not here.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/traderops/backoffice/internal/bus"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// Conn is a single WebSocket connection registered on the bus.
type Conn struct {
	id   string
	sock *websocket.Conn
	send chan []byte
	done chan struct{}
}

// ID returns the connection's bus subscriber id.
func (c *Conn) ID() string { return c.id }

// Send enqueues one frame for the write pump. It returns an error when the
// client's buffer stays full past the context deadline or the connection is
// already closed, which signals the bus to evict this subscriber.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return errors.New("ws: connection closed")
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- data:
		return nil
	}
}

// Handler upgrades HTTP requests into bus-backed WebSocket connections.
type Handler struct {
	events *bus.Bus
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(events *bus.Bus, logger *slog.Logger) *Handler {
	return &Handler{
		events: events,
		logger: logger.With(slog.String("component", "ws")),
	}
}

// ServeChannel upgrades the request and attaches the connection to the
// channel named in the path. A bare /ws request joins the "all" channel.
// GET /ws and GET /ws/{channel}
func (h *Handler) ServeChannel(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	if channel == "" {
		channel = bus.ChannelAll
	}
	if !bus.ValidChannel(channel) {
		http.Error(w, `{"error":"unknown channel"}`, http.StatusNotFound)
		return
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &Conn{
		id:   uuid.NewString(),
		sock: sock,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	if err := h.events.Subscribe(c, channel); err != nil {
		sock.Close()
		return
	}

	h.logger.Info("client connected",
		slog.String("conn_id", c.id),
		slog.String("channel", channel),
	)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump reads client frames and routes them through the bus's inbound
// protocol, queueing each reply on the connection's send channel.
func (h *Handler) readPump(c *Conn) {
	defer func() {
		h.events.Evict(c.id)
		close(c.done)
		c.sock.Close()
		h.logger.Info("client disconnected", slog.String("conn_id", c.id))
	}()

	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("unexpected close",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		if reply := h.events.HandleInbound(c, message); reply != nil {
			select {
			case c.send <- reply:
			default:
				// Reply dropped; the client's buffer is full of event
				// traffic and keepalive matters more than the ack.
			}
		}
	}
}

// writePump pumps queued frames to the socket and keeps the connection alive
// with periodic pings.
func (h *Handler) writePump(c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case <-c.done:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
