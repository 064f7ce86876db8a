package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rashmirrout/pilotdesk/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	sendBufferSize = 256
)

// Client is one WebSocket connection. Writes are funneled through a
// single pump; a slow client drops frames rather than stalling the bus.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan any
	done   chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     uuid.NewString()[:8],
		conn:   conn,
		server: server,
		send:   make(chan any, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// SendEvent queues an event frame; drops when the client is saturated.
func (c *Client) SendEvent(ev protocol.EventFrame) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		slog.Warn("gateway: client send queue full, dropping event", "client", c.id, "event", ev.Event)
	}
}

// Close tears the connection down.
func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.conn.Close()
}

// Run services the connection until it closes or the context ends.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readLoop(ctx)
}

func (c *Client) readLoop(ctx context.Context) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req protocol.RequestFrame
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("gateway: read failed", "client", c.id, "error", err)
			}
			return
		}

		if !c.server.rateLimiter.Allow(c.id) {
			c.respond(protocol.NewErrorResponse(req.ID, "rate limit exceeded"))
			continue
		}

		payload, err := c.server.dispatcher.Dispatch(ctx, req.Method, req.Params)
		if err != nil {
			c.respond(protocol.NewErrorResponse(req.ID, err.Error()))
			continue
		}
		c.respond(protocol.NewResponse(req.ID, payload))
	}
}

func (c *Client) respond(frame *protocol.ResponseFrame) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		slog.Warn("gateway: client send queue full, dropping response", "client", c.id)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Debug("gateway: write failed", "client", c.id, "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
