package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
	readLimit      = 4096
)

// Client is one WebSocket session. A session opened with a user id follows
// that user's in-app reminders as well as broadcasts; userID zero marks a
// dashboard that only follows broadcasts.
type Client struct {
	hub    *Hub
	conn   *ws.Conn
	userID int64
	send   chan []byte
	logger *slog.Logger
}

// NewClient creates a session for conn on hub.
func NewClient(hub *Hub, conn *ws.Conn, userID int64) *Client {
	logger := hub.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
		logger: logger.With("scope", scope(userID)),
	}
}

// Scope is "user:<id>" for a user session and "broadcast" otherwise.
func (c *Client) Scope() string {
	return scope(c.userID)
}

func scope(userID int64) string {
	if userID == 0 {
		return "broadcast"
	}
	return "user:" + strconv.FormatInt(userID, 10)
}

// Run registers the session, tells the peer which scope it follows and
// pumps messages until either side goes away.
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(readLimit)

	c.hub.Register(c)
	c.greet()
	c.logger.Info("websocket session opened", "clients", c.hub.ClientCount())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		c.writePump(ctx)
		cancel()
	}()
	c.readPump(ctx)

	c.hub.Unregister(c)
	c.conn.Close(ws.StatusNormalClosure, "session closed")
	c.logger.Info("websocket session closed", "clients", c.hub.ClientCount())
}

// greet queues a session_opened message carrying the session's scope.
func (c *Client) greet() {
	data, err := json.Marshal(NewMessage("session", "opened", c.userID, map[string]any{"scope": c.Scope()}))
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump discards inbound frames. Sessions are push-only.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			switch ws.CloseStatus(err) {
			case ws.StatusNormalClosure, ws.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					c.logger.Debug("websocket read", "error", err)
				}
			}
			return
		}
	}
}

// writePump delivers queued messages and pings the peer. Each write gets
// writeTimeout so one stalled user cannot hold its session open.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(ctx, msg); err != nil {
				c.logger.Debug("websocket write", "error", err)
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, msg)
}
