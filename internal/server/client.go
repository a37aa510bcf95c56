package server

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/havenapp/haven-server/internal/session"
)

const (
	pongWait      = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeDeadline = 10 * time.Second
)

// Client owns one WebSocket connection: its read/write pumps, rate limiter,
// and live gate. It implements session.Transport; the hub only ever sees it
// through that interface.
type Client struct {
	id   uuid.UUID
	conn *websocket.Conn
	addr string

	send chan []byte
	done chan struct{}

	live   atomic.Bool
	closed atomic.Bool

	teardown sync.Once

	limiter        *msgLimiter
	maxMessageSize int64
}

func newClient(conn *websocket.Conn, addr string, cfg Config) *Client {
	conn.SetReadLimit(cfg.MaxMessageSize)
	return &Client{
		id:             uuid.New(),
		conn:           conn,
		addr:           addr,
		send:           make(chan []byte, cfg.SendBufferMessages),
		done:           make(chan struct{}),
		limiter:        newMsgLimiter(cfg.RateLimitBurst, cfg.RateLimitInterval),
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// ID implements hub.Conn.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// Send implements hub.Conn. It never blocks: a connection that is not yet
// activated, already closed, or has a full outbound buffer reports failure
// and the caller's fan-out moves on.
func (c *Client) Send(payload []byte) bool {
	if !c.live.Load() || c.closed.Load() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Activate implements session.Transport: from here on the connection is
// visible to broadcasts.
func (c *Client) Activate() {
	c.live.Store(true)
}

// Done is closed when the connection has been torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// run drives both pumps and blocks until the connection is gone. The session
// handler's Close runs exactly once, regardless of which path ends the
// connection.
func (c *Client) run(ctx context.Context, handler session.Handler) {
	go c.writePump()
	c.readPump(ctx, handler)
	c.shutdown(handler)
}

// shutdown is the single teardown path: also invoked by the gateway when the
// process is stopping.
func (c *Client) shutdown(handler session.Handler) {
	c.teardown.Do(func() {
		c.closed.Store(true)
		c.live.Store(false)
		if handler != nil {
			handler.Close()
		}
		close(c.done)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Closing connection %s from %s: %v", c.id, c.addr, err)
		}
	})
}

func (c *Client) readPump(ctx context.Context, handler session.Handler) {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Setting read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadEnd(err)
			return
		}

		if !c.limiter.allow() {
			log.Printf("Rate limit exceeded for connection %s from %s; discarding message", c.id, c.addr)
			continue
		}

		handler.HandleMessage(ctx, raw)
	}
}

func (c *Client) logReadEnd(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Connection %s exceeded maximum message size of %d bytes", c.id, c.maxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure),
		errors.Is(err, io.EOF),
		isExpectedCloseError(err):
		log.Printf("Connection %s from %s disconnected: %v", c.id, c.addr, err)
	default:
		log.Printf("Read error on connection %s from %s: %v", c.id, c.addr, err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			if !c.write(websocket.TextMessage, payload) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			c.write(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) write(messageType int, payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		log.Printf("Setting write deadline for %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(messageType, payload); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Write error on connection %s from %s: %v", c.id, c.addr, err)
		}
		return false
	}
	return true
}

// isExpectedCloseError reports errors that are routine during connection
// teardown.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
