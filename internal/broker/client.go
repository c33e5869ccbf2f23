// Package broker is the development/integration chat broker: it speaks
// the same STOMP subset as the client transport over /ws/chat, fans
// live-location JSON out over /ws/live-location, and serves the REST
// history/read/rooms endpoints the client core consumes.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssafy13th-common/glml-chat/internal/logger"
	"github.com/ssafy13th-common/glml-chat/internal/stomp"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	maxFrameLen = 65536
	sendBufSize = 256
)

// Client is a single chat WebSocket connection on the broker side.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] ->
// Close -> Wait.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte // raw encoded frames

	// done guards non-blocking sends toward a closing client.
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufSize),
		done: make(chan struct{}),
	}
}

// Start launches both pumps with controlled lifecycle. ctx bounds pump
// lifetime; cancel is stored for Close().
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pumps have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any
// goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Unblocks both pumps: ReadMessage/WriteMessage will error.
		c.conn.Close()
	})
}

// readPump decodes inbound frames and hands them to the hub.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameLen)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("broker: set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("broker: read error: %v", err)
			}
			return
		}

		c.hub.metrics.FramesIn.Inc()
		req := stomp.DecodeRequest(string(raw))
		c.hub.HandleFrame(ctx, c, req)
	}
}

// writePump writes queued frames and keeps the connection alive with
// pings.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Debugf("broker: close message: %v", err)
			}
			return
		case raw := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("broker: set write deadline: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
			c.hub.metrics.FramesOut.Inc()
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("broker: set write deadline: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
