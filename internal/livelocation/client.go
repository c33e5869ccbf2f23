// Package livelocation streams live group-location updates. It is the
// sibling of the chat transport: the same dial/backoff/reconnect contract,
// but raw JSON per WebSocket text message instead of framed text, and the
// access token travels as a query parameter rather than a handshake
// header.
package livelocation

import (
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssafy13th-common/glml-chat/internal/logger"
	"github.com/ssafy13th-common/glml-chat/internal/model"
	"github.com/ssafy13th-common/glml-chat/internal/transport"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	maxFrameSize = 4096
	updateBuf    = 64
)

// Options configures a live-location client.
type Options struct {
	// URL is the endpoint without the token, e.g.
	// wss://host/ws/live-location. AccessToken is appended as the
	// accessToken query parameter on every dial, reconnects included.
	URL         string
	AccessToken string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxRetries caps consecutive failures; 0 retries forever.
	MaxRetries int

	Dialer *websocket.Dialer

	// OnConnected fires on every successful dial. There is no handshake
	// frame here; an open socket is a connected stream.
	OnConnected func()
	OnFailure   func(error)
}

// Client is one live-location connection.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	mu       sync.Mutex
	ws       *websocket.Conn
	closed   bool
	backoff  *transport.Backoff
	failures int
	timer    *time.Timer
	subs     []chan model.LocationUpdate

	writeMu sync.Mutex
}

// New builds a client; nothing is dialed until Connect.
func New(opts Options) *Client {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Client{
		opts:    opts,
		dialer:  dialer,
		backoff: transport.NewBackoff(opts.InitialBackoff, opts.MaxBackoff),
	}
}

// dialURL appends the access token as a query parameter.
func (c *Client) dialURL() string {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return c.opts.URL
	}
	q := u.Query()
	q.Set("accessToken", c.opts.AccessToken)
	u.RawQuery = q.Encode()
	return u.String()
}

// Connect starts dialing asynchronously.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.ws != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	go c.dial()
}

func (c *Client) dial() {
	ws, _, err := c.dialer.Dial(c.dialURL(), nil)
	if err != nil {
		c.fail(nil, err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.failures = 0
	c.backoff.Reset()
	c.mu.Unlock()

	if c.opts.OnConnected != nil {
		c.opts.OnConnected()
	}
	go c.readLoop(ws)
}

func (c *Client) readLoop(ws *websocket.Conn) {
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			c.fail(ws, err)
			return
		}
		var upd model.LocationUpdate
		if err := json.Unmarshal(raw, &upd); err != nil {
			// Malformed payloads never kill the stream.
			logger.Errorf("livelocation: decode: %v", err)
			continue
		}
		c.broadcast(upd)
	}
}

func (c *Client) fail(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if ws != nil && c.ws != ws {
		c.mu.Unlock()
		return
	}
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.failures++
	exhausted := c.opts.MaxRetries > 0 && c.failures >= c.opts.MaxRetries
	var delay time.Duration
	if !exhausted {
		delay = c.backoff.Next()
		c.timer = time.AfterFunc(delay, func() { go c.dial() })
	}
	failures := c.failures
	cb := c.opts.OnFailure
	c.mu.Unlock()

	if exhausted {
		logger.Errorf("livelocation: giving up after %d consecutive failures: %v", failures, err)
	} else {
		logger.Errorf("livelocation: connection failed (attempt %d, retry in %s): %v", failures, delay, err)
	}
	if cb != nil {
		cb(err)
	}
}

// Close tears the stream down for good: cancels any pending reconnect,
// closes the socket normally, and closes all update channels.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	ws := c.ws
	c.ws = nil
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		ws.Close()
	}
	for _, ch := range subs {
		close(ch)
	}
}

// Updates registers a broadcast subscriber; every subscriber sees every
// update. The channel closes when the client is closed.
func (c *Client) Updates() <-chan model.LocationUpdate {
	ch := make(chan model.LocationUpdate, updateBuf)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.subs = append(c.subs, ch)
	return ch
}

// broadcast sends under c.mu: Close nils c.subs under the same lock before
// closing the channels, so a send can never race a close.
func (c *Client) broadcast(upd model.LocationUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- upd:
		default:
			logger.Errorf("livelocation: subscriber full, dropping update group=%s", upd.GroupID)
		}
	}
}

// Report sends the caller's position. The server stamps identity from the
// token and fans the update out to the group.
func (c *Client) Report(rep model.LocationReport) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return transport.ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, body)
}
