// Package transport owns the WebSocket connection for the chat transport:
// dialing (with one fallback endpoint), the CONNECT handshake, a broadcast
// stream of decoded frames, and failure-driven reconnect with exponential
// backoff. Exactly one socket is active per Conn; rooms never share one.
package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ssafy13th-common/glml-chat/internal/logger"
	"github.com/ssafy13th-common/glml-chat/internal/stomp"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	maxFrameSize = 65536
	frameBufSize = 64
	stateBufSize = 8
)

// ErrNotConnected is returned by Subscribe/Send when no socket is open.
var ErrNotConnected = errors.New("transport: not connected")

// State is the connection lifecycle. From Failed the connection moves back
// to Connecting on its own after the backoff delay, unless Close was
// called or the retry ceiling was hit.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a Conn.
type Options struct {
	// URL is the primary endpoint. FallbackURL, when set, is tried once
	// after a primary dial failure before the attempt counts as failed.
	URL         string
	FallbackURL string

	// Backoff floor/cap; zero values take the package defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxRetries caps consecutive failures before the connection parks in
	// Failed. 0 means retry forever.
	MaxRetries int

	// Dialer may be shared across connections for TLS session reuse.
	// Defaults to a dialer with a 10s handshake timeout.
	Dialer *websocket.Dialer

	// OnConnected fires on every CONNECTED handshake, including after a
	// reconnect. Subscriptions do not survive reconnects; callers must
	// re-subscribe here.
	OnConnected func()
	// OnFailure fires on every transport failure, before any reconnect
	// is scheduled.
	OnFailure func(error)
}

// Conn is one logical connection. Zero value is not usable; use NewConn.
type Conn struct {
	opts   Options
	dialer *websocket.Dialer

	mu        sync.Mutex
	state     State
	ws        *websocket.Conn
	closed    bool // set by Close; suppresses reconnect
	backoff   *Backoff
	failures  int
	timer     *time.Timer
	frameSubs []chan stomp.Frame
	stateSubs []chan State

	// writeMu serializes socket writes; gorilla allows one writer at a time.
	writeMu sync.Mutex
}

// NewConn builds a connection in the Idle state. Nothing is dialed until
// Connect.
func NewConn(opts Options) *Conn {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Conn{
		opts:    opts,
		dialer:  dialer,
		state:   StateIdle,
		backoff: NewBackoff(opts.InitialBackoff, opts.MaxBackoff),
	}
}

// Connect starts dialing asynchronously. Progress is reported through the
// state stream and the OnConnected/OnFailure callbacks. Calling Connect on
// a connecting, connected, or closed Conn is a no-op.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.closed || c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	go c.dial()
}

func (c *Conn) dial() {
	ws, _, err := c.dialer.Dial(c.opts.URL, nil)
	if err != nil && c.opts.FallbackURL != "" {
		logger.Errorf("transport: primary dial %s: %v, trying fallback", c.opts.URL, err)
		ws, _, err = c.dialer.Dial(c.opts.FallbackURL, nil)
	}
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
	c.mu.Unlock()

	// CONNECT goes out immediately on socket open; the state flips to
	// Connected only when the server answers with CONNECTED.
	connect := stomp.Encode(stomp.CmdConnect, []stomp.Header{
		{Key: "accept-version", Value: "1.2"},
	}, "")
	if err := c.writeRaw(connect); err != nil {
		c.fail(ws, err)
		return
	}

	go c.readLoop(ws)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
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
		frame := stomp.Decode(string(raw))
		logger.Debugf("transport: frame %s (%d bytes)", frame.Type, len(raw))
		if frame.Type == stomp.FrameConnected {
			c.handleConnected()
		}
		c.broadcast(frame)
	}
}

func (c *Conn) handleConnected() {
	c.mu.Lock()
	c.failures = 0
	c.backoff.Reset()
	c.setStateLocked(StateConnected)
	cb := c.opts.OnConnected
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// fail handles both dial failures (ws nil) and pump failures. A pump bound
// to a socket the Conn no longer owns is stale and must not disturb the
// current state.
func (c *Conn) fail(ws *websocket.Conn, err error) {
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
		c.setStateLocked(StateClosed)
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateFailed)
	c.failures++
	exhausted := c.opts.MaxRetries > 0 && c.failures >= c.opts.MaxRetries
	var delay time.Duration
	if !exhausted {
		delay = c.backoff.Next()
		c.timer = time.AfterFunc(delay, c.retry)
	}
	failures := c.failures
	cb := c.opts.OnFailure
	c.mu.Unlock()

	if exhausted {
		logger.Errorf("transport: giving up after %d consecutive failures: %v", failures, err)
	} else {
		logger.Errorf("transport: connection failed (attempt %d, retry in %s): %v", failures, delay, err)
	}
	if cb != nil {
		cb(err)
	}
}

func (c *Conn) retry() {
	c.mu.Lock()
	if c.closed || c.state != StateFailed {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	go c.dial()
}

// Close marks the connection caller-closed, cancels any pending reconnect,
// and closes the socket with a normal-closure code. No reconnect follows.
// Frame and state streams are closed. Safe to call more than once.
func (c *Conn) Close() {
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
	c.setStateLocked(StateClosed)
	frameSubs := c.frameSubs
	stateSubs := c.stateSubs
	c.frameSubs = nil
	c.stateSubs = nil
	c.mu.Unlock()

	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		ws.Close()
	}
	for _, ch := range frameSubs {
		close(ch)
	}
	for _, ch := range stateSubs {
		close(ch)
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Frames registers a new subscriber to the inbound frame stream. Every
// subscriber sees every frame (broadcast, not competing consumers); there
// is no replay of frames received before the call. The channel closes when
// the Conn is closed. A subscriber that stops draining loses frames rather
// than stalling the pump.
func (c *Conn) Frames() <-chan stomp.Frame {
	ch := make(chan stomp.Frame, frameBufSize)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.frameSubs = append(c.frameSubs, ch)
	return ch
}

// States registers a subscriber to lifecycle transitions. Same broadcast
// and close semantics as Frames.
func (c *Conn) States() <-chan State {
	ch := make(chan State, stateBufSize)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.stateSubs = append(c.stateSubs, ch)
	return ch
}

// broadcast delivers a frame to every subscriber. The sends happen under
// c.mu: Close nils the subscriber slice under the same lock before closing
// the channels, so a send can never race a close.
func (c *Conn) broadcast(frame stomp.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.frameSubs {
		select {
		case ch <- frame:
		default:
			logger.Errorf("transport: frame subscriber full, dropping %s", frame.Type)
		}
	}
}

// setStateLocked updates the state and notifies state subscribers.
// Caller holds c.mu.
func (c *Conn) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	for _, ch := range c.stateSubs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Subscribe sends a SUBSCRIBE frame for a topic destination. When id is
// empty a fresh one is generated. Subscriptions die with the socket; after
// a reconnect the caller re-subscribes from OnConnected.
func (c *Conn) Subscribe(destination, id string) error {
	if id == "" {
		id = "sub-" + uuid.NewString()
	}
	raw := stomp.Encode(stomp.CmdSubscribe, []stomp.Header{
		{Key: "id", Value: id},
		{Key: "destination", Value: destination},
	}, "")
	return c.writeRaw(raw)
}

// Send sends a SEND frame with a JSON body. content-length is the byte
// length of the body.
func (c *Conn) Send(destination, body string) error {
	raw := stomp.Encode(stomp.CmdSend, []stomp.Header{
		{Key: "destination", Value: destination},
		{Key: "content-type", Value: "application/json"},
		{Key: "content-length", Value: stomp.ContentLength(body)},
	}, body)
	return c.writeRaw(raw)
}

func (c *Conn) writeRaw(raw string) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, []byte(raw))
}
