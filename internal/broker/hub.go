package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ssafy13th-common/glml-chat/internal/chat"
	"github.com/ssafy13th-common/glml-chat/internal/logger"
	"github.com/ssafy13th-common/glml-chat/internal/model"
	"github.com/ssafy13th-common/glml-chat/internal/stomp"
	"github.com/ssafy13th-common/glml-chat/internal/storage"
)

// Hub owns all chat sockets and their topic subscriptions, persists
// messages through the history store, and fans MESSAGE frames out to
// subscribers.
type Hub struct {
	store   storage.HistoryStore
	metrics *Metrics

	mu       sync.RWMutex
	clients  map[*Client]struct{}
	subs     map[*Client]map[string]string // destination -> subscription id
	total    int
	maxConns int

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(store storage.HistoryStore, metrics *Metrics, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		store:      store,
		metrics:    metrics,
		clients:    make(map[*Client]struct{}),
		subs:       make(map[*Client]map[string]string),
		maxConns:   maxConns,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect under the lock, close connections outside it.
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.subs = make(map[*Client]map[string]string)
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("broker: connection limit reached (%d), rejecting", h.maxConns)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	if _, ok := h.subs[c]; !ok {
		h.subs[c] = make(map[string]string)
	}
	h.total++
	h.mu.Unlock()
	h.metrics.Connections.Inc()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	// A SUBSCRIBE can land before the register channel is drained, so the
	// subs entry may exist even for a client that never made it into
	// clients (rejected at the connection limit). Drop it unconditionally.
	delete(h.subs, c)
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.total--
	h.mu.Unlock()
	h.metrics.Connections.Dec()

	c.Close()
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// HandleFrame dispatches one inbound client frame.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, req stomp.Request) {
	switch req.Command {
	case stomp.CmdConnect:
		h.sendToClient(c, stomp.Encode(stomp.CmdConnected, []stomp.Header{
			{Key: "version", Value: "1.2"},
		}, ""))
	case stomp.CmdSubscribe:
		h.handleSubscribe(c, req)
	case stomp.CmdSend:
		h.handleSend(ctx, c, req)
	default:
		h.sendToClient(c, stomp.Encode(stomp.CmdError, nil, "unknown command: "+req.Command))
	}
}

func (h *Hub) handleSubscribe(c *Client, req stomp.Request) {
	dest := req.Headers["destination"]
	if dest == "" {
		h.sendToClient(c, stomp.Encode(stomp.CmdError, nil, "subscribe requires destination"))
		return
	}
	h.mu.Lock()
	subs, ok := h.subs[c]
	if !ok {
		// The pump can outrun the register channel; the entry is
		// reconciled when addClient runs.
		subs = make(map[string]string)
		h.subs[c] = subs
	}
	subs[dest] = req.Headers["id"]
	h.mu.Unlock()
}

func (h *Hub) handleSend(ctx context.Context, c *Client, req stomp.Request) {
	defer logger.DeferLogDuration("broker.handleSend", time.Now())()

	roomID, ok := parseSendDestination(req.Headers["destination"])
	if !ok {
		h.sendToClient(c, stomp.Encode(stomp.CmdError, nil, "bad destination: "+req.Headers["destination"]))
		return
	}

	var ev model.ChatEvent
	if err := json.Unmarshal([]byte(req.Body), &ev); err != nil {
		h.sendToClient(c, stomp.Encode(stomp.CmdError, nil, "bad payload"))
		return
	}

	// Server-assigned identity: the temporary client id is discarded and
	// the echo carries the real one. Dedup on the client keys off this.
	ev.RoomID = roomID
	ev.MessageID = "msg-" + uuid.NewString()
	ev.CreatedAt = time.Now().Format(model.TimeLayout)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.store.CreateRoom(ctx, roomID, roomID); err != nil {
		logger.Errorf("broker: ensure room %s: %v", roomID, err)
	}
	if ev.Sender != "" {
		nick := ev.Sender
		if i := strings.Index(nick, "@"); i > 0 {
			nick = nick[:i]
		}
		if err := h.store.AddMember(ctx, roomID, storage.Member{Email: ev.Sender, Nickname: nick}); err != nil {
			logger.Errorf("broker: add member %s: %v", ev.Sender, err)
		}
	}
	if err := h.store.AppendMessage(ctx, storage.StoredMessage{
		ID:        ev.MessageID,
		RoomID:    roomID,
		Sender:    ev.Sender,
		Content:   ev.Content,
		CreatedAt: ev.CreatedAt,
	}); err != nil {
		logger.Errorf("broker: save message room=%s: %v", roomID, err)
		h.sendToClient(c, stomp.Encode(stomp.CmdError, nil, "failed to save message"))
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.BroadcastTopic(chat.TopicMessages(roomID), string(body))
}

// BroadcastRead pushes updated read counts as receipt events on the
// room's read topic.
func (h *Hub) BroadcastRead(roomID string, changed []storage.StoredMessage) {
	for _, m := range changed {
		body, err := json.Marshal(model.ReadReceiptEvent{
			RoomID:    roomID,
			MessageID: m.ID,
			ReadCount: m.ReadCount,
		})
		if err != nil {
			continue
		}
		h.BroadcastTopic(chat.TopicRead(roomID), string(body))
	}
}

// BroadcastTopic sends a MESSAGE frame to every client subscribed to the
// destination.
func (h *Hub) BroadcastTopic(destination, body string) {
	raw := stomp.Encode(stomp.CmdMessage, []stomp.Header{
		{Key: "destination", Value: destination},
		{Key: "content-type", Value: "application/json"},
		{Key: "content-length", Value: stomp.ContentLength(body)},
	}, body)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c, subs := range h.subs {
		if _, ok := subs[destination]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, raw)
	}
}

func (h *Hub) sendToClient(c *Client, raw string) {
	select {
	case c.send <- []byte(raw):
	case <-c.done:
	default:
		// Backpressure: send buffer full, close the slow client.
		logger.Errorf("broker: send buffer full, closing slow client")
		c.Close()
	}
}

// parseSendDestination extracts the room id from /app/rooms/{id}/messages.
func parseSendDestination(dest string) (string, bool) {
	rest, ok := strings.CutPrefix(dest, "/app/rooms/")
	if !ok {
		return "", false
	}
	roomID, ok := strings.CutSuffix(rest, "/messages")
	if !ok || roomID == "" || strings.Contains(roomID, "/") {
		return "", false
	}
	return roomID, true
}
