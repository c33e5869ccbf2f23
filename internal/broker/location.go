package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssafy13th-common/glml-chat/internal/logger"
	"github.com/ssafy13th-common/glml-chat/internal/model"
)

// LocationHub fans live-location updates out per group. There is no
// framing layer here: one JSON object per WebSocket text message. A
// connection joins a group with its first report to it and receives every
// subsequent update for that group.
type LocationHub struct {
	metrics *Metrics
	// lateFeePerMinute is charged per started minute past a group's
	// meeting time.
	lateFeePerMinute int64

	mu       sync.RWMutex
	groups   map[string]map[*locationConn]struct{}
	meetings map[string]time.Time
}

func NewLocationHub(metrics *Metrics, lateFeePerMinute int64) *LocationHub {
	return &LocationHub{
		metrics:          metrics,
		lateFeePerMinute: lateFeePerMinute,
		groups:           make(map[string]map[*locationConn]struct{}),
		meetings:         make(map[string]time.Time),
	}
}

// SetMeeting sets (or clears with a zero time) a group's meeting time,
// the reference point for late fees.
func (h *LocationHub) SetMeeting(groupID string, t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t.IsZero() {
		delete(h.meetings, groupID)
		return
	}
	h.meetings[groupID] = t
}

// lateFee computes the fee for a report arriving now.
func (h *LocationHub) lateFee(groupID string, now time.Time) int64 {
	h.mu.RLock()
	meeting, ok := h.meetings[groupID]
	h.mu.RUnlock()
	if !ok || h.lateFeePerMinute <= 0 || !now.After(meeting) {
		return 0
	}
	minutes := int64(now.Sub(meeting)/time.Minute) + 1
	return minutes * h.lateFeePerMinute
}

type locationConn struct {
	hub   *LocationHub
	conn  *websocket.Conn
	email string
	send  chan []byte
	done  chan struct{}
	once  sync.Once
}

// Serve runs the pump loops for one authenticated location socket and
// blocks until the connection dies. email comes from the verified access
// token.
func (h *LocationHub) Serve(ctx context.Context, conn *websocket.Conn, email string) {
	lc := &locationConn{
		hub:   h,
		conn:  conn,
		email: email,
		send:  make(chan []byte, sendBufSize),
		done:  make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go lc.writePump(ctx)
	lc.readPump(ctx)

	h.drop(lc)
	lc.close()
}

func (lc *locationConn) close() {
	lc.once.Do(func() {
		close(lc.done)
		lc.conn.Close()
	})
}

func (lc *locationConn) readPump(ctx context.Context) {
	lc.conn.SetReadLimit(maxFrameLen)
	if err := lc.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	lc.conn.SetPongHandler(func(string) error {
		return lc.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := lc.conn.ReadMessage()
		if err != nil {
			return
		}
		var rep model.LocationReport
		if err := json.Unmarshal(raw, &rep); err != nil {
			logger.Errorf("broker: location decode from %s: %v", lc.email, err)
			continue
		}
		lc.hub.onReport(lc, rep)
	}
}

func (lc *locationConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		lc.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-lc.send:
			if err := lc.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := lc.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			if err := lc.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := lc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// onReport stamps the sender identity and late fee, joins the group, and
// broadcasts the update to every member connection.
func (h *LocationHub) onReport(lc *locationConn, rep model.LocationReport) {
	if rep.GroupID == "" {
		return
	}
	now := time.Now()
	upd := model.LocationUpdate{
		GroupID:     rep.GroupID,
		MemberEmail: lc.email,
		Latitude:    rep.Latitude,
		Longitude:   rep.Longitude,
		Timestamp:   rep.Timestamp,
		LateFee:     h.lateFee(rep.GroupID, now),
	}
	if upd.Timestamp == "" {
		upd.Timestamp = now.UTC().Format(time.RFC3339)
	}
	raw, err := json.Marshal(upd)
	if err != nil {
		return
	}

	h.mu.Lock()
	members, ok := h.groups[rep.GroupID]
	if !ok {
		members = make(map[*locationConn]struct{})
		h.groups[rep.GroupID] = members
	}
	members[lc] = struct{}{}
	targets := make([]*locationConn, 0, len(members))
	for m := range members {
		targets = append(targets, m)
	}
	h.mu.Unlock()

	for _, m := range targets {
		select {
		case m.send <- raw:
		case <-m.done:
		default:
			logger.Errorf("broker: location buffer full, closing slow client %s", m.email)
			m.close()
		}
	}
	h.metrics.LocationUpdates.Inc()
}

// drop removes a dead connection from every group it joined.
func (h *LocationHub) drop(lc *locationConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for gid, members := range h.groups {
		delete(members, lc)
		if len(members) == 0 {
			delete(h.groups, gid)
		}
	}
}
