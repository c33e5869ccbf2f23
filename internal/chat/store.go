package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/ssafy13th-common/glml-chat/internal/logger"
	"github.com/ssafy13th-common/glml-chat/internal/model"
)

// DefaultSendTimeout is how long a pending send may wait for its echo
// before it is marked failed.
const DefaultSendTimeout = 15 * time.Second

// HistoryClient fetches paginated message history from the backend. The
// REST client satisfies it; tests substitute fakes.
type HistoryClient interface {
	History(ctx context.Context, roomID string, page, size int) (model.HistoryPage, error)
}

// FrameSender sends an encoded frame body to a destination. Satisfied by
// *transport.Conn.
type FrameSender interface {
	Send(destination, body string) error
}

// Store reconciles three overlapping message sources for one room —
// paginated REST history, live chat events, and live read receipts —
// into a single deduplicated, order-stable list. All mutations run under
// one lock; readers get immutable snapshots. Source of truth stays the
// backend; the store is session-scoped memory.
type Store struct {
	selfID  string
	history HistoryClient
	sender  FrameSender

	// OnUpdate, when set, receives a fresh snapshot after every mutation.
	// Called outside the store lock.
	OnUpdate func(model.RoomSnapshot)
	// OnPeerMessage fires for every stored live message whose sender is
	// not the current user. The session wires it to an immediate read
	// report.
	OnPeerMessage func(model.Message)

	sendTimeout time.Duration

	mu           sync.Mutex
	roomID       string
	msgs         []model.Message // newest-first
	participants map[string]string
	pending      []model.PendingSend
	page         int
	size         int
	total        int
	endReached   bool
	connected    bool
	lastErr      error
}

// NewStore builds a store for the given user identity (a stable string,
// e.g. email). sendTimeout <= 0 takes DefaultSendTimeout.
func NewStore(selfID string, history HistoryClient, sender FrameSender, sendTimeout time.Duration) *Store {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Store{
		selfID:       selfID,
		history:      history,
		sender:       sender,
		sendTimeout:  sendTimeout,
		participants: make(map[string]string),
	}
}

// InitRoom resets all state for a room and loads page 0. A history error
// propagates to the caller; the room stays initialized so a retry via
// LoadHistory is possible.
func (s *Store) InitRoom(ctx context.Context, roomID string, pageSize int) error {
	s.mu.Lock()
	s.roomID = roomID
	s.msgs = nil
	s.participants = make(map[string]string)
	s.pending = nil
	s.page = 0
	s.size = pageSize
	s.total = 0
	s.endReached = false
	s.lastErr = nil
	s.mu.Unlock()

	return s.LoadHistory(ctx, true)
}

// LoadHistory fetches one history page. reset reloads page 0 and replaces
// the list and participant map; otherwise the next older page is appended
// at the tail. Network errors are recorded in the snapshot and returned.
func (s *Store) LoadHistory(ctx context.Context, reset bool) error {
	defer logger.DeferLogDuration("chat.LoadHistory", time.Now())()

	s.mu.Lock()
	roomID := s.roomID
	size := s.size
	page := 0
	if !reset {
		page = s.page + 1
	}
	s.mu.Unlock()

	hp, err := s.history.History(ctx, roomID, page, size)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.publish()
		return err
	}

	s.mu.Lock()
	if reset {
		s.msgs = append([]model.Message(nil), hp.Messages...)
		s.participants = make(map[string]string, len(hp.Members))
	} else {
		s.msgs = append(s.msgs, s.missingLocked(hp.Messages)...)
	}
	for _, m := range hp.Members {
		s.participants[m.Email] = m.Nickname
	}
	s.resolveNicknamesLocked()
	s.page = hp.Page
	s.total = hp.Total
	s.endReached = len(hp.Messages) < size || (hp.Page+1)*size >= hp.Total
	s.lastErr = nil
	s.mu.Unlock()

	s.publish()
	return nil
}

// RefreshHead re-fetches page 0 and prepends messages not already present,
// preserving server order. This is the periodic consistency pass covering
// frames missed across reconnects; it never reorders what is already held.
func (s *Store) RefreshHead(ctx context.Context) error {
	defer logger.DeferLogDuration("chat.RefreshHead", time.Now())()

	s.mu.Lock()
	roomID := s.roomID
	size := s.size
	s.mu.Unlock()

	hp, err := s.history.History(ctx, roomID, 0, size)
	if err != nil {
		return err
	}

	s.mu.Lock()
	fresh := s.missingLocked(hp.Messages)
	if len(fresh) > 0 {
		s.msgs = append(fresh, s.msgs...)
	}
	for _, m := range hp.Members {
		s.participants[m.Email] = m.Nickname
	}
	s.resolveNicknamesLocked()
	s.total = hp.Total
	for i := range fresh {
		s.clearPendingLocked(fresh[i].SenderID, fresh[i].Content)
	}
	s.mu.Unlock()

	if len(fresh) > 0 {
		s.publish()
	}
	return nil
}

// OnIncomingMessage merges a live chat event. Duplicate identifiers
// collapse to one entry, last write winning on mutable fields. A non-self
// message triggers OnPeerMessage (the immediate read report).
func (s *Store) OnIncomingMessage(ev model.ChatEvent) {
	msg := model.Message{
		ID:        ev.MessageID,
		RoomID:    ev.RoomID,
		SenderID:  ev.Sender,
		Content:   ev.Content,
		CreatedAt: ev.CreatedAt,
		Status:    model.MessageStatusDelivered,
	}

	s.mu.Lock()
	if nick, ok := s.participants[ev.Sender]; ok {
		n := nick
		msg.SenderNickname = &n
	}
	if i := s.indexLocked(ev.MessageID); i >= 0 {
		// Already merged via history or an earlier frame.
		s.msgs[i].Content = msg.Content
		s.msgs[i].CreatedAt = msg.CreatedAt
		s.msgs[i].Status = model.MessageStatusDelivered
		s.mu.Unlock()
		s.publish()
		return
	}
	s.msgs = append([]model.Message{msg}, s.msgs...)
	s.clearPendingLocked(ev.Sender, ev.Content)
	peer := ev.Sender != s.selfID
	cb := s.OnPeerMessage
	s.mu.Unlock()

	s.publish()
	if peer && cb != nil {
		cb(msg)
	}
}

// OnReadUpdate overwrites the read count of the identified message.
// Unknown identifiers are a no-op (late receipt for a message not yet
// loaded). Counts never regress.
func (s *Store) OnReadUpdate(ev model.ReadReceiptEvent) {
	s.mu.Lock()
	i := s.indexLocked(ev.MessageID)
	if i < 0 || ev.ReadCount <= s.msgs[i].ReadCount {
		s.mu.Unlock()
		return
	}
	s.msgs[i].ReadCount = ev.ReadCount
	s.mu.Unlock()
	s.publish()
}

// SendMessage assigns a temporary identifier, sends the event via the
// transport, and records a pending entry. The message materializes only
// through its echo (or RefreshHead); if neither happens within the send
// timeout the pending entry is marked failed.
func (s *Store) SendMessage(content string) (string, error) {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()

	tempID := "tmp-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	ev := model.ChatEvent{
		RoomID:    roomID,
		MessageID: tempID,
		Sender:    s.selfID,
		Content:   content,
		CreatedAt: time.Now().Format(model.TimeLayout),
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	if err := s.sender.Send(SendDestination(roomID), string(body)); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.pending = append(s.pending, model.PendingSend{
		TempID:  tempID,
		Content: content,
		SentAt:  time.Now(),
	})
	s.mu.Unlock()
	s.publish()

	time.AfterFunc(s.sendTimeout, func() { s.expirePending(tempID) })
	return tempID, nil
}

func (s *Store) expirePending(tempID string) {
	s.mu.Lock()
	changed := false
	for i := range s.pending {
		if s.pending[i].TempID == tempID && !s.pending[i].Failed {
			s.pending[i].Failed = true
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		logger.Errorf("chat: send %s never echoed, marking failed", tempID)
		s.publish()
	}
}

// SetConnected records transport availability in the snapshot.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	if s.connected == connected {
		s.mu.Unlock()
		return
	}
	s.connected = connected
	s.mu.Unlock()
	s.publish()
}

// Snapshot returns an immutable copy of the room state.
func (s *Store) Snapshot() model.RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() model.RoomSnapshot {
	snap := model.RoomSnapshot{
		RoomID:       s.roomID,
		Messages:     append([]model.Message(nil), s.msgs...),
		Participants: make(map[string]string, len(s.participants)),
		Pending:      append([]model.PendingSend(nil), s.pending...),
		Page:         s.page,
		Size:         s.size,
		Total:        s.total,
		EndReached:   s.endReached,
		Connected:    s.connected,
		Err:          s.lastErr,
	}
	for k, v := range s.participants {
		snap.Participants[k] = v
	}
	return snap
}

func (s *Store) publish() {
	cb := s.OnUpdate
	if cb == nil {
		return
	}
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	cb(snap)
}

// indexLocked returns the position of a message id, or -1.
func (s *Store) indexLocked(id string) int {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// missingLocked filters candidates down to ids not yet held, preserving
// their order.
func (s *Store) missingLocked(candidates []model.Message) []model.Message {
	var out []model.Message
	for _, m := range candidates {
		if s.indexLocked(m.ID) < 0 {
			out = append(out, m)
		}
	}
	return out
}

// clearPendingLocked drops the oldest pending entry matching a
// materialized self message.
func (s *Store) clearPendingLocked(sender, content string) {
	if sender != s.selfID {
		return
	}
	for i := range s.pending {
		if s.pending[i].Content == content {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// resolveNicknamesLocked re-resolves display names for messages whose
// sender joined the participant map after the message arrived.
func (s *Store) resolveNicknamesLocked() {
	for i := range s.msgs {
		if s.msgs[i].SenderNickname == nil {
			if nick, ok := s.participants[s.msgs[i].SenderID]; ok {
				n := nick
				s.msgs[i].SenderNickname = &n
			}
		}
	}
}
