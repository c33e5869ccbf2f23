// Package memory is the in-memory HistoryStore used for development and
// tests: no external dependencies, everything gone on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ssafy13th-common/glml-chat/internal/storage"
)

type room struct {
	info    storage.Room
	msgs    []storage.StoredMessage // arrival order, oldest first
	members map[string]string       // email -> nickname
	// lastRead maps reader email to the index of the newest message read.
	lastRead map[string]int
}

// Store is the in-memory implementation of storage.HistoryStore.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func New() *Store {
	return &Store{rooms: make(map[string]*room)}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateRoom(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; ok {
		return nil
	}
	s.rooms[id] = &room{
		info: storage.Room{
			ID:        id,
			Name:      name,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
		members:  make(map[string]string),
		lastRead: make(map[string]int),
	}
	return nil
}

func (s *Store) RoomExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[id]
	return ok, nil
}

func (s *Store) Rooms(ctx context.Context) ([]storage.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r.info)
	}
	return out, nil
}

func (s *Store) AddMember(ctx context.Context, roomID string, m storage.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	r.members[m.Email] = m.Nickname
	return nil
}

func (s *Store) Members(ctx context.Context, roomID string) ([]storage.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make([]storage.Member, 0, len(r.members))
	for email, nick := range r.members {
		out = append(out, storage.Member{Email: email, Nickname: nick})
	}
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg storage.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[msg.RoomID]
	if !ok {
		return nil
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (s *Store) History(ctx context.Context, roomID string, page, size int) ([]storage.StoredMessage, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, 0, nil
	}
	total := len(r.msgs)
	// Page 0 is the newest window; slice the chronological list from the
	// end and reverse it to newest-first.
	end := total - page*size
	start := end - size
	if end <= 0 {
		return nil, total, nil
	}
	if start < 0 {
		start = 0
	}
	out := make([]storage.StoredMessage, 0, end-start)
	for i := end - 1; i >= start; i-- {
		m := r.msgs[i]
		m.ReadCount = r.readCountLocked(i)
		out = append(out, m)
	}
	return out, total, nil
}

func (s *Store) MarkRead(ctx context.Context, roomID, messageID, reader string) ([]storage.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	idx := -1
	for i := range r.msgs {
		if r.msgs[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}
	prev, seen := r.lastRead[reader]
	if seen && idx <= prev {
		return nil, nil
	}
	r.lastRead[reader] = idx

	// Counts changed only for messages newly covered by this reader.
	from := 0
	if seen {
		from = prev + 1
	}
	affected := make([]storage.StoredMessage, 0, idx-from+1)
	for i := from; i <= idx; i++ {
		m := r.msgs[i]
		m.ReadCount = r.readCountLocked(i)
		affected = append(affected, m)
	}
	return affected, nil
}

// readCountLocked counts readers whose position covers index i.
func (r *room) readCountLocked(i int) int {
	n := 0
	for _, pos := range r.lastRead {
		if pos >= i {
			n++
		}
	}
	return n
}
