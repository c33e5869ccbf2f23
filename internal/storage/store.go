// Package storage defines the broker's history persistence surface.
// Implementations: redis.Store, memory.Store (for -dev without Redis).
package storage

import "context"

// StoredMessage is one persisted chat message. Messages are held in
// arrival order; that order, not the timestamp, defines history paging.
type StoredMessage struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
	ReadCount int    `json:"readCount"`
}

// Room is one chat room.
type Room struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// Member is one room participant.
type Member struct {
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

// HistoryStore persists rooms, members, messages, and per-reader read
// positions. Read counts derive from read positions: a message's count is
// the number of members whose position is at or past it.
type HistoryStore interface {
	CreateRoom(ctx context.Context, id, name string) error
	RoomExists(ctx context.Context, id string) (bool, error)
	Rooms(ctx context.Context) ([]Room, error)

	AddMember(ctx context.Context, roomID string, m Member) error
	Members(ctx context.Context, roomID string) ([]Member, error)

	AppendMessage(ctx context.Context, msg StoredMessage) error
	// History returns one page. Page 0 is the most recent window;
	// messages within a page are newest-first. total is the room's
	// message count.
	History(ctx context.Context, roomID string, page, size int) (msgs []StoredMessage, total int, err error)

	// MarkRead advances the reader's position to the given message and
	// returns the messages whose read count changed, with their new
	// counts. Moving backwards is a no-op.
	MarkRead(ctx context.Context, roomID, messageID, reader string) ([]StoredMessage, error)

	Close() error
}
