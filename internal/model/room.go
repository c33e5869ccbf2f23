package model

// Participant is one room member as returned by the history endpoint.
type Participant struct {
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

// RoomInfo is one entry of the room listing endpoint.
type RoomInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// RoomSnapshot is an immutable view of a room's reconciled state, published
// by the store after every mutation. Readers never observe intermediate
// states; the slices are copies owned by the snapshot.
type RoomSnapshot struct {
	RoomID string
	// Messages is newest-first. Live events go to the head, older history
	// pages to the tail; order comes from server sequence, never from
	// timestamps.
	Messages []Message
	// Participants maps sender identifier (email) to display nickname.
	Participants map[string]string
	// Pending are local sends not yet materialized by an echo.
	Pending []PendingSend
	Page    int
	Size    int
	Total   int
	// EndReached is true once a history page returned fewer entries than
	// requested, or the loaded count covers Total.
	EndReached bool
	Connected  bool
	// Err holds the last history-load failure, cleared on success.
	Err error
}

// FindMessage returns the index of the message with the given id, or -1.
func (s *RoomSnapshot) FindMessage(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// LatestMessage returns the newest message, or nil for an empty room.
func (s *RoomSnapshot) LatestMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[0]
}
