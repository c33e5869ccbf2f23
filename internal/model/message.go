package model

import "time"

// TimeLayout is the fixed chat timestamp format used on the wire
// (history payloads and live chat events alike).
const TimeLayout = "2006.01.02 15:04:05"

type MessageStatus string

const (
	// MessageStatusPending — sent with a temporary identifier, not yet
	// echoed back by the server.
	MessageStatusPending MessageStatus = "pending"
	// MessageStatusDelivered — materialized from a server event or history.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusFailed — pending send that was never echoed within the
	// configured timeout.
	MessageStatusFailed MessageStatus = "failed"
)

// Message is one chat message as held by the reconciliation store.
// ID is server-assigned, or a temporary "tmp-" identifier while a send is
// pending. IDs are unique within a room; merges collapse duplicates.
type Message struct {
	ID             string        `json:"id"`
	RoomID         string        `json:"room_id"`
	SenderID       string        `json:"sender_id"`
	SenderNickname *string       `json:"sender_nickname,omitempty"`
	Content        string        `json:"content"`
	CreatedAt      string        `json:"created_at"`
	ReadCount      int           `json:"read_count"`
	Status         MessageStatus `json:"status"`
}

// ChatEvent is the JSON body carried by a MESSAGE frame on a chat topic.
type ChatEvent struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// ReadReceiptEvent is the JSON body carried by a MESSAGE frame on a read
// topic. ReadCount is monotonically non-decreasing from the server's view.
type ReadReceiptEvent struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	ReadCount int    `json:"readCount"`
}

// PendingSend tracks a locally originated message awaiting its echo.
type PendingSend struct {
	TempID  string
	Content string
	SentAt  time.Time
	Failed  bool
}
