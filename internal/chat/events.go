// Package chat layers the domain logic of the messaging core over the
// transport: frame dispatch, the per-room reconciliation store, the
// read-receipt reporter, and the room session tying them together.
package chat

import (
	"encoding/json"
	"errors"

	"github.com/ssafy13th-common/glml-chat/internal/model"
	"github.com/ssafy13th-common/glml-chat/internal/stomp"
)

// EventKind tags decoded stream events so consumers match exhaustively
// instead of probing payload shapes twice.
type EventKind int

const (
	// KindChat is a chat-message event.
	KindChat EventKind = iota
	// KindRead is a read-receipt event.
	KindRead
	// KindOpaque is a MESSAGE body that matched neither shape; the raw
	// body is passed through for the consumer to log or ignore.
	KindOpaque
	// KindError is a server ERROR frame or a decode failure. Never fatal
	// to the connection.
	KindError
)

// Event is one value on the consumer-facing stream.
type Event struct {
	Kind EventKind
	Chat *model.ChatEvent
	Read *model.ReadReceiptEvent
	Raw  string
	Err  error
}

// DecodeEvent classifies a MESSAGE body with a single cheap shape sniff:
// a content-bearing payload is a chat event, a readCount-bearing one is a
// read receipt. Malformed JSON comes back as KindOpaque with Err set,
// never as a hard failure.
func DecodeEvent(body string) Event {
	var probe struct {
		Content   *string `json:"content"`
		ReadCount *int    `json:"readCount"`
	}
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return Event{Kind: KindOpaque, Raw: body, Err: err}
	}
	switch {
	case probe.Content != nil:
		var ev model.ChatEvent
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return Event{Kind: KindOpaque, Raw: body, Err: err}
		}
		return Event{Kind: KindChat, Chat: &ev}
	case probe.ReadCount != nil:
		var ev model.ReadReceiptEvent
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return Event{Kind: KindOpaque, Raw: body, Err: err}
		}
		return Event{Kind: KindRead, Read: &ev}
	default:
		return Event{Kind: KindOpaque, Raw: body}
	}
}

// Dispatch consumes a frame stream and produces domain events. MESSAGE
// frames are decoded; ERROR frames surface as KindError; CONNECTED and
// other control frames are handshake noise and are filtered out. The
// returned channel closes when the frame stream closes.
func Dispatch(frames <-chan stomp.Frame) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for f := range frames {
			switch f.Type {
			case stomp.FrameMessage:
				out <- DecodeEvent(f.Body)
			case stomp.FrameError:
				out <- Event{Kind: KindError, Raw: f.Body, Err: errors.New("server error frame: " + f.Body)}
			default:
				// CONNECTED, RECEIPT, unknown: not domain events.
			}
		}
	}()
	return out
}
