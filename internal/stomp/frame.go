// Package stomp implements the minimal STOMP-subset text frame codec used
// by the chat transport: command line, "key:value" header lines, a blank
// line, an optional body, and a NUL terminator. Header values are not
// escaped; the subset in use (accept-version, id, destination,
// content-type, content-length) never needs it.
package stomp

import (
	"strconv"
	"strings"
)

// Commands exchanged over the socket.
const (
	CmdConnect   = "CONNECT"
	CmdConnected = "CONNECTED"
	CmdSubscribe = "SUBSCRIBE"
	CmdSend      = "SEND"
	CmdMessage   = "MESSAGE"
	CmdReceipt   = "RECEIPT"
	CmdError     = "ERROR"
)

const terminator = "\x00"

// FrameType is the decoded frame vocabulary. Decode classifies once;
// consumers switch exhaustively instead of re-scanning command strings.
type FrameType int

const (
	FrameUnknown FrameType = iota
	FrameConnected
	FrameMessage
	FrameReceipt
	FrameError
)

func (t FrameType) String() string {
	switch t {
	case FrameConnected:
		return "CONNECTED"
	case FrameMessage:
		return "MESSAGE"
	case FrameReceipt:
		return "RECEIPT"
	case FrameError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Header is one ordered key:value pair. Order is preserved on encode, so
// frames are byte-stable for a given input.
type Header struct {
	Key   string
	Value string
}

// Frame is one decoded inbound frame.
type Frame struct {
	Type FrameType
	// Command is the raw first line, kept for logging unknown frames.
	Command string
	Body    string
}

// Encode builds a wire frame: command line, header lines, blank line,
// body, NUL. A bodyless frame still carries the blank-line separator.
func Encode(command string, headers []Header, body string) string {
	var b strings.Builder
	b.Grow(len(command) + len(body) + 32*len(headers) + 4)
	b.WriteString(command)
	b.WriteString("\n")
	for _, h := range headers {
		b.WriteString(h.Key)
		b.WriteString(":")
		b.WriteString(h.Value)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString(terminator)
	return b.String()
}

// Decode parses a raw inbound blob into a typed frame. The command is the
// first line; the body is everything past the first blank-line separator
// with a trailing NUL stripped. Frames without a body (CONNECTED) decode
// to an empty body, not an error.
func Decode(raw string) Frame {
	raw = strings.TrimSuffix(raw, terminator)

	command := raw
	if idx := strings.Index(raw, "\n"); idx >= 0 {
		command = raw[:idx]
	}
	command = strings.TrimSuffix(command, "\r")

	body := ""
	if idx := strings.Index(raw, "\n\n"); idx >= 0 {
		body = raw[idx+2:]
	}

	return Frame{Type: typeOf(command), Command: command, Body: body}
}

func typeOf(command string) FrameType {
	switch command {
	case CmdConnected:
		return FrameConnected
	case CmdMessage:
		return FrameMessage
	case CmdReceipt:
		return FrameReceipt
	case CmdError:
		return FrameError
	default:
		return FrameUnknown
	}
}

// ContentLength is the content-length header value for a body: its byte
// length, not its rune count. Matters for non-ASCII payloads.
func ContentLength(body string) string {
	return strconv.Itoa(len(body))
}
