package stomp

import "strings"

// Request is a fully parsed inbound client frame as seen by a server.
// Client-side consumers never need headers (Decode); the broker does,
// to route SUBSCRIBE/SEND by destination.
type Request struct {
	Command string
	Headers map[string]string
	Body    string
}

// DecodeRequest parses command, headers, and body from a raw frame.
// Header lines are "key:value" up to the first blank line; values keep
// any further colons. The trailing NUL is stripped from the body.
func DecodeRequest(raw string) Request {
	raw = strings.TrimSuffix(raw, terminator)

	head := raw
	body := ""
	if idx := strings.Index(raw, "\n\n"); idx >= 0 {
		head = raw[:idx]
		body = raw[idx+2:]
	}

	lines := strings.Split(head, "\n")
	req := Request{Headers: make(map[string]string)}
	if len(lines) > 0 {
		req.Command = strings.TrimSuffix(lines[0], "\r")
	}
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		req.Headers[line[:idx]] = line[idx+1:]
	}
	req.Body = body
	return req
}
