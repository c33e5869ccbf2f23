package stomp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeSend(t *testing.T) {
	body := `{"content":"hi"}`
	raw := Encode(CmdSend, []Header{
		{Key: "destination", Value: "/app/rooms/42/messages"},
		{Key: "content-type", Value: "application/json"},
		{Key: "content-length", Value: ContentLength(body)},
	}, body)

	want := "SEND\n" +
		"destination:/app/rooms/42/messages\n" +
		"content-type:application/json\n" +
		"content-length:16\n" +
		"\n" +
		body + "\x00"
	assert.Equal(t, want, raw)
}

func TestEncodeHeaderOrderPreserved(t *testing.T) {
	raw := Encode(CmdSubscribe, []Header{
		{Key: "id", Value: "sub-0"},
		{Key: "destination", Value: "/topic/rooms/1/messages"},
	}, "")
	idx1 := strings.Index(raw, "id:sub-0")
	idx2 := strings.Index(raw, "destination:")
	assert.True(t, idx1 >= 0 && idx2 >= 0)
	assert.Less(t, idx1, idx2)
}

func TestEncodeBodylessKeepsSeparator(t *testing.T) {
	raw := Encode(CmdConnect, []Header{{Key: "accept-version", Value: "1.2"}}, "")
	assert.Equal(t, "CONNECT\naccept-version:1.2\n\n\x00", raw)
}

func TestContentLengthCountsBytes(t *testing.T) {
	// Multi-byte runes: the length is bytes, not runes.
	assert.Equal(t, "6", ContentLength("안녕"))
}

func TestDecodeMessage(t *testing.T) {
	raw := "MESSAGE\n" +
		"destination:/topic/rooms/42/messages\n" +
		"content-type:application/json\n" +
		"\n" +
		`{"messageId":"m1"}` + "\x00"

	f := Decode(raw)
	assert.Equal(t, FrameMessage, f.Type)
	assert.Equal(t, "MESSAGE", f.Command)
	assert.Equal(t, `{"messageId":"m1"}`, f.Body)
}

func TestDecodeBodylessConnected(t *testing.T) {
	f := Decode("CONNECTED\nversion:1.2\n\n\x00")
	assert.Equal(t, FrameConnected, f.Type)
	assert.Equal(t, "", f.Body)
}

func TestDecodeTruncatedAfterHeaders(t *testing.T) {
	// No blank-line separator at all: command still classifies.
	f := Decode("CONNECTED\nversion:1.2\n")
	assert.Equal(t, FrameConnected, f.Type)
	assert.Equal(t, "", f.Body)
}

func TestDecodeStripsTrailingNul(t *testing.T) {
	f := Decode("MESSAGE\n\nhello\x00")
	assert.Equal(t, "hello", f.Body)
}

func TestDecodeUnknownCommand(t *testing.T) {
	f := Decode("NOTIFY\nfoo:bar\n\nx\x00")
	assert.Equal(t, FrameUnknown, f.Type)
	assert.Equal(t, "NOTIFY", f.Command)
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		command string
		typ     FrameType
		body    string
	}{
		{CmdConnected, FrameConnected, ""},
		{CmdMessage, FrameMessage, `{"a":1}`},
		{CmdReceipt, FrameReceipt, ""},
		{CmdError, FrameError, "boom"},
	}
	for _, tc := range cases {
		f := Decode(Encode(tc.command, nil, tc.body))
		assert.Equal(t, tc.typ, f.Type, tc.command)
		assert.Equal(t, tc.body, f.Body, tc.command)
	}
}

func TestDecodeRequestHeaders(t *testing.T) {
	raw := "SEND\n" +
		"destination:/app/rooms/7/messages\n" +
		"content-type:application/json\n" +
		"\n" +
		`{"content":"x"}` + "\x00"

	req := DecodeRequest(raw)
	assert.Equal(t, CmdSend, req.Command)
	assert.Equal(t, "/app/rooms/7/messages", req.Headers["destination"])
	assert.Equal(t, `{"content":"x"}`, req.Body)
}

func TestDecodeRequestHeaderValueWithColon(t *testing.T) {
	// Only the first colon splits key from value.
	req := DecodeRequest("SUBSCRIBE\ndestination:/topic/a:b\n\n\x00")
	assert.Equal(t, "/topic/a:b", req.Headers["destination"])
}
