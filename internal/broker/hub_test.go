package broker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssafy13th-common/glml-chat/internal/stomp"
	"github.com/ssafy13th-common/glml-chat/internal/storage/memory"
)

func TestParseSendDestination(t *testing.T) {
	cases := []struct {
		dest   string
		roomID string
		ok     bool
	}{
		{"/app/rooms/42/messages", "42", true},
		{"/app/rooms/trip-jeju/messages", "trip-jeju", true},
		{"/app/rooms//messages", "", false},
		{"/app/rooms/42/read", "", false},
		{"/topic/rooms/42/messages", "", false},
		{"/app/rooms/42/extra/messages", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		roomID, ok := parseSendDestination(tc.dest)
		assert.Equal(t, tc.ok, ok, tc.dest)
		assert.Equal(t, tc.roomID, roomID, tc.dest)
	}
}

// pumplessConn upgrades one socket pair so a Client can be built without
// running its pumps; the server side is parked until the test ends.
func pumplessConn(t *testing.T) *websocket.Conn {
	t.Helper()
	hold := make(chan struct{})
	var up websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		<-hold
	}))
	t.Cleanup(func() {
		close(hold)
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestRemoveClientClearsEarlySubscription(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHub(memory.New(), NewMetrics(reg), 100)

	// A SUBSCRIBE handled before the register channel drains leaves a subs
	// entry for a client the hub has not admitted yet.
	c := NewClient(h, pumplessConn(t))
	h.handleSubscribe(c, stomp.Request{
		Command: stomp.CmdSubscribe,
		Headers: map[string]string{"destination": "/topic/rooms/1/messages", "id": "sub-0"},
	})

	h.mu.Lock()
	_, present := h.subs[c]
	h.mu.Unlock()
	require.True(t, present)

	// Removal of a client that never entered clients (rejected at the
	// connection limit) must still drop the entry.
	h.removeClient(c)

	h.mu.Lock()
	_, present = h.subs[c]
	h.mu.Unlock()
	assert.False(t, present)
}
