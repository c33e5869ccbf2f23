package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssafy13th-common/glml-chat/internal/stomp"
)

// stompServer is a minimal broker-side endpoint for connection tests: it
// answers CONNECT with CONNECTED and exposes the sockets it accepted.
type stompServer struct {
	*httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	inbound  chan string
}

func newStompServer(t *testing.T) *stompServer {
	t.Helper()
	s := &stompServer{
		conns:   make(chan *websocket.Conn, 4),
		inbound: make(chan string, 16),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- ws
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg := string(raw)
			if strings.HasPrefix(msg, stomp.CmdConnect+"\n") {
				connected := stomp.Encode(stomp.CmdConnected, []stomp.Header{
					{Key: "version", Value: "1.2"},
				}, "")
				_ = ws.WriteMessage(websocket.TextMessage, []byte(connected))
				continue
			}
			s.inbound <- msg
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *stompServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func waitState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st, ok := <-states:
			if !ok {
				t.Fatalf("state stream closed while waiting for %s", want)
			}
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestConnectHandshake(t *testing.T) {
	srv := newStompServer(t)

	connected := make(chan struct{}, 4)
	c := NewConn(Options{
		URL:         srv.wsURL(),
		OnConnected: func() { connected <- struct{}{} },
	})
	states := c.States()
	defer c.Close()

	c.Connect()
	waitState(t, states, StateConnected)

	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("OnConnected never fired")
	}
	assert.Equal(t, StateConnected, c.State())
}

func TestFrameBroadcastFanOut(t *testing.T) {
	srv := newStompServer(t)

	c := NewConn(Options{URL: srv.wsURL()})
	states := c.States()
	sub1 := c.Frames()
	sub2 := c.Frames()
	defer c.Close()

	c.Connect()
	waitState(t, states, StateConnected)

	ws := <-srv.conns
	msg := stomp.Encode(stomp.CmdMessage, []stomp.Header{
		{Key: "destination", Value: "/topic/rooms/1/messages"},
	}, `{"messageId":"m1"}`)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))

	for i, sub := range []<-chan stomp.Frame{sub1, sub2} {
		found := false
		timeout := time.After(3 * time.Second)
		for !found {
			select {
			case f := <-sub:
				if f.Type == stomp.FrameMessage {
					assert.Equal(t, `{"messageId":"m1"}`, f.Body)
					found = true
				}
			case <-timeout:
				t.Fatalf("subscriber %d never saw the MESSAGE frame", i+1)
			}
		}
	}
}

func TestSubscribeAndSendFrames(t *testing.T) {
	srv := newStompServer(t)

	c := NewConn(Options{URL: srv.wsURL()})
	states := c.States()
	defer c.Close()
	c.Connect()
	waitState(t, states, StateConnected)

	require.NoError(t, c.Subscribe("/topic/rooms/9/messages", "sub-1"))
	require.NoError(t, c.Send("/app/rooms/9/messages", `{"content":"hi"}`))

	raw := <-srv.inbound
	req := stomp.DecodeRequest(raw)
	assert.Equal(t, stomp.CmdSubscribe, req.Command)
	assert.Equal(t, "sub-1", req.Headers["id"])
	assert.Equal(t, "/topic/rooms/9/messages", req.Headers["destination"])

	raw = <-srv.inbound
	req = stomp.DecodeRequest(raw)
	assert.Equal(t, stomp.CmdSend, req.Command)
	assert.Equal(t, "/app/rooms/9/messages", req.Headers["destination"])
	assert.Equal(t, "16", req.Headers["content-length"])
	assert.Equal(t, `{"content":"hi"}`, req.Body)
}

func TestSendBeforeConnect(t *testing.T) {
	c := NewConn(Options{URL: "ws://127.0.0.1:1/ws"})
	assert.ErrorIs(t, c.Send("/app/rooms/1/messages", "{}"), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe("/topic/rooms/1/messages", ""), ErrNotConnected)
}

func TestReconnectAfterServerDrop(t *testing.T) {
	srv := newStompServer(t)

	var handshakes atomic.Int32
	c := NewConn(Options{
		URL:            srv.wsURL(),
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		OnConnected:    func() { handshakes.Add(1) },
	})
	states := c.States()
	defer c.Close()

	c.Connect()
	waitState(t, states, StateConnected)

	ws := <-srv.conns
	ws.Close()

	waitState(t, states, StateFailed)
	waitState(t, states, StateConnected)
	assert.GreaterOrEqual(t, handshakes.Load(), int32(2))
}

func TestCloseSuppressesReconnect(t *testing.T) {
	srv := newStompServer(t)

	var failures atomic.Int32
	c := NewConn(Options{
		URL:            srv.wsURL(),
		InitialBackoff: 10 * time.Millisecond,
		OnFailure:      func(error) { failures.Add(1) },
	})
	states := c.States()
	frames := c.Frames()

	c.Connect()
	waitState(t, states, StateConnected)

	c.Close()
	assert.Equal(t, StateClosed, c.State())

	// Both streams close, no reconnect kicks in.
	for range frames {
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, int32(0), failures.Load())
}

func TestMaxRetriesParksInFailed(t *testing.T) {
	var failures atomic.Int32
	c := NewConn(Options{
		URL:            "ws://127.0.0.1:1/ws", // nothing listens here
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		MaxRetries:     2,
		OnFailure:      func(error) { failures.Add(1) },
	})
	defer c.Close()

	c.Connect()
	deadline := time.Now().Add(3 * time.Second)
	for failures.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, int32(2), failures.Load())

	// No third attempt after the ceiling.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), failures.Load())
	assert.Equal(t, StateFailed, c.State())
}

func TestFallbackDial(t *testing.T) {
	srv := newStompServer(t)

	c := NewConn(Options{
		URL:         "ws://127.0.0.1:1/ws", // primary refuses
		FallbackURL: srv.wsURL(),
	})
	states := c.States()
	defer c.Close()

	c.Connect()
	waitState(t, states, StateConnected)
}

// A frame in flight while the caller tears the connection down must never
// hit a closed subscriber channel.
func TestBroadcastRacingCloseDoesNotPanic(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := NewConn(Options{URL: "ws://127.0.0.1:1/ws"})
		for j := 0; j < 4; j++ {
			ch := c.Frames()
			go func() {
				for range ch {
				}
			}()
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.broadcast(stomp.Frame{Type: stomp.FrameMessage, Body: "race"})
			}
		}()
		go func() {
			defer wg.Done()
			c.Close()
		}()
		wg.Wait()
	}
}
