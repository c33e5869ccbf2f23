package livelocation

import (
	"encoding/json"
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

	"github.com/ssafy13th-common/glml-chat/internal/model"
	"github.com/ssafy13th-common/glml-chat/internal/transport"
)

// locationServer accepts location sockets, records the presented token,
// and exposes the raw connections.
type locationServer struct {
	*httptest.Server
	upgrader websocket.Upgrader
	tokens   chan string
	conns    chan *websocket.Conn
	reports  chan model.LocationReport
}

func newLocationServer(t *testing.T) *locationServer {
	t.Helper()
	s := &locationServer{
		tokens:  make(chan string, 4),
		conns:   make(chan *websocket.Conn, 4),
		reports: make(chan model.LocationReport, 16),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.tokens <- r.URL.Query().Get("accessToken")
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
			var rep model.LocationReport
			if json.Unmarshal(raw, &rep) == nil {
				s.reports <- rep
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *locationServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func waitConnected(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("never connected")
	}
}

func TestTokenTravelsAsQueryParam(t *testing.T) {
	srv := newLocationServer(t)

	connected := make(chan struct{}, 1)
	c := New(Options{
		URL:         srv.wsURL(),
		AccessToken: "tok-abc",
		OnConnected: func() { connected <- struct{}{} },
	})
	defer c.Close()
	c.Connect()
	waitConnected(t, connected)

	assert.Equal(t, "tok-abc", <-srv.tokens)
}

func TestUpdatesBroadcast(t *testing.T) {
	srv := newLocationServer(t)

	connected := make(chan struct{}, 1)
	c := New(Options{
		URL:         srv.wsURL(),
		AccessToken: "tok",
		OnConnected: func() { connected <- struct{}{} },
	})
	defer c.Close()
	sub1 := c.Updates()
	sub2 := c.Updates()
	c.Connect()
	waitConnected(t, connected)

	ws := <-srv.conns
	upd := model.LocationUpdate{
		GroupID:     "g1",
		MemberEmail: "alice@example.com",
		Latitude:    33.38,
		Longitude:   126.53,
		Timestamp:   "2026-08-28T10:00:00Z",
		LateFee:     200,
	}
	require.NoError(t, ws.WriteJSON(upd))
	// A malformed payload in between must not kill the stream.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("garbage")))
	upd2 := upd
	upd2.MemberEmail = "bob@example.com"
	require.NoError(t, ws.WriteJSON(upd2))

	for i, sub := range []<-chan model.LocationUpdate{sub1, sub2} {
		select {
		case got := <-sub:
			assert.Equal(t, "alice@example.com", got.MemberEmail, "subscriber %d", i+1)
			assert.Equal(t, int64(200), got.LateFee)
		case <-time.After(3 * time.Second):
			t.Fatalf("subscriber %d never saw the update", i+1)
		}
		select {
		case got := <-sub:
			assert.Equal(t, "bob@example.com", got.MemberEmail, "subscriber %d", i+1)
		case <-time.After(3 * time.Second):
			t.Fatalf("subscriber %d never saw the second update", i+1)
		}
	}
}

func TestReportSendsJSON(t *testing.T) {
	srv := newLocationServer(t)

	connected := make(chan struct{}, 1)
	c := New(Options{
		URL:         srv.wsURL(),
		AccessToken: "tok",
		OnConnected: func() { connected <- struct{}{} },
	})
	defer c.Close()
	c.Connect()
	waitConnected(t, connected)

	require.NoError(t, c.Report(model.LocationReport{GroupID: "g1", Latitude: 1.5, Longitude: 2.5}))
	select {
	case rep := <-srv.reports:
		assert.Equal(t, "g1", rep.GroupID)
		assert.InDelta(t, 1.5, rep.Latitude, 0.0001)
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the report")
	}
}

func TestReportBeforeConnect(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/ws", AccessToken: "tok"})
	err := c.Report(model.LocationReport{GroupID: "g1"})
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestReconnectRedialsWithToken(t *testing.T) {
	srv := newLocationServer(t)

	var dials atomic.Int32
	c := New(Options{
		URL:            srv.wsURL(),
		AccessToken:    "tok-re",
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		OnConnected:    func() { dials.Add(1) },
	})
	defer c.Close()
	c.Connect()

	ws := <-srv.conns
	<-srv.tokens
	ws.Close()

	deadline := time.Now().Add(3 * time.Second)
	for dials.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.GreaterOrEqual(t, dials.Load(), int32(2))
	assert.Equal(t, "tok-re", <-srv.tokens)
}

func TestCloseClosesUpdateStream(t *testing.T) {
	srv := newLocationServer(t)

	connected := make(chan struct{}, 1)
	c := New(Options{
		URL:         srv.wsURL(),
		AccessToken: "tok",
		OnConnected: func() { connected <- struct{}{} },
	})
	sub := c.Updates()
	c.Connect()
	waitConnected(t, connected)

	c.Close()
	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("update stream never closed")
	}
}

// An update in flight while the caller closes the client must never hit a
// closed subscriber channel.
func TestBroadcastRacingCloseDoesNotPanic(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := New(Options{URL: "ws://127.0.0.1:1/ws", AccessToken: "tok"})
		for j := 0; j < 4; j++ {
			ch := c.Updates()
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
				c.broadcast(model.LocationUpdate{GroupID: "g1"})
			}
		}()
		go func() {
			defer wg.Done()
			c.Close()
		}()
		wg.Wait()
	}
}
