package chat

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssafy13th-common/glml-chat/internal/logger"
	"github.com/ssafy13th-common/glml-chat/internal/model"
	"github.com/ssafy13th-common/glml-chat/internal/stomp"
	"github.com/ssafy13th-common/glml-chat/internal/transport"
)

// DefaultRefreshInterval is the periodic RefreshHead cadence. It papers
// over frames missed across reconnects, so it stays independent of the
// live stream.
const DefaultRefreshInterval = 30 * time.Second

// Backend is the REST collaborator surface a session needs.
type Backend interface {
	HistoryClient
	ReportRead(ctx context.Context, roomID, messageID string) error
}

// SessionConfig configures a room session.
type SessionConfig struct {
	RoomID   string
	SelfID   string
	PageSize int

	// WSURL is the primary chat socket endpoint; WSFallbackURL is tried
	// once per attempt after a primary dial failure.
	WSURL         string
	WSFallbackURL string

	Backend Backend

	ReportInterval  time.Duration
	RefreshInterval time.Duration
	SendTimeout     time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int

	// Dialer may be shared across sessions; each session still owns
	// exactly one connection.
	Dialer *websocket.Dialer

	// OnUpdate receives a fresh snapshot after every store mutation.
	OnUpdate func(model.RoomSnapshot)
}

// Session is one active room: one connection, one store, one reporter.
// Created on room entry, torn down by Leave on room exit.
type Session struct {
	cfg      SessionConfig
	store    *Store
	conn     *transport.Conn
	reporter *Reporter

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu        sync.Mutex
	connected int // CONNECTED handshakes seen
}

// EnterRoom loads page 0 of history, then connects the socket and starts
// the reporter and refresh loops. A history failure propagates and no
// session is created.
func EnterRoom(ctx context.Context, cfg SessionConfig) (*Session, error) {
	s := &Session{cfg: cfg}
	s.store = NewStore(cfg.SelfID, cfg.Backend, s, cfg.SendTimeout)
	s.store.OnUpdate = cfg.OnUpdate
	s.reporter = NewReporter(s.store, cfg.Backend.ReportRead, cfg.ReportInterval)

	if err := s.store.InitRoom(ctx, cfg.RoomID, cfg.PageSize); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.store.OnPeerMessage = func(model.Message) {
		// Immediate report for a peer message; failures wait for the tick.
		go s.reporter.ReportNow(runCtx)
	}

	s.conn = transport.NewConn(transport.Options{
		URL:            cfg.WSURL,
		FallbackURL:    cfg.WSFallbackURL,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		MaxRetries:     cfg.MaxRetries,
		Dialer:         cfg.Dialer,
		OnConnected:    func() { s.onConnected(runCtx) },
		OnFailure:      func(error) { s.store.SetConnected(false) },
	})

	frames := s.conn.Frames()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.eventLoop(frames)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reporter.Run(runCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refreshLoop(runCtx)
	}()

	s.conn.Connect()
	return s, nil
}

// onConnected re-subscribes the room topics. Subscriptions do not survive
// the socket, so this runs on every CONNECTED, not only the first.
func (s *Session) onConnected(ctx context.Context) {
	if err := s.conn.Subscribe(TopicMessages(s.cfg.RoomID), ""); err != nil {
		logger.Errorf("chat: subscribe messages room=%s: %v", s.cfg.RoomID, err)
	}
	if err := s.conn.Subscribe(TopicRead(s.cfg.RoomID), ""); err != nil {
		logger.Errorf("chat: subscribe read room=%s: %v", s.cfg.RoomID, err)
	}
	s.store.SetConnected(true)

	s.mu.Lock()
	s.connected++
	reconnect := s.connected > 1
	s.mu.Unlock()
	if reconnect {
		// No ordering guarantee across the gap; reconcile from page 0.
		go func() {
			if err := s.store.RefreshHead(ctx); err != nil {
				logger.Errorf("chat: refresh after reconnect room=%s: %v", s.cfg.RoomID, err)
			}
		}()
	}
}

// eventLoop routes decoded domain events into the store. It exits when
// the connection closes the frame stream.
func (s *Session) eventLoop(frames <-chan stomp.Frame) {
	for ev := range Dispatch(frames) {
		switch ev.Kind {
		case KindChat:
			if ev.Chat.RoomID == s.cfg.RoomID {
				s.store.OnIncomingMessage(*ev.Chat)
			}
		case KindRead:
			if ev.Read.RoomID == s.cfg.RoomID {
				s.store.OnReadUpdate(*ev.Read)
			}
		case KindOpaque:
			logger.Debugf("chat: opaque payload room=%s: %q", s.cfg.RoomID, ev.Raw)
		case KindError:
			logger.Errorf("chat: %v", ev.Err)
		}
	}
}

// Send satisfies FrameSender for the store.
func (s *Session) Send(destination, body string) error {
	return s.conn.Send(destination, body)
}

// SendMessage is the UI-facing send operation. The message gets a
// temporary identifier and materializes via its echo on the message
// topic, or via RefreshHead.
func (s *Session) SendMessage(content string) (string, error) {
	return s.store.SendMessage(content)
}

// LoadOlder appends the next older history page.
func (s *Session) LoadOlder(ctx context.Context) error {
	return s.store.LoadHistory(ctx, false)
}

// Snapshot returns the current reconciled room state.
func (s *Session) Snapshot() model.RoomSnapshot {
	return s.store.Snapshot()
}

// Leave cancels the reporter and refresh loops, then closes the
// connection caller-side so no reconnect follows. Blocks until the
// background loops exit. Safe to call more than once.
func (s *Session) Leave() {
	s.once.Do(func() {
		s.cancel()
		s.conn.Close()
		s.wg.Wait()
	})
}

func (s *Session) refreshLoop(ctx context.Context) {
	interval := s.cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.RefreshHead(ctx); err != nil {
				// Transient; the next tick retries.
				logger.Debugf("chat: refresh head room=%s: %v", s.cfg.RoomID, err)
			}
		}
	}
}
