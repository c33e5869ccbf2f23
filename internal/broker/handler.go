package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ssafy13th-common/glml-chat/internal/config"
	"github.com/ssafy13th-common/glml-chat/internal/logger"
	"github.com/ssafy13th-common/glml-chat/internal/middleware"
	"github.com/ssafy13th-common/glml-chat/internal/storage"
)

// Handler wires the broker's HTTP surface: the two WebSocket endpoints,
// the REST collaborator endpoints, and /metrics.
type Handler struct {
	hub            *Hub
	locations      *LocationHub
	store          storage.HistoryStore
	cfg            config.BrokerConfig
	allowedOrigins string
	gatherer       prometheus.Gatherer
}

func NewHandler(hub *Hub, locations *LocationHub, store storage.HistoryStore, cfg config.BrokerConfig, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		hub:            hub,
		locations:      locations,
		store:          store,
		cfg:            cfg,
		allowedOrigins: strings.TrimSpace(cfg.CORSAllowedOrigins),
		gatherer:       gatherer,
	}
}

// Router builds the chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog)
	r.Use(middleware.RecoverJSON)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(h.allowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-User-Email"},
		AllowCredentials: false,
	}))

	r.Get("/ws/chat", h.serveChatWS)
	r.Get("/ws/live-location", h.serveLocationWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitAPI)
		r.Get("/rooms", h.listRooms)
		r.Post("/rooms", h.createRoom)
		r.Get("/rooms/{roomID}/messages", h.history)
		r.Post("/rooms/{roomID}/read", h.markRead)
		r.Post("/groups/{groupID}/meeting", h.setMeeting)
	})

	r.Method(http.MethodGet, "/metrics",
		middleware.InternalOnly(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	return r
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Handler) serveChatWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	up := h.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("broker: ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(h.hub, conn)
	// Register before the pumps start so a SUBSCRIBE arriving immediately
	// after the upgrade finds the client known to the hub.
	h.hub.Register(client)
	client.Start(ctx, cancel)
}

func (h *Handler) serveLocationWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("accessToken")
	if token == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	email, err := VerifyAccessToken(h.cfg.JWTSecret, token)
	if err != nil {
		logger.Errorf("broker: location token: %v", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	up := h.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("broker: location upgrade: %v", err)
		return
	}
	go h.locations.Serve(context.Background(), conn, email)
}

// listRooms answers the room listing. No rooms is signaled as 400, the
// application-level "no data" convention the client relies on.
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.Rooms(r.Context())
	if err != nil {
		logger.Errorf("broker: list rooms: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(rooms) == 0 {
		writeError(w, http.StatusBadRequest, "no rooms")
		return
	}
	writeJSON(w, http.StatusOK, response{Message: "ok", Data: rooms})
}

type createRoomRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeBody(r, &req); err != nil || req.ID == "" {
		writeError(w, http.StatusUnprocessableEntity, "id required")
		return
	}
	if req.Name == "" {
		req.Name = req.ID
	}
	if err := h.store.CreateRoom(r.Context(), req.ID, req.Name); err != nil {
		logger.Errorf("broker: create room %s: %v", req.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, response{Message: "created"})
}

// historyData mirrors the wire shape the client's REST layer decodes.
type historyData struct {
	Messages []historyMessage `json:"messages"`
	Members  []storage.Member `json:"members"`
	Page     int              `json:"page"`
	Size     int              `json:"size"`
	Total    int              `json:"total"`
}

type historyMessage struct {
	MessageID string `json:"messageId"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
	ReadCount int    `json:"readCount"`
}

// history serves one page. An unknown room is 400, not 404: same "no
// data" convention as the listing.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 30)
	if size <= 0 || size > 100 {
		size = 30
	}

	exists, err := h.store.RoomExists(r.Context(), roomID)
	if err != nil {
		logger.Errorf("broker: room exists %s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !exists {
		writeError(w, http.StatusBadRequest, "no such room")
		return
	}

	msgs, total, err := h.store.History(r.Context(), roomID, page, size)
	if err != nil {
		logger.Errorf("broker: history %s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	members, err := h.store.Members(r.Context(), roomID)
	if err != nil {
		logger.Errorf("broker: members %s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	data := historyData{
		Messages: make([]historyMessage, 0, len(msgs)),
		Members:  members,
		Page:     page,
		Size:     size,
		Total:    total,
	}
	for _, m := range msgs {
		data.Messages = append(data.Messages, historyMessage{
			MessageID: m.ID,
			Sender:    m.Sender,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			ReadCount: m.ReadCount,
		})
	}
	writeJSON(w, http.StatusOK, response{Message: "ok", Data: data})
}

type readRequest struct {
	MessageID string `json:"messageId"`
}

// markRead advances the caller's read position and pushes receipt events
// to the room's read topic.
func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	reader := h.callerEmail(r)
	if reader == "" {
		writeError(w, http.StatusUnauthorized, "unknown reader")
		return
	}
	var req readRequest
	if err := decodeBody(r, &req); err != nil || req.MessageID == "" {
		writeError(w, http.StatusUnprocessableEntity, "messageId required")
		return
	}

	changed, err := h.store.MarkRead(r.Context(), roomID, req.MessageID, reader)
	if err != nil {
		logger.Errorf("broker: mark read room=%s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(changed) > 0 {
		h.hub.BroadcastRead(roomID, changed)
	}
	writeJSON(w, http.StatusOK, response{Message: "ok"})
}

type meetingRequest struct {
	Time string `json:"time"`
}

// setMeeting sets a group's meeting time, the reference for late fees.
func (h *Handler) setMeeting(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	var req meetingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "bad body")
		return
	}
	if req.Time == "" {
		h.locations.SetMeeting(groupID, time.Time{})
		writeJSON(w, http.StatusOK, response{Message: "cleared"})
		return
	}
	t, err := time.Parse(time.RFC3339, req.Time)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "time must be RFC 3339")
		return
	}
	h.locations.SetMeeting(groupID, t)
	writeJSON(w, http.StatusOK, response{Message: "ok"})
}

// callerEmail resolves the caller identity: a bearer access token wins,
// the X-User-Email header is the development fallback.
func (h *Handler) callerEmail(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		if email, err := VerifyAccessToken(h.cfg.JWTSecret, strings.TrimPrefix(auth, "Bearer ")); err == nil {
			return email
		}
	}
	return strings.TrimSpace(r.Header.Get("X-User-Email"))
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
