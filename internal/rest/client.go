// Package rest is the client for the backend collaborator endpoints the
// chat core consumes: paginated history, read-status reports, and room
// listing. It replicates the backend's application-level convention of
// answering "no data" with HTTP 400 on the read endpoints; a 400 there is
// an empty result, not an error. Any other non-2xx status is a hard error.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ssafy13th-common/glml-chat/internal/model"
)

// Client talks to the chat backend. The zero value is not usable; use New.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAuthToken sets a bearer token attached to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// WithHTTPClient substitutes the underlying HTTP client (tests, custom
// transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a backend client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the backend's uniform response wrapper.
type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type historyData struct {
	Messages []historyMessage    `json:"messages"`
	Members  []model.Participant `json:"members"`
	Page     int                 `json:"page"`
	Size     int                 `json:"size"`
	Total    int                 `json:"total"`
}

type historyMessage struct {
	MessageID string `json:"messageId"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
	ReadCount int    `json:"readCount"`
}

// History fetches one page of a room's message history. Page 0 is the most
// recent window; messages within the payload are newest-first. A 400
// response yields an empty page echoing the requested page/size with
// total 0.
func (c *Client) History(ctx context.Context, roomID string, page, size int) (model.HistoryPage, error) {
	u := c.baseURL + "/api/v1/rooms/" + roomID + "/messages?page=" + strconv.Itoa(page) + "&size=" + strconv.Itoa(size)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.HistoryPage{}, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.HistoryPage{}, fmt.Errorf("history fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		// Backend convention: no data, not an error.
		return model.HistoryPage{Page: page, Size: size}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return model.HistoryPage{}, fmt.Errorf("history fetch: status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return model.HistoryPage{}, fmt.Errorf("history decode: %w", err)
	}
	var data historyData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return model.HistoryPage{}, fmt.Errorf("history decode: %w", err)
	}

	hp := model.HistoryPage{
		Messages: make([]model.Message, 0, len(data.Messages)),
		Members:  data.Members,
		Page:     data.Page,
		Size:     data.Size,
		Total:    data.Total,
	}
	for _, m := range data.Messages {
		hp.Messages = append(hp.Messages, model.Message{
			ID:        m.MessageID,
			RoomID:    roomID,
			SenderID:  m.Sender,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			ReadCount: m.ReadCount,
			Status:    model.MessageStatusDelivered,
		})
	}
	return hp, nil
}

type readReportRequest struct {
	MessageID string `json:"messageId"`
}

// ReportRead posts the latest read message for a room.
func (c *Client) ReportRead(ctx context.Context, roomID, messageID string) error {
	body, err := json.Marshal(readReportRequest{MessageID: messageID})
	if err != nil {
		return err
	}
	u := c.baseURL + "/api/v1/rooms/" + roomID + "/read"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("read report: status %d", resp.StatusCode)
	}
	return nil
}

// Rooms lists the rooms visible to the caller. As with History, a 400
// means an empty listing.
func (c *Client) Rooms(ctx context.Context) ([]model.RoomInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/rooms", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("room listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return []model.RoomInfo{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("room listing: status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("room listing decode: %w", err)
	}
	var rooms []model.RoomInfo
	if err := json.Unmarshal(env.Data, &rooms); err != nil {
		return nil, fmt.Errorf("room listing decode: %w", err)
	}
	return rooms, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}
