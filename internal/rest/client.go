// Package rest talks to the application server's HTTP API: the chat
// summary used to seed the directory, per-chat history, and user search.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matfraga/papo/internal/store"
)

// FetchError reports a non-2xx response from the application server.
type FetchError struct {
	Status int
	Path   string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("rest: %s returned %d", e.Path, e.Status)
}

// Client is an HTTP client for the application server.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		base:   baseURL,
		token:  token,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.Named("rest"),
	}
}

type chatSummaryDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	LastMessage string `json:"lastMessage"`
	Time        string `json:"time"`
}

type messageDTO struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
	Time       string `json:"time"`
}

type userDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// LoadSummary fetches the chat list snapshot for the local user.
func (c *Client) LoadSummary(ctx context.Context, userID string) ([]store.Chat, error) {
	var dtos []chatSummaryDTO
	path := fmt.Sprintf("/messages/chats/%s/summary", url.PathEscape(userID))
	if err := c.getJSON(ctx, path, &dtos); err != nil {
		return nil, err
	}

	chats := make([]store.Chat, 0, len(dtos))
	for _, d := range dtos {
		counterpart := d.UserID
		if counterpart == "" {
			counterpart = d.ID
		}
		chats = append(chats, store.Chat{
			ChatID:             counterpart,
			DisplayName:        d.Name,
			AvatarRef:          d.Avatar,
			LastActivityAt:     parseTime(d.Time),
			LastMessagePreview: d.LastMessage,
		})
	}
	return chats, nil
}

// FetchHistory fetches the message history between the local user and a
// counterpart, oldest first.
func (c *Client) FetchHistory(ctx context.Context, userID, counterpartID string) ([]*store.Message, error) {
	var dtos []messageDTO
	path := fmt.Sprintf("/messages/chats/%s/%s", url.PathEscape(userID), url.PathEscape(counterpartID))
	if err := c.getJSON(ctx, path, &dtos); err != nil {
		return nil, err
	}

	msgs := make([]*store.Message, 0, len(dtos))
	for _, d := range dtos {
		msgs = append(msgs, &store.Message{
			ChatID:     counterpartID,
			LocalID:    uuid.NewString(),
			ServerID:   d.ID,
			SenderID:   d.SenderID,
			ReceiverID: d.ReceiverID,
			Body:       d.Message,
			IsOwn:      d.SenderID == userID,
			Delivery:   store.DeliveryConfirmed,
			SentAt:     parseTime(d.Time),
		})
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].SentAt < msgs[j].SentAt })
	return msgs, nil
}

// SearchUsers queries the user directory by name fragment.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]store.User, error) {
	var dtos []userDTO
	path := "/users/chat/search?query=" + url.QueryEscape(query)
	if err := c.getJSON(ctx, path, &dtos); err != nil {
		return nil, err
	}

	users := make([]store.User, 0, len(dtos))
	for _, d := range dtos {
		users = append(users, store.User{ID: d.ID, Name: d.Name, Avatar: d.Avatar})
	}
	return users, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		c.logger.Warn("request failed", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return &FetchError{Status: resp.StatusCode, Path: path}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseTime(raw string) int64 {
	if raw == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UnixMilli()
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return ms
	}
	return 0
}
