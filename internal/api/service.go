// Package api serves the daemon's control surface over the profile's
// Unix socket: status, chats, streams, sends, and an SSE event tail.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"
	"go.uber.org/zap"

	"github.com/matfraga/papo/internal/bus"
	"github.com/matfraga/papo/internal/composer"
	"github.com/matfraga/papo/internal/directory"
	"github.com/matfraga/papo/internal/rest"
	"github.com/matfraga/papo/internal/status"
	"github.com/matfraga/papo/internal/store"
	"github.com/matfraga/papo/internal/stream"
	syncengine "github.com/matfraga/papo/internal/sync"
)

type Service struct {
	profile  string
	userID   string
	machine  *status.Machine
	engine   *syncengine.Engine
	composer *composer.Composer
	dir      *directory.Directory
	db       *store.DB
	rest     *rest.Client
	bus      *bus.Bus
	logger   *zap.Logger
	started  time.Time

	warnMu      sync.RWMutex
	lastWarning string
}

func NewService(
	profileName, userID string,
	machine *status.Machine,
	engine *syncengine.Engine,
	comp *composer.Composer,
	dir *directory.Directory,
	db *store.DB,
	restClient *rest.Client,
	b *bus.Bus,
	logger *zap.Logger,
) *Service {
	return &Service{
		profile:  profileName,
		userID:   userID,
		machine:  machine,
		engine:   engine,
		composer: comp,
		dir:      dir,
		db:       db,
		rest:     restClient,
		bus:      b,
		logger:   logger.Named("api"),
		started:  time.Now(),
	}
}

// Run tracks session warnings (broker ERROR frames, failed connects) so
// the status endpoint can report the most recent one. Intended as a
// daemon-lifetime goroutine.
func (s *Service) Run(ctx context.Context) {
	events, unsub := s.bus.Subscribe(bus.KindWarning, 16)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if w, ok := ev.Payload.(string); ok {
				s.warnMu.Lock()
				s.lastWarning = w
				s.warnMu.Unlock()
			}
		}
	}
}

// Register mounts every route on the echo instance.
func (s *Service) Register(e *echo.Echo) {
	g := e.Group("/v1")
	g.GET("/status", s.getStatus)
	g.GET("/chats", s.listChats)
	g.POST("/chats/:id/open", s.openChat)
	g.POST("/chats/:id/close", s.closeChat)
	g.GET("/chats/:id/messages", s.listMessages)
	g.POST("/messages", s.sendMessage)
	g.GET("/users/search", s.searchUsers)
	g.POST("/users/promote", s.promoteUser)
	g.GET("/search/messages", s.searchMessages)
	g.GET("/events", s.streamEvents)
}

func (s *Service) getStatus(c *echo.Context) error {
	resp := StatusResponse{
		Profile:       s.profile,
		UserID:        s.userID,
		State:         string(s.machine.Current()),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if n, err := s.db.ChatCount(); err == nil {
		resp.ChatCount = n
	}
	if n, err := s.db.MessageCount(); err == nil {
		resp.MessageCount = n
	}
	s.warnMu.RLock()
	resp.Warning = s.lastWarning
	s.warnMu.RUnlock()
	if resp.Warning == "" {
		if err := s.dir.SeedError(); err != nil {
			resp.Warning = fmt.Sprintf("chat list snapshot unavailable: %v", err)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Service) listChats(c *echo.Context) error {
	chats := s.dir.Chats()
	resp := make([]ChatResponse, 0, len(chats))
	for _, chat := range chats {
		resp = append(resp, toChatResponse(chat))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Service) openChat(c *echo.Context) error {
	chatID := c.Param("id")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat id required")
	}
	msgs, err := s.engine.OpenChat(c.Request().Context(), chatID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return echo.NewHTTPError(http.StatusRequestTimeout, "open canceled")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, toMessageResponses(msgs))
}

func (s *Service) closeChat(c *echo.Context) error {
	chatID := c.Param("id")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat id required")
	}
	s.engine.CloseChat(chatID)
	return c.NoContent(http.StatusNoContent)
}

// listMessages returns the live stream for open chats and falls back to
// the cache for closed ones.
func (s *Service) listMessages(c *echo.Context) error {
	chatID := c.Param("id")
	msgs, err := s.engine.Snapshot(chatID)
	if err == nil {
		return c.JSON(http.StatusOK, toMessageResponses(msgs))
	}
	if !errors.Is(err, stream.ErrNotOpen) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	cached, err := s.db.ListMessages(chatID, 0, 100)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// Cache lists newest first; the API contract is display order.
	for i, j := 0, len(cached)-1; i < j; i, j = i+1, j-1 {
		cached[i], cached[j] = cached[j], cached[i]
	}
	return c.JSON(http.StatusOK, toMessageResponses(cached))
}

func (s *Service) sendMessage(c *echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ChatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chatId required")
	}

	m, err := s.composer.Compose(req.ChatID, req.Body)
	if errors.Is(err, composer.ErrEmptyMessage) {
		return echo.NewHTTPError(http.StatusBadRequest, "message is empty")
	}
	if errors.Is(err, stream.ErrNotOpen) {
		return echo.NewHTTPError(http.StatusConflict, "chat is not open")
	}
	if err != nil {
		// The send failed but the message exists as a failed entry; report
		// both so the client can render it.
		return c.JSON(http.StatusBadGateway, toMessageResponse(*m))
	}
	return c.JSON(http.StatusAccepted, toMessageResponse(*m))
}

func (s *Service) searchUsers(c *echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	users, err := s.rest.SearchUsers(c.Request().Context(), query)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, UserResponse{ID: u.ID, Name: u.Name, Avatar: u.Avatar})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Service) promoteUser(c *echo.Context) error {
	var req PromoteRequest
	if err := c.Bind(&req); err != nil || req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id required")
	}
	chat := s.engine.Promote(store.User{ID: req.ID, Name: req.Name, Avatar: req.Avatar})
	return c.JSON(http.StatusOK, toChatResponse(*chat))
}

func (s *Service) searchMessages(c *echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	results, err := s.db.SearchMessages(query, c.QueryParam("chat"), 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]SearchResultResponse, 0, len(results))
	for _, r := range results {
		resp = append(resp, SearchResultResponse{
			Message: toMessageResponse(r.Message),
			Snippet: r.Snippet,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// streamEvents tails the bus as server-sent events until the client
// disconnects.
func (s *Service) streamEvents(c *echo.Context) error {
	rw := c.Response()
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)

	prefix := c.QueryParam("prefix")
	events, unsub := s.bus.Subscribe(prefix, 64)
	defer unsub()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			data, err := json.Marshal(EventResponse{
				Kind:      ev.Kind,
				Timestamp: ev.Timestamp.UnixMilli(),
				Payload:   ev.Payload,
			})
			if err != nil {
				s.logger.Warn("event marshal", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(rw, "data: %s\n\n", data); err != nil {
				return nil
			}
			if f, ok := rw.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

func toChatResponse(c store.Chat) ChatResponse {
	return ChatResponse{
		ChatID:         c.ChatID,
		DisplayName:    c.DisplayName,
		AvatarRef:      c.AvatarRef,
		UnreadCount:    c.UnreadCount,
		LastActivityAt: c.LastActivityAt,
		LastMessage:    c.LastMessagePreview,
	}
}

func toMessageResponse(m store.Message) MessageResponse {
	return MessageResponse{
		LocalID:    m.LocalID,
		ServerID:   m.ServerID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Body:       m.Body,
		IsOwn:      m.IsOwn,
		Delivery:   m.Delivery,
		SentAt:     m.SentAt,
	}
}

func toMessageResponses(msgs []store.Message) []MessageResponse {
	resp := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toMessageResponse(m))
	}
	return resp
}
