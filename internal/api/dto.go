package api

// DTOs shared between the daemon's control API and its clients (ctl and
// tui). Timestamps are unix milliseconds throughout.

type StatusResponse struct {
	Profile       string `json:"profile"`
	UserID        string `json:"userId"`
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	ChatCount     int    `json:"chatCount"`
	MessageCount  int    `json:"messageCount"`
	Warning       string `json:"warning,omitempty"`
}

type ChatResponse struct {
	ChatID         string `json:"chatId"`
	DisplayName    string `json:"displayName"`
	AvatarRef      string `json:"avatarRef,omitempty"`
	UnreadCount    int    `json:"unreadCount"`
	LastActivityAt int64  `json:"lastActivityAt"`
	LastMessage    string `json:"lastMessage,omitempty"`
}

type MessageResponse struct {
	LocalID    string `json:"localId"`
	ServerID   string `json:"serverId,omitempty"`
	ChatID     string `json:"chatId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Body       string `json:"body"`
	IsOwn      bool   `json:"isOwn"`
	Delivery   string `json:"delivery"`
	SentAt     int64  `json:"sentAt"`
}

type SendRequest struct {
	ChatID string `json:"chatId"`
	Body   string `json:"body"`
}

type UserResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type PromoteRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type SearchResultResponse struct {
	Message MessageResponse `json:"message"`
	Snippet string          `json:"snippet"`
}

// EventResponse frames a bus event for the SSE tail.
type EventResponse struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}
