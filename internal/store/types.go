package store

// Delivery states for a message. A message is never deleted in-session;
// the worst that happens to it is "failed".
const (
	DeliveryPending   = "pending"
	DeliveryConfirmed = "confirmed"
	DeliveryFailed    = "failed"
)

// Chat is a directory entry for a one-to-one conversation. The chat id IS
// the counterpart user id; no separate thread id exists in this protocol.
type Chat struct {
	ChatID             string
	DisplayName        string
	AvatarRef          string
	UnreadCount        int
	LastActivityAt     int64
	LastMessagePreview string
}

// Clone returns a copy safe to hand outside a lock.
func (c *Chat) Clone() *Chat {
	copied := *c
	return &copied
}

// Message is one chat message, local or remote. LocalID is minted on this
// device the moment the message exists (composed or parsed off the wire);
// ServerID arrives with the server echo or a history row and, once set, is
// stable and unique within the chat.
type Message struct {
	ID         int64
	ChatID     string
	LocalID    string
	ServerID   string
	SenderID   string
	ReceiverID string
	Body       string
	IsOwn      bool
	Delivery   string
	SentAt     int64 // unix millis
}

// User is a counterpart candidate returned by the server's user search.
// It is not a directory entry until explicitly promoted.
type User struct {
	ID     string
	Name   string
	Avatar string
}

// SearchResult holds a cached message with a highlight snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
