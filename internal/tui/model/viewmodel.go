package model

import (
	"context"
	"sync"
	"time"

	"github.com/matfraga/papo/internal/api"
	"github.com/matfraga/papo/internal/tui/client"
)

// ViewModel caches daemon state and signals UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	client       *client.Client
	Status       *api.StatusResponse
	Chats        []api.ChatResponse
	Messages     []api.MessageResponse
	ActiveChatID string
	Flash        Flash

	// Last scroll anchor from the daemon: which chat, which message, and
	// until when appends should keep the view pinned.
	anchorChatID string
	anchorMsgID  string
	anchorUntil  time.Time

	refreshCh chan struct{}
}

// NewViewModel creates a view model connected to the daemon client.
func NewViewModel(c *client.Client) *ViewModel {
	return &ViewModel{
		client:    c,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches current connection status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.client.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.Status = resp
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadChats fetches the chat list.
func (vm *ViewModel) LoadChats(ctx context.Context) error {
	chats, err := vm.client.Chats(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.Chats = chats
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// OpenChat opens a chat stream on the daemon and caches its messages.
func (vm *ViewModel) OpenChat(ctx context.Context, chatID string) error {
	msgs, err := vm.client.OpenChat(ctx, chatID)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.ActiveChatID = chatID
	vm.Messages = msgs
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// CloseActiveChat closes the currently open chat stream.
func (vm *ViewModel) CloseActiveChat(ctx context.Context) {
	vm.mu.Lock()
	chatID := vm.ActiveChatID
	vm.ActiveChatID = ""
	vm.Messages = nil
	vm.mu.Unlock()
	if chatID != "" {
		_ = vm.client.CloseChat(ctx, chatID)
	}
}

// ReloadMessages refreshes the active chat's messages.
func (vm *ViewModel) ReloadMessages(ctx context.Context) error {
	vm.mu.RLock()
	chatID := vm.ActiveChatID
	vm.mu.RUnlock()
	if chatID == "" {
		return nil
	}
	msgs, err := vm.client.Messages(ctx, chatID)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.Messages = msgs
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// SendText sends a message to the active chat.
func (vm *ViewModel) SendText(ctx context.Context, chatID, text string) error {
	_, err := vm.client.Send(ctx, chatID, text)
	if err != nil {
		return err
	}
	vm.Flash.Set("Message sent", 3*time.Second)
	vm.signalRefresh()
	return nil
}

// SearchMessages runs a full-text search over the cache.
func (vm *ViewModel) SearchMessages(ctx context.Context, query string) ([]api.SearchResultResponse, error) {
	return vm.client.SearchMessages(ctx, query)
}

// SearchUsers queries the server's user directory.
func (vm *ViewModel) SearchUsers(ctx context.Context, query string) ([]api.UserResponse, error) {
	return vm.client.SearchUsers(ctx, query)
}

// PromoteUser adds a searched user to the chat list.
func (vm *ViewModel) PromoteUser(ctx context.Context, u api.UserResponse) (*api.ChatResponse, error) {
	chat, err := vm.client.PromoteUser(ctx, u)
	if err != nil {
		return nil, err
	}
	vm.signalRefresh()
	return chat, nil
}

// WatchEvents tails daemon events and refreshes state as they arrive.
func (vm *ViewModel) WatchEvents(ctx context.Context) error {
	events, err := vm.client.Events(ctx, "")
	if err != nil {
		return err
	}
	go func() {
		for ev := range events {
			switch {
			case ev.Kind == "message.upserted" || ev.Kind == "message.send_failed":
				_ = vm.ReloadMessages(ctx)
				_ = vm.LoadChats(ctx)
			case ev.Kind == "directory.updated":
				_ = vm.LoadChats(ctx)
			case ev.Kind == "session.status_changed":
				_ = vm.LoadStatus(ctx)
			case ev.Kind == "stream.anchor":
				vm.noteAnchor(ev.Payload)
				vm.signalRefresh()
			case ev.Kind == "session.warning":
				if s, ok := ev.Payload.(string); ok {
					vm.Flash.Set(s, 5*time.Second)
					vm.signalRefresh()
				}
			}
		}
	}()
	return nil
}

// GetChats returns a snapshot of the current chat list.
func (vm *ViewModel) GetChats() []api.ChatResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.Chats
}

// GetMessages returns a snapshot of the active chat's messages.
func (vm *ViewModel) GetMessages() []api.MessageResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.Messages
}

// GetStatus returns a snapshot of the connection status.
func (vm *ViewModel) GetStatus() *api.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.Status
}

// noteAnchor records a scroll anchor arriving off the event stream. SSE
// payloads decode as generic maps; the fields mirror the daemon's Anchor.
func (vm *ViewModel) noteAnchor(payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return
	}
	chatID, _ := m["ChatID"].(string)
	msgID, _ := m["MessageID"].(string)
	settleNs, _ := m["Settle"].(float64)

	vm.mu.Lock()
	vm.anchorChatID = chatID
	vm.anchorMsgID = msgID
	vm.anchorUntil = time.Now().Add(time.Duration(settleNs))
	vm.mu.Unlock()
}

// ShouldFollow reports whether the message view should stay pinned to the
// bottom of a chat: the last anchor targets this chat and either its
// settle window is still open or the anchored message is the newest shown.
func (vm *ViewModel) ShouldFollow(chatID string) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if chatID == "" || vm.anchorChatID != chatID {
		return false
	}
	if time.Now().Before(vm.anchorUntil) {
		return true
	}
	n := len(vm.Messages)
	return n > 0 && vm.Messages[n-1].LocalID == vm.anchorMsgID
}
func (vm *ViewModel) GetActiveChatID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.ActiveChatID
}
