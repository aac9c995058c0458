// Package composer turns user input into optimistic sends. A composed
// message enters the open stream as pending before the wire send; a send
// failure flips it to failed in place. There is no retry queue: the
// caller decides whether to compose again.
package composer

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matfraga/papo/internal/store"
)

// ErrEmptyMessage rejects whitespace-only input before anything is
// recorded.
var ErrEmptyMessage = errors.New("composer: empty message")

// Sender pushes a frame to the broker. Implemented by the session
// manager; fails fast when not connected.
type Sender interface {
	Send(receiverID, body string, at time.Time) error
}

// Applier records the optimistic message and its failure transition.
// Implemented by the sync engine.
type Applier interface {
	ApplyLocal(m *store.Message) error
	MarkFailed(chatID, localID string)
}

type Composer struct {
	selfID  string
	sender  Sender
	applier Applier
	logger  *zap.Logger
	now     func() time.Time
}

func New(selfID string, sender Sender, applier Applier, logger *zap.Logger) *Composer {
	return &Composer{
		selfID:  selfID,
		sender:  sender,
		applier: applier,
		logger:  logger.Named("composer"),
		now:     time.Now,
	}
}

// Compose validates, records, and sends a message to a chat. The returned
// message is always populated once validation passes, even when the send
// fails; its Delivery field tells the caller what happened.
func (c *Composer) Compose(chatID, body string) (*store.Message, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}

	at := c.now()
	m := &store.Message{
		ChatID:     chatID,
		LocalID:    uuid.NewString(),
		SenderID:   c.selfID,
		ReceiverID: chatID,
		Body:       trimmed,
		IsOwn:      true,
		Delivery:   store.DeliveryPending,
		SentAt:     at.UnixMilli(),
	}

	if err := c.applier.ApplyLocal(m); err != nil {
		return nil, err
	}

	if err := c.sender.Send(chatID, trimmed, at); err != nil {
		c.logger.Warn("send failed",
			zap.String("chat", chatID),
			zap.String("local_id", m.LocalID),
			zap.Error(err))
		c.applier.MarkFailed(chatID, m.LocalID)
		m.Delivery = store.DeliveryFailed
		return m, err
	}
	return m, nil
}
