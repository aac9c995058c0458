// Package stream manages per-chat message sequences: opening a chat
// fetches history and splices in anything that arrived live during the
// fetch, then keeps the sequence ordered as traffic flows.
package stream

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/matfraga/papo/internal/bus"
	"github.com/matfraga/papo/internal/store"
)

// ErrNotOpen is returned when an operation targets a chat that has no
// open stream.
var ErrNotOpen = errors.New("stream: chat not open")

// Anchor asks the view to pin its scroll position to a message. Settle is
// how long appends after the anchor should keep the view pinned.
type Anchor struct {
	ChatID    string
	MessageID string // local id of the anchor message, "" for empty chats
	Settle    time.Duration
}

// HistoryFetcher loads a chat's backlog from the application server.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, userID, counterpartID string) ([]*store.Message, error)
}

// Streams owns every open chat sequence. All mutations arrive through the
// sync engine, already serialized; Streams itself is not safe for
// concurrent mutation.
type Streams struct {
	userID  string
	fetcher HistoryFetcher
	bus     *bus.Bus
	logger  *zap.Logger

	window int
	settle time.Duration

	open map[string]*sequence
	// staging buffers live messages that arrive for a chat while its
	// history fetch is in flight. Merged into the sequence once the fetch
	// lands, discarded if the open is canceled.
	staging map[string][]*store.Message
}

type Config struct {
	UserID        string
	PendingWindow int
	AnchorSettle  time.Duration
}

func New(cfg Config, fetcher HistoryFetcher, b *bus.Bus, logger *zap.Logger) *Streams {
	if cfg.AnchorSettle <= 0 {
		cfg.AnchorSettle = 300 * time.Millisecond
	}
	return &Streams{
		userID:  cfg.UserID,
		fetcher: fetcher,
		bus:     b,
		logger:  logger.Named("stream"),
		window:  cfg.PendingWindow,
		settle:  cfg.AnchorSettle,
		open:    make(map[string]*sequence),
		staging: make(map[string][]*store.Message),
	}
}

// IsOpen reports whether a chat has an open sequence.
func (st *Streams) IsOpen(chatID string) bool {
	_, ok := st.open[chatID]
	return ok
}

// BeginOpen marks a chat as opening so live traffic is staged instead of
// dropped. Returns false if the chat is already open.
func (st *Streams) BeginOpen(chatID string) bool {
	if _, ok := st.open[chatID]; ok {
		return false
	}
	if _, ok := st.staging[chatID]; !ok {
		st.staging[chatID] = nil
	}
	return true
}

// Fetch loads the chat backlog. It runs outside the engine lock; the
// caller passes the result to CompleteOpen under the lock.
func (st *Streams) Fetch(ctx context.Context, chatID string) ([]*store.Message, error) {
	return st.fetcher.FetchHistory(ctx, st.userID, chatID)
}

// CompleteOpen builds the sequence from fetched history plus anything
// staged during the fetch, then emits the anchor signal. A canceled
// context discards the fetch result and the staged messages.
func (st *Streams) CompleteOpen(ctx context.Context, chatID string, history []*store.Message) ([]store.Message, error) {
	staged := st.staging[chatID]
	delete(st.staging, chatID)

	if err := ctx.Err(); err != nil {
		st.logger.Debug("open canceled, discarding fetch", zap.String("chat", chatID))
		return nil, err
	}

	seq := newSequence(chatID, st.window)
	for _, m := range history {
		seq.insert(m)
	}
	for _, m := range staged {
		seq.insert(m)
	}
	st.open[chatID] = seq

	st.emitAnchor(chatID, seq)
	return seq.snapshot(), nil
}

// AbortOpen drops the staging buffer for a chat whose open was canceled
// before the fetch completed.
func (st *Streams) AbortOpen(chatID string) {
	delete(st.staging, chatID)
}

// Close evicts a chat's sequence. Closing a chat that is not open is a
// no-op.
func (st *Streams) Close(chatID string) {
	delete(st.open, chatID)
	delete(st.staging, chatID)
}

// AppendLive routes an inbound or echoed message. Returns the message as
// stored and whether the chat is open (staged counts as open for unread
// purposes once the open completes, but not before).
func (st *Streams) AppendLive(m *store.Message) (stored *store.Message, open bool) {
	if seq, ok := st.open[m.ChatID]; ok {
		if m.IsOwn {
			stored, _ = seq.reconcile(m)
		} else {
			stored, _ = seq.insert(m)
		}
		st.emitAnchor(m.ChatID, seq)
		return stored, true
	}
	if _, ok := st.staging[m.ChatID]; ok {
		st.staging[m.ChatID] = append(st.staging[m.ChatID], m)
	}
	return m, false
}

// AppendLocal records an optimistic send into an open chat.
func (st *Streams) AppendLocal(m *store.Message) error {
	seq, ok := st.open[m.ChatID]
	if !ok {
		return ErrNotOpen
	}
	seq.appendLocal(m)
	st.emitAnchor(m.ChatID, seq)
	return nil
}

// emitAnchor publishes the scroll pin for a chat. Every successful open
// and append re-points it at the newest message so consumers can decide
// whether to follow.
func (st *Streams) emitAnchor(chatID string, seq *sequence) {
	anchor := Anchor{ChatID: chatID, Settle: st.settle}
	if newest := seq.newest(); newest != nil {
		anchor.MessageID = newest.LocalID
	}
	st.bus.Emit(bus.KindStreamAnchor, anchor)
}

// MarkFailed flips an optimistic send to failed.
func (st *Streams) MarkFailed(chatID, localID string) bool {
	seq, ok := st.open[chatID]
	if !ok {
		return false
	}
	return seq.markFailed(localID)
}

// Snapshot returns an open chat's messages in display order.
func (st *Streams) Snapshot(chatID string) ([]store.Message, error) {
	seq, ok := st.open[chatID]
	if !ok {
		return nil, ErrNotOpen
	}
	return seq.snapshot(), nil
}
