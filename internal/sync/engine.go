// Package sync funnels every mutation of the chat directory, the open
// streams, and the cache through one engine. Wire events, optimistic
// sends, and open/close requests all serialize on the engine mutex, so
// no other component ever observes a half-applied update.
package sync

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/matfraga/papo/internal/bus"
	"github.com/matfraga/papo/internal/directory"
	"github.com/matfraga/papo/internal/store"
	"github.com/matfraga/papo/internal/stream"

	gosync "sync"
)

// SummaryLoader fetches the chat list snapshot. Implemented by the rest
// client.
type SummaryLoader interface {
	LoadSummary(ctx context.Context, userID string) ([]store.Chat, error)
}

// Engine applies every state change in order.
type Engine struct {
	userID  string
	mu      gosync.Mutex
	dir     *directory.Directory
	streams *stream.Streams
	db      *store.DB
	summary SummaryLoader
	bus     *bus.Bus
	logger  *zap.Logger
}

func NewEngine(userID string, dir *directory.Directory, streams *stream.Streams, db *store.DB, summary SummaryLoader, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		userID:  userID,
		dir:     dir,
		streams: streams,
		db:      db,
		summary: summary,
		bus:     b,
		logger:  logger.Named("sync"),
	}
}

// Run consumes wire events until the context ends. Intended to run as a
// single goroutine for the life of the daemon.
func (e *Engine) Run(ctx context.Context) {
	events, unsub := e.bus.Subscribe("wire.", 256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case bus.KindWireMessage:
				if m, ok := ev.Payload.(*store.Message); ok {
					e.Ingest(m)
				}
			case bus.KindWireJoin:
				if userID, ok := ev.Payload.(string); ok {
					e.logger.Debug("peer joined", zap.String("user", userID))
				}
			}
		}
	}
}

// Ingest applies one live message: stream, directory, cache, then the
// post-ingestion event for UIs.
func (e *Engine) Ingest(m *store.Message) {
	e.mu.Lock()
	stored, open := e.streams.AppendLive(m)
	e.dir.UpsertFromLive(stored, open)
	e.writeThrough(stored)
	e.mu.Unlock()

	e.bus.Emit(bus.KindMessageUpserted, *stored)
}

// ApplyLocal records an optimistic send. The chat must be open.
func (e *Engine) ApplyLocal(m *store.Message) error {
	e.mu.Lock()
	if err := e.streams.AppendLocal(m); err != nil {
		e.mu.Unlock()
		return err
	}
	e.dir.UpsertFromLive(m, true)
	e.writeThrough(m)
	e.mu.Unlock()

	e.bus.Emit(bus.KindMessageUpserted, *m)
	return nil
}

// MarkFailed flips an optimistic send to failed everywhere.
func (e *Engine) MarkFailed(chatID, localID string) {
	e.mu.Lock()
	e.streams.MarkFailed(chatID, localID)
	if err := e.db.MarkMessageFailed(chatID, localID); err != nil {
		e.logger.Warn("cache mark failed", zap.Error(err))
	}
	e.mu.Unlock()

	e.bus.Emit(bus.KindSendFailed, map[string]string{"chat_id": chatID, "local_id": localID})
}

// SeedDirectory loads the chat list snapshot once at startup. Failure is
// recoverable: the directory starts empty and fills from live traffic.
func (e *Engine) SeedDirectory(ctx context.Context) {
	chats, err := e.summary.LoadSummary(ctx, e.userID)
	if err != nil {
		e.dir.SeedFailed(err)
		return
	}

	e.mu.Lock()
	e.dir.Seed(chats)
	for i := range chats {
		if err := e.db.UpsertChat(&chats[i]); err != nil {
			e.logger.Warn("cache chat upsert", zap.Error(err))
		}
	}
	e.mu.Unlock()

	if err := e.db.SetCheckpoint("summary_seeded_at", strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		e.logger.Warn("cache checkpoint", zap.Error(err))
	}
}

// OpenChat fetches a chat's history and opens its stream. The fetch runs
// outside the engine lock; live messages arriving meanwhile are staged
// and merged. A canceled context discards everything.
func (e *Engine) OpenChat(ctx context.Context, chatID string) ([]store.Message, error) {
	e.mu.Lock()
	if !e.streams.BeginOpen(chatID) {
		// Already open; opening again just returns the current view.
		msgs, err := e.streams.Snapshot(chatID)
		e.mu.Unlock()
		return msgs, err
	}
	e.mu.Unlock()

	history, err := e.streams.Fetch(ctx, chatID)
	if err != nil {
		e.mu.Lock()
		e.streams.AbortOpen(chatID)
		e.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	msgs, err := e.streams.CompleteOpen(ctx, chatID, history)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.dir.ClearUnread(chatID)
	for _, m := range history {
		e.writeThrough(m)
	}
	if err := e.db.SetUnread(chatID, 0); err != nil {
		e.logger.Warn("cache unread clear", zap.Error(err))
	}
	e.mu.Unlock()

	return msgs, nil
}

// CloseChat evicts an open stream. Closing an unknown chat is a no-op.
func (e *Engine) CloseChat(chatID string) {
	e.mu.Lock()
	e.streams.Close(chatID)
	e.mu.Unlock()
}

// Snapshot returns an open chat's messages in display order.
func (e *Engine) Snapshot(chatID string) ([]store.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streams.Snapshot(chatID)
}

// IsOpen reports whether a chat's stream is open.
func (e *Engine) IsOpen(chatID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streams.IsOpen(chatID)
}

// writeThrough mirrors a message and its chat rollup into the cache.
// Cache errors degrade to warnings; the in-memory state is authoritative
// for the session.
func (e *Engine) writeThrough(m *store.Message) {
	if err := e.db.UpsertMessage(m); err != nil {
		e.logger.Warn("cache message upsert", zap.Error(err))
	}
	if c := e.dir.Get(m.ChatID); c != nil {
		if err := e.db.UpsertChat(c); err != nil {
			e.logger.Warn("cache chat upsert", zap.Error(err))
		}
	}
}

// Promote ensures a searched user has a directory entry, idempotently.
func (e *Engine) Promote(u store.User) *store.Chat {
	e.mu.Lock()
	c := e.dir.Promote(u)
	if err := e.db.UpsertChat(c); err != nil {
		e.logger.Warn("cache chat upsert", zap.Error(err))
	}
	e.mu.Unlock()
	return c
}
