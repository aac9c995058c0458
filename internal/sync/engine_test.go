package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matfraga/papo/internal/bus"
	"github.com/matfraga/papo/internal/directory"
	"github.com/matfraga/papo/internal/store"
	"github.com/matfraga/papo/internal/stream"
)

type fakeFetcher struct {
	history []*store.Message
	err     error
}

func (f *fakeFetcher) FetchHistory(ctx context.Context, userID, counterpartID string) ([]*store.Message, error) {
	return f.history, f.err
}

type fakeSummary struct {
	chats []store.Chat
	err   error
}

func (f *fakeSummary) LoadSummary(ctx context.Context, userID string) ([]store.Chat, error) {
	return f.chats, f.err
}

type fixture struct {
	engine *Engine
	dir    *directory.Directory
	db     *store.DB
	bus    *bus.Bus
}

func newFixture(t *testing.T, fetcher stream.HistoryFetcher, summary SummaryLoader) *fixture {
	t.Helper()
	logger := zap.NewNop()
	b := bus.New()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dir := directory.New(b, logger)
	streams := stream.New(stream.Config{UserID: "me", PendingWindow: 8, AnchorSettle: 50 * time.Millisecond}, fetcher, b, logger)
	return &fixture{
		engine: NewEngine("me", dir, streams, db, summary, b, logger),
		dir:    dir,
		db:     db,
		bus:    b,
	}
}

func inbound(chatID, localID, serverID, body string, sentAt int64) *store.Message {
	return &store.Message{
		ChatID: chatID, LocalID: localID, ServerID: serverID,
		SenderID: chatID, ReceiverID: "me", Body: body,
		Delivery: store.DeliveryConfirmed, SentAt: sentAt,
	}
}

func TestIngestClosedChat(t *testing.T) {
	fx := newFixture(t, &fakeFetcher{}, &fakeSummary{})

	fx.engine.Ingest(inbound("alice", "l1", "S1", "hi", 1000))

	// Directory gained the chat with an unread.
	c := fx.dir.Get("alice")
	if c == nil || c.UnreadCount != 1 || c.LastMessagePreview != "hi" {
		t.Errorf("chat = %+v", c)
	}

	// Cache write-through.
	msgs, err := fx.db.ListMessages("alice", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ServerID != "S1" {
		t.Errorf("cached = %+v", msgs)
	}
	cached, _ := fx.db.GetChat("alice")
	if cached == nil || cached.UnreadCount != 1 {
		t.Errorf("cached chat = %+v", cached)
	}
}

func TestIngestOpenChatNoUnread(t *testing.T) {
	fx := newFixture(t, &fakeFetcher{}, &fakeSummary{})
	if _, err := fx.engine.OpenChat(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}

	fx.engine.Ingest(inbound("alice", "l1", "S1", "hi", 1000))

	if c := fx.dir.Get("alice"); c.UnreadCount != 0 {
		t.Errorf("unread = %d for open chat", c.UnreadCount)
	}
	msgs, err := fx.engine.Snapshot("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("stream = %+v", msgs)
	}
}

func TestIngestEmitsUpserted(t *testing.T) {
	fx := newFixture(t, &fakeFetcher{}, &fakeSummary{})
	ch, unsub := fx.bus.Subscribe(bus.KindMessageUpserted, 4)
	defer unsub()

	fx.engine.Ingest(inbound("alice", "l1", "S1", "hi", 1000))

	select {
	case ev := <-ch:
		m := ev.Payload.(store.Message)
		if m.ChatID != "alice" {
			t.Errorf("payload = %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("no message.upserted event")
	}
}

func TestApplyLocalAndEcho(t *testing.T) {
	fx := newFixture(t, &fakeFetcher{}, &fakeSummary{})
	if _, err := fx.engine.OpenChat(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}

	local := &store.Message{
		ChatID: "alice", LocalID: "l1", SenderID: "me", ReceiverID: "alice",
		Body: "hello", IsOwn: true, Delivery: store.DeliveryPending, SentAt: 1000,
	}
	if err := fx.engine.ApplyLocal(local); err != nil {
		t.Fatal(err)
	}

	// Echo confirms in place.
	echo := &store.Message{
		ChatID: "alice", LocalID: "remote", ServerID: "S1", SenderID: "me",
		ReceiverID: "alice", Body: "hello", IsOwn: true,
		Delivery: store.DeliveryConfirmed, SentAt: 5000,
	}
	fx.engine.Ingest(echo)

	msgs, _ := fx.engine.Snapshot("alice")
	if len(msgs) != 1 {
		t.Fatalf("stream = %+v, want single reconciled row", msgs)
	}
	if msgs[0].LocalID != "l1" || msgs[0].ServerID != "S1" || msgs[0].Delivery != store.DeliveryConfirmed {
		t.Errorf("reconciled = %+v", msgs[0])
	}

	// Cache converged on the same single row.
	cached, _ := fx.db.ListMessages("alice", 0, 10)
	if len(cached) != 1 || cached[0].Delivery != store.DeliveryConfirmed {
		t.Errorf("cached = %+v", cached)
	}
}

// TestEchoAfterCloseConvergesCache: sending, closing the chat, then
// receiving the echo must not leave two cache rows for one message.
func TestEchoAfterCloseConvergesCache(t *testing.T) {
	fx := newFixture(t, &fakeFetcher{}, &fakeSummary{})
	if _, err := fx.engine.OpenChat(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}

	local := &store.Message{
		ChatID: "alice", LocalID: "l1", SenderID: "me", ReceiverID: "alice",
		Body: "hello", IsOwn: true, Delivery: store.DeliveryPending, SentAt: 1000,
	}
	if err := fx.engine.ApplyLocal(local); err != nil {
		t.Fatal(err)
	}
	fx.engine.CloseChat("alice")

	// The echo misses the evicted pending window and arrives with a
	// fresh local id.
	fx.engine.Ingest(&store.Message{
		ChatID: "alice", LocalID: "fresh", ServerID: "S1", SenderID: "me",
		ReceiverID: "alice", Body: "hello", IsOwn: true,
		Delivery: store.DeliveryConfirmed, SentAt: 5000,
	})

	cached, err := fx.db.ListMessages("alice", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 1 {
		t.Fatalf("cached = %+v, want one converged row", cached)
	}
	if cached[0].LocalID != "l1" || cached[0].ServerID != "S1" || cached[0].Delivery != store.DeliveryConfirmed {
		t.Errorf("cached = %+v", cached[0])
	}
}

func TestApplyLocalRequiresOpenChat(t *testing.T) {
	fx := newFixture(t, &fakeFetcher{}, &fakeSummary{})
	err := fx.engine.ApplyLocal(&store.Message{ChatID: "alice", LocalID: "l1", Body: "x"})
	if !errors.Is(err, stream.ErrNotOpen) {
		t.Errorf("err = %v, want ErrNotOpen", err)
	}
}

func TestMarkFailed(t *testing.T) {
	fx := newFixture(t, &fakeFetcher{}, &fakeSummary{})
	if _, err := fx.engine.OpenChat(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	local := &store.Message{
		ChatID: "alice", LocalID: "l1", SenderID: "me", Body: "x",
		IsOwn: true, Delivery: store.DeliveryPending, SentAt: 1000,
	}
	if err := fx.engine.ApplyLocal(local); err != nil {
		t.Fatal(err)
	}

	ch, unsub := fx.bus.Subscribe(bus.KindSendFailed, 4)
	defer unsub()

	fx.engine.MarkFailed("alice", "l1")

	msgs, _ := fx.engine.Snapshot("alice")
	if msgs[0].Delivery != store.DeliveryFailed {
		t.Errorf("stream delivery = %s", msgs[0].Delivery)
	}
	cached, _ := fx.db.ListMessages("alice", 0, 10)
	if cached[0].Delivery != store.DeliveryFailed {
		t.Errorf("cached delivery = %s", cached[0].Delivery)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no send_failed event")
	}
}

func TestSeedDirectory(t *testing.T) {
	summary := &fakeSummary{chats: []store.Chat{
		{ChatID: "alice", DisplayName: "Alice", LastActivityAt: 1000},
	}}
	fx := newFixture(t, &fakeFetcher{}, summary)

	fx.engine.SeedDirectory(context.Background())

	if fx.dir.Len() != 1 {
		t.Errorf("directory len = %d", fx.dir.Len())
	}
	cached, _ := fx.db.GetChat("alice")
	if cached == nil || cached.DisplayName != "Alice" {
		t.Errorf("cached = %+v", cached)
	}
	if _, err := fx.db.GetCheckpoint("summary_seeded_at"); err != nil {
		t.Error("seed checkpoint not recorded")
	}
}

func TestSeedDirectoryFailureRecoverable(t *testing.T) {
	fx := newFixture(t, &fakeFetcher{}, &fakeSummary{err: errors.New("server down")})

	fx.engine.SeedDirectory(context.Background())

	if fx.dir.SeedError() == nil {
		t.Error("seed error not recorded")
	}
	// Live traffic still flows.
	fx.engine.Ingest(inbound("alice", "l1", "S1", "hi", 1000))
	if fx.dir.Len() != 1 {
		t.Error("directory rejected live traffic after failed seed")
	}
}

func TestOpenChatWritesHistoryThrough(t *testing.T) {
	fetcher := &fakeFetcher{history: []*store.Message{
		inbound("alice", "h1", "S1", "old", 1000),
	}}
	fx := newFixture(t, fetcher, &fakeSummary{})

	msgs, err := fx.engine.OpenChat(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("msgs = %+v", msgs)
	}
	cached, _ := fx.db.ListMessages("alice", 0, 10)
	if len(cached) != 1 {
		t.Errorf("history not cached: %+v", cached)
	}
}

func TestOpenChatFetchFailure(t *testing.T) {
	fx := newFixture(t, &fakeFetcher{err: errors.New("boom")}, &fakeSummary{})

	if _, err := fx.engine.OpenChat(context.Background(), "alice"); err == nil {
		t.Fatal("expected fetch error")
	}
	if fx.engine.IsOpen("alice") {
		t.Error("chat open after failed fetch")
	}
}

func TestOpenChatTwiceReturnsView(t *testing.T) {
	fx := newFixture(t, &fakeFetcher{}, &fakeSummary{})
	if _, err := fx.engine.OpenChat(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	fx.engine.Ingest(inbound("alice", "l1", "S1", "hi", 1000))

	msgs, err := fx.engine.OpenChat(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("second open = %+v", msgs)
	}
}

func TestPromoteWritesThrough(t *testing.T) {
	fx := newFixture(t, &fakeFetcher{}, &fakeSummary{})

	c := fx.engine.Promote(store.User{ID: "dave", Name: "Dave"})
	if c.ChatID != "dave" {
		t.Errorf("promoted = %+v", c)
	}
	again := fx.engine.Promote(store.User{ID: "dave", Name: "Dave"})
	if again.ChatID != "dave" || fx.dir.Len() != 1 {
		t.Error("promote not idempotent")
	}
	cached, _ := fx.db.GetChat("dave")
	if cached == nil {
		t.Error("promoted chat not cached")
	}
}

func TestRunConsumesWireEvents(t *testing.T) {
	fx := newFixture(t, &fakeFetcher{}, &fakeSummary{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.engine.Run(ctx)

	// Give Run a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	fx.bus.Emit(bus.KindWireMessage, inbound("alice", "l1", "S1", "hi", 1000))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fx.dir.Get("alice") != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("wire event not ingested")
}
