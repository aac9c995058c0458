package directory

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/matfraga/papo/internal/store"
)

func testDirectory() *Directory {
	return New(nil, zap.NewNop())
}

func TestSeedAndOrder(t *testing.T) {
	d := testDirectory()
	d.Seed([]store.Chat{
		{ChatID: "alice", DisplayName: "Alice", LastActivityAt: 1000},
		{ChatID: "bob", DisplayName: "Bob", LastActivityAt: 3000},
		{ChatID: "carol", DisplayName: "Carol", LastActivityAt: 2000},
	})

	chats := d.Chats()
	want := []string{"bob", "carol", "alice"}
	for i, w := range want {
		if chats[i].ChatID != w {
			t.Errorf("chats[%d] = %s, want %s", i, chats[i].ChatID, w)
		}
	}
}

func TestSeedDoesNotRollBackLiveActivity(t *testing.T) {
	d := testDirectory()
	d.UpsertFromLive(&store.Message{ChatID: "alice", Body: "fresh", SentAt: 5000}, false)
	d.Seed([]store.Chat{{ChatID: "alice", DisplayName: "Alice", LastActivityAt: 1000, LastMessagePreview: "stale"}})

	c := d.Get("alice")
	if c.LastActivityAt != 5000 || c.LastMessagePreview != "fresh" {
		t.Errorf("live activity rolled back: %+v", c)
	}
	if c.DisplayName != "Alice" {
		t.Error("snapshot metadata not merged")
	}
}

func TestUnreadCounting(t *testing.T) {
	d := testDirectory()

	d.UpsertFromLive(&store.Message{ChatID: "alice", SentAt: 1}, false)
	d.UpsertFromLive(&store.Message{ChatID: "alice", SentAt: 2}, false)
	if got := d.Get("alice").UnreadCount; got != 2 {
		t.Errorf("unread = %d, want 2", got)
	}

	// Open chat: no unread growth.
	d.UpsertFromLive(&store.Message{ChatID: "alice", SentAt: 3}, true)
	if got := d.Get("alice").UnreadCount; got != 2 {
		t.Errorf("unread = %d, want 2 after message to open chat", got)
	}

	// Own messages never count as unread.
	d.UpsertFromLive(&store.Message{ChatID: "alice", SentAt: 4, IsOwn: true}, false)
	if got := d.Get("alice").UnreadCount; got != 2 {
		t.Errorf("unread = %d, want 2 after own message", got)
	}

	d.ClearUnread("alice")
	if got := d.Get("alice").UnreadCount; got != 0 {
		t.Errorf("unread = %d after clear", got)
	}
}

func TestPromoteIdempotent(t *testing.T) {
	d := testDirectory()
	u := store.User{ID: "dave", Name: "Dave", Avatar: "d.png"}

	first := d.Promote(u)
	if first.ChatID != "dave" || first.DisplayName != "Dave" {
		t.Errorf("promoted = %+v", first)
	}
	if d.Len() != 1 {
		t.Fatalf("len = %d, want 1", d.Len())
	}

	d.UpsertFromLive(&store.Message{ChatID: "dave", Body: "hi", SentAt: 9000}, false)

	// Promoting again must not reset activity, unread, or duplicate.
	again := d.Promote(u)
	if d.Len() != 1 {
		t.Errorf("len = %d after re-promote, want 1", d.Len())
	}
	if again.LastActivityAt != 9000 || again.UnreadCount != 1 {
		t.Errorf("re-promote disturbed state: %+v", again)
	}
}

func TestPromoteExistingChatKeepsHistory(t *testing.T) {
	d := testDirectory()
	d.Seed([]store.Chat{{ChatID: "alice", DisplayName: "Alice", LastActivityAt: 1000, UnreadCount: 3}})

	c := d.Promote(store.User{ID: "alice", Name: "Alice A."})
	if c.UnreadCount != 3 || c.LastActivityAt != 1000 {
		t.Errorf("promote disturbed existing chat: %+v", c)
	}
	if c.DisplayName != "Alice" {
		t.Error("promote must not overwrite an existing display name")
	}
}

func TestSeedFailureIsRecoverable(t *testing.T) {
	d := testDirectory()
	d.SeedFailed(errors.New("server down"))
	if d.SeedError() == nil {
		t.Fatal("expected recorded seed error")
	}

	// Directory still accepts live traffic.
	d.UpsertFromLive(&store.Message{ChatID: "alice", SentAt: 1}, false)
	if d.Len() != 1 {
		t.Error("directory unusable after seed failure")
	}

	// A later successful seed clears the error.
	d.Seed(nil)
	if d.SeedError() != nil {
		t.Error("seed error not cleared")
	}
}

func TestActivityTieKeepsInsertionOrder(t *testing.T) {
	d := testDirectory()
	d.Seed([]store.Chat{
		{ChatID: "a", LastActivityAt: 100},
		{ChatID: "b", LastActivityAt: 100},
		{ChatID: "c", LastActivityAt: 100},
	})
	chats := d.Chats()
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if chats[i].ChatID != w {
			t.Errorf("chats[%d] = %s, want %s", i, chats[i].ChatID, w)
		}
	}
}
