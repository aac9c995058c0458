package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "tok", zap.NewNop())
}

func TestLoadSummary(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/chats/me/summary" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"1","userId":"alice","name":"Alice","avatar":"a.png","lastMessage":"hey","time":"2025-06-01T10:00:00Z"},
			{"id":"2","userId":"bob","name":"Bob","lastMessage":"yo","time":"2025-06-01T11:00:00Z"}
		]`))
	})

	chats, err := c.LoadSummary(context.Background(), "me")
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].ChatID != "alice" || chats[0].DisplayName != "Alice" || chats[0].LastMessagePreview != "hey" {
		t.Errorf("chat = %+v", chats[0])
	}
	if chats[0].LastActivityAt == 0 {
		t.Error("activity timestamp not parsed")
	}
}

func TestFetchHistoryAscending(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/chats/me/alice" {
			t.Errorf("path = %s", r.URL.Path)
		}
		// Server returns newest first; the client must normalize.
		_, _ = w.Write([]byte(`[
			{"id":"S2","senderId":"me","receiverId":"alice","message":"second","time":"2025-06-01T10:01:00Z"},
			{"id":"S1","senderId":"alice","receiverId":"me","message":"first","time":"2025-06-01T10:00:00Z"}
		]`))
	})

	msgs, err := c.FetchHistory(context.Background(), "me", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ServerID != "S1" || msgs[1].ServerID != "S2" {
		t.Errorf("order = %s, %s; want S1, S2", msgs[0].ServerID, msgs[1].ServerID)
	}
	if !msgs[1].IsOwn || msgs[0].IsOwn {
		t.Error("ownership flags wrong")
	}
	if msgs[0].ChatID != "alice" || msgs[1].ChatID != "alice" {
		t.Error("chat id must be the counterpart for both directions")
	}
}

func TestSearchUsers(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("query"); got != "ali" {
			t.Errorf("query = %q", got)
		}
		_, _ = w.Write([]byte(`[{"id":"alice","name":"Alice","avatar":"a.png"}]`))
	})

	users, err := c.SearchUsers(context.Background(), "ali")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].ID != "alice" {
		t.Errorf("users = %+v", users)
	}
}

func TestFetchErrorStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})

	_, err := c.LoadSummary(context.Background(), "me")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
	if fe.Status != http.StatusForbidden {
		t.Errorf("status = %d", fe.Status)
	}
}

func TestFetchCancellation(t *testing.T) {
	blocked := make(chan struct{})
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	})
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.FetchHistory(ctx, "me", "alice"); err == nil {
		t.Fatal("expected error from canceled context")
	}
}
