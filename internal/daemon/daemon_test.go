package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matfraga/papo/internal/api"
	"github.com/matfraga/papo/internal/bus"
	"github.com/matfraga/papo/internal/composer"
	"github.com/matfraga/papo/internal/directory"
	"github.com/matfraga/papo/internal/lock"
	"github.com/matfraga/papo/internal/rest"
	"github.com/matfraga/papo/internal/status"
	"github.com/matfraga/papo/internal/store"
	"github.com/matfraga/papo/internal/stream"
	intsync "github.com/matfraga/papo/internal/sync"
)

type nopSender struct{}

func (nopSender) Send(receiverID, body string, at time.Time) error { return nil }

func TestControlServerOverSocket(t *testing.T) {
	// Short path: Unix sockets are limited to ~104 chars on some platforms.
	tmpDir, err := os.MkdirTemp("/tmp", "papo-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	profileDir := filepath.Join(tmpDir, "main")
	socketPath := filepath.Join(profileDir, "d.sock")
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(profileDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(profileDir, "papo.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	restClient := rest.NewClient("http://127.0.0.1:0", "tok", logger)
	dir := directory.New(b, logger)
	streams := stream.New(stream.Config{UserID: "me"}, restClient, b, logger)
	engine := intsync.NewEngine("me", dir, streams, db, restClient, b, logger)
	comp := composer.New("me", nopSender{}, engine, logger)
	svc := api.NewService("main", "me", machine, engine, comp, dir, db, restClient, b, logger)

	srv, err := NewServer(Params{Profile: "main", SocketPath: socketPath}, logger, svc)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	// Socket must be owner-only.
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perm = %o, want 600", perm)
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}

	resp, err := client.Get("http://papod/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	var sr api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		t.Fatal(err)
	}
	if sr.Profile != "main" || sr.State != "DISCONNECTED" {
		t.Errorf("status = %+v", sr)
	}
}

func TestStaleSocketRemoved(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "papo-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	socketPath := filepath.Join(tmpDir, "d.sock")

	// Leave a stale socket behind, as a crashed daemon would.
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Close()
	if _, err := os.Stat(socketPath); err == nil {
		// Some platforms remove the file on close; recreate a plain file
		// to simulate the leftover.
	} else {
		if err := os.WriteFile(socketPath, nil, 0600); err != nil {
			t.Fatal(err)
		}
	}

	logger := zap.NewNop()
	b := bus.New()
	db, err := store.Open(filepath.Join(tmpDir, "papo.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	machine := status.NewMachine(b)
	restClient := rest.NewClient("http://127.0.0.1:0", "tok", logger)
	dir := directory.New(b, logger)
	streams := stream.New(stream.Config{UserID: "me"}, restClient, b, logger)
	engine := intsync.NewEngine("me", dir, streams, db, restClient, b, logger)
	comp := composer.New("me", nopSender{}, engine, logger)
	svc := api.NewService("main", "me", machine, engine, comp, dir, db, restClient, b, logger)

	srv, err := NewServer(Params{Profile: "main", SocketPath: socketPath}, logger, svc)
	if err != nil {
		t.Fatalf("stale socket not cleaned: %v", err)
	}
	srv.Stop(context.Background())
}
