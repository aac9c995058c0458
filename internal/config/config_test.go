package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, &Config{DefaultProfile: "work"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultProfile != "work" {
		t.Errorf("default_profile = %q, want work", cfg.DefaultProfile)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadProfileDefaults(t *testing.T) {
	path := writeFile(t, "profile.toml", `
server_url = "https://app.example.com/api"
broker_url = "wss://app.example.com/ws"
user_id = "42"
token = "tok"
`)
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Heartbeat.Duration != 10*time.Second {
		t.Errorf("heartbeat = %v, want 10s default", p.Heartbeat.Duration)
	}
	if p.ReconnectBackoff.Duration != 5*time.Second {
		t.Errorf("reconnect_backoff = %v, want 5s default", p.ReconnectBackoff.Duration)
	}
	if p.PendingWindow != 32 {
		t.Errorf("pending_window = %d, want 32 default", p.PendingWindow)
	}
	if got := p.InboundDest(); got != "/user/42/queue/messages" {
		t.Errorf("inbound dest = %q", got)
	}
}

func TestLoadProfileOverrides(t *testing.T) {
	path := writeFile(t, "profile.toml", `
server_url = "https://app.example.com/api"
broker_url = "tcp://broker:61613"
user_id = "7"
token = "tok"
heartbeat = "3s"
pending_window = 8
inbound_destination = "/queue/private.{user}"
`)
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Heartbeat.Duration != 3*time.Second {
		t.Errorf("heartbeat = %v, want 3s", p.Heartbeat.Duration)
	}
	if p.PendingWindow != 8 {
		t.Errorf("pending_window = %d, want 8", p.PendingWindow)
	}
	if got := p.InboundDest(); got != "/queue/private.7" {
		t.Errorf("inbound dest = %q", got)
	}
}

func TestLoadProfileMissingRequired(t *testing.T) {
	path := writeFile(t, "profile.toml", `server_url = "https://x"`)
	if _, err := LoadProfile(path); err == nil {
		t.Error("expected error for profile missing broker_url/user_id")
	}
}

func TestBearerTokenFromFile(t *testing.T) {
	tokPath := writeFile(t, "token", "  secret-token\n")
	p := &Profile{Token: "inline", TokenFile: tokPath}
	tok, err := p.BearerToken()
	if err != nil {
		t.Fatal(err)
	}
	if tok != "secret-token" {
		t.Errorf("token = %q, want secret-token (file wins, trimmed)", tok)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	p := &Profile{}
	if _, err := p.BearerToken(); err == nil {
		t.Error("expected error when no credential is configured")
	}
}
