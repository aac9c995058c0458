package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.papo/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
}

// Profile represents a per-profile profile.toml: where the web app lives,
// who we are, and the session tuning knobs. Interval values are deliberately
// configuration rather than wire contract.
type Profile struct {
	ServerURL string `toml:"server_url"`
	BrokerURL string `toml:"broker_url"`
	UserID    string `toml:"user_id"`

	// Bearer credential, opaque to the client. Either inline or read from a
	// file (the file wins when both are set). Refresh is not our job.
	Token     string `toml:"token"`
	TokenFile string `toml:"token_file"`

	// Broker destinations. "{user}" expands to UserID.
	InboundDestination  string `toml:"inbound_destination"`
	PublishDestination  string `toml:"publish_destination"`
	PresenceDestination string `toml:"presence_destination"`

	Heartbeat        Duration `toml:"heartbeat"`
	ReconnectBackoff Duration `toml:"reconnect_backoff"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	AnchorSettle     Duration `toml:"anchor_settle"`
	PendingWindow    int      `toml:"pending_window"`
}

// Duration is a time.Duration that decodes from TOML strings like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler so Save round-trips.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads the global config from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the global config to the given path, creating parent dirs.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadProfile reads and validates a profile.toml, applying defaults for
// everything the file leaves unset.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, err
	}
	p.applyDefaults()
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}

func (p *Profile) applyDefaults() {
	if p.InboundDestination == "" {
		p.InboundDestination = "/user/{user}/queue/messages"
	}
	if p.PublishDestination == "" {
		p.PublishDestination = "/app/private-message"
	}
	if p.PresenceDestination == "" {
		p.PresenceDestination = "/app/presence"
	}
	if p.Heartbeat.Duration == 0 {
		p.Heartbeat.Duration = 10 * time.Second
	}
	if p.ReconnectBackoff.Duration == 0 {
		p.ReconnectBackoff.Duration = 5 * time.Second
	}
	if p.HandshakeTimeout.Duration == 0 {
		p.HandshakeTimeout.Duration = 15 * time.Second
	}
	if p.AnchorSettle.Duration == 0 {
		p.AnchorSettle.Duration = 250 * time.Millisecond
	}
	if p.PendingWindow <= 0 {
		p.PendingWindow = 32
	}
}

func (p *Profile) validate() error {
	switch {
	case p.ServerURL == "":
		return fmt.Errorf("server_url is required")
	case p.BrokerURL == "":
		return fmt.Errorf("broker_url is required")
	case p.UserID == "":
		return fmt.Errorf("user_id is required")
	}
	return nil
}

// BearerToken resolves the credential, preferring token_file.
func (p *Profile) BearerToken() (string, error) {
	if p.TokenFile != "" {
		data, err := os.ReadFile(p.TokenFile)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if p.Token == "" {
		return "", fmt.Errorf("no credential: set token or token_file")
	}
	return p.Token, nil
}

// InboundDest returns the private inbound destination for this user.
func (p *Profile) InboundDest() string {
	return strings.ReplaceAll(p.InboundDestination, "{user}", p.UserID)
}
