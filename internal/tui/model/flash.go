package model

import (
	"sync"
	"time"
)

// Flash is the transient notice slot rendered in the status bar: send
// failures, broker warnings, reconnect notes. Each Set replaces the
// previous notice and carries its own time to live.
type Flash struct {
	mu      sync.Mutex
	text    string
	clearAt time.Time
}

// Set replaces the current notice; it disappears after ttl.
func (f *Flash) Set(text string, ttl time.Duration) {
	f.mu.Lock()
	f.text = text
	f.clearAt = time.Now().Add(ttl)
	f.mu.Unlock()
}

// Get returns the active notice, or "" once it has expired.
func (f *Flash) Get() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.text == "" || time.Now().After(f.clearAt) {
		return ""
	}
	return f.text
}
