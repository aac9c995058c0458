// Package transport abstracts the broker link. The concrete
// implementation speaks STOMP over a websocket or plain TCP; the session
// layer only sees Dialer and Conn.
package transport

import (
	"context"
	"fmt"
	"time"
)

// Options configures a single dial attempt.
type Options struct {
	// Endpoint is a ws://, wss://, or tcp:// broker URL.
	Endpoint string
	// Token is sent as a bearer credential in the CONNECT headers.
	Token string
	// Heartbeat is the send/receive heartbeat interval negotiated with
	// the broker. Zero disables heartbeats.
	Heartbeat time.Duration
	// HandshakeTimeout bounds the transport dial plus protocol handshake.
	HandshakeTimeout time.Duration
}

// Conn is an established broker link.
type Conn interface {
	// Subscribe starts consuming a destination. The returned channel is
	// closed when the link drops.
	Subscribe(destination string) (<-chan []byte, error)
	// Publish sends a payload to a destination.
	Publish(destination string, contentType string, body []byte) error
	// Errors reports asynchronous link failures (at most one).
	Errors() <-chan error
	// Disconnect closes the link. Safe to call after a link failure.
	Disconnect() error
}

// Dialer establishes broker links.
type Dialer interface {
	Dial(ctx context.Context, opts Options) (Conn, error)
}

// LinkErrorKind classifies why a link attempt or an established link
// failed.
type LinkErrorKind string

const (
	// KindUnreachable means the endpoint could not be reached at all.
	KindUnreachable LinkErrorKind = "unreachable"
	// KindHandshakeRejected means the transport connected but the broker
	// refused the protocol handshake (bad credentials, protocol error).
	KindHandshakeRejected LinkErrorKind = "handshake_rejected"
	// KindTimeout means the dial or handshake exceeded its deadline.
	KindTimeout LinkErrorKind = "timeout"
	// KindHeartbeatLost means an established link missed its heartbeats.
	KindHeartbeatLost LinkErrorKind = "heartbeat_lost"
	// KindClosed means the peer closed an established link.
	KindClosed LinkErrorKind = "closed"
)

// LinkError wraps a transport failure with its classification.
type LinkError struct {
	Kind LinkErrorKind
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("transport: link %s: %v", e.Kind, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }
