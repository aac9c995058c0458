// Package wire implements the broker's JSON frame format and normalizes
// inbound frames into domain events.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/matfraga/papo/internal/store"
)

// Status discriminates frame kinds on the wire.
type Status string

const (
	StatusMessage Status = "MESSAGE"
	StatusJoin    Status = "JOIN"
	StatusError   Status = "ERROR"
)

// Frame is the broker's JSON envelope. Time is lenient on input: the
// broker emits RFC 3339, but older peers send unix milliseconds.
type Frame struct {
	ID         string `json:"id,omitempty"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message,omitempty"`
	Status     Status `json:"status"`
	Time       string `json:"time,omitempty"`
}

// Event is a parsed inbound frame.
type Event interface{ isEvent() }

// MessageEvent carries a normalized chat message.
type MessageEvent struct {
	Msg *store.Message
}

// JoinEvent announces a peer coming online.
type JoinEvent struct {
	UserID string
}

// ErrorEvent carries a broker-reported error. These are advisory; they
// never tear down the session.
type ErrorEvent struct {
	Reason string
}

func (MessageEvent) isEvent() {}
func (JoinEvent) isEvent()    {}
func (ErrorEvent) isEvent()   {}

// ParseError reports a frame that could not be decoded or validated.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wire: malformed frame: %s", e.Reason)
}

// Parse decodes an inbound frame and normalizes it against the local
// identity. For MESSAGE frames the chat id is the counterpart: the sender
// for inbound, the receiver for echoes of our own sends. Frames with an
// unparseable time fall back to the arrival instant so ordering stays
// total.
func Parse(data []byte, selfID string, now time.Time) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}

	switch f.Status {
	case StatusJoin:
		if f.SenderID == "" {
			return nil, &ParseError{Reason: "JOIN frame without senderId"}
		}
		return JoinEvent{UserID: f.SenderID}, nil

	case StatusError:
		reason := f.Message
		if reason == "" {
			reason = "unspecified broker error"
		}
		return ErrorEvent{Reason: reason}, nil

	case StatusMessage:
		if f.SenderID == "" || f.ReceiverID == "" {
			return nil, &ParseError{Reason: "MESSAGE frame missing senderId or receiverId"}
		}
		isOwn := f.SenderID == selfID
		chatID := f.SenderID
		if isOwn {
			chatID = f.ReceiverID
		}
		m := &store.Message{
			ChatID:     chatID,
			LocalID:    uuid.NewString(),
			ServerID:   f.ID,
			SenderID:   f.SenderID,
			ReceiverID: f.ReceiverID,
			Body:       f.Message,
			IsOwn:      isOwn,
			Delivery:   store.DeliveryConfirmed,
			SentAt:     parseTime(f.Time, now),
		}
		return MessageEvent{Msg: m}, nil

	default:
		return nil, &ParseError{Reason: fmt.Sprintf("unknown status %q", f.Status)}
	}
}

func parseTime(raw string, fallback time.Time) int64 {
	if raw == "" {
		return fallback.UnixMilli()
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UnixMilli()
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return ms
	}
	return fallback.UnixMilli()
}

// BuildMessage encodes an outbound chat message frame.
func BuildMessage(senderID, receiverID, body string, at time.Time) ([]byte, error) {
	return json.Marshal(Frame{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Message:    body,
		Status:     StatusMessage,
		Time:       at.UTC().Format(time.RFC3339Nano),
	})
}

// BuildJoin encodes the presence frame announced right after the
// subscription is established.
func BuildJoin(senderID string, at time.Time) ([]byte, error) {
	return json.Marshal(Frame{
		SenderID: senderID,
		Status:   StatusJoin,
		Time:     at.UTC().Format(time.RFC3339Nano),
	})
}
