package bus

import "time"

// Event kinds published on the bus. Subscribers filter by prefix, so the
// dotted namespaces are load-bearing: "wire." is everything decoded off the
// broker, "session." is connection lifecycle, "message." and "stream." are
// post-ingestion notifications consumed by UIs.
const (
	KindWireMessage = "wire.message"
	KindWireJoin    = "wire.join"

	KindStatusChanged = "session.status_changed"
	KindConnected     = "session.connected"
	KindDisconnected  = "session.disconnected"
	KindWarning       = "session.warning"

	KindMessageUpserted = "message.upserted"
	KindSendFailed      = "message.send_failed"

	KindStreamAnchor     = "stream.anchor"
	KindDirectoryUpdated = "directory.updated"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
