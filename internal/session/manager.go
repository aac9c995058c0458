// Package session owns the broker connection lifecycle: connecting,
// announcing presence, dispatching inbound frames, reconnecting after
// link loss, and failing fast on sends while not connected.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matfraga/papo/internal/bus"
	"github.com/matfraga/papo/internal/config"
	"github.com/matfraga/papo/internal/status"
	"github.com/matfraga/papo/internal/transport"
	"github.com/matfraga/papo/internal/wire"
)

// SendError reports a send that was refused or lost. Sends are never
// queued: while the session is not Connected, callers get NotConnected
// immediately.
type SendError struct {
	Reason string
	State  status.State
}

const (
	// SendNotConnected means the session had no established link.
	SendNotConnected = "not_connected"
	// SendLinkFailed means the publish itself failed on an established
	// link.
	SendLinkFailed = "link_failed"
)

func (e *SendError) Error() string {
	return fmt.Sprintf("session: send refused: %s (state %s)", e.Reason, e.State)
}

// Manager drives the broker session.
type Manager struct {
	profile *config.Profile
	token   string
	dialer  transport.Dialer
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	mu      sync.Mutex
	conn    transport.Conn
	stopped bool
	// generation invalidates stale readLoop/watch goroutines after a
	// reconnect replaces the conn.
	generation int

	wg sync.WaitGroup
}

func NewManager(p *config.Profile, token string, dialer transport.Dialer, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		profile: p,
		token:   token,
		dialer:  dialer,
		machine: machine,
		bus:     b,
		logger:  logger.Named("session"),
	}
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Connect performs the initial connection. A dial or handshake failure
// lands in Failed and is returned; the caller decides whether to call
// Connect again. Link loss after a successful connect is handled
// internally with infinite fixed-backoff retries.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.machine.Transition(status.Connecting); err != nil {
		return err
	}
	conn, err := m.dial(ctx)
	if err != nil {
		if terr := m.machine.Transition(status.Failed); terr != nil {
			m.logger.Error("transition to failed rejected", zap.Error(terr))
		}
		m.bus.Emit(bus.KindWarning, fmt.Sprintf("connect failed: %v", err))
		return err
	}
	return m.establish(conn)
}

func (m *Manager) dial(ctx context.Context) (transport.Conn, error) {
	return m.dialer.Dial(ctx, transport.Options{
		Endpoint:         m.profile.BrokerURL,
		Token:            m.token,
		Heartbeat:        m.profile.Heartbeat.Duration,
		HandshakeTimeout: m.profile.HandshakeTimeout.Duration,
	})
}

// establish wires up a fresh link: subscribe to the private inbound
// queue, announce presence, then flip to Connected. Subscription happens
// exactly once per link.
func (m *Manager) establish(conn transport.Conn) error {
	inbound, err := conn.Subscribe(m.profile.InboundDest())
	if err != nil {
		_ = conn.Disconnect()
		if terr := m.machine.Transition(status.Failed); terr != nil {
			m.logger.Error("transition to failed rejected", zap.Error(terr))
		}
		return err
	}

	join, err := wire.BuildJoin(m.profile.UserID, time.Now())
	if err != nil {
		_ = conn.Disconnect()
		return err
	}
	if err := conn.Publish(m.profile.PresenceDestination, "application/json", join); err != nil {
		_ = conn.Disconnect()
		if terr := m.machine.Transition(status.Failed); terr != nil {
			m.logger.Error("transition to failed rejected", zap.Error(terr))
		}
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	if err := m.machine.Transition(status.Connected); err != nil {
		return err
	}
	m.bus.Emit(bus.KindConnected, nil)
	m.logger.Info("session connected", zap.String("user", m.profile.UserID))

	m.wg.Add(2)
	go m.readLoop(inbound)
	go m.watchLink(gen, conn)
	return nil
}

// readLoop decodes inbound frames and publishes domain events. Malformed
// frames are logged and dropped; broker ERROR frames become warnings and
// never touch the connection state.
func (m *Manager) readLoop(inbound <-chan []byte) {
	defer m.wg.Done()
	for data := range inbound {
		ev, err := wire.Parse(data, m.profile.UserID, time.Now())
		if err != nil {
			m.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		switch e := ev.(type) {
		case wire.MessageEvent:
			m.bus.Emit(bus.KindWireMessage, e.Msg)
		case wire.JoinEvent:
			m.bus.Emit(bus.KindWireJoin, e.UserID)
		case wire.ErrorEvent:
			m.logger.Warn("broker error frame", zap.String("reason", e.Reason))
			m.bus.Emit(bus.KindWarning, e.Reason)
		}
	}
}

// watchLink waits for an asynchronous link failure and kicks off the
// reconnect loop, unless the session was deliberately stopped or the
// conn already replaced.
func (m *Manager) watchLink(gen int, conn transport.Conn) {
	defer m.wg.Done()
	err, ok := <-conn.Errors()
	if !ok {
		return
	}

	m.mu.Lock()
	stale := m.stopped || gen != m.generation
	m.mu.Unlock()
	if stale {
		return
	}

	m.logger.Warn("link lost", zap.Error(err))
	_ = conn.Disconnect()
	if terr := m.machine.Transition(status.Reconnecting); terr != nil {
		m.logger.Error("transition to reconnecting rejected", zap.Error(terr))
		return
	}
	m.bus.Emit(bus.KindDisconnected, nil)

	m.wg.Add(1)
	go m.reconnectLoop()
}

// reconnectLoop retries forever with a fixed backoff. Every attempt goes
// Reconnecting -> Connecting and either Connected or back to
// Reconnecting. Stop is the only exit.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()
	backoff := m.profile.ReconnectBackoff.Duration

	for {
		time.Sleep(backoff)

		m.mu.Lock()
		stopped := m.stopped
		m.mu.Unlock()
		if stopped {
			return
		}

		if err := m.machine.Transition(status.Connecting); err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.profile.HandshakeTimeout.Duration)
		conn, err := m.dial(ctx)
		cancel()
		if err != nil {
			m.logger.Warn("reconnect attempt failed", zap.Error(err))
			if terr := m.machine.Transition(status.Reconnecting); terr != nil {
				return
			}
			continue
		}
		if err := m.establish(conn); err != nil {
			m.logger.Warn("reconnect establish failed", zap.Error(err))
			if m.machine.Current() == status.Failed {
				// establish lands in Failed when the fresh link dies
				// mid-setup; resume retrying.
				if terr := m.machine.Transition(status.Connecting); terr != nil {
					return
				}
				if terr := m.machine.Transition(status.Reconnecting); terr != nil {
					return
				}
			}
			continue
		}
		m.logger.Info("session reconnected")
		return
	}
}

// Send publishes a chat message. Fails fast when not Connected; nothing
// is ever queued for later.
func (m *Manager) Send(receiverID, body string, at time.Time) error {
	state := m.machine.Current()
	if state != status.Connected {
		return &SendError{Reason: SendNotConnected, State: state}
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return &SendError{Reason: SendNotConnected, State: state}
	}

	data, err := wire.BuildMessage(m.profile.UserID, receiverID, body, at)
	if err != nil {
		return err
	}
	if err := conn.Publish(m.profile.PublishDestination, "application/json", data); err != nil {
		return &SendError{Reason: SendLinkFailed, State: state}
	}
	return nil
}

// Disconnect tears the session down deliberately. Safe to call in any
// state.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.stopped = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Disconnect()
	}
	cur := m.machine.Current()
	if cur != status.Disconnected {
		if err := m.machine.Transition(status.Disconnected); err != nil {
			return err
		}
	}
	m.bus.Emit(bus.KindDisconnected, nil)
	return nil
}
