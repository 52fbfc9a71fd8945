package conn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classline/classline/internal/bus"
	"github.com/classline/classline/internal/connstate"
	"github.com/classline/classline/internal/model"
)

// ErrNotJoined is returned by Send when the connection is not in the
// Joined state. Callers must not treat it as fatal; the pending message
// simply never resolves.
var ErrNotJoined = errors.New("connection not joined")

// Options are the Manager tunables.
type Options struct {
	// URL is the backend websocket endpoint.
	URL string
	// Attempts is the reconnect budget per disconnect episode.
	Attempts int
	// Delay is the fixed wait between reconnect attempts. Fixed rather
	// than exponential: bounded and predictable for a classroom client.
	Delay time.Duration
	// Cooldown is the wait before redialing in ForceReconnect.
	Cooldown time.Duration
}

// DisconnectEvent is the payload of conn.disconnected.
type DisconnectEvent struct {
	Reason string
}

// ReconnectEvent is the payload of conn.reconnecting.
type ReconnectEvent struct {
	Attempt int
}

// Manager owns exactly one persistent connection per active session. All
// outcomes surface asynchronously as bus events; no method blocks on the
// network.
type Manager struct {
	opts    Options
	dialer  Dialer
	machine *connstate.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	mu        sync.Mutex
	conn      Conn
	userID    string
	role      model.Role
	token     string
	sessionID string
	attempts  int
	retrying  bool
	teardown  bool
}

// NewManager creates a manager. The dialer is the transport seam; pass
// Dial(logger) for the real websocket transport.
func NewManager(opts Options, dialer Dialer, machine *connstate.Machine, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		opts:    opts,
		dialer:  dialer,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
}

// State returns the connection lifecycle state.
func (m *Manager) State() connstate.State {
	return m.machine.Current()
}

// Connect starts the connect-and-join sequence. Fails fast without any
// state change when an argument is absent. A call while a connection is
// live or in flight is a no-op keeping the existing connection.
func (m *Manager) Connect(userID string, role model.Role, token string) error {
	if userID == "" || role == "" || token == "" {
		return errors.New("connect: user id, role and token are all required")
	}

	if cur := m.machine.Current(); cur != connstate.Disconnected {
		m.logger.Info("connect ignored", zap.String("state", string(cur)))
		return nil
	}
	if err := m.machine.Transition(connstate.Connecting); err != nil {
		return err
	}

	m.mu.Lock()
	m.userID, m.role, m.token = userID, role, token
	m.sessionID = uuid.NewString()
	m.attempts = 0
	m.mu.Unlock()

	go m.establish()
	return nil
}

// Send transmits a room-scoped event. Only permitted while Joined.
func (m *Manager) Send(event string, payload any) error {
	if !m.machine.CanSend() {
		return ErrNotJoined
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotJoined
	}
	return conn.Send(event, payload)
}

// ForceReconnect tears down the current transport and dials fresh after
// the configured cooldown. For callers that judge the transport stuck
// rather than cleanly erroring.
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.teardown = true
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	cur := m.machine.Current()
	if cur == connstate.Joined || cur == connstate.Connecting {
		_ = m.machine.Transition(connstate.Reconnecting)
	}
	m.logger.Info("forcing reconnect", zap.Duration("cooldown", m.opts.Cooldown))

	time.AfterFunc(m.opts.Cooldown, func() {
		m.mu.Lock()
		m.teardown = false
		m.mu.Unlock()
		m.establish()
	})
}

// Disconnect closes the connection deliberately. In-flight sends are
// invalidated; their pending messages never resolve.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.teardown = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	cur := m.machine.Current()
	if cur != connstate.Disconnected && cur != connstate.Failed {
		_ = m.machine.Transition(connstate.Disconnected)
	}

	m.mu.Lock()
	m.teardown = false
	m.mu.Unlock()
}

// Reset returns a Failed connection to Disconnected so a manual retry can
// call Connect again.
func (m *Manager) Reset() error {
	return m.machine.Reset()
}

// establish dials and emits the join handshake. The Joined transition only
// happens when the server acknowledges the join.
func (m *Manager) establish() {
	conn, err := m.dialer(context.Background(), m.opts.URL, m.handleEnvelope, m.handleClose)
	if err != nil {
		m.logger.Warn("dial failed", zap.Error(err))
		m.beginReconnect(err)
		return
	}

	m.mu.Lock()
	m.conn = conn
	join := JoinPayload{
		UserID:    m.userID,
		UserType:  string(m.role),
		Token:     m.token,
		SessionID: m.sessionID,
	}
	m.mu.Unlock()

	if err := conn.Send(EvtJoin, join); err != nil {
		m.logger.Warn("join handshake failed", zap.Error(err))
		conn.Close()
		m.beginReconnect(err)
	}
}

// handleClose fires when the transport drops. Server-initiated disconnects
// and transport closes are treated identically; the reason is logged, not
// branched on.
func (m *Manager) handleClose(reason error) {
	m.logger.Warn("transport closed", zap.Error(reason))
	m.beginReconnect(reason)
}

func (m *Manager) beginReconnect(reason error) {
	m.mu.Lock()
	if m.teardown {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	switch m.machine.Current() {
	case connstate.Connecting, connstate.Joined:
		_ = m.machine.Transition(connstate.Reconnecting)
		msg := ""
		if reason != nil {
			msg = reason.Error()
		}
		m.bus.Publish(bus.E("conn.disconnected", DisconnectEvent{Reason: msg}))
	case connstate.Reconnecting:
		// A retry loop is already responsible.
	default:
		return
	}

	go m.retryLoop()
}

// retryLoop drives bounded reconnection: up to Attempts dials with a fixed
// Delay between them. On exhaustion the connection goes Failed and stays
// there until an explicit Reset.
func (m *Manager) retryLoop() {
	m.mu.Lock()
	if m.retrying {
		m.mu.Unlock()
		return
	}
	m.retrying = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.retrying = false
		m.mu.Unlock()
	}()

	for {
		m.mu.Lock()
		if m.teardown {
			m.mu.Unlock()
			return
		}
		if m.attempts >= m.opts.Attempts {
			m.mu.Unlock()
			_ = m.machine.Transition(connstate.Failed)
			m.bus.Publish(bus.E("conn.reconnect_failed", nil))
			m.logger.Warn("reconnect budget exhausted", zap.Int("attempts", m.opts.Attempts))
			return
		}
		m.attempts++
		attempt := m.attempts
		join := JoinPayload{
			UserID:    m.userID,
			UserType:  string(m.role),
			Token:     m.token,
			SessionID: m.sessionID,
		}
		m.mu.Unlock()

		m.bus.Publish(bus.E("conn.reconnecting", ReconnectEvent{Attempt: attempt}))
		time.Sleep(m.opts.Delay)

		if m.machine.Current() != connstate.Reconnecting {
			return
		}

		conn, err := m.dialer(context.Background(), m.opts.URL, m.handleEnvelope, m.handleClose)
		if err != nil {
			m.logger.Warn("reconnect dial failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		if err := conn.Send(EvtJoin, join); err != nil {
			conn.Close()
			continue
		}
		// Dial and handshake out; the join_ack (or a later close) decides
		// what happens next. The attempt counter only resets on ack.
		return
	}
}

func (m *Manager) handleEnvelope(env Envelope) {
	switch env.Event {
	case EvtJoinAck:
		m.handleJoinAck()
	case EvtNewMessage:
		var p NewMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			m.logger.Warn("malformed new_message", zap.Error(err))
			return
		}
		m.bus.Publish(bus.E("room.message", model.Message{
			ID:         p.MessageID,
			RoomID:     p.RoomID,
			SenderID:   p.SenderID,
			SenderRole: model.Role(p.SenderType),
			Body:       p.Message,
			Kind:       model.Kind(p.MessageType),
			CreatedAt:  p.CreatedAt,
		}))
	case EvtUserTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			m.logger.Warn("malformed user_typing", zap.Error(err))
			return
		}
		m.bus.Publish(bus.E("room.typing", model.TypingIndicator{
			RoomID:   p.RoomID,
			UserID:   p.UserID,
			IsTyping: p.IsTyping,
		}))
	case EvtError:
		var p ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		m.logger.Warn("server error event", zap.String("message", p.Message))
		m.bus.Publish(bus.E("conn.error", p.Message))
	default:
		m.logger.Info("unhandled server event", zap.String("event", env.Event))
	}
}

func (m *Manager) handleJoinAck() {
	cur := m.machine.Current()
	if cur != connstate.Connecting && cur != connstate.Reconnecting {
		m.logger.Info("stray join_ack", zap.String("state", string(cur)))
		return
	}
	if err := m.machine.Transition(connstate.Joined); err != nil {
		m.logger.Warn("join_ack transition failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	m.bus.Publish(bus.E("conn.connected", nil))
	m.logger.Info("joined backend session")
}
