package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/classline/classline/internal/auth"
	"github.com/classline/classline/internal/broadcast"
	"github.com/classline/classline/internal/bus"
	"github.com/classline/classline/internal/conn"
	"github.com/classline/classline/internal/connstate"
	"github.com/classline/classline/internal/health"
	"github.com/classline/classline/internal/model"
	"github.com/classline/classline/internal/reconcile"
	"github.com/classline/classline/internal/room"
	"github.com/classline/classline/internal/roster"
)

// ErrNotConnected is returned by room operations before Connect has run.
var ErrNotConnected = errors.New("client not connected")

// Params collects the collaborators the facade composes. Screens call the
// facade and never touch the connection directly.
type Params struct {
	Manager     *conn.Manager
	Reconciler  *reconcile.Reconciler
	Roster      *roster.Roster
	Monitor     *health.Monitor
	Dispatcher  *broadcast.Dispatcher
	Uploader    room.Uploader
	Provider    auth.Provider
	Bus         *bus.Bus
	Logger      *zap.Logger
	TypingQuiet time.Duration
}

// Client is the single entry point for UI collaborators: send, typing,
// join/leave, broadcast, pinning, and the manual connectivity retry.
type Client struct {
	mgr        *conn.Manager
	rec        *reconcile.Reconciler
	roster     *roster.Roster
	monitor    *health.Monitor
	dispatcher *broadcast.Dispatcher
	uploader   room.Uploader
	provider   auth.Provider
	bus        *bus.Bus
	logger     *zap.Logger
	quiet      time.Duration

	mu        sync.Mutex
	sessions  map[string]*room.Session
	creds     auth.Credentials
	disposers []func()
	done      chan struct{}
	closed    bool
}

// New creates the facade and wires its roster-maintenance subscription.
func New(p Params) *Client {
	c := &Client{
		mgr:        p.Manager,
		rec:        p.Reconciler,
		roster:     p.Roster,
		monitor:    p.Monitor,
		dispatcher: p.Dispatcher,
		uploader:   p.Uploader,
		provider:   p.Provider,
		bus:        p.Bus,
		logger:     p.Logger,
		quiet:      p.TypingQuiet,
		sessions:   make(map[string]*room.Session),
		done:       make(chan struct{}),
	}

	msgCh, dispose := p.Bus.Subscribe("message.", 64)
	c.disposers = append(c.disposers, dispose)
	go c.pump(msgCh)
	return c
}

// Connect fetches credentials from the auth collaborator and starts the
// connection. All results surface asynchronously as conn.* events.
func (c *Client) Connect(ctx context.Context) error {
	creds, err := c.provider.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
	return c.mgr.Connect(creds.UserID, creds.Role, creds.Token)
}

// Join opens (or reuses) the session for a room and emits the room-join.
func (c *Client) Join(roomID string) error {
	s, err := c.session(roomID)
	if err != nil {
		return err
	}
	s.Join()
	return nil
}

// Leave emits the room-leave and tears the session down. The room's
// messages stay cached for the rest of the app session.
func (c *Client) Leave(roomID string) {
	c.mu.Lock()
	s, ok := c.sessions[roomID]
	delete(c.sessions, roomID)
	c.mu.Unlock()
	if !ok {
		return
	}
	s.Leave()
	s.Close()
}

// Send transmits a text message optimistically.
func (c *Client) Send(roomID, body string) (model.Message, error) {
	s, err := c.session(roomID)
	if err != nil {
		return model.Message{}, err
	}
	return s.Send(body, model.KindText), nil
}

// SendImage runs the upload-backed image send.
func (c *Client) SendImage(ctx context.Context, roomID, localPath string) error {
	s, err := c.session(roomID)
	if err != nil {
		return err
	}
	return s.SendImage(ctx, localPath, c.uploader)
}

// SendTyping registers one keystroke for the room's typing debounce.
func (c *Client) SendTyping(roomID string) {
	if s, err := c.session(roomID); err == nil {
		s.Typing()
	}
}

// MarkRead clears the room's unread count locally and notifies the server.
func (c *Client) MarkRead(roomID string) {
	if s, err := c.session(roomID); err == nil {
		s.MarkRead()
	}
	c.roster.MarkRead(roomID)
}

// Broadcast fans body out to every room the sender owns. Faculty only.
func (c *Client) Broadcast(ctx context.Context, body string, kind model.Kind) (*broadcast.Result, error) {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	if creds.UserID == "" {
		return nil, ErrNotConnected
	}
	if creds.Role != model.RoleFaculty {
		return nil, errors.New("broadcast requires the faculty role")
	}
	return c.dispatcher.Broadcast(ctx, creds.UserID, body, kind)
}

// TogglePin flips a room's pin overlay.
func (c *Client) TogglePin(roomID string) (bool, error) {
	return c.roster.TogglePin(roomID)
}

// RetryConnection is the manual retry behind the blocking modal: it
// re-evaluates connectivity and, if the connection gave up, restarts it.
func (c *Client) RetryConnection() {
	c.monitor.ManualRetry()

	if c.mgr.State() == connstate.Failed {
		if err := c.mgr.Reset(); err != nil {
			c.logger.Warn("reset failed connection", zap.Error(err))
			return
		}
		c.mu.Lock()
		creds := c.creds
		c.mu.Unlock()
		if creds.UserID != "" {
			if err := c.mgr.Connect(creds.UserID, creds.Role, creds.Token); err != nil {
				c.logger.Warn("manual reconnect", zap.Error(err))
			}
		}
	}
}

// ForceReconnect tears the transport down and redials; for callers that
// judge the connection stuck.
func (c *Client) ForceReconnect() {
	c.mgr.ForceReconnect()
}

// Foreground notifies the monitor the app is visible again.
func (c *Client) Foreground() {
	c.monitor.Foreground()
}

// Rooms returns the cached rooms in render order.
func (c *Client) Rooms() []model.Room {
	return c.roster.Rooms()
}

// SetRooms replaces the room cache with a server fetch.
func (c *Client) SetRooms(rooms []model.Room) {
	c.roster.SetRooms(rooms)
}

// Messages returns a room's reconciled message list.
func (c *Client) Messages(roomID string) []model.Message {
	return c.rec.Messages(roomID)
}

// TypingUsers returns who is typing in a room right now.
func (c *Client) TypingUsers(roomID string) []string {
	c.mu.Lock()
	s, ok := c.sessions[roomID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return s.TypingUsers()
}

// Gate returns the current connectivity gate.
func (c *Client) Gate() health.Gate {
	return c.monitor.Gate()
}

// State returns the connection lifecycle state.
func (c *Client) State() connstate.State {
	return c.mgr.State()
}

// Close tears down every session, releases subscriptions, and disconnects.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sessions := c.sessions
	c.sessions = make(map[string]*room.Session)
	disposers := c.disposers
	c.disposers = nil
	close(c.done)
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, dispose := range disposers {
		dispose()
	}
	c.mgr.Disconnect()
}

func (c *Client) session(roomID string) (*room.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrNotConnected
	}
	if s, ok := c.sessions[roomID]; ok {
		return s, nil
	}
	if c.creds.UserID == "" {
		return nil, ErrNotConnected
	}
	s := room.NewSession(roomID, c.creds.UserID, c.creds.Role, c.quiet, c.mgr, c.rec, c.bus, c.logger)
	c.sessions[roomID] = s
	return s, nil
}

// pump keeps the roster in step with reconciler output: appends and
// resolutions bump recency; rollbacks are ignored here.
func (c *Client) pump(msgCh <-chan bus.Event) {
	for {
		select {
		case evt := <-msgCh:
			if evt.Kind != "message.appended" && evt.Kind != "message.resolved" {
				continue
			}
			msg, ok := evt.Payload.(model.Message)
			if !ok {
				continue
			}
			c.mu.Lock()
			own := c.creds.UserID
			c.mu.Unlock()
			c.roster.ApplyMessage(msg, own)
		case <-c.done:
			return
		}
	}
}
