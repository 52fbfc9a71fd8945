package room

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/classline/classline/internal/bus"
	"github.com/classline/classline/internal/conn"
	"github.com/classline/classline/internal/connstate"
	"github.com/classline/classline/internal/model"
	"github.com/classline/classline/internal/reconcile"
)

// Sender is what a session needs from the connection manager.
type Sender interface {
	Send(event string, payload any) error
	State() connstate.State
}

// Uploader is the outbound boundary for image messages: it takes a local
// file reference and returns a durable URL.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (url string, err error)
}

// Session scopes messaging to one conversation. It re-joins the room after
// every reconnect (room membership is not preserved across a transport
// reconnect) and owns the typing debounce for its user.
type Session struct {
	roomID string
	userID string
	role   model.Role
	quiet  time.Duration

	sender Sender
	rec    *reconcile.Reconciler
	bus    *bus.Bus
	logger *zap.Logger

	mu           sync.Mutex
	disposers    []func()
	typingTimer  *time.Timer
	typingActive bool
	typingUsers  map[string]bool
	closed       bool
	done         chan struct{}
}

// NewSession creates a session for one room and immediately wires its bus
// subscriptions. Call Close when the conversation view goes away.
func NewSession(roomID, userID string, role model.Role, quiet time.Duration,
	sender Sender, rec *reconcile.Reconciler, b *bus.Bus, logger *zap.Logger) *Session {

	s := &Session{
		roomID:      roomID,
		userID:      userID,
		role:        role,
		quiet:       quiet,
		sender:      sender,
		rec:         rec,
		bus:         b,
		logger:      logger.With(zap.String("room", roomID)),
		typingUsers: make(map[string]bool),
		done:        make(chan struct{}),
	}

	msgCh, disposeMsg := b.Subscribe("room.message", 64)
	typCh, disposeTyp := b.Subscribe("room.typing", 64)
	connCh, disposeConn := b.Subscribe("conn.connected", 8)
	s.disposers = append(s.disposers, disposeMsg, disposeTyp, disposeConn)

	go s.pump(msgCh, typCh, connCh)
	return s
}

// Join emits the room-join event. No-op while the connection is not
// Joined; the rejoin on conn.connected covers the catch-up.
func (s *Session) Join() {
	if s.sender.State() != connstate.Joined {
		s.logger.Info("join skipped, connection not ready")
		return
	}
	if err := s.sender.Send(conn.EvtJoinChat, s.roomPayload()); err != nil {
		s.logger.Warn("join_chat failed", zap.Error(err))
	}
}

// Leave emits the room-leave event.
func (s *Session) Leave() {
	if err := s.sender.Send(conn.EvtLeaveChat, s.roomPayload()); err != nil {
		s.logger.Warn("leave_chat failed", zap.Error(err))
	}
}

// Send constructs a pending message, appends it for immediate rendering,
// and transmits it. Never fails synchronously: when the connection is not
// Joined the pending entry simply never resolves, which is the caller's
// signal to surface a "not connected" condition.
func (s *Session) Send(body string, kind model.Kind) model.Message {
	msg := model.Message{
		ID:         nextLocalID(),
		RoomID:     s.roomID,
		SenderID:   s.userID,
		SenderRole: s.role,
		Body:       body,
		Kind:       kind,
		CreatedAt:  time.Now().UnixMilli(),
		Pending:    true,
	}
	s.rec.AppendPending(msg)

	err := s.sender.Send(conn.EvtSendMessage, conn.SendMessagePayload{
		RoomID:      s.roomID,
		SenderID:    s.userID,
		SenderType:  string(s.role),
		Message:     body,
		MessageType: string(kind),
	})
	if err != nil {
		s.logger.Warn("send not transmitted", zap.Error(err))
	}
	return msg
}

// SendImage runs the upload-backed send. On upload success the pending
// entry's body is swapped to the durable URL and stays pending until the
// server echo resolves it; on upload failure the entry rolls back.
func (s *Session) SendImage(ctx context.Context, localPath string, up Uploader) error {
	msg := model.Message{
		ID:         nextLocalID(),
		RoomID:     s.roomID,
		SenderID:   s.userID,
		SenderRole: s.role,
		Body:       localPath,
		Kind:       model.KindImage,
		CreatedAt:  time.Now().UnixMilli(),
		Pending:    true,
	}
	s.rec.AppendPending(msg)

	url, err := up.Upload(ctx, localPath)
	if err != nil {
		s.rec.RemovePending(s.roomID, msg.ID)
		s.logger.Warn("image upload failed", zap.Error(err))
		s.bus.Publish(bus.E("message.send_failed", msg))
		return err
	}

	s.rec.ConfirmUpload(s.roomID, msg.ID, url)
	sendErr := s.sender.Send(conn.EvtSendMessage, conn.SendMessagePayload{
		RoomID:      s.roomID,
		SenderID:    s.userID,
		SenderType:  string(s.role),
		Message:     url,
		MessageType: string(model.KindImage),
	})
	if sendErr != nil {
		s.logger.Warn("image send not transmitted", zap.Error(sendErr))
	}
	return nil
}

// Typing registers one keystroke. The first keystroke after an idle period
// emits a leading isTyping=true immediately; a trailing isTyping=false
// goes out once the quiet period elapses with no further keystrokes.
func (s *Session) Typing() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	leading := !s.typingActive
	s.typingActive = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.quiet, s.typingStopped)
	s.mu.Unlock()

	if leading {
		s.sendTyping(true)
	}
}

// MarkRead tells the server everything in the room has been read.
func (s *Session) MarkRead() {
	if err := s.sender.Send(conn.EvtRead, s.roomPayload()); err != nil {
		s.logger.Warn("read receipt failed", zap.Error(err))
	}
}

// Messages returns the room's reconciled message list.
func (s *Session) Messages() []model.Message {
	return s.rec.Messages(s.roomID)
}

// TypingUsers returns the ids of users currently typing in the room.
func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []string
	for id, typing := range s.typingUsers {
		if typing {
			users = append(users, id)
		}
	}
	return users
}

// Close tears the session down: releases all bus subscriptions, clears the
// pending typing-debounce timer and discards typing indicators.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typingActive = false
	s.typingUsers = make(map[string]bool)
	disposers := s.disposers
	s.disposers = nil
	close(s.done)
	s.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
}

func (s *Session) pump(msgCh, typCh, connCh <-chan bus.Event) {
	for {
		select {
		case evt := <-msgCh:
			msg, ok := evt.Payload.(model.Message)
			if !ok || msg.RoomID != s.roomID {
				continue
			}
			s.rec.Ingest(msg)
		case evt := <-typCh:
			ind, ok := evt.Payload.(model.TypingIndicator)
			if !ok || ind.RoomID != s.roomID || ind.UserID == s.userID {
				continue
			}
			s.mu.Lock()
			s.typingUsers[ind.UserID] = ind.IsTyping
			s.mu.Unlock()
		case <-connCh:
			// Membership does not survive a reconnect.
			s.Join()
		case <-s.done:
			return
		}
	}
}

func (s *Session) typingStopped() {
	s.mu.Lock()
	if s.closed || !s.typingActive {
		s.mu.Unlock()
		return
	}
	s.typingActive = false
	s.mu.Unlock()
	s.sendTyping(false)
}

func (s *Session) sendTyping(isTyping bool) {
	err := s.sender.Send(conn.EvtTyping, conn.TypingPayload{
		RoomID:   s.roomID,
		UserID:   s.userID,
		UserType: string(s.role),
		IsTyping: isTyping,
	})
	if err != nil {
		s.logger.Info("typing not transmitted", zap.Error(err))
	}
}

func (s *Session) roomPayload() conn.RoomPayload {
	return conn.RoomPayload{
		RoomID:   s.roomID,
		UserID:   s.userID,
		UserType: string(s.role),
	}
}

// lastLocalID backs the monotonic local message ids: millisecond
// timestamps bumped by one when two sends land in the same millisecond.
var lastLocalID atomic.Int64

func nextLocalID() string {
	for {
		now := time.Now().UnixMilli()
		prev := lastLocalID.Load()
		if now <= prev {
			now = prev + 1
		}
		if lastLocalID.CompareAndSwap(prev, now) {
			return strconv.FormatInt(now, 10)
		}
	}
}
