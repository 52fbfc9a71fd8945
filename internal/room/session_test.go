package room

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/classline/classline/internal/bus"
	"github.com/classline/classline/internal/conn"
	"github.com/classline/classline/internal/connstate"
	"github.com/classline/classline/internal/model"
	"github.com/classline/classline/internal/reconcile"
)

type sentEvent struct {
	Event   string
	Payload any
}

// fakeSender records what the session transmits and simulates the
// connection state.
type fakeSender struct {
	mu    sync.Mutex
	state connstate.State
	sent  []sentEvent
	err   error
}

func (f *fakeSender) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEvent{Event: event, Payload: payload})
	return nil
}

func (f *fakeSender) State() connstate.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSender) events(kind string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, e := range f.sent {
		if e.Event == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeUploader struct {
	url string
	err error
}

func (f *fakeUploader) Upload(context.Context, string) (string, error) {
	return f.url, f.err
}

func testSession(t *testing.T, quiet time.Duration) (*Session, *fakeSender, *bus.Bus, *reconcile.Reconciler) {
	t.Helper()
	b := bus.New()
	rec := reconcile.New(b, zap.NewNop())
	sender := &fakeSender{state: connstate.Joined}
	s := NewSession("R42", "student7", model.RoleStudent, quiet, sender, rec, b, zap.NewNop())
	t.Cleanup(s.Close)
	return s, sender, b, rec
}

func TestJoinEmitsRoomJoin(t *testing.T) {
	s, sender, _, _ := testSession(t, time.Second)

	s.Join()
	joins := sender.events(conn.EvtJoinChat)
	if len(joins) != 1 {
		t.Fatalf("join_chat events = %d, want 1", len(joins))
	}
	p, ok := joins[0].Payload.(conn.RoomPayload)
	if !ok || p.RoomID != "R42" || p.UserID != "student7" || p.UserType != "student" {
		t.Errorf("join payload = %+v", joins[0].Payload)
	}
}

func TestJoinSkippedWhenNotReady(t *testing.T) {
	s, sender, _, _ := testSession(t, time.Second)
	sender.mu.Lock()
	sender.state = connstate.Reconnecting
	sender.mu.Unlock()

	s.Join()
	if n := len(sender.events(conn.EvtJoinChat)); n != 0 {
		t.Errorf("join_chat events = %d, want 0 while not joined", n)
	}
}

func TestSendOptimistic(t *testing.T) {
	s, sender, _, _ := testSession(t, time.Second)

	msg := s.Send("Hello", model.KindText)
	if !msg.Pending {
		t.Error("returned message not pending")
	}

	// Pending entry renders immediately.
	msgs := s.Messages()
	if len(msgs) != 1 || !msgs[0].Pending || msgs[0].Body != "Hello" {
		t.Fatalf("messages = %+v, want one pending Hello", msgs)
	}

	sends := sender.events(conn.EvtSendMessage)
	if len(sends) != 1 {
		t.Fatalf("send_message events = %d, want 1", len(sends))
	}
	p, ok := sends[0].Payload.(conn.SendMessagePayload)
	if !ok || p.RoomID != "R42" || p.Message != "Hello" || p.MessageType != "text" {
		t.Errorf("send payload = %+v", sends[0].Payload)
	}
}

// TestSendEchoScenario: student sends "Hello" while Joined, the server
// echoes it back, and the final list holds exactly one "Hello" with
// pending=false.
func TestSendEchoScenario(t *testing.T) {
	s, _, b, _ := testSession(t, time.Second)

	s.Send("Hello", model.KindText)
	b.Publish(bus.E("room.message", model.Message{
		ID:         "srv-1",
		RoomID:     "R42",
		SenderID:   "student7",
		SenderRole: model.RoleStudent,
		Body:       "Hello",
		Kind:       model.KindText,
		CreatedAt:  time.Now().UnixMilli(),
	}))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		msgs := s.Messages()
		if len(msgs) == 1 && !msgs[0].Pending {
			if msgs[0].Body != "Hello" || msgs[0].ID != "srv-1" {
				t.Fatalf("resolved entry = %+v", msgs[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("echo never reconciled: %+v", s.Messages())
}

func TestSendWhileNotJoinedNeverThrows(t *testing.T) {
	s, sender, _, _ := testSession(t, time.Second)
	sender.mu.Lock()
	sender.state = connstate.Reconnecting
	sender.err = errors.New("connection not joined")
	sender.mu.Unlock()

	msg := s.Send("unsendable", model.KindText)
	if msg.ID == "" {
		t.Fatal("no message returned")
	}
	// The pending entry stays unresolved; that is the caller's signal.
	msgs := s.Messages()
	if len(msgs) != 1 || !msgs[0].Pending {
		t.Errorf("messages = %+v, want one unresolved pending entry", msgs)
	}
}

func TestTypingDebounce(t *testing.T) {
	quiet := 150 * time.Millisecond
	s, sender, _, _ := testSession(t, quiet)

	// Five keystrokes in quick succession.
	for i := 0; i < 5; i++ {
		s.Typing()
		time.Sleep(10 * time.Millisecond)
	}

	typings := sender.events(conn.EvtTyping)
	if len(typings) != 1 {
		t.Fatalf("typing events after keystrokes = %d, want 1 leading", len(typings))
	}
	if p := typings[0].Payload.(conn.TypingPayload); !p.IsTyping {
		t.Error("leading event isTyping = false, want true")
	}

	// After the quiet period: exactly one trailing false.
	time.Sleep(quiet + 100*time.Millisecond)
	typings = sender.events(conn.EvtTyping)
	if len(typings) != 2 {
		t.Fatalf("typing events after quiet period = %d, want 2", len(typings))
	}
	if p := typings[1].Payload.(conn.TypingPayload); p.IsTyping {
		t.Error("trailing event isTyping = true, want false")
	}

	// A new keystroke starts a fresh leading edge.
	s.Typing()
	typings = sender.events(conn.EvtTyping)
	if len(typings) != 3 {
		t.Fatalf("typing events after new keystroke = %d, want 3", len(typings))
	}
}

func TestCloseClearsTypingTimer(t *testing.T) {
	quiet := 100 * time.Millisecond
	s, sender, _, _ := testSession(t, quiet)

	s.Typing()
	s.Close()
	time.Sleep(quiet + 50*time.Millisecond)

	typings := sender.events(conn.EvtTyping)
	if len(typings) != 1 {
		t.Errorf("typing events = %d, want 1 (no trailing event after Close)", len(typings))
	}
}

func TestTypingIndicatorSuperseded(t *testing.T) {
	s, _, b, _ := testSession(t, time.Second)

	b.Publish(bus.E("room.typing", model.TypingIndicator{RoomID: "R42", UserID: "faculty1", IsTyping: true}))
	waitFor(t, func() bool { return len(s.TypingUsers()) == 1 })

	b.Publish(bus.E("room.typing", model.TypingIndicator{RoomID: "R42", UserID: "faculty1", IsTyping: false}))
	waitFor(t, func() bool { return len(s.TypingUsers()) == 0 })
}

func TestRejoinAfterReconnect(t *testing.T) {
	s, sender, b, _ := testSession(t, time.Second)
	_ = s

	b.Publish(bus.E("conn.connected", nil))
	waitFor(t, func() bool { return len(sender.events(conn.EvtJoinChat)) == 1 })
}

func TestSendImageSwapsBodyOnUpload(t *testing.T) {
	s, sender, _, _ := testSession(t, time.Second)

	if err := s.SendImage(context.Background(), "/tmp/photo.jpg", &fakeUploader{url: "https://cdn.example.edu/p.jpg"}); err != nil {
		t.Fatal(err)
	}

	// The entry carries the durable URL but stays pending until the echo.
	msgs := s.Messages()
	if len(msgs) != 1 || !msgs[0].Pending {
		t.Fatalf("messages = %+v, want one pending image", msgs)
	}
	if msgs[0].Body != "https://cdn.example.edu/p.jpg" {
		t.Errorf("body = %q, want durable URL", msgs[0].Body)
	}
	sends := sender.events(conn.EvtSendMessage)
	if len(sends) != 1 {
		t.Fatalf("send_message events = %d, want 1", len(sends))
	}
	if p := sends[0].Payload.(conn.SendMessagePayload); p.MessageType != "image" {
		t.Errorf("messageType = %q, want image", p.MessageType)
	}
}

// TestSendImageEchoScenario: image upload succeeds, the message goes out
// with the durable URL, and the server echoes it back. The final list must
// hold exactly one entry with pending=false, never two.
func TestSendImageEchoScenario(t *testing.T) {
	s, _, b, _ := testSession(t, time.Second)

	if err := s.SendImage(context.Background(), "/tmp/photo.jpg", &fakeUploader{url: "https://cdn.example.edu/p.jpg"}); err != nil {
		t.Fatal(err)
	}
	b.Publish(bus.E("room.message", model.Message{
		ID:         "srv-7",
		RoomID:     "R42",
		SenderID:   "student7",
		SenderRole: model.RoleStudent,
		Body:       "https://cdn.example.edu/p.jpg",
		Kind:       model.KindImage,
		CreatedAt:  time.Now().UnixMilli(),
	}))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		msgs := s.Messages()
		if len(msgs) == 1 && !msgs[0].Pending {
			if msgs[0].ID != "srv-7" || msgs[0].Body != "https://cdn.example.edu/p.jpg" {
				t.Fatalf("resolved entry = %+v", msgs[0])
			}
			return
		}
		if len(msgs) > 1 {
			t.Fatalf("messages = %+v, want the echo collapsed into one entry", msgs)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("image echo never reconciled: %+v", s.Messages())
}

func TestSendImageRollsBackOnFailure(t *testing.T) {
	s, sender, b, _ := testSession(t, time.Second)
	ch, dispose := b.Subscribe("message.send_failed", 10)
	defer dispose()

	err := s.SendImage(context.Background(), "/tmp/photo.jpg", &fakeUploader{err: errors.New("413 too large")})
	if err == nil {
		t.Fatal("SendImage() should return the upload error")
	}
	if n := len(s.Messages()); n != 0 {
		t.Errorf("messages = %d, want 0 after rollback", n)
	}
	if n := len(sender.events(conn.EvtSendMessage)); n != 0 {
		t.Errorf("send_message events = %d, want 0 after failed upload", n)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("failure was silent, want message.send_failed event")
	}
}

func TestLocalIDsMonotonic(t *testing.T) {
	var prev int64
	for i := 0; i < 100; i++ {
		id, err := strconv.ParseInt(nextLocalID(), 10, 64)
		if err != nil {
			t.Fatal(err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
