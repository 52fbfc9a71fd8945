package reconcile

import (
	"sync"

	"go.uber.org/zap"

	"github.com/classline/classline/internal/bus"
	"github.com/classline/classline/internal/model"
)

// Reconciler merges optimistic local messages with the server's
// authoritative echoes so the sender never sees two copies of a message
// they sent. It holds the session-scoped message lists; nothing here is
// persisted.
type Reconciler struct {
	mu     sync.Mutex
	rooms  map[string][]model.Message
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an empty reconciler.
func New(b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		rooms:  make(map[string][]model.Message),
		bus:    b,
		logger: logger,
	}
}

// AppendPending adds a locally-created message awaiting its server echo.
func (r *Reconciler) AppendPending(msg model.Message) {
	msg.Pending = true
	r.mu.Lock()
	r.rooms[msg.RoomID] = append(r.rooms[msg.RoomID], msg)
	r.mu.Unlock()
	r.publish("message.appended", msg)
}

// Ingest processes one authoritative message event. If its
// (senderID, role, body) matches a still-pending local message for the
// room — first match, FIFO — that pending entry is replaced in place;
// otherwise the message is appended as new.
//
// Matching is body-exact by design: two identical texts sent in quick
// succession can resolve against the wrong echo. Acceptable for a
// low-concurrency classroom chat.
func (r *Reconciler) Ingest(msg model.Message) {
	msg.Pending = false

	r.mu.Lock()
	list := r.rooms[msg.RoomID]
	replaced := false
	for i := range list {
		if list[i].Pending &&
			list[i].SenderID == msg.SenderID &&
			list[i].SenderRole == msg.SenderRole &&
			list[i].Body == msg.Body {
			list[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		r.rooms[msg.RoomID] = append(list, msg)
	}
	r.mu.Unlock()

	if replaced {
		r.publish("message.resolved", msg)
	} else {
		r.publish("message.appended", msg)
	}
}

// ConfirmUpload swaps an image message's local file reference for the
// durable URL once its upload succeeded. The entry stays pending: the
// server echo carries the URL as its body and resolves the entry through
// the normal Ingest match, so the echo never lands as a second copy.
func (r *Reconciler) ConfirmUpload(roomID, localID, url string) bool {
	r.mu.Lock()
	list := r.rooms[roomID]
	var confirmed *model.Message
	for i := range list {
		if list[i].ID == localID && list[i].Pending {
			list[i].Body = url
			confirmed = &list[i]
			break
		}
	}
	var msg model.Message
	if confirmed != nil {
		msg = *confirmed
	}
	r.mu.Unlock()

	if confirmed == nil {
		return false
	}
	r.publish("message.updated", msg)
	return true
}

// RemovePending rolls back an optimistic entry whose send path failed.
// The failure is surfaced, never silently dropped.
func (r *Reconciler) RemovePending(roomID, localID string) bool {
	r.mu.Lock()
	list := r.rooms[roomID]
	var removed *model.Message
	for i := range list {
		if list[i].ID == localID && list[i].Pending {
			msg := list[i]
			r.rooms[roomID] = append(list[:i], list[i+1:]...)
			removed = &msg
			break
		}
	}
	r.mu.Unlock()

	if removed == nil {
		return false
	}
	r.publish("message.rolled_back", *removed)
	return true
}

// Messages returns a copy of the room's message list in arrival order.
func (r *Reconciler) Messages(roomID string) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Message(nil), r.rooms[roomID]...)
}

// PendingCount returns how many messages in the room still await an echo.
func (r *Reconciler) PendingCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.rooms[roomID] {
		if m.Pending {
			n++
		}
	}
	return n
}

// DropRoom discards a room's session-scoped message list.
func (r *Reconciler) DropRoom(roomID string) {
	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()
}

func (r *Reconciler) publish(kind string, msg model.Message) {
	if r.bus != nil {
		r.bus.Publish(bus.E(kind, msg))
	}
}
