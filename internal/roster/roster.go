package roster

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/classline/classline/internal/bus"
	"github.com/classline/classline/internal/model"
	"github.com/classline/classline/internal/store"
)

// Roster is the client cache of rooms. Rooms come from the server; the
// pinned flag is a client-local overlay persisted in the store and loaded
// before the first sort so the list never visibly re-sorts on startup.
type Roster struct {
	mu     sync.Mutex
	rooms  map[string]model.Room
	pins   map[string]bool
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an empty roster backed by the client-local store.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Roster {
	return &Roster{
		rooms:  make(map[string]model.Room),
		pins:   make(map[string]bool),
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Load reads the persisted pin overlay into memory. Must run on session
// start before the first SetRooms.
func (r *Roster) Load() error {
	pins, err := r.db.PinnedRooms()
	if err != nil {
		return fmt.Errorf("load pins: %w", err)
	}
	r.mu.Lock()
	r.pins = pins
	r.mu.Unlock()
	return nil
}

// SetRooms replaces the cached room list with a server-fetched one,
// reapplying the pin overlay.
func (r *Roster) SetRooms(rooms []model.Room) {
	r.mu.Lock()
	r.rooms = make(map[string]model.Room, len(rooms))
	for _, room := range rooms {
		room.Pinned = r.pins[room.ID]
		r.rooms[room.ID] = room
	}
	r.mu.Unlock()
	r.publishUpdate()
}

// ApplyMessage folds an incoming or sent message into the room cache:
// bumps recency and preview, and counts unread for messages from the
// other party.
func (r *Roster) ApplyMessage(msg model.Message, ownUserID string) {
	r.mu.Lock()
	room, ok := r.rooms[msg.RoomID]
	if !ok {
		room = model.Room{ID: msg.RoomID, Pinned: r.pins[msg.RoomID]}
	}
	if msg.CreatedAt >= room.LastMessageAt {
		room.LastMessageAt = msg.CreatedAt
		room.LastMessagePreview = preview(msg)
	}
	if msg.SenderID != ownUserID {
		room.UnreadCount++
	}
	r.rooms[msg.RoomID] = room
	r.mu.Unlock()
	r.publishUpdate()
}

// MarkRead zeroes a room's unread count.
func (r *Roster) MarkRead(roomID string) {
	r.mu.Lock()
	if room, ok := r.rooms[roomID]; ok {
		room.UnreadCount = 0
		r.rooms[roomID] = room
	}
	r.mu.Unlock()
	r.publishUpdate()
}

// TogglePin flips a room's pin, persists the overlay, and returns the new
// pinned state.
func (r *Roster) TogglePin(roomID string) (bool, error) {
	r.mu.Lock()
	pinned := !r.pins[roomID]
	if pinned {
		r.pins[roomID] = true
	} else {
		delete(r.pins, roomID)
	}
	if room, ok := r.rooms[roomID]; ok {
		room.Pinned = pinned
		r.rooms[roomID] = room
	}
	r.mu.Unlock()

	var err error
	if pinned {
		err = r.db.Pin(roomID)
	} else {
		err = r.db.Unpin(roomID)
	}
	if err != nil {
		return pinned, fmt.Errorf("persist pin overlay: %w", err)
	}
	r.publishUpdate()
	return pinned, nil
}

// Rooms returns the cached rooms sorted by (pinned desc, lastMessageAt
// desc) — the only order the list is ever rendered in.
func (r *Roster) Rooms() []model.Room {
	r.mu.Lock()
	rooms := make([]model.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].Pinned != rooms[j].Pinned {
			return rooms[i].Pinned
		}
		return rooms[i].LastMessageAt > rooms[j].LastMessageAt
	})
	return rooms
}

func (r *Roster) publishUpdate() {
	if r.bus != nil {
		r.bus.Publish(bus.E("roster.updated", nil))
	}
}

func preview(msg model.Message) string {
	if msg.Kind == model.KindImage {
		return "[image]"
	}
	const maxLen = 100
	if len(msg.Body) <= maxLen {
		return msg.Body
	}
	return msg.Body[:maxLen]
}
