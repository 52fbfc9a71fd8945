package model

// Role identifies which side of the classroom a user is on.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
)

// Kind is the payload type of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Message is one entry in a room's message list. Messages created by a
// local send start with Pending=true and are collapsed with their
// authoritative server echo by the reconciler; the Pending flag flips
// exactly once.
type Message struct {
	ID         string `json:"id"`
	RoomID     string `json:"roomId"`
	SenderID   string `json:"senderId"`
	SenderRole Role   `json:"senderRole"`
	Body       string `json:"body"`
	Kind       Kind   `json:"kind"`
	CreatedAt  int64  `json:"createdAt"` // unix millis
	Pending    bool   `json:"pending"`
	Edited     bool   `json:"edited"`
	ReadAt     *int64 `json:"readAt,omitempty"` // unix millis, nil until read
}
