package conn

import "encoding/json"

// Client -> server events.
const (
	EvtJoin        = "join"
	EvtJoinChat    = "join_chat"
	EvtLeaveChat   = "leave_chat"
	EvtSendMessage = "send_message"
	EvtTyping      = "typing"
	EvtRead        = "read"
)

// Server -> client events.
const (
	EvtJoinAck    = "join_ack"
	EvtNewMessage = "new_message"
	EvtUserTyping = "user_typing"
	EvtError      = "error"
)

// Envelope is the wire frame: an event name plus its JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals an event and payload into a wire frame.
func NewEnvelope(event string, payload any) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Event: event, Payload: p})
}

// JoinPayload is the session handshake sent immediately after the
// transport is established.
type JoinPayload struct {
	UserID    string `json:"userId"`
	UserType  string `json:"userType"`
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

// RoomPayload scopes join_chat / leave_chat / read to one room.
type RoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
}

// SendMessagePayload carries an outbound message.
type SendMessagePayload struct {
	RoomID      string `json:"roomId"`
	SenderID    string `json:"senderId"`
	SenderType  string `json:"senderType"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
}

// TypingPayload carries typing presence in either direction.
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
	IsTyping bool   `json:"isTyping"`
}

// NewMessagePayload is the server's authoritative message broadcast,
// including the sender's own echo.
type NewMessagePayload struct {
	MessageID   string `json:"messageId"`
	RoomID      string `json:"roomId"`
	SenderID    string `json:"senderId"`
	SenderType  string `json:"senderType"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
	CreatedAt   int64  `json:"createdAt"`
}

// ErrorPayload is the server's error event.
type ErrorPayload struct {
	Message string `json:"message"`
}
