package model

// Room is one conversation scope as cached on the client. Pinned is a
// client-local overlay, never sent by the server.
type Room struct {
	ID                 string `json:"id"`
	ParticipantName    string `json:"participantName"`
	LastMessageAt      int64  `json:"lastMessageAt"` // unix millis
	LastMessagePreview string `json:"lastMessagePreview"`
	UnreadCount        int    `json:"unreadCount"`
	Pinned             bool   `json:"pinned"`
}

// TypingIndicator is the ephemeral typing presence for one user in one
// room. The next indicator for the same (RoomID, UserID) supersedes it.
type TypingIndicator struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}
