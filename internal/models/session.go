package models

import (
	"time"
)

// Participant is one roster entry of a collaboration session.
type Participant struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
	IsOwner  bool      `json:"isOwner"`
}

// CursorState is the last cursor sample a participant sent. It is never persisted.
type CursorState struct {
	UserID    string    `json:"userId"`
	Offset    int       `json:"cursorPosition"`
	UpdatedAt time.Time `json:"-"`
}

// ShareClaims is what a resolved share token grants.
type ShareClaims struct {
	ShareID  string
	NoteID   string
	OwnerID  string
	Editable bool
}
