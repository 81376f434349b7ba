package models

// MessageType is the envelope discriminator on the wire.
type MessageType string

const (
	MessageTypeIsOpen       MessageType = "is-open"
	MessageTypeParticipants MessageType = "participants-update"
	MessageTypeUpdateNote   MessageType = "update-note"
	MessageTypeCursorUpdate MessageType = "cursor-update"
	MessageTypeFinalSave    MessageType = "final-save"
)

// Envelope is the JSON frame exchanged over the WebSocket. Which fields are
// set depends on Type.
type Envelope struct {
	Type MessageType `json:"type"`

	// is-open repeats the note id as "id" for clients that treat the frame as a note.
	ID           string        `json:"id,omitempty"`
	SessionID    string        `json:"sessionId,omitempty"`
	NoteID       string        `json:"noteId,omitempty"`
	Raw          *string       `json:"raw,omitempty"`
	UserID       string        `json:"userId,omitempty"`
	Username     string        `json:"username,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	IsShareEdit  *bool         `json:"isShareEdit,omitempty"`
	IsOwner      *bool         `json:"isOwner,omitempty"`

	CursorPosition *int `json:"cursorPosition,omitempty"`
}
