package collaboration

import (
	"encoding/json"
	"errors"
	"fmt"

	"notesync/internal/models"
)

// ErrMalformedMessage wraps every decode or validation failure of an inbound frame.
var ErrMalformedMessage = errors.New("malformed message")

// Inbound is one decoded client frame. The set of implementations is closed:
// UpdateNote, CursorSample and FinalSave.
type Inbound interface {
	Kind() models.MessageType
	inbound()
}

// UpdateNote replaces the session document.
type UpdateNote struct {
	NoteID string
	Raw    string
}

// CursorSample reports the sender's collapsed caret offset.
type CursorSample struct {
	Offset int
}

// FinalSave asks for the document to be committed to durable storage.
type FinalSave struct {
	NoteID string
	Raw    string
}

func (UpdateNote) Kind() models.MessageType   { return models.MessageTypeUpdateNote }
func (CursorSample) Kind() models.MessageType { return models.MessageTypeCursorUpdate }
func (FinalSave) Kind() models.MessageType    { return models.MessageTypeFinalSave }

func (UpdateNote) inbound()   {}
func (CursorSample) inbound() {}
func (FinalSave) inbound()    {}

// DecodeInbound parses and validates a client frame. The sender's userId field is
// ignored; identity comes from the connection.
func DecodeInbound(data []byte) (Inbound, error) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case models.MessageTypeUpdateNote:
		if env.Raw == nil {
			return nil, fmt.Errorf("%w: update-note without raw", ErrMalformedMessage)
		}
		return UpdateNote{NoteID: env.NoteID, Raw: *env.Raw}, nil

	case models.MessageTypeCursorUpdate:
		if env.CursorPosition == nil {
			return nil, fmt.Errorf("%w: cursor-update without cursorPosition", ErrMalformedMessage)
		}
		if *env.CursorPosition < 0 {
			return nil, fmt.Errorf("%w: negative cursorPosition %d", ErrMalformedMessage, *env.CursorPosition)
		}
		return CursorSample{Offset: *env.CursorPosition}, nil

	case models.MessageTypeFinalSave:
		if env.Raw == nil {
			return nil, fmt.Errorf("%w: final-save without raw", ErrMalformedMessage)
		}
		return FinalSave{NoteID: env.NoteID, Raw: *env.Raw}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, env.Type)
	}
}

// Outbound frames

func encode(env models.Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		// Envelope holds only strings, ints and bools.
		panic(fmt.Sprintf("encode envelope: %v", err))
	}
	return data
}

func isOpenMessage(snap *Snapshot) []byte {
	raw := snap.Document
	canEdit := snap.CanEdit
	isOwner := snap.IsOwner
	return encode(models.Envelope{
		Type:         models.MessageTypeIsOpen,
		ID:           snap.NoteID,
		SessionID:    snap.SessionID,
		NoteID:       snap.NoteID,
		Raw:          &raw,
		UserID:       snap.ParticipantID,
		Participants: snap.Participants,
		IsShareEdit:  &canEdit,
		IsOwner:      &isOwner,
	})
}

func participantsMessage(roster []models.Participant) []byte {
	if roster == nil {
		roster = []models.Participant{}
	}
	return encode(models.Envelope{
		Type:         models.MessageTypeParticipants,
		Participants: roster,
	})
}

func updateMessage(noteID, raw, userID string) []byte {
	return encode(models.Envelope{
		Type:   models.MessageTypeUpdateNote,
		NoteID: noteID,
		Raw:    &raw,
		UserID: userID,
	})
}

func cursorMessage(userID, username string, offset int) []byte {
	return encode(models.Envelope{
		Type:           models.MessageTypeCursorUpdate,
		UserID:         userID,
		Username:       username,
		CursorPosition: &offset,
	})
}

func finalSaveAck(noteID, raw, userID string) []byte {
	return encode(models.Envelope{
		Type:   models.MessageTypeFinalSave,
		NoteID: noteID,
		Raw:    &raw,
		UserID: userID,
	})
}
