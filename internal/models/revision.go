package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// NoteRevision is one committed final-save of a note.
// Revisions are pruned to a fixed count per note by the revision pruner.
type NoteRevision struct {
	ID        string    `json:"id" gorm:"type:char(27);primaryKey"`
	NoteID    string    `json:"noteId" gorm:"type:char(27);not null;index:idx_revision_note_time"`
	Raw       string    `json:"raw" gorm:"type:text;not null"`
	SavedBy   string    `json:"savedBy" gorm:"type:varchar(64);not null"`
	ShareID   string    `json:"shareId,omitempty" gorm:"type:char(27)"`
	CreatedAt time.Time `json:"createdAt" gorm:"index:idx_revision_note_time"`
}

func (r *NoteRevision) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = ksuid.New().String()
	}
	return nil
}

func (NoteRevision) TableName() string {
	return "note_revisions"
}
