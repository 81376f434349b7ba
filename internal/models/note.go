package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Note is the durable note a collaboration session ultimately persists to.
// Raw is opaque markup; nothing on the server parses it.
type Note struct {
	ID        string         `json:"id" gorm:"type:char(27);primaryKey"`
	OwnerID   string         `json:"ownerId" gorm:"type:varchar(64);not null;index:idx_notes_owner_project"`
	ProjectID string         `json:"projectId" gorm:"type:varchar(64);index:idx_notes_owner_project"`
	Raw       string         `json:"raw" gorm:"type:text;not null;default:''"`
	Tags      pq.StringArray `json:"tags" gorm:"type:text[]"`
	CreatedAt time.Time      `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"column:deleted_at;index"`
}

// BeforeCreate hook generates KSUID before inserting
func (n *Note) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = ksuid.New().String()
	}
	return nil
}

type NoteCreate struct {
	ProjectID string   `json:"projectId"`
	Raw       string   `json:"raw"`
	Tags      []string `json:"tags,omitempty"`
}

type NoteUpdate struct {
	ProjectID *string `json:"projectId,omitempty"`
	Raw       *string `json:"raw,omitempty"`
}
