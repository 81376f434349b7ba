package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Share grants access to a live collaboration session on one note.
// The share id doubles as the session id.
type Share struct {
	ID        string     `json:"shareId" gorm:"type:char(27);primaryKey"`
	NoteID    string     `json:"noteId" gorm:"type:char(27);not null;index"`
	OwnerID   string     `json:"ownerId" gorm:"type:varchar(64);not null;index"`
	Editable  bool       `json:"isShareEdit" gorm:"not null;default:true"`
	ExpiresAt time.Time  `json:"expiresAt" gorm:"not null"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt" gorm:"autoCreateTime"`

	Note *Note `json:"note,omitempty" gorm:"foreignKey:NoteID;references:ID"`
}

func (s *Share) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = ksuid.New().String()
	}
	return nil
}

func (Share) TableName() string {
	return "note_shares"
}

// Active reports whether the share can still be joined at now.
func (s *Share) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// ShareLink is what the owner hands to collaborators.
type ShareLink struct {
	ShareID string `json:"shareId"`
	NoteID  string `json:"noteId"`
	Token   string `json:"token"`
	URL     string `json:"url"`
}
