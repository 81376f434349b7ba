package services

import (
	"context"
	"time"

	"notesync/internal/models"
)

// Interfaces are declared here, next to the services that consume them.
// The gorm repositories satisfy them; tests use in-memory fakes.

// ShareRepository is what ShareService needs from share storage.
type ShareRepository interface {
	Create(ctx context.Context, share *models.Share) error
	GetByID(ctx context.Context, id string) (*models.Share, error)
	ListActiveByOwner(ctx context.Context, ownerID string, now time.Time) ([]*models.Share, error)
	Revoke(ctx context.Context, ownerID, id string, now time.Time) error
}

// OwnedNoteReader checks note ownership before a share is minted.
type OwnedNoteReader interface {
	GetOwned(ctx context.Context, ownerID, id string) (*models.Note, error)
}

// RevisionPruneStore is what the pruning workers need from revision storage.
type RevisionPruneStore interface {
	Prune(ctx context.Context, noteID string, keep int) (int64, error)
}
