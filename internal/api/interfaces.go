package api

import (
	"context"

	"notesync/internal/models"
	"notesync/internal/services"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

This package (api/handlers) is the CONSUMER of repositories and services, so
the interfaces live HERE and list only the methods the handlers call. The gorm
repositories and ShareService satisfy them; handler tests use fakes.
*/

// NoteStore is the durable note storage the REST endpoints expose
type NoteStore interface {
	Create(ctx context.Context, ownerID string, in *models.NoteCreate) (*models.Note, error)
	GetOwned(ctx context.Context, ownerID, id string) (*models.Note, error)
	ListByProject(ctx context.Context, ownerID, projectID string, limit, offset int) ([]*models.Note, error)
	Update(ctx context.Context, ownerID, id string, update *models.NoteUpdate) (*models.Note, error)
	UpdateTags(ctx context.Context, ownerID, id string, tags []string) (*models.Note, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// RevisionLister reads final-save history
type RevisionLister interface {
	List(ctx context.Context, noteID string, limit int) ([]*models.NoteRevision, error)
}

// ShareManager mints, lists and revokes share links
type ShareManager interface {
	Create(ctx context.Context, ownerID, noteID string, editable bool) (*models.ShareLink, error)
	ListActive(ctx context.Context, ownerID string) ([]*services.SharedNote, error)
	Revoke(ctx context.Context, ownerID, shareID string) error
}
