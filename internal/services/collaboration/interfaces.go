package collaboration

import (
	"context"

	"notesync/internal/models"
	"notesync/internal/services"
)

// NoteLoader seeds a new session with the stored note.
type NoteLoader interface {
	GetByID(ctx context.Context, id string) (*models.Note, error)
}

// RevisionCommitter persists a final-save.
type RevisionCommitter interface {
	CommitRevision(ctx context.Context, rev *models.NoteRevision) error
}

// PruneSubmitter accepts background history trimming.
type PruneSubmitter interface {
	SubmitJob(job services.PruneJob) error
}

// ShareResolver turns a share token into the share it grants.
type ShareResolver interface {
	Resolve(ctx context.Context, token string) (*models.ShareClaims, error)
}
