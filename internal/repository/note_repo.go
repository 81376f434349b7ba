package repository

import (
	"context"
	"errors"
	"fmt"

	"notesync/internal/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ErrNoteNotFound is returned when a note does not exist, is deleted, or is not owned by the caller.
var ErrNoteNotFound = errors.New("note not found")

// NoteRepositoryImpl is the durable note storage used by the REST API and by final-save.
// Every read or write that comes from a user is scoped by owner id.
type NoteRepositoryImpl struct {
	db *gorm.DB
}

func NewNoteRepository(db *gorm.DB) *NoteRepositoryImpl {
	return &NoteRepositoryImpl{db: db}
}

func (r *NoteRepositoryImpl) Create(ctx context.Context, ownerID string, in *models.NoteCreate) (*models.Note, error) {
	note := &models.Note{
		OwnerID:   ownerID,
		ProjectID: in.ProjectID,
		Raw:       in.Raw,
		Tags:      pq.StringArray(in.Tags),
	}

	if err := r.db.WithContext(ctx).Create(note).Error; err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	return note, nil
}

// GetByID loads a note regardless of owner. Used when a share is resolved.
func (r *NoteRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Note, error) {
	var note models.Note

	err := r.db.WithContext(ctx).First(&note, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}

	return &note, nil
}

// GetOwned loads a note only if ownerID owns it.
func (r *NoteRepositoryImpl) GetOwned(ctx context.Context, ownerID, id string) (*models.Note, error) {
	var note models.Note

	err := r.db.WithContext(ctx).First(&note, "id = ? AND owner_id = ?", id, ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}

	return &note, nil
}

// ListByProject returns the owner's notes in a project, newest first.
func (r *NoteRepositoryImpl) ListByProject(ctx context.Context, ownerID, projectID string, limit, offset int) ([]*models.Note, error) {
	var notes []*models.Note

	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND project_id = ?", ownerID, projectID).
		Order("id DESC"). // KSUIDs sort by creation time
		Limit(limit).
		Offset(offset).
		Find(&notes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}

	return notes, nil
}

func (r *NoteRepositoryImpl) Update(ctx context.Context, ownerID, id string, update *models.NoteUpdate) (*models.Note, error) {
	note, err := r.GetOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if update.ProjectID != nil {
		updates["project_id"] = *update.ProjectID
	}
	if update.Raw != nil {
		updates["raw"] = *update.Raw
	}
	if len(updates) == 0 {
		return note, nil
	}

	if err := r.db.WithContext(ctx).Model(note).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update note: %w", err)
	}

	return note, nil
}

func (r *NoteRepositoryImpl) UpdateTags(ctx context.Context, ownerID, id string, tags []string) (*models.Note, error) {
	note, err := r.GetOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Model(note).Update("tags", pq.StringArray(tags)).Error; err != nil {
		return nil, fmt.Errorf("failed to update tags: %w", err)
	}
	note.Tags = tags

	return note, nil
}

// Delete soft-deletes the note and revokes every share pointing at it.
func (r *NoteRepositoryImpl) Delete(ctx context.Context, ownerID, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.Note{}, "id = ? AND owner_id = ?", id, ownerID)
		if result.Error != nil {
			return fmt.Errorf("failed to delete note: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNoteNotFound, id)
		}

		if err := tx.Model(&models.Share{}).
			Where("note_id = ? AND revoked_at IS NULL", id).
			Update("revoked_at", gorm.Expr("NOW()")).Error; err != nil {
			return fmt.Errorf("failed to revoke shares: %w", err)
		}
		return nil
	})
}

// CommitRevision overwrites the note content and appends a revision row in one transaction.
func (r *NoteRepositoryImpl) CommitRevision(ctx context.Context, rev *models.NoteRevision) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Note{}).Where("id = ?", rev.NoteID).Update("raw", rev.Raw)
		if result.Error != nil {
			return fmt.Errorf("failed to save note content: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNoteNotFound, rev.NoteID)
		}

		if err := tx.Create(rev).Error; err != nil {
			return fmt.Errorf("failed to store revision: %w", err)
		}
		return nil
	})
}
