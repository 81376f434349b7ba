package repository

import (
	"context"
	"fmt"

	"notesync/internal/models"

	"gorm.io/gorm"
)

// RevisionRepositoryImpl reads and prunes final-save history.
// Rows are written by NoteRepositoryImpl.CommitRevision together with the note update.
type RevisionRepositoryImpl struct {
	db *gorm.DB
}

func NewRevisionRepository(db *gorm.DB) *RevisionRepositoryImpl {
	return &RevisionRepositoryImpl{db: db}
}

// List returns up to limit revisions of a note, newest first.
func (r *RevisionRepositoryImpl) List(ctx context.Context, noteID string, limit int) ([]*models.NoteRevision, error) {
	var revisions []*models.NoteRevision

	err := r.db.WithContext(ctx).
		Where("note_id = ?", noteID).
		Order("created_at DESC").
		Limit(limit).
		Find(&revisions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}

	return revisions, nil
}

// Prune keeps the keep most recent revisions of a note and deletes the rest.
// It returns how many rows were removed.
func (r *RevisionRepositoryImpl) Prune(ctx context.Context, noteID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	newest := r.db.Model(&models.NoteRevision{}).
		Select("id").
		Where("note_id = ?", noteID).
		Order("created_at DESC").
		Limit(keep)

	result := r.db.WithContext(ctx).
		Where("note_id = ? AND id NOT IN (?)", noteID, newest).
		Delete(&models.NoteRevision{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune revisions: %w", result.Error)
	}

	return result.RowsAffected, nil
}
