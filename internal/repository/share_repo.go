package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notesync/internal/models"

	"gorm.io/gorm"
)

// ErrShareNotFound is returned for unknown share ids or shares owned by someone else.
var ErrShareNotFound = errors.New("share not found")

type ShareRepositoryImpl struct {
	db *gorm.DB
}

func NewShareRepository(db *gorm.DB) *ShareRepositoryImpl {
	return &ShareRepositoryImpl{db: db}
}

func (r *ShareRepositoryImpl) Create(ctx context.Context, share *models.Share) error {
	if err := r.db.WithContext(ctx).Create(share).Error; err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}
	return nil
}

func (r *ShareRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Share, error) {
	var share models.Share

	err := r.db.WithContext(ctx).First(&share, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrShareNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share: %w", err)
	}

	return &share, nil
}

// ListActiveByOwner returns the owner's unrevoked, unexpired shares with their notes.
func (r *ShareRepositoryImpl) ListActiveByOwner(ctx context.Context, ownerID string, now time.Time) ([]*models.Share, error) {
	var shares []*models.Share

	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND revoked_at IS NULL AND expires_at > ?", ownerID, now).
		Preload("Note").
		Order("id DESC").
		Find(&shares).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}

	return shares, nil
}

// Revoke marks a share revoked. Revoking twice is not an error.
func (r *ShareRepositoryImpl) Revoke(ctx context.Context, ownerID, id string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.Share{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Update("revoked_at", gorm.Expr("COALESCE(revoked_at, ?)", now))
	if result.Error != nil {
		return fmt.Errorf("failed to revoke share: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrShareNotFound, id)
	}
	return nil
}
