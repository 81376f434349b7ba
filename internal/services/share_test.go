package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"notesync/internal/models"
	"notesync/internal/repository"

	"github.com/go-playground/assert/v2"
	"github.com/segmentio/ksuid"
)

type fakeShares struct {
	mu     sync.Mutex
	shares map[string]*models.Share
}

func newFakeShares() *fakeShares {
	return &fakeShares{shares: make(map[string]*models.Share)}
}

func (f *fakeShares) Create(ctx context.Context, share *models.Share) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if share.ID == "" {
		share.ID = ksuid.New().String()
	}
	f.shares[share.ID] = share
	return nil
}

func (f *fakeShares) GetByID(ctx context.Context, id string) (*models.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	share, ok := f.shares[id]
	if !ok {
		return nil, repository.ErrShareNotFound
	}
	copied := *share
	return &copied, nil
}

func (f *fakeShares) ListActiveByOwner(ctx context.Context, ownerID string, now time.Time) ([]*models.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Share
	for _, share := range f.shares {
		if share.OwnerID == ownerID && share.Active(now) {
			out = append(out, share)
		}
	}
	return out, nil
}

func (f *fakeShares) Revoke(ctx context.Context, ownerID, id string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	share, ok := f.shares[id]
	if !ok || share.OwnerID != ownerID {
		return repository.ErrShareNotFound
	}
	share.RevokedAt = &now
	return nil
}

type fakeOwnedNotes map[string]string // note id -> owner id

func (f fakeOwnedNotes) GetOwned(ctx context.Context, ownerID, id string) (*models.Note, error) {
	if owner, ok := f[id]; ok && owner == ownerID {
		return &models.Note{ID: id, OwnerID: owner}, nil
	}
	return nil, repository.ErrNoteNotFound
}

func newTestShareService(now *time.Time) (*ShareService, *fakeShares) {
	shares := newFakeShares()
	svc := NewShareService(shares, fakeOwnedNotes{"note-1": "owner"}, "test-secret", time.Hour, "ws://collab.example/")
	svc.now = func() time.Time { return *now }
	return svc, shares
}

func TestShareCreateAndResolve(t *testing.T) {
	now := time.Now()
	svc, _ := newTestShareService(&now)
	ctx := context.Background()

	link, err := svc.Create(ctx, "owner", "note-1", false)
	assert.Equal(t, err, nil)
	assert.Equal(t, strings.HasPrefix(link.URL, "ws://collab.example/ws/share?token="), true)

	u, err := url.Parse(link.URL)
	assert.Equal(t, err, nil)
	assert.Equal(t, u.Query().Get("token"), link.Token)

	claims, err := svc.Resolve(ctx, link.Token)
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.ShareID, link.ShareID)
	assert.Equal(t, claims.NoteID, "note-1")
	assert.Equal(t, claims.OwnerID, "owner")
	assert.Equal(t, claims.Editable, false)
}

func TestShareCreateRequiresOwnership(t *testing.T) {
	now := time.Now()
	svc, _ := newTestShareService(&now)

	_, err := svc.Create(context.Background(), "guest", "note-1", true)
	assert.Equal(t, errors.Is(err, repository.ErrNoteNotFound), true)
}

func TestShareResolveStale(t *testing.T) {
	now := time.Now()
	svc, _ := newTestShareService(&now)
	ctx := context.Background()

	link, err := svc.Create(ctx, "owner", "note-1", true)
	assert.Equal(t, err, nil)

	// Revoked
	assert.Equal(t, svc.Revoke(ctx, "owner", link.ShareID), nil)
	_, err = svc.Resolve(ctx, link.Token)
	assert.Equal(t, errors.Is(err, ErrShareRevoked), true)
	assert.Equal(t, IsStale(err), true)

	// Expired
	link, err = svc.Create(ctx, "owner", "note-1", true)
	assert.Equal(t, err, nil)
	now = now.Add(2 * time.Hour)
	_, err = svc.Resolve(ctx, link.Token)
	assert.Equal(t, errors.Is(err, ErrShareExpired), true)
	assert.Equal(t, IsStale(err), true)
}

func TestShareResolveRejectsForgery(t *testing.T) {
	now := time.Now()
	svc, shares := newTestShareService(&now)
	ctx := context.Background()

	link, err := svc.Create(ctx, "owner", "note-1", true)
	assert.Equal(t, err, nil)

	other := NewShareService(shares, fakeOwnedNotes{"note-1": "owner"}, "another-secret", time.Hour, "ws://x")
	other.now = svc.now
	_, err = other.Resolve(ctx, link.Token)
	assert.Equal(t, errors.Is(err, ErrShareInvalid), true)
	assert.Equal(t, IsStale(err), false)

	_, err = svc.Resolve(ctx, "not-a-token")
	assert.Equal(t, errors.Is(err, ErrShareInvalid), true)
}

func TestShareListActive(t *testing.T) {
	now := time.Now()
	svc, _ := newTestShareService(&now)
	ctx := context.Background()

	_, err := svc.Create(ctx, "owner", "note-1", true)
	assert.Equal(t, err, nil)
	revoked, err := svc.Create(ctx, "owner", "note-1", true)
	assert.Equal(t, err, nil)
	assert.Equal(t, svc.Revoke(ctx, "owner", revoked.ShareID), nil)

	list, err := svc.ListActive(ctx, "owner")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(list), 1)
	assert.Equal(t, strings.Contains(list[0].ConnURL, "/ws/share?token="), true)
}
