package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"notesync/internal/middleware"
	"notesync/internal/models"
	"notesync/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

/*
SHARE TOKENS

A share link is a WebSocket URL carrying a signed token:

	ws://host/ws/share?token=<jwt>

The token names the share row (sid), the note (nid), the owner (own) and
whether guests may edit (edt). The signature and exp make the link tamper
proof; the share row makes it revocable. Both are checked on every join.
*/

var (
	ErrShareInvalid = errors.New("share token is invalid")
	ErrShareExpired = errors.New("share token has expired")
	ErrShareRevoked = errors.New("share has been revoked")
)

// WebSocketSharePath is where the collaboration endpoint is mounted.
const WebSocketSharePath = "/ws/share"

type shareTokenClaims struct {
	ShareID  string `json:"sid"`
	NoteID   string `json:"nid"`
	OwnerID  string `json:"own"`
	Editable bool   `json:"edt"`
	jwt.RegisteredClaims
}

// SharedNote is one entry of the owner's share list.
type SharedNote struct {
	*models.Share
	ConnURL string `json:"connUrl"`
}

// ShareService mints and resolves share tokens.
type ShareService struct {
	shares  ShareRepository
	notes   OwnedNoteReader
	secret  []byte
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

func NewShareService(shares ShareRepository, notes OwnedNoteReader, secret string, ttl time.Duration, publicWSURL string) *ShareService {
	return &ShareService{
		shares:  shares,
		notes:   notes,
		secret:  []byte(secret),
		ttl:     ttl,
		baseURL: strings.TrimRight(publicWSURL, "/"),
		now:     time.Now,
	}
}

// Create records a new share for a note the caller owns and returns its joinable link.
func (s *ShareService) Create(ctx context.Context, ownerID, noteID string, editable bool) (*models.ShareLink, error) {
	ctx, span := middleware.StartSpan(ctx, "ShareService.Create",
		attribute.String("note.id", noteID),
		attribute.Bool("share.editable", editable),
	)
	defer span.End()

	if _, err := s.notes.GetOwned(ctx, ownerID, noteID); err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	share := &models.Share{
		NoteID:    noteID,
		OwnerID:   ownerID,
		Editable:  editable,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.shares.Create(ctx, share); err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	return s.link(share)
}

// Resolve verifies a token and its share row. Failures are one of
// ErrShareInvalid, ErrShareExpired, ErrShareRevoked or repository.ErrShareNotFound.
func (s *ShareService) Resolve(ctx context.Context, token string) (*models.ShareClaims, error) {
	claims := &shareTokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrShareExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrShareInvalid, err)
	}

	share, err := s.shares.GetByID(ctx, claims.ShareID)
	if err != nil {
		return nil, err
	}
	if share.NoteID != claims.NoteID || share.OwnerID != claims.OwnerID {
		return nil, ErrShareInvalid
	}
	if share.RevokedAt != nil {
		return nil, ErrShareRevoked
	}
	if !share.Active(s.now()) {
		return nil, ErrShareExpired
	}

	return &models.ShareClaims{
		ShareID:  share.ID,
		NoteID:   share.NoteID,
		OwnerID:  share.OwnerID,
		Editable: share.Editable,
	}, nil
}

// ListActive returns the owner's live shares with a fresh connect URL each.
func (s *ShareService) ListActive(ctx context.Context, ownerID string) ([]*SharedNote, error) {
	shares, err := s.shares.ListActiveByOwner(ctx, ownerID, s.now())
	if err != nil {
		return nil, err
	}

	result := make([]*SharedNote, 0, len(shares))
	for _, share := range shares {
		link, err := s.link(share)
		if err != nil {
			return nil, err
		}
		result = append(result, &SharedNote{Share: share, ConnURL: link.URL})
	}
	return result, nil
}

func (s *ShareService) Revoke(ctx context.Context, ownerID, shareID string) error {
	return s.shares.Revoke(ctx, ownerID, shareID, s.now())
}

// IsStale reports whether err from Resolve means the link can no longer be joined.
func IsStale(err error) bool {
	return errors.Is(err, ErrShareExpired) ||
		errors.Is(err, ErrShareRevoked) ||
		errors.Is(err, repository.ErrShareNotFound) ||
		errors.Is(err, repository.ErrNoteNotFound)
}

func (s *ShareService) link(share *models.Share) (*models.ShareLink, error) {
	claims := &shareTokenClaims{
		ShareID:  share.ID,
		NoteID:   share.NoteID,
		OwnerID:  share.OwnerID,
		Editable: share.Editable,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   share.ID,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(share.ExpiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign share token: %w", err)
	}

	return &models.ShareLink{
		ShareID: share.ID,
		NoteID:  share.NoteID,
		Token:   token,
		URL:     s.baseURL + WebSocketSharePath + "?token=" + url.QueryEscape(token),
	}, nil
}
