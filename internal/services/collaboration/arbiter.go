package collaboration

import (
	"context"
	"fmt"
	"log"

	"notesync/internal/middleware"
	"notesync/internal/models"
	"notesync/internal/services"

	"go.opentelemetry.io/otel/attribute"
)

/*
FINAL-SAVE ARBITER

Guests' edits are live for everyone but never persisted on their own. Only the
owner's final-save reaches durable storage:

	owner final-save(raw) → Registry.FinalSave (owner check, overwrite)
	                      → peers get update-note(raw)
	                      → CommitRevision(note.raw = raw, + revision row)
	                      → prune job

The content persisted is the one captured under the session lock, so a guest
update that lands after the commit point is not included.
*/

type Arbiter struct {
	registry *Registry
	router   *Router
	store    RevisionCommitter
	pruner   PruneSubmitter
}

// NewArbiter wires the arbiter. pruner may be nil.
func NewArbiter(registry *Registry, router *Router, store RevisionCommitter, pruner PruneSubmitter) *Arbiter {
	return &Arbiter{
		registry: registry,
		router:   router,
		store:    store,
		pruner:   pruner,
	}
}

// Commit applies the owner's last content, sent over connID, and persists it.
// Non-owners get ErrNotOwner and storage is left untouched.
func (a *Arbiter) Commit(ctx context.Context, sessionID, participantID, connID, raw string) (*Commit, error) {
	ctx, span := middleware.StartSpan(ctx, "Arbiter.Commit",
		attribute.String("session.id", sessionID),
		attribute.String("user.id", participantID),
		attribute.Int("content.length", len(raw)),
	)
	defer span.End()

	commit, err := a.registry.FinalSave(sessionID, participantID, connID, &raw, func(c *Commit) {
		a.router.Deliver(c.Peers, updateMessage(c.NoteID, c.Content, c.OwnerID))
	})
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	rev := &models.NoteRevision{
		NoteID:  commit.NoteID,
		Raw:     commit.Content,
		SavedBy: participantID,
		ShareID: sessionID,
	}
	if err := a.store.CommitRevision(ctx, rev); err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to persist final-save of note %s: %w", commit.NoteID, err)
	}
	middleware.AddSpanEvent(ctx, "revision.committed", attribute.String("revision.id", rev.ID))

	if a.pruner != nil {
		if err := a.pruner.SubmitJob(services.PruneJob{NoteID: commit.NoteID}); err != nil {
			log.Printf("⚠️  Revision prune for note %s not queued: %v", commit.NoteID, err)
		}
	}

	return commit, nil
}
