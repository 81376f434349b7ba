package relay

import (
	"context"
	"errors"
)

/*
RELAY

A session lives in the memory of whichever node its participants connected
to. When a share is joined through several nodes, each node holds its own copy
of the session and the relay carries accepted document updates between them:

	node A: applyUpdate → Publish(share) ─┐
	                                      │  channel per share
	node B: Subscribe(share) ← ───────────┘ → ApplyRelayed → local fan-out

Only document updates cross nodes. Rosters and cursors stay node-local.
Every node receives its own publications; subscribers drop messages whose
Origin is their own node id.
*/

var ErrClosed = errors.New("relay is closed")

// Message is one accepted document update.
type Message struct {
	SessionID string `json:"sessionId"`
	NoteID    string `json:"noteId"`
	UserID    string `json:"userId"`
	Raw       string `json:"raw"`
	Origin    string `json:"origin"`
}

// Handler receives relayed messages. It is called from the relay's own goroutine.
type Handler func(Message)

type Relay interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe delivers every message published for sessionID until the returned
	// func is called.
	Subscribe(ctx context.Context, sessionID string, handler Handler) (unsubscribe func(), err error)
	Close() error
}
