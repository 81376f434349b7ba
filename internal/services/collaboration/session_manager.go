package collaboration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"notesync/internal/middleware"
	"notesync/internal/models"
	"notesync/internal/relay"
	"notesync/internal/repository"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: WEBSOCKET SESSION MANAGER

The manager glues the pieces together:

	Registry  per-share document, roster and cursors (per-session locks)
	Router    connection id → outbound queue
	Arbiter   owner-only final-save to storage
	Relay     accepted updates to and from other nodes (optional)

There is no central event loop. Every connection goroutine calls straight into
the registry, and the registry's lock hand-off keeps fan-out in commit order.
A background loop expires stale cursors and drops relay subscriptions whose
session is gone.
*/

const (
	cleanupInterval = 30 * time.Second
	relayTimeout    = 2 * time.Second

	// CloseReasonFinalSave is sent to every participant when a final-save ends the session.
	CloseReasonFinalSave = "final-save"
	// CloseReasonSuperseded is sent to a connection replaced by a newer join of the same participant.
	CloseReasonSuperseded = "superseded"

	// CloseStaleJoin is the close code for a join whose note no longer exists.
	CloseStaleJoin = 4410
)

// ManagerConfig holds the tunables of a SessionManager.
type ManagerConfig struct {
	SendBuffer       int
	CloseOnFinalSave bool
	CursorTTL        time.Duration
	// NodeID identifies this process on the relay. Generated when empty.
	NodeID string
}

// SessionManager owns every live session on this node.
type SessionManager struct {
	registry *Registry
	router   *Router
	arbiter  *Arbiter
	notes    NoteLoader
	relay    relay.Relay
	cfg      ManagerConfig

	relayMu   sync.Mutex
	relaySubs map[string]func()

	done     chan struct{}
	stopOnce sync.Once
}

// NewSessionManager creates a session manager. relay may be nil for a single node.
func NewSessionManager(cfg ManagerConfig, notes NoteLoader, revisions RevisionCommitter, pruner PruneSubmitter, rl relay.Relay) *SessionManager {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 256
	}
	if cfg.NodeID == "" {
		cfg.NodeID = ksuid.New().String()
	}

	registry := NewRegistry(cfg.CursorTTL)
	router := NewRouter()
	return &SessionManager{
		registry:  registry,
		router:    router,
		arbiter:   NewArbiter(registry, router, revisions, pruner),
		notes:     notes,
		relay:     rl,
		cfg:       cfg,
		relaySubs: make(map[string]func()),
		done:      make(chan struct{}),
	}
}

// Registry exposes the live sessions, read-only use intended.
func (sm *SessionManager) Registry() *Registry { return sm.registry }

// Start begins background maintenance.
func (sm *SessionManager) Start() {
	log.Println("🔄 Starting collaboration session manager...")
	go sm.cleanupLoop()
	log.Printf("✓ Collaboration session manager started (node %s)", sm.cfg.NodeID)
}

// Open joins ws to the session granted by claims and serves it until the
// connection closes. It blocks for the lifetime of the connection.
func (sm *SessionManager) Open(ctx context.Context, ws *websocket.Conn, claims *models.ShareClaims, userID, username string) error {
	if username == "" {
		username = userID
	}
	c := newConn(ws, sm, claims.ShareID, claims.NoteID, userID, username, sm.cfg.SendBuffer)
	sm.router.Attach(c)
	go c.WritePump()

	snap, err := sm.join(ctx, c, claims)
	if err != nil {
		log.Printf("❌ Join of session %s by %s failed: %v", claims.ShareID, userID, err)
		if errors.Is(err, repository.ErrNoteNotFound) {
			c.Close(CloseStaleJoin, "note no longer exists")
		} else {
			c.Close(websocket.CloseInternalServerErr, "join failed")
		}
		<-c.written
		return err
	}

	if !c.open() {
		// Stopped while joining; release already ran for a CONNECTING conn.
		sm.registry.Leave(c.sessionID, c.participantID, c.id, sm.deliverDeparture)
		<-c.written
		return nil
	}

	if snap.Superseded != nil {
		log.Printf("  User %s rejoined session %s; closing connection %s", userID, snap.SessionID, snap.Superseded.ConnID)
		sm.router.Close(snap.Superseded.ConnID, websocket.CloseNormalClosure, CloseReasonSuperseded)
	}
	// Every join retries the subscription in case an earlier attempt failed.
	sm.ensureRelay(snap.SessionID)

	log.Printf("✓ User %s joined session %s (note %s, %d participants, editable: %t)",
		userID, snap.SessionID, snap.NoteID, len(snap.Participants), snap.CanEdit)

	c.ReadPump(ctx)
	<-c.written
	return nil
}

// join registers c, seeding the session from storage when it does not exist.
func (sm *SessionManager) join(ctx context.Context, c *Conn, claims *models.ShareClaims) (*Snapshot, error) {
	ctx, span := middleware.StartSpan(ctx, "Collab.Join",
		attribute.String("session.id", claims.ShareID),
		attribute.String("note.id", claims.NoteID),
		attribute.String("user.id", c.participantID),
	)
	defer span.End()

	req := JoinRequest{
		SessionID:           claims.ShareID,
		NoteID:              claims.NoteID,
		OwnerID:             claims.OwnerID,
		EditableBySecondary: claims.Editable,
		ParticipantID:       c.participantID,
		DisplayName:         c.username,
		ConnID:              c.id,
	}

	snap, err := sm.registry.Join(req, sm.deliverSnapshot)
	if !errors.Is(err, ErrSessionNotFound) {
		return snap, err
	}

	note, err := sm.notes.GetByID(ctx, claims.NoteID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to load note %s: %w", claims.NoteID, err)
	}
	req.InitialDocument = &note.Raw

	snap, err = sm.registry.Join(req, sm.deliverSnapshot)
	if err != nil {
		middleware.AddSpanError(ctx, err)
	}
	return snap, err
}

// release runs once per connection when it stops.
func (sm *SessionManager) release(c *Conn, wasOpen bool) {
	defer sm.router.Detach(c)
	if !wasOpen {
		return
	}

	dep := sm.registry.Leave(c.sessionID, c.participantID, c.id, sm.deliverDeparture)
	if !dep.Removed {
		return
	}
	log.Printf("  User %s left session %s (remaining: %d)", c.participantID, c.sessionID, len(dep.Participants))
	if dep.Destroyed {
		sm.dropRelay(c.sessionID)
	}
}

// dispatch handles one inbound frame. Errors never leave this connection.
func (sm *SessionManager) dispatch(ctx context.Context, c *Conn, data []byte) {
	if state := c.State(); state != StateOpen {
		log.Printf("⚠️  Dropping message from %s in session %s: connection is %s", c.participantID, c.sessionID, state)
		return
	}

	msg, err := DecodeInbound(data)
	if err != nil {
		log.Printf("⚠️  Dropping message from %s in session %s: %v", c.participantID, c.sessionID, err)
		return
	}

	ctx, span := middleware.StartSpan(ctx, "Collab."+string(msg.Kind()),
		attribute.String("session.id", c.sessionID),
		attribute.String("user.id", c.participantID),
		attribute.Int("message.size", len(data)),
	)
	defer span.End()

	switch m := msg.(type) {
	case UpdateNote:
		err = sm.handleUpdate(ctx, c, m)
	case CursorSample:
		err = sm.handleCursor(c, m)
	case FinalSave:
		err = sm.handleFinalSave(ctx, c, m)
	default:
		err = fmt.Errorf("%w: unhandled kind %s", ErrMalformedMessage, msg.Kind())
	}

	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("⚠️  %s from %s in session %s ignored: %v", msg.Kind(), c.participantID, c.sessionID, err)
	}
}

func (sm *SessionManager) handleUpdate(ctx context.Context, c *Conn, m UpdateNote) error {
	if m.NoteID != "" && m.NoteID != c.noteID {
		return fmt.Errorf("%w: note %s is not shared in this session", ErrMalformedMessage, m.NoteID)
	}

	upd, err := sm.registry.ApplyUpdate(c.sessionID, c.participantID, c.id, m.Raw, sm.deliverUpdate)
	if err != nil {
		return err
	}
	sm.publish(ctx, upd)
	return nil
}

func (sm *SessionManager) handleCursor(c *Conn, m CursorSample) error {
	_, err := sm.registry.UpdateCursor(c.sessionID, c.participantID, c.id, m.Offset, func(move *CursorMove) {
		sm.router.Deliver(move.Peers, cursorMessage(move.UserID, move.Username, move.Offset))
	})
	return err
}

func (sm *SessionManager) handleFinalSave(ctx context.Context, c *Conn, m FinalSave) error {
	if m.NoteID != "" && m.NoteID != c.noteID {
		return fmt.Errorf("%w: note %s is not shared in this session", ErrMalformedMessage, m.NoteID)
	}

	commit, err := sm.arbiter.Commit(ctx, c.sessionID, c.participantID, c.id, m.Raw)
	if err != nil {
		return err
	}

	sm.router.Send(c.id, finalSaveAck(commit.NoteID, commit.Content, commit.OwnerID))
	sm.publish(ctx, &Update{
		SessionID: commit.SessionID,
		NoteID:    commit.NoteID,
		UserID:    commit.OwnerID,
		Content:   commit.Content,
	})
	log.Printf("✓ Final-save of note %s by %s (%d bytes)", commit.NoteID, c.participantID, len(commit.Content))

	if sm.cfg.CloseOnFinalSave {
		sm.closeSession(commit.SessionID, websocket.CloseNormalClosure, CloseReasonFinalSave)
	}
	return nil
}

// closeSession tears a session down and closes every connection in it.
func (sm *SessionManager) closeSession(sessionID string, code int, reason string) {
	members := sm.registry.Close(sessionID)
	for _, m := range members {
		sm.router.Close(m.ConnID, code, reason)
	}
	sm.dropRelay(sessionID)
	log.Printf("  Session %s closed (%s, %d connections)", sessionID, reason, len(members))
}

// Delivery callbacks run in commit order, outside the session state lock.

func (sm *SessionManager) deliverSnapshot(snap *Snapshot) {
	sm.router.Send(snap.ConnID, isOpenMessage(snap))

	names := make(map[string]string, len(snap.Participants))
	for _, p := range snap.Participants {
		names[p.UserID] = p.Username
	}
	for _, cur := range snap.Cursors {
		sm.router.Send(snap.ConnID, cursorMessage(cur.UserID, names[cur.UserID], cur.Offset))
	}

	sm.router.Deliver(snap.Peers, participantsMessage(snap.Participants))
}

func (sm *SessionManager) deliverUpdate(u *Update) {
	sm.router.Deliver(u.Peers, updateMessage(u.NoteID, u.Content, u.UserID))
}

func (sm *SessionManager) deliverDeparture(dep *Departure) {
	sm.router.Deliver(dep.Peers, participantsMessage(dep.Participants))
}

// Relay

func (sm *SessionManager) publish(ctx context.Context, u *Update) {
	if sm.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relayTimeout)
	defer cancel()

	err := sm.relay.Publish(ctx, relay.Message{
		SessionID: u.SessionID,
		NoteID:    u.NoteID,
		UserID:    u.UserID,
		Raw:       u.Content,
		Origin:    sm.cfg.NodeID,
	})
	if err != nil {
		log.Printf("⚠️  Relay publish for session %s failed: %v", u.SessionID, err)
	}
}

func (sm *SessionManager) onRelayed(msg relay.Message) {
	if msg.Origin == sm.cfg.NodeID {
		return
	}
	if _, err := sm.registry.ApplyRelayed(msg.SessionID, msg.UserID, msg.Raw, sm.deliverUpdate); err != nil {
		log.Printf("  Relayed update for session %s dropped: %v", msg.SessionID, err)
	}
}

// ensureRelay subscribes this node to a session it now hosts.
func (sm *SessionManager) ensureRelay(sessionID string) {
	if sm.relay == nil {
		return
	}
	sm.relayMu.Lock()
	defer sm.relayMu.Unlock()

	if _, ok := sm.relaySubs[sessionID]; ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	unsubscribe, err := sm.relay.Subscribe(ctx, sessionID, sm.onRelayed)
	if err != nil {
		log.Printf("⚠️  Relay subscribe for session %s failed: %v", sessionID, err)
		return
	}

	// The session may have emptied while subscribing.
	if !sm.registry.Has(sessionID) {
		unsubscribe()
		return
	}
	sm.relaySubs[sessionID] = unsubscribe
}

// dropRelay unsubscribes from a session that is no longer hosted here.
func (sm *SessionManager) dropRelay(sessionID string) {
	if sm.relay == nil {
		return
	}
	sm.relayMu.Lock()
	defer sm.relayMu.Unlock()

	unsubscribe, ok := sm.relaySubs[sessionID]
	if !ok || sm.registry.Has(sessionID) {
		return
	}
	delete(sm.relaySubs, sessionID)
	unsubscribe()
}

// cleanupLoop periodically expires cursors and stale relay subscriptions
func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.done:
			return
		case <-ticker.C:
			sm.cleanup()
		}
	}
}

func (sm *SessionManager) cleanup() {
	if n := sm.registry.ExpireCursors(); n > 0 {
		log.Printf("  Expired %d stale cursors", n)
	}

	sm.relayMu.Lock()
	ids := make([]string, 0, len(sm.relaySubs))
	for id := range sm.relaySubs {
		ids = append(ids, id)
	}
	sm.relayMu.Unlock()

	for _, id := range ids {
		sm.dropRelay(id)
	}
}

// Shutdown closes every session on this node.
func (sm *SessionManager) Shutdown() {
	sm.stopOnce.Do(func() {
		log.Println("🛑 Shutting down session manager...")
		close(sm.done)

		for _, id := range sm.registry.SessionIDs() {
			sm.closeSession(id, websocket.CloseGoingAway, "server shutdown")
		}
		log.Println("✓ Session manager shutdown complete")
	})
}
