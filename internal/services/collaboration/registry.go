package collaboration

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"notesync/internal/models"
)

/*
SESSION REGISTRY

One entry per live share. Each entry owns the authoritative document, the
roster and the cursor map, guarded by its own mutex so unrelated shares never
contend. The registry-level mutex only protects the id → session map.

Fan-out ordering uses a lock hand-off:

	s.mu.Lock()      mutate state, copy recipients
	s.deliverMu.Lock()
	s.mu.Unlock()    other operations on the session may now run ...
	deliver()        ... but cannot deliver until this one has
	s.deliverMu.Unlock()

so observers see events in the order they were committed, while the state lock
is never held across the enqueue loop. Delivery itself never blocks: the router
drops frames for connections whose buffer is full and fails them.

The registry never holds a connection. Recipients are addressed by Member ids
and resolved by the Router.
*/

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotParticipant  = errors.New("not a participant of this session")
	ErrNotOwner        = errors.New("only the note owner may final-save")
	ErrReadOnly        = errors.New("session is not editable by guests")
)

// Member addresses one connection in a session.
type Member struct {
	ParticipantID string
	ConnID        string
}

// JoinRequest describes the share being joined and the joining participant.
type JoinRequest struct {
	SessionID           string
	NoteID              string
	OwnerID             string
	EditableBySecondary bool

	// InitialDocument seeds a session that does not exist yet. When nil, Join
	// fails with ErrSessionNotFound instead of creating one.
	InitialDocument *string

	ParticipantID string
	DisplayName   string
	ConnID        string
}

// Snapshot is what a joiner receives.
type Snapshot struct {
	SessionID     string
	NoteID        string
	ParticipantID string
	ConnID        string
	Document      string
	Participants  []models.Participant
	IsOwner       bool
	CanEdit       bool
	Created       bool

	// Peers are the other members, who get the new roster.
	Peers []Member
	// Cursors are the live cursor samples of the other participants.
	Cursors []models.CursorState
	// Superseded is set when the same participant was already connected.
	Superseded *Member
}

// Update is the outcome of an accepted document overwrite.
type Update struct {
	SessionID string
	NoteID    string
	UserID    string
	Content   string
	Peers     []Member
}

// Departure is the outcome of Leave.
type Departure struct {
	SessionID    string
	Removed      bool
	Destroyed    bool
	Participants []models.Participant
	Peers        []Member
}

// CursorMove is the outcome of a cursor sample.
type CursorMove struct {
	UserID   string
	Username string
	Offset   int
	Peers    []Member
}

// Commit is the outcome of an owner's final-save.
type Commit struct {
	SessionID string
	NoteID    string
	OwnerID   string
	Content   string
	Peers     []Member
}

type participantEntry struct {
	models.Participant
	connID string
}

type session struct {
	mu        sync.Mutex // guards every field below
	deliverMu sync.Mutex // orders deliveries; see package comment

	id                  string
	noteID              string
	ownerID             string
	editableBySecondary bool
	document            string
	participants        map[string]*participantEntry
	order               []string // participant ids in join order
	cursors             map[string]models.CursorState
	closed              bool
}

// do runs f under the state lock and then, if f returned a delivery, runs it in
// commit order with the state lock released.
func (s *session) do(f func() func()) {
	s.mu.Lock()
	deliver := f()
	if deliver == nil {
		s.mu.Unlock()
		return
	}
	s.deliverMu.Lock()
	s.mu.Unlock()
	defer s.deliverMu.Unlock()
	deliver()
}

func (s *session) roster() []models.Participant {
	roster := make([]models.Participant, 0, len(s.order))
	for _, id := range s.order {
		roster = append(roster, s.participants[id].Participant)
	}
	return roster
}

// members lists every connection except the one with connID.
func (s *session) members(exceptConnID string) []Member {
	members := make([]Member, 0, len(s.order))
	for _, id := range s.order {
		p := s.participants[id]
		if p.connID == exceptConnID {
			continue
		}
		members = append(members, Member{ParticipantID: id, ConnID: p.connID})
	}
	return members
}

func (s *session) canEdit(participantID string) bool {
	return participantID == s.ownerID || s.editableBySecondary
}

// Registry maps share ids to live sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session

	cursorTTL time.Duration
	now       func() time.Time
}

func NewRegistry(cursorTTL time.Duration) *Registry {
	return &Registry{
		sessions:  make(map[string]*session),
		cursorTTL: cursorTTL,
		now:       time.Now,
	}
}

// lookup returns the open session for id, creating it from req when allowed.
func (r *Registry) lookup(id string, req *JoinRequest) (*session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, false, nil
	}
	if req == nil || req.InitialDocument == nil {
		return nil, false, ErrSessionNotFound
	}

	s := &session{
		id:                  id,
		noteID:              req.NoteID,
		ownerID:             req.OwnerID,
		editableBySecondary: req.EditableBySecondary,
		document:            *req.InitialDocument,
		participants:        make(map[string]*participantEntry),
		cursors:             make(map[string]models.CursorState),
	}
	r.sessions[id] = s
	return s, true, nil
}

// drop removes s from the map if it is still the entry for its id.
func (r *Registry) drop(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.id]; ok && cur == s {
		delete(r.sessions, s.id)
	}
}

// Join registers a participant and returns the authoritative document and roster.
// deliver, if not nil, runs in commit order after the state lock is released.
func (r *Registry) Join(req JoinRequest, deliver func(*Snapshot)) (*Snapshot, error) {
	for {
		s, created, err := r.lookup(req.SessionID, &req)
		if err != nil {
			return nil, err
		}

		var snap *Snapshot
		s.do(func() func() {
			if s.closed {
				// Torn down between lookup and lock; retry against a fresh entry.
				return nil
			}

			snap = &Snapshot{
				SessionID:     s.id,
				NoteID:        s.noteID,
				ParticipantID: req.ParticipantID,
				ConnID:        req.ConnID,
				IsOwner:       req.ParticipantID == s.ownerID,
				CanEdit:       s.canEdit(req.ParticipantID),
				Created:       created,
			}

			if prev, ok := s.participants[req.ParticipantID]; ok {
				snap.Superseded = &Member{ParticipantID: req.ParticipantID, ConnID: prev.connID}
				prev.connID = req.ConnID
				prev.Username = req.DisplayName
			} else {
				s.participants[req.ParticipantID] = &participantEntry{
					Participant: models.Participant{
						UserID:   req.ParticipantID,
						Username: req.DisplayName,
						JoinedAt: r.now(),
						IsOwner:  req.ParticipantID == s.ownerID,
					},
					connID: req.ConnID,
				}
				s.order = append(s.order, req.ParticipantID)
			}

			snap.Document = s.document
			snap.Participants = s.roster()
			snap.Peers = s.members(req.ConnID)
			snap.Cursors = s.liveCursors(req.ParticipantID, r.now(), r.cursorTTL)

			if deliver == nil {
				return nil
			}
			return func() { deliver(snap) }
		})

		if snap != nil {
			return snap, nil
		}
	}
}

// ApplyUpdate overwrites the document with content when participantID may edit.
// Rejected updates return (nil, ErrReadOnly) and change nothing. connID must be
// the participant's current connection; a superseded one gets ErrNotParticipant.
func (r *Registry) ApplyUpdate(sessionID, participantID, connID, content string, deliver func(*Update)) (*Update, error) {
	s, _, err := r.lookup(sessionID, nil)
	if err != nil {
		return nil, err
	}

	var (
		upd    *Update
		errOut error
	)
	s.do(func() func() {
		if s.closed {
			errOut = ErrSessionNotFound
			return nil
		}
		p, ok := s.participants[participantID]
		if !ok || p.connID != connID {
			errOut = ErrNotParticipant
			return nil
		}
		if !s.canEdit(participantID) {
			errOut = ErrReadOnly
			return nil
		}

		s.document = content
		upd = &Update{
			SessionID: s.id,
			NoteID:    s.noteID,
			UserID:    participantID,
			Content:   content,
			Peers:     s.members(p.connID),
		}
		if deliver == nil {
			return nil
		}
		return func() { deliver(upd) }
	})

	return upd, errOut
}

// ApplyRelayed overwrites the document with an update accepted on another node.
// Every local member is a recipient.
func (r *Registry) ApplyRelayed(sessionID, userID, content string, deliver func(*Update)) (*Update, error) {
	s, _, err := r.lookup(sessionID, nil)
	if err != nil {
		return nil, err
	}

	var upd *Update
	s.do(func() func() {
		if s.closed {
			return nil
		}
		s.document = content
		upd = &Update{
			SessionID: s.id,
			NoteID:    s.noteID,
			UserID:    userID,
			Content:   content,
			Peers:     s.members(""),
		}
		if deliver == nil {
			return nil
		}
		return func() { deliver(upd) }
	})

	if upd == nil {
		return nil, ErrSessionNotFound
	}
	return upd, nil
}

// Leave removes the participant's connection. A connID that no longer matches
// the roster entry (superseded connection) is a no-op. When the roster becomes
// empty the session and its document are discarded.
func (r *Registry) Leave(sessionID, participantID, connID string, deliver func(*Departure)) *Departure {
	dep := &Departure{SessionID: sessionID}

	s, _, err := r.lookup(sessionID, nil)
	if err != nil {
		return dep
	}

	s.do(func() func() {
		p, ok := s.participants[participantID]
		if s.closed || !ok || p.connID != connID {
			return nil
		}

		delete(s.participants, participantID)
		delete(s.cursors, participantID)
		for i, id := range s.order {
			if id == participantID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		dep.Removed = true

		if len(s.participants) == 0 {
			s.closed = true
			s.document = ""
			dep.Destroyed = true
			return nil
		}

		dep.Participants = s.roster()
		dep.Peers = s.members("")
		if deliver == nil {
			return nil
		}
		return func() { deliver(dep) }
	})

	if dep.Destroyed {
		r.drop(s)
		log.Printf("  Session %s torn down (last participant left)", sessionID)
	}
	return dep
}

// FinalSave returns the document for durable storage. Only the owner may call it.
// When content is not nil it is applied as the owner's last write first.
// Non-owner calls change nothing and return ErrNotOwner.
func (r *Registry) FinalSave(sessionID, participantID, connID string, content *string, deliver func(*Commit)) (*Commit, error) {
	s, _, err := r.lookup(sessionID, nil)
	if err != nil {
		return nil, err
	}

	var (
		commit *Commit
		errOut error
	)
	s.do(func() func() {
		p, ok := s.participants[participantID]
		if s.closed || !ok || p.connID != connID {
			errOut = ErrNotParticipant
			return nil
		}
		if participantID != s.ownerID {
			errOut = ErrNotOwner
			return nil
		}

		if content != nil {
			s.document = *content
		}
		commit = &Commit{
			SessionID: s.id,
			NoteID:    s.noteID,
			OwnerID:   s.ownerID,
			Content:   s.document,
			Peers:     s.members(p.connID),
		}
		if deliver == nil {
			return nil
		}
		return func() { deliver(commit) }
	})

	return commit, errOut
}

// Close tears a session down regardless of its roster and returns every member
// that was connected. The caller closes their connections.
func (r *Registry) Close(sessionID string) []Member {
	s, _, err := r.lookup(sessionID, nil)
	if err != nil {
		return nil
	}

	var members []Member
	s.do(func() func() {
		if s.closed {
			return nil
		}
		members = s.members("")
		s.closed = true
		s.document = ""
		s.participants = make(map[string]*participantEntry)
		s.order = nil
		s.cursors = make(map[string]models.CursorState)
		return nil
	})

	r.drop(s)
	return members
}

// Roster returns the participants of a session in join order.
func (r *Registry) Roster(sessionID string) ([]models.Participant, bool) {
	s, _, err := r.lookup(sessionID, nil)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	return s.roster(), true
}

// Document returns the current snapshot of a session.
func (r *Registry) Document(sessionID string) (string, bool) {
	s, _, err := r.lookup(sessionID, nil)
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false
	}
	return s.document, true
}

// Has reports whether a session is live.
func (r *Registry) Has(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SessionIDs lists the live sessions.
func (r *Registry) SessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
