package collaboration

import (
	"sort"
	"time"

	"notesync/internal/models"
)

/*
CURSOR PRESENCE

Cursor samples are transient and keyed by participant, so a new sample replaces
the previous one and the map never holds more than one entry per participant.
They are kept only so a late joiner can draw the markers of peers that have not
moved since; entries older than the cursor TTL are dropped lazily on read and by
the manager's cleanup loop. Marker expiry proper is the client's job.
*/

func (s *session) liveCursors(except string, now time.Time, ttl time.Duration) []models.CursorState {
	cursors := make([]models.CursorState, 0, len(s.cursors))
	for id, c := range s.cursors {
		if id == except {
			continue
		}
		if ttl > 0 && now.Sub(c.UpdatedAt) > ttl {
			delete(s.cursors, id)
			continue
		}
		cursors = append(cursors, c)
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].UserID < cursors[j].UserID })
	return cursors
}

// UpdateCursor records a cursor sample and addresses it to the other members.
func (r *Registry) UpdateCursor(sessionID, participantID, connID string, offset int, deliver func(*CursorMove)) (*CursorMove, error) {
	s, _, err := r.lookup(sessionID, nil)
	if err != nil {
		return nil, err
	}

	var (
		move   *CursorMove
		errOut error
	)
	s.do(func() func() {
		p, ok := s.participants[participantID]
		if s.closed || !ok || p.connID != connID {
			errOut = ErrNotParticipant
			return nil
		}

		s.cursors[participantID] = models.CursorState{
			UserID:    participantID,
			Offset:    offset,
			UpdatedAt: r.now(),
		}
		move = &CursorMove{
			UserID:   participantID,
			Username: p.Username,
			Offset:   offset,
			Peers:    s.members(p.connID),
		}
		if deliver == nil {
			return nil
		}
		return func() { deliver(move) }
	})

	return move, errOut
}

// Cursors returns the unexpired cursor samples of a session.
func (r *Registry) Cursors(sessionID string) []models.CursorState {
	s, _, err := r.lookup(sessionID, nil)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveCursors("", r.now(), r.cursorTTL)
}

// ExpireCursors drops stale cursor samples across every session.
func (r *Registry) ExpireCursors() int {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	now := r.now()
	expired := 0
	for _, s := range sessions {
		s.mu.Lock()
		for id, c := range s.cursors {
			if r.cursorTTL > 0 && now.Sub(c.UpdatedAt) > r.cursorTTL {
				delete(s.cursors, id)
				expired++
			}
		}
		s.mu.Unlock()
	}
	return expired
}
