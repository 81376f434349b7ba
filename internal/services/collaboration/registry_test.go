package collaboration

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func strPtr(s string) *string { return &s }

func joinReq(sessionID, participantID, connID string, initial *string) JoinRequest {
	return JoinRequest{
		SessionID:           sessionID,
		NoteID:              "note-" + sessionID,
		OwnerID:             "owner",
		EditableBySecondary: true,
		InitialDocument:     initial,
		ParticipantID:       participantID,
		DisplayName:         "name-" + participantID,
		ConnID:              connID,
	}
}

func TestJoinCreatesSession(t *testing.T) {
	r := NewRegistry(0)

	snap, err := r.Join(joinReq("s1", "owner", "c1", strPtr("<p>seed</p>")), nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, snap.Created, true)
	assert.Equal(t, snap.Document, "<p>seed</p>")
	assert.Equal(t, snap.IsOwner, true)
	assert.Equal(t, snap.CanEdit, true)
	assert.Equal(t, userIDs(snap.Participants), []string{"owner"})
	assert.Equal(t, len(snap.Peers), 0)
	assert.Equal(t, r.Len(), 1)

	snap, err = r.Join(joinReq("s1", "guest", "c2", nil), nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, snap.Created, false)
	assert.Equal(t, snap.IsOwner, false)
	assert.Equal(t, userIDs(snap.Participants), []string{"owner", "guest"})
	assert.Equal(t, snap.Peers, []Member{{ParticipantID: "owner", ConnID: "c1"}})
}

func TestJoinWithoutInitialDocumentNeedsLiveSession(t *testing.T) {
	r := NewRegistry(0)

	_, err := r.Join(joinReq("s1", "guest", "c1", nil), nil)
	assert.Equal(t, errors.Is(err, ErrSessionNotFound), true)
	assert.Equal(t, r.Len(), 0)
}

func TestInitialDocumentIgnoredForLiveSession(t *testing.T) {
	r := NewRegistry(0)
	r.Join(joinReq("s1", "owner", "c1", strPtr("first")), nil)
	r.ApplyUpdate("s1", "owner", "c1", "edited", nil)

	snap, err := r.Join(joinReq("s1", "guest", "c2", strPtr("stale copy from storage")), nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, snap.Document, "edited")
}

func TestRosterSizeTracksJoinsAndLeaves(t *testing.T) {
	r := NewRegistry(0)
	rng := rand.New(rand.NewSource(7))

	connected := map[string]string{}
	joins, leaves := 0, 0
	for step := 0; step < 500; step++ {
		id := fmt.Sprintf("p%d", rng.Intn(8))
		if connID, ok := connected[id]; ok {
			dep := r.Leave("s1", id, connID, nil)
			assert.Equal(t, dep.Removed, true)
			delete(connected, id)
			leaves++
		} else {
			connID := fmt.Sprintf("c%d", step)
			_, err := r.Join(joinReq("s1", id, connID, strPtr("")), nil)
			assert.Equal(t, err, nil)
			connected[id] = connID
			joins++
		}

		roster, live := r.Roster("s1")
		if joins-leaves == 0 {
			assert.Equal(t, live, false)
			assert.Equal(t, r.Len(), 0)
			continue
		}
		assert.Equal(t, len(roster), joins-leaves)
	}
}

func TestLastLeaveDestroysSession(t *testing.T) {
	r := NewRegistry(0)
	r.Join(joinReq("s1", "owner", "c1", strPtr("doc")), nil)
	r.Join(joinReq("s1", "guest", "c2", nil), nil)

	dep := r.Leave("s1", "owner", "c1", nil)
	assert.Equal(t, dep.Destroyed, false)
	assert.Equal(t, userIDs(dep.Participants), []string{"guest"})
	assert.Equal(t, dep.Peers, []Member{{ParticipantID: "guest", ConnID: "c2"}})

	dep = r.Leave("s1", "guest", "c2", nil)
	assert.Equal(t, dep.Destroyed, true)
	assert.Equal(t, r.Len(), 0)

	_, ok := r.Document("s1")
	assert.Equal(t, ok, false)

	// A fresh join starts from the supplied document, not the discarded one.
	snap, err := r.Join(joinReq("s1", "owner", "c3", strPtr("from storage")), nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, snap.Created, true)
	assert.Equal(t, snap.Document, "from storage")
}

func TestLeaveIsIdempotent(t *testing.T) {
	r := NewRegistry(0)
	r.Join(joinReq("s1", "owner", "c1", strPtr("")), nil)
	r.Join(joinReq("s1", "guest", "c2", nil), nil)

	assert.Equal(t, r.Leave("s1", "guest", "c2", nil).Removed, true)
	assert.Equal(t, r.Leave("s1", "guest", "c2", nil).Removed, false)
	assert.Equal(t, r.Leave("nope", "guest", "c2", nil).Removed, false)

	roster, _ := r.Roster("s1")
	assert.Equal(t, userIDs(roster), []string{"owner"})
}

func TestApplyUpdateThenJoinSeesLatest(t *testing.T) {
	r := NewRegistry(0)
	r.Join(joinReq("s1", "owner", "c1", strPtr("")), nil)
	r.Join(joinReq("s1", "guest", "c2", nil), nil)

	upd, err := r.ApplyUpdate("s1", "guest", "c2", "<p>Hello</p>", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, upd.Peers, []Member{{ParticipantID: "owner", ConnID: "c1"}})

	snap, err := r.Join(joinReq("s1", "third", "c3", nil), nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, snap.Document, "<p>Hello</p>")
}

func TestReadOnlySessionRejectsGuestUpdates(t *testing.T) {
	r := NewRegistry(0)
	req := joinReq("s1", "owner", "c1", strPtr("original"))
	req.EditableBySecondary = false
	r.Join(req, nil)

	guest := joinReq("s1", "guest", "c2", nil)
	snap, _ := r.Join(guest, nil)
	assert.Equal(t, snap.CanEdit, false)

	delivered := false
	_, err := r.ApplyUpdate("s1", "guest", "c2", "vandalism", func(*Update) { delivered = true })
	assert.Equal(t, errors.Is(err, ErrReadOnly), true)
	assert.Equal(t, delivered, false)

	doc, _ := r.Document("s1")
	assert.Equal(t, doc, "original")

	_, err = r.ApplyUpdate("s1", "owner", "c1", "owner edit", nil)
	assert.Equal(t, err, nil)
	doc, _ = r.Document("s1")
	assert.Equal(t, doc, "owner edit")
}

func TestApplyUpdateFromStranger(t *testing.T) {
	r := NewRegistry(0)
	r.Join(joinReq("s1", "owner", "c1", strPtr("doc")), nil)

	_, err := r.ApplyUpdate("s1", "stranger", "c9", "x", nil)
	assert.Equal(t, errors.Is(err, ErrNotParticipant), true)

	_, err = r.ApplyUpdate("s2", "owner", "c1", "x", nil)
	assert.Equal(t, errors.Is(err, ErrSessionNotFound), true)
}

func TestFinalSaveOwnerOnly(t *testing.T) {
	r := NewRegistry(0)
	r.Join(joinReq("s1", "owner", "c1", strPtr("draft")), nil)
	r.Join(joinReq("s1", "guest", "c2", nil), nil)

	_, err := r.FinalSave("s1", "guest", "c2", strPtr("guest copy"), nil)
	assert.Equal(t, errors.Is(err, ErrNotOwner), true)
	doc, _ := r.Document("s1")
	assert.Equal(t, doc, "draft")

	commit, err := r.FinalSave("s1", "owner", "c1", strPtr("Done"), nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, commit.Content, "Done")
	assert.Equal(t, commit.NoteID, "note-s1")
	assert.Equal(t, commit.Peers, []Member{{ParticipantID: "guest", ConnID: "c2"}})

	commit, err = r.FinalSave("s1", "owner", "c1", nil, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, commit.Content, "Done")
}

func TestRejoinSupersedesConnection(t *testing.T) {
	r := NewRegistry(0)
	r.Join(joinReq("s1", "owner", "c1", strPtr("")), nil)
	r.Join(joinReq("s1", "guest", "c2", nil), nil)

	snap, err := r.Join(joinReq("s1", "guest", "c3", nil), nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, snap.Superseded, &Member{ParticipantID: "guest", ConnID: "c2"})
	assert.Equal(t, userIDs(snap.Participants), []string{"owner", "guest"})

	// The superseded connection's leave must not remove the new one.
	assert.Equal(t, r.Leave("s1", "guest", "c2", nil).Removed, false)
	roster, _ := r.Roster("s1")
	assert.Equal(t, len(roster), 2)

	assert.Equal(t, r.Leave("s1", "guest", "c3", nil).Removed, true)
}

func TestSupersededConnectionCannotAct(t *testing.T) {
	r := NewRegistry(0)
	r.Join(joinReq("s1", "owner", "c1", strPtr("")), nil)
	r.Join(joinReq("s1", "guest", "c2", nil), nil)
	r.Join(joinReq("s1", "guest", "c3", nil), nil)

	delivered := false
	_, err := r.ApplyUpdate("s1", "guest", "c2", "from old tab", func(*Update) { delivered = true })
	assert.Equal(t, errors.Is(err, ErrNotParticipant), true)
	assert.Equal(t, delivered, false)
	doc, _ := r.Document("s1")
	assert.Equal(t, doc, "")

	_, err = r.UpdateCursor("s1", "guest", "c2", 4, nil)
	assert.Equal(t, errors.Is(err, ErrNotParticipant), true)
	assert.Equal(t, len(r.Cursors("s1")), 0)

	// The live connection still works and its peers exclude only itself.
	upd, err := r.ApplyUpdate("s1", "guest", "c3", "from new tab", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, upd.Peers, []Member{{ParticipantID: "owner", ConnID: "c1"}})

	// The owner's old connection cannot final-save either.
	r.Join(joinReq("s1", "owner", "c4", nil), nil)
	_, err = r.FinalSave("s1", "owner", "c1", strPtr("stale save"), nil)
	assert.Equal(t, errors.Is(err, ErrNotParticipant), true)
	doc, _ = r.Document("s1")
	assert.Equal(t, doc, "from new tab")

	commit, err := r.FinalSave("s1", "owner", "c4", nil, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, commit.Peers, []Member{{ParticipantID: "guest", ConnID: "c3"}})
}

func TestCloseTearsDownSession(t *testing.T) {
	r := NewRegistry(0)
	r.Join(joinReq("s1", "owner", "c1", strPtr("")), nil)
	r.Join(joinReq("s1", "guest", "c2", nil), nil)

	members := r.Close("s1")
	assert.Equal(t, len(members), 2)
	assert.Equal(t, r.Len(), 0)
	assert.Equal(t, r.Has("s1"), false)
	assert.Equal(t, len(r.Close("s1")), 0)

	// Leaves arriving after the teardown are no-ops.
	assert.Equal(t, r.Leave("s1", "guest", "c2", nil).Removed, false)
}

func TestDeliveriesFollowCommitOrder(t *testing.T) {
	r := NewRegistry(0)
	r.Join(joinReq("s1", "owner", "c1", strPtr("")), nil)
	r.Join(joinReq("s1", "guest", "c2", nil), nil)
	r.Join(joinReq("s1", "observer", "c3", nil), nil)

	var (
		mu        sync.Mutex
		delivered []string
	)
	record := func(u *Update) {
		mu.Lock()
		delivered = append(delivered, u.Content)
		mu.Unlock()
	}

	conns := map[string]string{"owner": "c1", "guest": "c2"}
	var wg sync.WaitGroup
	for _, writer := range []string{"owner", "guest"} {
		wg.Add(1)
		go func(writer string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.ApplyUpdate("s1", writer, conns[writer], fmt.Sprintf("%s-%d", writer, i), record)
			}
		}(writer)
	}
	wg.Wait()

	doc, _ := r.Document("s1")
	assert.Equal(t, len(delivered), 400)
	assert.Equal(t, delivered[len(delivered)-1], doc)
}

func TestCursorSamplesReplaceAndExpire(t *testing.T) {
	r := NewRegistry(time.Second)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	r.Join(joinReq("s1", "owner", "c1", strPtr("abc")), nil)
	r.Join(joinReq("s1", "guest", "c2", nil), nil)

	move, err := r.UpdateCursor("s1", "guest", "c2", 1, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, move.Username, "name-guest")
	assert.Equal(t, move.Peers, []Member{{ParticipantID: "owner", ConnID: "c1"}})

	r.UpdateCursor("s1", "guest", "c2", 2, nil)
	cursors := r.Cursors("s1")
	assert.Equal(t, len(cursors), 1)
	assert.Equal(t, cursors[0].Offset, 2)

	snap, _ := r.Join(joinReq("s1", "late", "c3", nil), nil)
	assert.Equal(t, len(snap.Cursors), 1)
	assert.Equal(t, snap.Cursors[0].UserID, "guest")

	now = now.Add(2 * time.Second)
	assert.Equal(t, r.ExpireCursors(), 1)
	assert.Equal(t, len(r.Cursors("s1")), 0)

	_, err = r.UpdateCursor("s1", "stranger", "c9", 0, nil)
	assert.Equal(t, errors.Is(err, ErrNotParticipant), true)
}

func TestLeaveDropsCursor(t *testing.T) {
	r := NewRegistry(0)
	r.Join(joinReq("s1", "owner", "c1", strPtr("abc")), nil)
	r.Join(joinReq("s1", "guest", "c2", nil), nil)
	r.UpdateCursor("s1", "guest", "c2", 1, nil)

	r.Leave("s1", "guest", "c2", nil)
	assert.Equal(t, len(r.Cursors("s1")), 0)
}

func TestApplyRelayedReachesEveryLocalMember(t *testing.T) {
	r := NewRegistry(0)
	r.Join(joinReq("s1", "owner", "c1", strPtr("")), nil)
	r.Join(joinReq("s1", "guest", "c2", nil), nil)

	upd, err := r.ApplyRelayed("s1", "remote-user", "from another node", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(upd.Peers), 2)
	doc, _ := r.Document("s1")
	assert.Equal(t, doc, "from another node")

	_, err = r.ApplyRelayed("absent", "remote-user", "x", nil)
	assert.Equal(t, errors.Is(err, ErrSessionNotFound), true)
}
