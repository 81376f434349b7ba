package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"notesync/internal/models"
	"notesync/internal/relay"
	"notesync/internal/repository"
	"notesync/internal/services"

	"github.com/gorilla/websocket"
)

const readTimeout = 3 * time.Second

type fakeNotes struct {
	mu    sync.Mutex
	notes map[string]*models.Note
}

func newFakeNotes(notes ...*models.Note) *fakeNotes {
	f := &fakeNotes{notes: make(map[string]*models.Note)}
	for _, n := range notes {
		f.notes[n.ID] = n
	}
	return f
}

func (f *fakeNotes) GetByID(ctx context.Context, id string) (*models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[id]
	if !ok {
		return nil, repository.ErrNoteNotFound
	}
	copied := *n
	return &copied, nil
}

type fakeRevisions struct {
	mu   sync.Mutex
	revs []*models.NoteRevision
	err  error
}

func (f *fakeRevisions) CommitRevision(ctx context.Context, rev *models.NoteRevision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.revs = append(f.revs, rev)
	return nil
}

func (f *fakeRevisions) saved() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.revs))
	for _, r := range f.revs {
		out = append(out, r.Raw)
	}
	return out
}

type fakePruner struct {
	mu   sync.Mutex
	jobs []services.PruneJob
	err  error
}

func (f *fakePruner) SubmitJob(job services.PruneJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakePruner) submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

// fakeShares resolves fixed tokens.
type fakeShares map[string]*models.ShareClaims

func (f fakeShares) Resolve(ctx context.Context, token string) (*models.ShareClaims, error) {
	switch token {
	case "expired":
		return nil, services.ErrShareExpired
	case "revoked":
		return nil, services.ErrShareRevoked
	case "missing":
		return nil, repository.ErrShareNotFound
	}
	if c, ok := f[token]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, services.ErrShareInvalid
}

var testShares = fakeShares{
	"tok1":    {ShareID: "share-1", NoteID: "note-1", OwnerID: "owner", Editable: true},
	"ro":      {ShareID: "share-2", NoteID: "note-2", OwnerID: "owner", Editable: false},
	"deleted": {ShareID: "share-3", NoteID: "note-gone", OwnerID: "owner", Editable: true},
}

type testServer struct {
	*httptest.Server
	manager   *SessionManager
	notes     *fakeNotes
	revisions *fakeRevisions
	pruner    *fakePruner
}

func newTestServer(t *testing.T, cfg ManagerConfig, rl relay.Relay) *testServer {
	t.Helper()

	notes := newFakeNotes(
		&models.Note{ID: "note-1", OwnerID: "owner", Raw: ""},
		&models.Note{ID: "note-2", OwnerID: "owner", Raw: "<p>read only</p>"},
	)
	revisions := &fakeRevisions{}
	pruner := &fakePruner{}

	manager := NewSessionManager(cfg, notes, revisions, pruner, rl)
	manager.Start()
	handler := NewWebSocketHandler(manager, testShares)

	mux := http.NewServeMux()
	mux.HandleFunc(services.WebSocketSharePath, handler.HandleShareConnection)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		manager.Shutdown()
		srv.Close()
	})

	return &testServer{Server: srv, manager: manager, notes: notes, revisions: revisions, pruner: pruner}
}

func (ts *testServer) shareURL(token string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + services.WebSocketSharePath + "?token=" + token
}

// dial joins as userID and consumes the is-open frame.
func (ts *testServer) dial(t *testing.T, token, userID string) (*websocket.Conn, models.Envelope) {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(ts.shareURL(token)+"&requestUserId="+userID+"&username="+userID, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s as %s: %v (status %d)", token, userID, err, status)
	}
	t.Cleanup(func() { ws.Close() })

	open := readEnvelope(t, ws)
	if open.Type != models.MessageTypeIsOpen {
		t.Fatalf("first frame = %s, want is-open", open.Type)
	}
	return ws, open
}

func readEnvelope(t *testing.T, ws *websocket.Conn) models.Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(readTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}

// expect reads the next frame and fails unless it has type typ.
func expect(t *testing.T, ws *websocket.Conn, typ models.MessageType) models.Envelope {
	t.Helper()
	env := readEnvelope(t, ws)
	if env.Type != typ {
		t.Fatalf("frame type = %s, want %s (%+v)", env.Type, typ, env)
	}
	return env
}

// expectClose reads until the server's close frame.
func expectClose(t *testing.T, ws *websocket.Conn) *websocket.CloseError {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(readTimeout))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("read ended without close frame: %v", err)
		}
		return ce
	}
}

func sendJSON(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sendUpdate(t *testing.T, ws *websocket.Conn, noteID, raw string) {
	t.Helper()
	sendJSON(t, ws, map[string]interface{}{"type": "update-note", "noteId": noteID, "raw": raw})
}

func sendCursor(t *testing.T, ws *websocket.Conn, offset int) {
	t.Helper()
	sendJSON(t, ws, map[string]interface{}{"type": "cursor-update", "cursorPosition": offset})
}

func sendFinalSave(t *testing.T, ws *websocket.Conn, noteID, raw string) {
	t.Helper()
	sendJSON(t, ws, map[string]interface{}{"type": "final-save", "noteId": noteID, "raw": raw})
}

// eventually polls cond until it holds or the read timeout passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func userIDs(roster []models.Participant) []string {
	ids := make([]string, 0, len(roster))
	for _, p := range roster {
		ids = append(ids, p.UserID)
	}
	return ids
}
