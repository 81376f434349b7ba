package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"notesync/internal/models"

	"github.com/gorilla/websocket"
)

/*
SHARE CLIENT

Client is one participant of a shared note:

	local edit ─▶ View ─▶ Coalescer ──update-note──▶ server
	caret      ─▶ CursorSampler ─────cursor-update──▶ server
	server ──is-open / update-note──▶ View.ApplyRemote, Coalescer.Reset
	server ──cursor-update─────────▶ MarkerBoard
	server ──final-save────────────▶ FinalSave returns

The view, the timers and the markers are owned by the client, one set per
joined share. Close stops the timers before the socket goes away.
*/

var (
	// ErrStaleJoin means the share link can no longer be joined.
	ErrStaleJoin = errors.New("share link is no longer valid")
	ErrClosed    = errors.New("client is closed")
	ErrNotOwner  = errors.New("only the note owner may final-save")
	ErrReadOnly  = errors.New("this share is read-only for guests")
)

const (
	writeWait = 10 * time.Second

	// closeStaleJoin mirrors the server's close code for a vanished note.
	closeStaleJoin = 4410
)

// Handlers are optional callbacks, called from the client's read goroutine.
type Handlers struct {
	OnOpen         func(noteID, raw string, participants []models.Participant)
	OnParticipants func(participants []models.Participant)
	OnRemoteUpdate func(noteID, raw, userID string)
	OnCursor       func(m Marker)
	OnFinalSave    func(noteID, raw string)
	OnClose        func(code int, reason string)
}

// Options configure Dial.
type Options struct {
	UserID    string
	ProjectID string
	Username  string

	QuietPeriod    time.Duration
	CursorInterval time.Duration
	MarkerTTL      time.Duration

	Dialer    *websocket.Dialer
	AfterFunc AfterFunc

	Handlers
}

// Client is a connected participant.
type Client struct {
	ws      *websocket.Conn
	opts    Options
	view    *View
	coal    *Coalescer
	sampler *CursorSampler
	markers *MarkerBoard

	writeMu sync.Mutex

	mu           sync.Mutex
	sessionID    string
	noteID       string
	participants []models.Participant
	canEdit      bool
	isOwner      bool
	acks         chan string
	closeCode    int
	closeReason  string

	opened    chan struct{}
	openOnce  sync.Once
	readDone  chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// JoinURL adds the participant's identity and project to a share link.
func JoinURL(shareURL, userID, projectID, username string) (string, error) {
	u, err := url.Parse(shareURL)
	if err != nil {
		return "", fmt.Errorf("invalid share URL: %w", err)
	}
	q := u.Query()
	q.Set("requestUserId", userID)
	if projectID != "" {
		q.Set("projectId", projectID)
	}
	if username != "" {
		q.Set("username", username)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial joins a share link and waits for the initial snapshot.
func Dial(ctx context.Context, shareURL string, opts Options) (*Client, error) {
	if opts.UserID == "" {
		return nil, errors.New("user id is required")
	}
	target, err := JoinURL(shareURL, opts.UserID, opts.ProjectID, opts.Username)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrStaleJoin, resp.Status)
		}
		return nil, fmt.Errorf("failed to join share: %w", err)
	}

	c := &Client{
		ws:       ws,
		opts:     opts,
		view:     NewView(""),
		markers:  NewMarkerBoard(opts.MarkerTTL),
		acks:     make(chan string, 1),
		opened:   make(chan struct{}),
		readDone: make(chan struct{}),
		closed:   make(chan struct{}),
	}
	var coalOpts []CoalescerOption
	if opts.AfterFunc != nil {
		coalOpts = append(coalOpts, WithAfterFunc(opts.AfterFunc))
	}
	c.coal = NewCoalescer(opts.QuietPeriod, c.sendUpdate, coalOpts...)
	c.sampler = NewCursorSampler(opts.CursorInterval, c.view.Caret, c.sendCursor)

	go c.readLoop()

	select {
	case <-c.opened:
	case <-c.readDone:
		code, reason := c.CloseStatus()
		if code == closeStaleJoin {
			return nil, fmt.Errorf("%w: %s", ErrStaleJoin, reason)
		}
		return nil, fmt.Errorf("connection closed before join completed (%d %s)", code, reason)
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}

	c.sampler.Start()
	return c, nil
}

// View is the local document.
func (c *Client) View() *View { return c.view }

// Markers are the remote cursors.
func (c *Client) Markers() *MarkerBoard { return c.markers }

// SessionID identifies the joined share; markers are kept per session.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) NoteID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noteID
}

func (c *Client) Participants() []models.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Participant(nil), c.participants...)
}

// CanEdit reports whether this participant's edits are accepted.
func (c *Client) CanEdit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canEdit
}

func (c *Client) IsOwner() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOwner
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.readDone }

// CloseStatus returns the close frame the server sent, if any.
func (c *Client) CloseStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// Type applies a local keystroke and schedules a debounced update.
func (c *Client) Type(content string, caret int) error {
	if c.isClosed() {
		return ErrClosed
	}
	if !c.CanEdit() {
		return ErrReadOnly
	}
	c.view.Edit(content, caret)
	c.coal.Changed(content)
	return nil
}

// Paste applies a paste or block insert and sends it at once.
func (c *Client) Paste(content string, caret int) error {
	if c.isClosed() {
		return ErrClosed
	}
	if !c.CanEdit() {
		return ErrReadOnly
	}
	c.view.Edit(content, caret)
	return c.coal.FlushNow(content)
}

// FinalSave commits the local document and waits for the server's acknowledgement.
func (c *Client) FinalSave(ctx context.Context) (string, error) {
	if !c.IsOwner() {
		return "", ErrNotOwner
	}

	content := c.view.Content()
	// The final-save carries the content; a pending debounce would only repeat it.
	c.coal.Reset(content)

	select {
	case <-c.acks:
	default:
	}

	raw := content
	if err := c.send(models.Envelope{
		Type:   models.MessageTypeFinalSave,
		NoteID: c.NoteID(),
		Raw:    &raw,
		UserID: c.opts.UserID,
	}); err != nil {
		return "", err
	}

	select {
	case saved := <-c.acks:
		return saved, nil
	case <-c.readDone:
		// The server closes right after acknowledging.
		select {
		case saved := <-c.acks:
			return saved, nil
		default:
		}
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close cancels the pending debounce and the cursor sampler and closes the socket.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.coal.Stop()
		c.sampler.Stop()

		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
	})

	select {
	case <-c.readDone:
	case <-time.After(writeWait):
		c.ws.Close()
		<-c.readDone
	}
	return nil
}

func (c *Client) sendUpdate(content string) error {
	raw := content
	return c.send(models.Envelope{
		Type:   models.MessageTypeUpdateNote,
		NoteID: c.NoteID(),
		Raw:    &raw,
		UserID: c.opts.UserID,
	})
}

func (c *Client) sendCursor(offset int) error {
	pos := offset
	return c.send(models.Envelope{
		Type:           models.MessageTypeCursorUpdate,
		UserID:         c.opts.UserID,
		CursorPosition: &pos,
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	case <-c.readDone:
		return true
	default:
		return false
	}
}

func (c *Client) send(env models.Envelope) error {
	if c.isClosed() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		c.coal.Stop()
		go c.sampler.Stop()
		c.ws.Close()

		// Nobody is visible once the connection is gone.
		c.markers.Clear(c.SessionID())
		c.mu.Lock()
		c.participants = nil
		c.mu.Unlock()

		close(c.readDone)

		code, reason := c.CloseStatus()
		if c.opts.OnClose != nil {
			c.opts.OnClose(code, reason)
		}
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.mu.Lock()
				c.closeCode, c.closeReason = ce.Code, ce.Text
				c.mu.Unlock()
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("⚠️  Dropping malformed frame: %v", err)
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env models.Envelope) {
	switch env.Type {
	case models.MessageTypeIsOpen:
		raw := deref(env.Raw)
		c.mu.Lock()
		c.noteID = env.NoteID
		if c.noteID == "" {
			c.noteID = env.ID
		}
		c.sessionID = env.SessionID
		if c.sessionID == "" {
			c.sessionID = c.noteID
		}
		c.participants = env.Participants
		c.canEdit = env.IsShareEdit != nil && *env.IsShareEdit
		c.isOwner = env.IsOwner != nil && *env.IsOwner
		noteID := c.noteID
		c.mu.Unlock()

		c.view.ApplyRemote(raw)
		c.coal.Reset(raw)
		c.openOnce.Do(func() { close(c.opened) })
		if c.opts.OnOpen != nil {
			c.opts.OnOpen(noteID, raw, env.Participants)
		}

	case models.MessageTypeParticipants:
		c.mu.Lock()
		departed := make(map[string]bool, len(c.participants))
		for _, p := range c.participants {
			departed[p.UserID] = true
		}
		for _, p := range env.Participants {
			delete(departed, p.UserID)
		}
		c.participants = env.Participants
		sessionID := c.sessionID
		c.mu.Unlock()

		for userID := range departed {
			c.markers.Remove(sessionID, userID)
		}
		if c.opts.OnParticipants != nil {
			c.opts.OnParticipants(env.Participants)
		}

	case models.MessageTypeUpdateNote:
		// Never re-apply our own echo.
		if env.UserID == c.opts.UserID || env.Raw == nil {
			return
		}
		c.view.ApplyRemote(*env.Raw)
		c.coal.Reset(*env.Raw)
		if c.opts.OnRemoteUpdate != nil {
			c.opts.OnRemoteUpdate(env.NoteID, *env.Raw, env.UserID)
		}

	case models.MessageTypeCursorUpdate:
		if env.UserID == c.opts.UserID || env.CursorPosition == nil {
			return
		}
		m := c.markers.Show(c.SessionID(), env.UserID, env.Username, *env.CursorPosition, c.view.Len())
		if c.opts.OnCursor != nil {
			c.opts.OnCursor(m)
		}

	case models.MessageTypeFinalSave:
		raw := deref(env.Raw)
		select {
		case c.acks <- raw:
		default:
		}
		if c.opts.OnFinalSave != nil {
			c.opts.OnFinalSave(env.NoteID, raw)
		}

	default:
		log.Printf("⚠️  Ignoring frame of unknown type %q", env.Type)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
