package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"notesync/internal/client"
	"notesync/internal/middleware"
	"notesync/internal/models"

	"github.com/docopt/docopt-go"
	"github.com/google/uuid"
)

const NotesyncCtlVersion = "0.3.0"

const defaultAPIURL = "http://localhost:8080"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Notesync control.

The default api_url is http://localhost:8080.

Usage:
    notesyncctl create [--api_url=<api_url>] --user=<user_id> --project=<project_id> [<raw>]
    notesyncctl share [--api_url=<api_url>] --user=<user_id> [--read_only] <note_id>
    notesyncctl revisions [--api_url=<api_url>] --user=<user_id> <note_id>
    notesyncctl join [--user=<user_id>] [--project=<project_id>] [--name=<username>]
        [--quiet_ms=<quiet_ms>] <share_url>

In join, every stdin line replaces the document and is sent after the quiet
period. Commands:
    /paste <text>    replace the document and send it at once
    /save            final-save the document (owner only)
    /who             list participants
    /quit            leave the session

Options:
    -h --help                   Show this screen.
    --version                   Show version.
    --api_url=<api_url>
    --user=<user_id>            Your participant id. join generates one if missing.
    --project=<project_id>
    --name=<username>           Display name shown on your cursor.
    --read_only                 Guests may watch but not edit.
    --quiet_ms=<quiet_ms>       Debounce interval in milliseconds [default: 1000].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], NotesyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if create_, _ := opts.Bool("create"); create_ {
		createNote(opts)
	} else if share_, _ := opts.Bool("share"); share_ {
		shareNote(opts)
	} else if revisions_, _ := opts.Bool("revisions"); revisions_ {
		listRevisions(opts)
	} else if join_, _ := opts.Bool("join"); join_ {
		join(opts)
	}
}

func apiURL(opts docopt.Opts) string {
	if u, err := opts.String("--api_url"); err == nil && u != "" {
		return strings.TrimRight(u, "/")
	}
	return defaultAPIURL
}

// call sends one REST request as userID and decodes the JSON answer into out.
func call(method, url, userID string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set(middleware.UserIDHeader, userID)
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func createNote(opts docopt.Opts) {
	userID, _ := opts.String("--user")
	projectID, _ := opts.String("--project")
	raw, _ := opts.String("<raw>")

	var note models.Note
	err := call("POST", apiURL(opts)+"/api/notes", userID, &models.NoteCreate{ProjectID: projectID, Raw: raw}, &note)
	if err != nil {
		Err.Fatalf("Could not create note (%s).", err)
	}
	Out.Printf("%s", note.ID)
}

func shareNote(opts docopt.Opts) {
	userID, _ := opts.String("--user")
	noteID, _ := opts.String("<note_id>")
	readOnly, _ := opts.Bool("--read_only")

	var link models.ShareLink
	url := fmt.Sprintf("%s/api/notes/%s/share?edit=%t", apiURL(opts), noteID, !readOnly)
	if err := call("GET", url, userID, nil, &link); err != nil {
		Err.Fatalf("Could not share note (%s).", err)
	}
	Out.Printf("%s", link.URL)
}

func listRevisions(opts docopt.Opts) {
	userID, _ := opts.String("--user")
	noteID, _ := opts.String("<note_id>")

	var body struct {
		Revisions []*models.NoteRevision `json:"revisions"`
	}
	if err := call("GET", fmt.Sprintf("%s/api/notes/%s/revisions", apiURL(opts), noteID), userID, nil, &body); err != nil {
		Err.Fatalf("Could not list revisions (%s).", err)
	}
	for _, rev := range body.Revisions {
		Out.Printf("%s  %s  %s  %d bytes", rev.ID, rev.CreatedAt.Format(time.RFC3339), rev.SavedBy, len(rev.Raw))
	}
}

func join(opts docopt.Opts) {
	shareURL, _ := opts.String("<share_url>")
	userID, _ := opts.String("--user")
	if userID == "" {
		userID = uuid.NewString()
		Out.Printf("Joining as %s", userID)
	}
	projectID, _ := opts.String("--project")
	username, _ := opts.String("--name")
	quietMs, err := opts.Int("--quiet_ms")
	if err != nil {
		Err.Fatalf("Invalid --quiet_ms (%s).", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	c, err := client.Dial(dialCtx, shareURL, client.Options{
		UserID:      userID,
		ProjectID:   projectID,
		Username:    username,
		QuietPeriod: time.Duration(quietMs) * time.Millisecond,
		Handlers: client.Handlers{
			OnParticipants: func(p []models.Participant) {
				Out.Printf("* %d participants", len(p))
			},
			OnRemoteUpdate: func(noteID, raw, from string) {
				Out.Printf("< %s: %s", from, raw)
			},
			OnCursor: func(m client.Marker) {
				Out.Printf("* [%s] cursor at %d", m.Label, m.Offset)
			},
			OnClose: func(code int, reason string) {
				Out.Printf("* closed (%d %s)", code, reason)
			},
		},
	})
	cancel()
	if errors.Is(err, client.ErrStaleJoin) {
		Err.Fatalf("This share link can no longer be joined (%s).", err)
	}
	if err != nil {
		Err.Fatalf("Could not join (%s).", err)
	}
	defer c.Close()

	Out.Printf("Joined note %s (owner: %t, can edit: %t)", c.NoteID(), c.IsOwner(), c.CanEdit())
	Out.Printf("%s", c.View().Content())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(ctx, c, line) {
				return
			}
		}
	}
}

// handleLine applies one stdin line and returns false when the session should end.
func handleLine(ctx context.Context, c *client.Client, line string) bool {
	switch {
	case line == "/quit":
		return false

	case line == "/who":
		for _, p := range c.Participants() {
			Out.Printf("  %s (%s) %s", p.Username, p.UserID, client.Color(p.UserID))
		}

	case line == "/save":
		saveCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		saved, err := c.FinalSave(saveCtx)
		if err != nil {
			Err.Printf("Final-save failed (%s).", err)
			return true
		}
		Out.Printf("* saved %d bytes", len(saved))

	case strings.HasPrefix(line, "/paste "):
		text := strings.TrimPrefix(line, "/paste ")
		if err := c.Paste(text, len([]rune(text))); err != nil {
			Err.Printf("Paste failed (%s).", err)
		}

	default:
		if err := c.Type(line, len([]rune(line))); err != nil {
			Err.Printf("Edit failed (%s).", err)
		}
	}
	return true
}
