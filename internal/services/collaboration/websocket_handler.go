package collaboration

import (
	"errors"
	"log"
	"net/http"

	"notesync/internal/middleware"
	"notesync/internal/repository"
	"notesync/internal/services"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: WEBSOCKET UPGRADER

The upgrader converts HTTP connections to WebSocket connections.

Everything that can make a join fail is checked before upgrading, so a stale
link gets a plain HTTP status the client can turn into a message:

	400  no token / no requestUserId
	401  token signature or claims invalid
	404  share row unknown
	410  share expired or revoked
*/

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Share tokens authorize the join, not the origin.
		return true
	},
}

// WebSocketHandler joins share links to live sessions
type WebSocketHandler struct {
	sessionManager *SessionManager
	shares         ShareResolver
}

func NewWebSocketHandler(sessionManager *SessionManager, shares ShareResolver) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
		shares:         shares,
	}
}

// HandleShareConnection serves GET /ws/share?token=..&requestUserId=..&projectId=..&username=..
func (h *WebSocketHandler) HandleShareConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	token := q.Get("token")
	userID := q.Get("requestUserId")
	username := q.Get("username")

	if token == "" || userID == "" {
		http.Error(w, "token and requestUserId are required", http.StatusBadRequest)
		return
	}

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("user.id", userID),
		attribute.String("project.id", q.Get("projectId")),
	)

	claims, err := h.shares.Resolve(ctx, token)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		span.End()
		log.Printf("⚠️  Share join by %s refused: %v", userID, err)
		switch {
		case errors.Is(err, repository.ErrShareNotFound):
			http.Error(w, "share not found", http.StatusNotFound)
		case services.IsStale(err):
			http.Error(w, "share link is no longer valid", http.StatusGone)
		default:
			http.Error(w, "invalid share token", http.StatusUnauthorized)
		}
		return
	}
	span.SetAttributes(attribute.String("session.id", claims.ShareID), attribute.String("note.id", claims.NoteID))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		span.End()
		return
	}
	span.End()

	// Open blocks until the connection closes and logs its own failures.
	h.sessionManager.Open(ctx, conn, claims, userID, username)
}
