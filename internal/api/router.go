package api

import (
	"net/http"

	"notesync/internal/middleware"
	"notesync/internal/services"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	// Learning: Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)       // Add tracing spans to all requests
	r.Use(middleware.ErrorRecoveryMiddleware) // Catch panics
	r.Use(middleware.CORSMiddleware)          // Handle CORS

	// Health check endpoint, no identity needed
	r.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.RequireUser)

	// Note endpoints
	api.HandleFunc("/notes", h.CreateNote).Methods("POST")
	api.HandleFunc("/projects/{projectId}/notes", h.ListProjectNotes).Methods("GET")
	api.HandleFunc("/notes/{id}", h.GetNote).Methods("GET")
	api.HandleFunc("/notes/{id}", h.UpdateNote).Methods("PUT")
	api.HandleFunc("/notes/{id}", h.DeleteNote).Methods("DELETE")
	api.HandleFunc("/notes/{id}/tags", h.UpdateNoteTags).Methods("PUT")
	api.HandleFunc("/notes/{id}/revisions", h.ListRevisions).Methods("GET")

	// Share endpoints
	api.HandleFunc("/notes/{id}/share", h.ShareNote).Methods("GET")
	api.HandleFunc("/shares", h.ListShares).Methods("GET")
	api.HandleFunc("/shares/{shareId}", h.RevokeShare).Methods("DELETE")

	// WebSocket routes; the share token is the credential
	r.HandleFunc(services.WebSocketSharePath, h.HandleShareWebSocket)

	return r
}
