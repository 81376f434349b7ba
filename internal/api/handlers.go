package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"notesync/internal/middleware"
	"notesync/internal/models"
	"notesync/internal/repository"
	"notesync/internal/services/collaboration"

	"github.com/gorilla/mux"
)

// Handler handles HTTP requests
// Learning: Uses INTERFACES defined in this package (consumer-driven)
type Handler struct {
	notes     NoteStore
	revisions RevisionLister
	shares    ShareManager
	wsHandler *collaboration.WebSocketHandler // WebSocket for real-time collab
}

func NewHandler(
	notes NoteStore,
	revisions RevisionLister,
	shares ShareManager,
	wsHandler *collaboration.WebSocketHandler,
) *Handler {
	return &Handler{
		notes:     notes,
		revisions: revisions,
		shares:    shares,
		wsHandler: wsHandler,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeStoreError maps storage errors to status codes
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNoteNotFound), errors.Is(err, repository.ErrShareNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return def
}

// Note handlers

func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var in models.NoteCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if in.ProjectID == "" {
		http.Error(w, "projectId is required", http.StatusBadRequest)
		return
	}

	created, err := h.notes.Create(r.Context(), middleware.UserIDFromContext(r.Context()), &in)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListProjectNotes(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectId"]
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	notes, err := h.notes.ListByProject(r.Context(), middleware.UserIDFromContext(r.Context()), projectID, limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notes":  notes,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	note, err := h.notes.GetOwned(r.Context(), middleware.UserIDFromContext(r.Context()), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, note)
}

func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var update models.NoteUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	updated, err := h.notes.Update(r.Context(), middleware.UserIDFromContext(r.Context()), id, &update)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) UpdateNoteTags(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	updated, err := h.notes.UpdateTags(r.Context(), middleware.UserIDFromContext(r.Context()), id, req.Tags)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.notes.Delete(r.Context(), middleware.UserIDFromContext(r.Context()), id); err != nil {
		writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.notes.GetOwned(r.Context(), middleware.UserIDFromContext(r.Context()), id); err != nil {
		writeStoreError(w, err)
		return
	}

	revisions, err := h.revisions.List(r.Context(), id, queryInt(r, "limit", 20))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"noteId":    id,
		"revisions": revisions,
	})
}

// Share handlers

// ShareNote mints a joinable link. edit=false makes the session owner-authoring only.
func (h *Handler) ShareNote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	editable := true
	if v := r.URL.Query().Get("edit"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "edit must be true or false", http.StatusBadRequest)
			return
		}
		editable = parsed
	}

	link, err := h.shares.Create(r.Context(), middleware.UserIDFromContext(r.Context()), id, editable)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, link)
}

func (h *Handler) ListShares(w http.ResponseWriter, r *http.Request) {
	shares, err := h.shares.ListActive(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shares": shares,
	})
}

func (h *Handler) RevokeShare(w http.ResponseWriter, r *http.Request) {
	shareID := mux.Vars(r)["shareId"]

	if err := h.shares.Revoke(r.Context(), middleware.UserIDFromContext(r.Context()), shareID); err != nil {
		writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
