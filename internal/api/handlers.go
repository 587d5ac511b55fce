package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"notesync/internal/errs"
	"notesync/internal/middleware"
	"notesync/internal/models"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; content itself is capped by the reconciler.
const maxBodyBytes = 16 << 20

// Handler handles HTTP requests
type Handler struct {
	notes    NoteService
	realtime RealtimeHandler
	log      *zap.Logger
}

func NewHandler(notes NoteService, realtime RealtimeHandler, log *zap.Logger) *Handler {
	return &Handler{
		notes:    notes,
		realtime: realtime,
		log:      log.Named("api"),
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// versionResponse carries the snapshot bytes, which the model hides from JSON.
type versionResponse struct {
	*models.NoteVersion
	Snapshot []byte `json:"snapshot"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errs.Status(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		middleware.AddSpanError(r.Context(), err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.Invalid("body", "request body is empty")
		}
		return &errs.ValidationError{Field: "body", Reason: "malformed JSON", Err: err}
	}
	return nil
}

// Note handlers

func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var in models.NoteCreate
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.notes.CreateNote(r.Context(), &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	limit := 0
	offset := 0

	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil {
			limit = parsed
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil {
			offset = parsed
		}
	}

	page, err := h.notes.ListNotes(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.notes.GetNote(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, note)
}

func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var upd models.NoteUpdate
	if err := decode(r, &upd); err != nil {
		h.writeError(w, r, err)
		return
	}

	updated, err := h.notes.UpdateNote(r.Context(), mux.Vars(r)["id"], &upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.DeleteNote(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetNoteState streams the current replicated state for clients that sync
// over HTTP instead of the websocket.
func (h *Handler) GetNoteState(w http.ResponseWriter, r *http.Request) {
	state, err := h.notes.State(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(state)))
	w.WriteHeader(http.StatusOK)
	w.Write(state)
}

// Version handlers

func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	versions, err := h.notes.ListVersions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"noteId":   id,
		"versions": versions,
	})
}

func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.notes.CreateSnapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, version)
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	number, err := strconv.Atoi(vars["version"])
	if err != nil || number < 1 {
		h.writeError(w, r, errs.Invalid("version", "must be a positive integer"))
		return
	}

	version, err := h.notes.GetVersion(r.Context(), vars["id"], number)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if r.Header.Get("Accept") == "application/octet-stream" {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(version.Snapshot)
		return
	}
	writeJSON(w, http.StatusOK, versionResponse{NoteVersion: version, Snapshot: version.Snapshot})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   models.FormatTimestamp(time.Now()),
	})
}
