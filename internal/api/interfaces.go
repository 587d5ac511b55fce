package api

import (
	"context"
	"net/http"

	"notesync/internal/models"
)

// Interfaces live with their consumer: the handlers only declare what they call.

// NoteService is the coordinator surface the REST handlers use.
type NoteService interface {
	CreateNote(ctx context.Context, in *models.NoteCreate) (*models.Note, error)
	GetNote(ctx context.Context, noteID string) (*models.Note, error)
	ListNotes(ctx context.Context, limit, offset int) (*models.NotePage, error)
	UpdateNote(ctx context.Context, noteID string, upd *models.NoteUpdate) (*models.Note, error)
	DeleteNote(ctx context.Context, noteID string) error
	State(ctx context.Context, noteID string) ([]byte, error)
	CreateSnapshot(ctx context.Context, noteID string) (*models.NoteVersion, error)
	ListVersions(ctx context.Context, noteID string) ([]*models.NoteVersion, error)
	GetVersion(ctx context.Context, noteID string, version int) (*models.NoteVersion, error)
}

// RealtimeHandler serves the websocket channel of a note.
type RealtimeHandler interface {
	HandleNoteConnection(w http.ResponseWriter, r *http.Request)
}
