package models

import (
	"time"

	"github.com/google/uuid"
)

// Session describes one live websocket connection attached to a note.
type Session struct {
	ID           string    `json:"id"`
	NoteID       string    `json:"noteId"`
	UserName     string    `json:"userName"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

func NewSession(noteID, userName string) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		NoteID:       noteID,
		UserName:     userName,
		ConnectedAt:  now,
		LastActiveAt: now,
	}
}

// Event names carried over the realtime channel.
const (
	EventJoinNote           = "join_note"
	EventLeaveNote          = "leave_note"
	EventJoinedNote         = "joined_note"
	EventCollaboratorJoined = "collaborator_joined"
	EventCollaboratorLeft   = "collaborator_left"
	EventNoteDeleted        = "note_deleted"
	EventTitleChanged       = "title_changed"
	EventNoteUpdated        = "note_updated"
	EventError              = "error"
)

// Envelope is the JSON frame for control events in both directions.
type Envelope struct {
	Event   string `json:"event"`
	ShareID string `json:"shareId,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type JoinedNotePayload struct {
	ShareID   string `json:"shareId"`
	Timestamp string `json:"timestamp"`
}

type CollaboratorPayload struct {
	ClientID  string `json:"clientId"`
	Timestamp string `json:"timestamp"`
}

type NoteDeletedPayload struct {
	ShareID   string `json:"shareId"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type TitleChangedPayload struct {
	NoteID    string `json:"noteId"`
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"`
}

type NoteUpdatedPayload struct {
	ShareID    string         `json:"shareId"`
	UpdateData map[string]any `json:"updateData"`
	Timestamp  string         `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t the way every event payload carries time.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
