package collaboration

import (
	"context"
	"time"

	"notesync/internal/models"
)

// Interfaces are declared here, where they are consumed. The gorm
// repositories and the in-memory store both satisfy them.

// NoteStore is what the coordinator needs from note storage.
type NoteStore interface {
	Get(ctx context.Context, id string) (*models.Note, error)
	List(ctx context.Context, limit, offset int) ([]*models.Note, error)
	Create(ctx context.Context, note *models.Note) (*models.Note, error)
	Update(ctx context.Context, id string, changes *models.NoteChanges) (*models.Note, error)
	UpdateState(ctx context.Context, id string, state []byte, at time.Time) (int64, error)
	Delete(ctx context.Context, id string) error
}

// VersionStore is the append-only snapshot table.
type VersionStore interface {
	CountVersions(ctx context.Context, noteID string) (int, error)
	CreateVersion(ctx context.Context, version *models.NoteVersion) error
	ListVersions(ctx context.Context, noteID string) ([]*models.NoteVersion, error)
	GetVersion(ctx context.Context, noteID string, version int) (*models.NoteVersion, error)
}

// Notifier fans note lifecycle events out to room members.
type Notifier interface {
	NotifyDeleted(noteID string)
	NotifyTitleChanged(noteID, title string)
	NotifyUpdated(noteID string, data map[string]any)
}

// Transport delivers one event to one connection.
type Transport interface {
	Send(connID, event string, payload any) error
}
