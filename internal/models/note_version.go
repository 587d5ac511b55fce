package models

import (
	"time"

	"gorm.io/datatypes"
)

/*
VERSION SNAPSHOTS

A snapshot is an immutable full copy of a note's replicated state, written on a
fixed cadence so recovery never needs a full replay of updates.

  (note_id, version) is unique, version grows by one per snapshot.
  Snapshots reference the note by id but do not cascade-delete it.
*/

// SnapshotType records whether a snapshot came from the store cadence or a user.
type SnapshotType string

const (
	SnapshotAuto   SnapshotType = "auto"
	SnapshotManual SnapshotType = "manual"
)

// SnapshotMeta is stored alongside every snapshot.
type SnapshotMeta struct {
	Type      SnapshotType `json:"type"`
	CreatedAt time.Time    `json:"createdAt"`
}

// NoteVersion is one row of the append-only version table.
type NoteVersion struct {
	ID        uint                             `json:"-" gorm:"primaryKey;autoIncrement"`
	NoteID    string                           `json:"noteId" gorm:"column:note_id;type:varchar(191);not null;uniqueIndex:idx_note_version,priority:1"`
	Version   int                              `json:"version" gorm:"not null;uniqueIndex:idx_note_version,priority:2"`
	Snapshot  []byte                           `json:"-" gorm:"not null"`
	Metadata  datatypes.JSONType[SnapshotMeta] `json:"metadata" gorm:"column:metadata"`
	CreatedAt time.Time                        `json:"createdAt" gorm:"autoCreateTime"`
}

func (NoteVersion) TableName() string {
	return "note_versions"
}

// Meta returns the decoded snapshot metadata.
func (v *NoteVersion) Meta() SnapshotMeta {
	return v.Metadata.Data()
}

// NewNoteVersion builds an unsaved snapshot row.
func NewNoteVersion(noteID string, version int, snapshot []byte, meta SnapshotMeta) *NoteVersion {
	return &NoteVersion{
		NoteID:   noteID,
		Version:  version,
		Snapshot: snapshot,
		Metadata: datatypes.NewJSONType(meta),
	}
}
