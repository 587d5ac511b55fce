package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RenderMode tells clients how to display a note.
type RenderMode string

const (
	RenderMarkdown RenderMode = "markdown"
	RenderHTML     RenderMode = "html"
)

// RenderModeFor derives the render mode: html if and only if rich content is present.
func RenderModeFor(htmlContent *string) RenderMode {
	if htmlContent != nil {
		return RenderHTML
	}
	return RenderMarkdown
}

// Note is the durable record of a shared note.
// Content, HTMLContent and YjsState are kept consistent by the content
// reconciler; YjsState, once present, must always be loadable.
type Note struct {
	ID          string            `json:"id" gorm:"type:varchar(191);primaryKey"`
	Title       string            `json:"title" gorm:"type:text;not null"`
	Content     string            `json:"content" gorm:"type:text;not null;default:''"`
	HTMLContent *string           `json:"htmlContent" gorm:"column:html_content;type:text"`
	RenderMode  RenderMode        `json:"renderMode" gorm:"column:render_mode;type:varchar(16);not null;default:'markdown'"`
	YjsState    []byte            `json:"-" gorm:"column:yjs_state"`
	Metadata    datatypes.JSONMap `json:"metadata" gorm:"column:metadata"`
	StoreCount  int64             `json:"-" gorm:"column:store_count;not null;default:0"`
	PublishedAt time.Time         `json:"publishedAt" gorm:"column:published_at;autoCreateTime;<-:create"`
	UpdatedAt   time.Time         `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`
}

func (Note) TableName() string {
	return "notes"
}

// BeforeCreate assigns a KSUID when the caller did not choose an id.
func (n *Note) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = ksuid.New().String()
	}
	return nil
}

// HasState reports whether replicated state has been hydrated yet.
// A zero-length state counts as absent.
func (n *Note) HasState() bool {
	return len(n.YjsState) > 0
}

// NoteCreate is the input for creating a note. ID may be empty.
type NoteCreate struct {
	ID          string         `json:"id,omitempty"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	HTMLContent *string        `json:"htmlContent,omitempty"`
	Filename    string         `json:"filename,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NoteUpdate is a partial update. Nil fields are left untouched; an empty
// HTMLContent clears rich content and switches the note back to markdown.
type NoteUpdate struct {
	Title       *string        `json:"title,omitempty"`
	Content     *string        `json:"content,omitempty"`
	HTMLContent *string        `json:"htmlContent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TouchesContent reports whether the update changes plain or rich content.
func (u *NoteUpdate) TouchesContent() bool {
	return u.Content != nil || u.HTMLContent != nil
}

// Page sizes for note listings.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// NotePage is one page of a listing with the paging actually applied.
type NotePage struct {
	Notes  []*Note `json:"notes"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// NoteChanges is the reconciled column set handed to the store.
// ClearHTML distinguishes "set html to NULL" from "leave html alone".
type NoteChanges struct {
	Title       *string
	Content     *string
	HTMLContent *string
	ClearHTML   bool
	YjsState    []byte
	Metadata    map[string]any
}
