package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"

	"notesync/internal/db"
	"notesync/internal/errs"
	"notesync/internal/models"
)

func openTestDB(t *testing.T) *db.GormDB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := db.Open(sqlite.Open(dsn), zaptest.NewLogger(t), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })
	return gdb
}

func TestNoteRepositoryCRUD(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewNoteRepository(gdb.DB)
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.Note{
		Title:      "Groceries",
		Content:    "- eggs",
		RenderMode: models.RenderMarkdown,
		Metadata:   map[string]any{"folder": "home"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.PublishedAt.IsZero())

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Title)
	assert.Equal(t, "home", got.Metadata["folder"])
	assert.False(t, got.HasState())

	html := "<p>eggs</p>"
	title := "Shopping"
	updated, err := repo.Update(ctx, created.ID, &models.NoteChanges{Title: &title, HTMLContent: &html})
	require.NoError(t, err)
	assert.Equal(t, "Shopping", updated.Title)
	assert.Equal(t, "- eggs", updated.Content)
	require.NotNil(t, updated.HTMLContent)
	assert.Equal(t, models.RenderHTML, updated.RenderMode)

	cleared, err := repo.Update(ctx, created.ID, &models.NoteChanges{ClearHTML: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.HTMLContent)
	assert.Equal(t, models.RenderMarkdown, cleared.RenderMode)

	list, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.Get(ctx, created.ID)
	assert.True(t, errs.IsNotFound(err))
	assert.True(t, errs.IsNotFound(repo.Delete(ctx, created.ID)))
}

func TestNoteRepositoryCallerAssignedID(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewNoteRepository(gdb.DB)
	ctx := context.Background()

	_, err := repo.Create(ctx, &models.Note{ID: "share-42", Title: "t"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &models.Note{ID: "share-42", Title: "dup"})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestUpdateStateTouchesOnlyState(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewNoteRepository(gdb.DB)
	ctx := context.Background()

	html := "<p>rich</p>"
	note, err := repo.Create(ctx, &models.Note{Title: "t", Content: "plain", HTMLContent: &html, RenderMode: models.RenderHTML})
	require.NoError(t, err)

	at := time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)
	count, err := repo.UpdateState(ctx, note.ID, []byte{1, 2, 3}, at)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	count, err = repo.UpdateState(ctx, note.ID, []byte{4, 5}, at)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	got, err := repo.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, got.YjsState)
	assert.Equal(t, "plain", got.Content)
	require.NotNil(t, got.HTMLContent)
	assert.Equal(t, "<p>rich</p>", *got.HTMLContent)

	_, err = repo.UpdateState(ctx, "missing", []byte{1}, at)
	assert.True(t, errs.IsNotFound(err))
}

func TestVersionRepository(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewVersionRepository(gdb.DB)
	ctx := context.Background()

	n, err := repo.CountVersions(ctx, "note-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	meta := models.SnapshotMeta{Type: models.SnapshotAuto, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.CreateVersion(ctx, models.NewNoteVersion("note-1", 1, []byte("s1"), meta)))
	require.NoError(t, repo.CreateVersion(ctx, models.NewNoteVersion("note-1", 2, []byte("s2"), meta)))

	err = repo.CreateVersion(ctx, models.NewNoteVersion("note-1", 2, []byte("dup"), meta))
	require.Error(t, err)
	assert.True(t, errs.IsStorage(err))

	n, err = repo.CountVersions(ctx, "note-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := repo.ListVersions(ctx, "note-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Version)
	assert.Empty(t, list[0].Snapshot)
	assert.Equal(t, models.SnapshotAuto, list[1].Meta().Type)

	v, err := repo.GetVersion(ctx, "note-1", 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("s2"), v.Snapshot)

	_, err = repo.GetVersion(ctx, "note-1", 9)
	assert.True(t, errs.IsNotFound(err))
}
