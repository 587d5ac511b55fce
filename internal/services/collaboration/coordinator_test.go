package collaboration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notesync/internal/content"
	"notesync/internal/crdt"
	"notesync/internal/errs"
	"notesync/internal/models"
	"notesync/internal/repository/memory"
)

type notification struct {
	event  string
	noteID string
	title  string
	data   map[string]any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *recordingNotifier) NotifyDeleted(noteID string) {
	n.record(notification{event: models.EventNoteDeleted, noteID: noteID})
}

func (n *recordingNotifier) NotifyTitleChanged(noteID, title string) {
	n.record(notification{event: models.EventTitleChanged, noteID: noteID, title: title})
}

func (n *recordingNotifier) NotifyUpdated(noteID string, data map[string]any) {
	n.record(notification{event: models.EventNoteUpdated, noteID: noteID, data: data})
}

func (n *recordingNotifier) record(e notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.events...)
}

// failingVersions rejects every snapshot write.
type failingVersions struct {
	*memory.Store
}

func (f failingVersions) CreateVersion(ctx context.Context, v *models.NoteVersion) error {
	return errs.Storage("create version", errors.New("disk full"))
}

// flakyNotes fails the next n state writes.
type flakyNotes struct {
	*memory.Store
	mu    sync.Mutex
	fails int
}

func (f *flakyNotes) UpdateState(ctx context.Context, id string, state []byte, at time.Time) (int64, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return 0, errs.Storage("store note state", errors.New("connection reset"))
	}
	f.mu.Unlock()
	return f.Store.UpdateState(ctx, id, state, at)
}

func newTestCoordinator(t *testing.T, notes NoteStore, versions VersionStore, notifier Notifier) *CoordinatorImpl {
	t.Helper()
	cfg := DefaultConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	c := NewCoordinator(notes, versions, notifier, content.NewReconciler(0), cfg, zap.NewNop())
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func seedNote(t *testing.T, store *memory.Store, note *models.Note) *models.Note {
	t.Helper()
	created, err := store.Create(context.Background(), note)
	require.NoError(t, err)
	return created
}

// editedState produces a client update that replaces the note body.
func editedState(t *testing.T, state []byte, text string) []byte {
	t.Helper()
	doc, err := crdt.Load(state)
	require.NoError(t, err)
	require.NoError(t, doc.InsertPlainText(text))
	return doc.Encode()
}

// editingClient mimics a browser peer that ships only its new changes.
type editingClient struct {
	doc *automerge.Doc
}

func newEditingClient(t *testing.T, state []byte) *editingClient {
	t.Helper()
	doc, err := automerge.Load(state)
	require.NoError(t, err)
	return &editingClient{doc: doc}
}

func (e *editingClient) appendText(t *testing.T, s string) []byte {
	t.Helper()
	require.NoError(t, e.doc.Path(crdt.ContentKey).Text().Append(s))
	_, err := e.doc.Commit("edit")
	require.NoError(t, err)
	return e.doc.SaveIncremental()
}

func textOf(t *testing.T, state []byte) string {
	t.Helper()
	doc, err := crdt.Load(state)
	require.NoError(t, err)
	text, err := doc.Text()
	require.NoError(t, err)
	return text
}

func TestOpenHydratesFromPlainContent(t *testing.T) {
	store := memory.NewStore()
	seedNote(t, store, &models.Note{ID: "n1", Title: "t", Content: "hello world"})
	c := newTestCoordinator(t, store, store, nil)

	state, err := c.Open(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", textOf(t, state))
	assert.Equal(t, 1, c.LiveSessions())

	// hydration does not write to storage
	note, err := store.Get(context.Background(), "n1")
	require.NoError(t, err)
	assert.False(t, note.HasState())
}

func TestOpenRoundTripsStoredState(t *testing.T) {
	store := memory.NewStore()
	state, err := content.HydrateReplicatedState("stored body")
	require.NoError(t, err)
	seedNote(t, store, &models.Note{ID: "n1", Title: "t", Content: "ignored", YjsState: state})
	c := newTestCoordinator(t, store, store, nil)

	got, err := c.Open(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, "stored body", textOf(t, got))
}

func TestOpenErrors(t *testing.T) {
	store := memory.NewStore()
	seedNote(t, store, &models.Note{ID: "bad", Title: "t", YjsState: []byte("definitely not automerge")})
	c := newTestCoordinator(t, store, store, nil)
	ctx := context.Background()

	_, err := c.Open(ctx, "missing")
	assert.True(t, errs.IsNotFound(err))

	_, err = c.Open(ctx, "bad")
	require.Error(t, err)
	assert.True(t, errs.IsCorrupt(err))
	assert.False(t, errs.IsNotFound(err))
	assert.Equal(t, 0, c.LiveSessions())

	_, err = c.Open(ctx, "")
	assert.ErrorIs(t, err, errs.ErrMissingNoteID)
}

func TestSnapshotCadence(t *testing.T) {
	store := memory.NewStore()
	seedNote(t, store, &models.Note{ID: "n1", Title: "t", Content: "body"})
	c := newTestCoordinator(t, store, store, nil)
	ctx := context.Background()

	_, err := c.Open(ctx, "n1")
	require.NoError(t, err)

	for i := 0; i < 250; i++ {
		require.NoError(t, c.Store(ctx, "n1"))
	}

	versions, err := store.ListVersions(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
	for _, v := range versions {
		assert.Equal(t, models.SnapshotAuto, v.Meta().Type)
	}

	note, err := store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.EqualValues(t, 250, note.StoreCount)
}

func TestSnapshotFailureDoesNotFailStore(t *testing.T) {
	store := memory.NewStore()
	seedNote(t, store, &models.Note{ID: "n1", Title: "t", Content: "body"})
	c := newTestCoordinator(t, store, failingVersions{store}, nil)
	ctx := context.Background()

	_, err := c.Open(ctx, "n1")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, c.Store(ctx, "n1"))
	}

	note, err := store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, note.StoreCount)
}

func TestFailedStoreKeepsEditsInMemory(t *testing.T) {
	store := memory.NewStore()
	seedNote(t, store, &models.Note{ID: "n1", Title: "t", Content: "draft"})
	notes := &flakyNotes{Store: store, fails: 1}
	c := newTestCoordinator(t, notes, store, nil)
	ctx := context.Background()

	state, err := c.Open(ctx, "n1")
	require.NoError(t, err)
	require.NoError(t, c.ApplyUpdate(ctx, "n1", editedState(t, state, "final")))

	err = c.Close(ctx, "n1")
	require.Error(t, err)
	assert.True(t, errs.IsStorage(err))
	assert.Equal(t, 1, c.LiveSessions(), "session must survive a failed store")

	require.NoError(t, c.flush("n1"))
	assert.Equal(t, 0, c.LiveSessions())

	note, err := store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "final", textOf(t, note.YjsState))
}

func TestStoreAfterDeleteIsNotFound(t *testing.T) {
	store := memory.NewStore()
	seedNote(t, store, &models.Note{ID: "n1", Title: "t", Content: "body"})
	seedNote(t, store, &models.Note{ID: "n2", Title: "t", Content: "body"})
	c := newTestCoordinator(t, store, store, nil)
	ctx := context.Background()

	_, err := c.Open(ctx, "n1")
	require.NoError(t, err)
	require.NoError(t, c.DeleteNote(ctx, "n1"))
	assert.True(t, errs.IsNotFound(c.Store(ctx, "n1")))

	// removed underneath a live session
	_, err = c.Open(ctx, "n2")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "n2"))
	assert.True(t, errs.IsNotFound(c.Store(ctx, "n2")))
}

func TestApplyUpdateMergesIncrementalChanges(t *testing.T) {
	store := memory.NewStore()
	seedNote(t, store, &models.Note{ID: "d", Title: "t", Content: "hello"})
	c := newTestCoordinator(t, store, store, nil)
	ctx := context.Background()

	state, err := c.Open(ctx, "d")
	require.NoError(t, err)
	client := newEditingClient(t, state)

	require.NoError(t, c.ApplyUpdate(ctx, "d", client.appendText(t, " one")))
	require.NoError(t, c.ApplyUpdate(ctx, "d", client.appendText(t, " two")))

	live, err := c.State(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, "hello one two", textOf(t, live))

	require.NoError(t, c.Store(ctx, "d"))
	note, err := store.Get(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, "hello one two", textOf(t, note.YjsState))
}

type blockingNotes struct {
	*memory.Store
}

func (blockingNotes) Get(ctx context.Context, id string) (*models.Note, error) {
	<-ctx.Done()
	return nil, errs.Storage("get note", ctx.Err())
}

func TestOpenGivesUpAfterStoreTimeout(t *testing.T) {
	store := memory.NewStore()
	cfg := DefaultConfig()
	cfg.StoreTimeout = 50 * time.Millisecond
	c := NewCoordinator(blockingNotes{store}, store, nil, nil, cfg, zap.NewNop())
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	start := time.Now()
	_, err := c.Open(context.Background(), "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, c.LiveSessions())
}

func TestApplyUpdateRejectsBadInput(t *testing.T) {
	store := memory.NewStore()
	seedNote(t, store, &models.Note{ID: "n1", Title: "t", Content: "body"})
	c := newTestCoordinator(t, store, store, nil)
	ctx := context.Background()

	err := c.ApplyUpdate(ctx, "n1", []byte{1, 2, 3})
	assert.True(t, errs.IsValidation(err), "note is not open")

	_, err = c.Open(ctx, "n1")
	require.NoError(t, err)
	err = c.ApplyUpdate(ctx, "n1", []byte("garbage update"))
	assert.True(t, errs.IsValidation(err))
}

func TestCloseStoresOnLastReference(t *testing.T) {
	store := memory.NewStore()
	seedNote(t, store, &models.Note{ID: "n1", Title: "t", Content: "body"})
	c := newTestCoordinator(t, store, store, nil)
	ctx := context.Background()

	state, err := c.Open(ctx, "n1")
	require.NoError(t, err)
	_, err = c.Open(ctx, "n1")
	require.NoError(t, err)
	require.NoError(t, c.ApplyUpdate(ctx, "n1", editedState(t, state, "edited")))

	require.NoError(t, c.Close(ctx, "n1"))
	note, err := store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, note.StoreCount)
	assert.Equal(t, 1, c.LiveSessions())

	require.NoError(t, c.Close(ctx, "n1"))
	note, err = store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, note.StoreCount)
	assert.Equal(t, "edited", textOf(t, note.YjsState))
	assert.Equal(t, 0, c.LiveSessions())
}

func TestFlushWorkersStoreDirtySessions(t *testing.T) {
	store := memory.NewStore()
	seedNote(t, store, &models.Note{ID: "n1", Title: "t", Content: "body"})
	c := newTestCoordinator(t, store, store, nil)
	c.Start()
	ctx := context.Background()

	state, err := c.Open(ctx, "n1")
	require.NoError(t, err)
	require.NoError(t, c.ApplyUpdate(ctx, "n1", editedState(t, state, "async")))

	require.Eventually(t, func() bool {
		note, err := store.Get(ctx, "n1")
		return err == nil && note.StoreCount >= 1
	}, 2*time.Second, 10*time.Millisecond)

	note, err := store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "async", textOf(t, note.YjsState))
}

func TestShutdownFlushesDirtySessions(t *testing.T) {
	store := memory.NewStore()
	seedNote(t, store, &models.Note{ID: "n1", Title: "t", Content: "body"})
	c := newTestCoordinator(t, store, store, nil)
	ctx := context.Background()

	state, err := c.Open(ctx, "n1")
	require.NoError(t, err)
	require.NoError(t, c.ApplyUpdate(ctx, "n1", editedState(t, state, "at exit")))
	require.NoError(t, c.Shutdown(ctx))

	note, err := store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "at exit", textOf(t, note.YjsState))
}

func TestCreateNoteReconcilesContent(t *testing.T) {
	store := memory.NewStore()
	c := newTestCoordinator(t, store, store, nil)
	ctx := context.Background()

	html := `<p onclick="x()">hi</p><script>alert(1)</script>`
	note, err := c.CreateNote(ctx, &models.NoteCreate{
		Content:     "# **Bold** Title\n\n![img](a.png)\nbody",
		HTMLContent: &html,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bold Title", note.Title)
	assert.NotContains(t, note.Content, "a.png")
	require.NotNil(t, note.HTMLContent)
	assert.Equal(t, "<p>hi</p>", *note.HTMLContent)
	assert.Equal(t, models.RenderHTML, note.RenderMode)
	assert.Equal(t, note.Content, textOf(t, note.YjsState))

	_, err = c.CreateNote(ctx, &models.NoteCreate{ID: "bad/id"})
	assert.True(t, errs.IsValidation(err))
}

func TestUpdateNoteContentRehydratesLiveSession(t *testing.T) {
	store := memory.NewStore()
	notifier := &recordingNotifier{}
	c := newTestCoordinator(t, store, store, notifier)
	ctx := context.Background()

	created, err := c.CreateNote(ctx, &models.NoteCreate{ID: "n1", Title: "Plan", Content: "old body"})
	require.NoError(t, err)
	_, err = c.Open(ctx, created.ID)
	require.NoError(t, err)

	body := "new body"
	updated, err := c.UpdateNote(ctx, "n1", &models.NoteUpdate{Content: &body})
	require.NoError(t, err)
	assert.Equal(t, "new body", updated.Content)
	assert.Equal(t, "new body", textOf(t, updated.YjsState))

	live, err := c.State(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "new body", textOf(t, live))

	events := notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventNoteUpdated, events[0].event)
	assert.Equal(t, "new body", events[0].data["content"])
}

func TestUpdateNoteTitleLeavesStateAlone(t *testing.T) {
	store := memory.NewStore()
	notifier := &recordingNotifier{}
	c := newTestCoordinator(t, store, store, notifier)
	ctx := context.Background()

	created, err := c.CreateNote(ctx, &models.NoteCreate{ID: "n1", Title: "Plan", Content: "body"})
	require.NoError(t, err)

	title := "Renamed"
	updated, err := c.UpdateNote(ctx, "n1", &models.NoteUpdate{Title: &title, Metadata: map[string]any{"pinned": true}})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, created.YjsState, updated.YjsState)
	assert.Equal(t, true, updated.Metadata["pinned"])

	events := notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTitleChanged, events[0].event)
	assert.Equal(t, "Renamed", events[0].title)

	empty := ""
	updated, err = c.UpdateNote(ctx, "n1", &models.NoteUpdate{HTMLContent: &empty})
	require.NoError(t, err)
	assert.Nil(t, updated.HTMLContent)
	assert.Equal(t, models.RenderMarkdown, updated.RenderMode)

	_, err = c.UpdateNote(ctx, "missing", &models.NoteUpdate{Title: &title})
	assert.True(t, errs.IsNotFound(err))
}

func TestDeleteNoteNotifiesRoom(t *testing.T) {
	store := memory.NewStore()
	notifier := &recordingNotifier{}
	c := newTestCoordinator(t, store, store, notifier)
	ctx := context.Background()

	seedNote(t, store, &models.Note{ID: "n1", Title: "t"})
	require.NoError(t, c.DeleteNote(ctx, "n1"))
	assert.True(t, errs.IsNotFound(c.DeleteNote(ctx, "n1")))

	events := notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, notification{event: models.EventNoteDeleted, noteID: "n1"}, events[0])
}

func TestManualSnapshotsAndVersions(t *testing.T) {
	store := memory.NewStore()
	seedNote(t, store, &models.Note{ID: "n1", Title: "t", Content: "snap me"})
	c := newTestCoordinator(t, store, store, nil)
	ctx := context.Background()

	v, err := c.CreateSnapshot(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, models.SnapshotManual, v.Meta().Type)

	got, err := c.GetVersion(ctx, "n1", 1)
	require.NoError(t, err)
	assert.Equal(t, "snap me", textOf(t, got.Snapshot))

	list, err := c.ListVersions(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = c.CreateSnapshot(ctx, "missing")
	assert.True(t, errs.IsNotFound(err))
}
