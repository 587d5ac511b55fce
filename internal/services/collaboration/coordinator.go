package collaboration

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"notesync/internal/content"
	"notesync/internal/crdt"
	"notesync/internal/errs"
	"notesync/internal/metrics"
	"notesync/internal/middleware"
	"notesync/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

/*
PERSISTENCE COORDINATOR

Each open note has one live session holding the replicated document:

  Unloaded -> Hydrating -> Live -> (Storing)* -> Live -> ... -> Closed

Everything touching a session or its stored row runs under the per-note lock,
so a store and its snapshot-count check never race. Edits only mark the
session dirty; a fixed pool of flush workers stores dirty sessions, fed by
ApplyUpdate and by a ticker sweep. A failed store keeps the session dirty and
the in-memory document stays the source of truth for the next attempt.
*/

// Config tunes the flush pool and the snapshot cadence.
type Config struct {
	FlushInterval  time.Duration
	FlushWorkers   int
	FlushQueueSize int
	SnapshotEvery  int64
	StoreTimeout   time.Duration
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval:  2 * time.Second,
		FlushWorkers:   4,
		FlushQueueSize: 256,
		SnapshotEvery:  100,
		StoreTimeout:   5 * time.Second,
	}
}

// docSession is the live state of one open note.
type docSession struct {
	doc   *crdt.Doc
	refs  int
	dirty bool
}

// CoordinatorImpl hydrates, stores and snapshots replicated note state.
type CoordinatorImpl struct {
	notes      NoteStore
	versions   VersionStore
	notifier   Notifier
	reconciler *content.Reconciler
	log        *zap.Logger
	cfg        Config

	locks    KeyedMutex
	sessMu   sync.Mutex
	sessions map[string]*docSession

	// Flush pool
	queue     chan string
	pendingMu sync.Mutex
	pending   map[string]struct{}
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	now func() time.Time
}

// NewCoordinator wires the stores and the room notifier. notifier may be nil.
func NewCoordinator(
	notes NoteStore,
	versions VersionStore,
	notifier Notifier,
	reconciler *content.Reconciler,
	cfg Config,
	log *zap.Logger,
) *CoordinatorImpl {
	def := DefaultConfig()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushWorkers <= 0 {
		cfg.FlushWorkers = def.FlushWorkers
	}
	if cfg.FlushQueueSize <= 0 {
		cfg.FlushQueueSize = def.FlushQueueSize
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = def.SnapshotEvery
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if reconciler == nil {
		reconciler = content.NewReconciler(content.DefaultMaxContentBytes)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CoordinatorImpl{
		notes:      notes,
		versions:   versions,
		notifier:   notifier,
		reconciler: reconciler,
		log:        log.Named("coordinator"),
		cfg:        cfg,
		sessions:   make(map[string]*docSession),
		queue:      make(chan string, cfg.FlushQueueSize),
		pending:    make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}
}

// Start launches the flush workers and the periodic dirty sweep.
func (c *CoordinatorImpl) Start() {
	c.log.Info("🔧 Starting flush workers",
		zap.Int("workers", c.cfg.FlushWorkers),
		zap.Duration("interval", c.cfg.FlushInterval),
	)

	for i := 0; i < c.cfg.FlushWorkers; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	c.wg.Add(1)
	go c.sweepLoop()
}

func (c *CoordinatorImpl) worker(id int) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case noteID := <-c.queue:
			c.pendingMu.Lock()
			delete(c.pending, noteID)
			c.pendingMu.Unlock()

			if err := c.flush(noteID); err != nil {
				c.log.Warn("flush failed",
					zap.Int("worker", id),
					zap.String("note_id", noteID),
					zap.Error(err),
				)
			}
		}
	}
}

func (c *CoordinatorImpl) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			for _, id := range c.dirtyIDs() {
				c.enqueue(id)
			}
		}
	}
}

// enqueue schedules a flush without blocking. Ids already queued are skipped;
// a full queue is left to the next sweep.
func (c *CoordinatorImpl) enqueue(noteID string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if _, queued := c.pending[noteID]; queued {
		return
	}
	select {
	case c.queue <- noteID:
		c.pending[noteID] = struct{}{}
	default:
		c.log.Debug("flush queue full, deferring to sweep", zap.String("note_id", noteID))
	}
}

func (c *CoordinatorImpl) dirtyIDs() []string {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	var ids []string
	for id, s := range c.sessions {
		if s.dirty {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *CoordinatorImpl) session(noteID string) *docSession {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.sessions[noteID]
}

func (c *CoordinatorImpl) putSession(noteID string, s *docSession) {
	c.sessMu.Lock()
	c.sessions[noteID] = s
	c.sessMu.Unlock()
	metrics.LiveSessions.Inc()
}

func (c *CoordinatorImpl) dropSession(noteID string) {
	c.sessMu.Lock()
	_, ok := c.sessions[noteID]
	delete(c.sessions, noteID)
	c.sessMu.Unlock()
	if ok {
		metrics.LiveSessions.Dec()
	}
}

// LiveSessions reports how many notes currently hold an in-memory document.
func (c *CoordinatorImpl) LiveSessions() int {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return len(c.sessions)
}

// Open attaches a caller to a note and returns the full replicated state.
// The first open hydrates the document; later opens share it.
func (c *CoordinatorImpl) Open(ctx context.Context, noteID string) ([]byte, error) {
	if noteID == "" {
		return nil, missingNoteID()
	}

	ctx, span := middleware.StartSpan(ctx, "Coordinator.Open", attribute.String("note.id", noteID))
	defer span.End()

	unlock := c.locks.Lock(noteID)
	defer unlock()

	if s := c.session(noteID); s != nil {
		s.refs++
		return s.doc.Encode(), nil
	}

	doc, err := c.load(ctx, noteID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	c.putSession(noteID, &docSession{doc: doc, refs: 1})
	c.log.Debug("note hydrated", zap.String("note_id", noteID))
	return doc.Encode(), nil
}

// load builds a replicated document from the stored record. Stored state that
// cannot be decoded is reported as corrupt, never replaced by an empty document.
func (c *CoordinatorImpl) load(ctx context.Context, noteID string) (*crdt.Doc, error) {
	note, err := c.getNote(ctx, noteID)
	if err != nil {
		return nil, err
	}

	if note.HasState() {
		doc, err := crdt.Load(note.YjsState)
		if err != nil {
			c.log.Error("stored replicated state is corrupt", zap.String("note_id", noteID), zap.Error(err))
			return nil, &errs.CorruptStateError{NoteID: noteID, Err: err}
		}
		return doc, nil
	}

	state, err := content.HydrateReplicatedState(note.Content)
	if err != nil {
		return nil, err
	}
	return crdt.Load(state)
}

func (c *CoordinatorImpl) getNote(ctx context.Context, noteID string) (*models.Note, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()
	return c.notes.Get(ctx, noteID)
}

// ApplyUpdate merges a client update into the live document and schedules a
// store. Once it returns nil, the next successful store includes the update.
func (c *CoordinatorImpl) ApplyUpdate(ctx context.Context, noteID string, update []byte) error {
	if noteID == "" {
		return missingNoteID()
	}

	unlock := c.locks.Lock(noteID)
	s := c.session(noteID)
	if s == nil {
		unlock()
		return errs.Invalid("noteId", "note "+noteID+" is not open")
	}
	if err := s.doc.Apply(update); err != nil {
		unlock()
		return &errs.ValidationError{Field: "update", Reason: "malformed replicated update", Err: err}
	}
	s.dirty = true
	unlock()

	c.enqueue(noteID)
	return nil
}

// Store writes the live document of noteID immediately, dirty or not.
// With no live session it only reports whether the note still exists.
func (c *CoordinatorImpl) Store(ctx context.Context, noteID string) error {
	if noteID == "" {
		return missingNoteID()
	}

	unlock := c.locks.Lock(noteID)
	defer unlock()

	s := c.session(noteID)
	if s == nil {
		_, err := c.getNote(ctx, noteID)
		return err
	}
	return c.storeLocked(ctx, noteID, s)
}

// flush stores a dirty session and evicts it once no caller holds it.
func (c *CoordinatorImpl) flush(noteID string) error {
	unlock := c.locks.Lock(noteID)
	defer unlock()

	s := c.session(noteID)
	if s == nil {
		return nil
	}
	if s.dirty {
		err := c.storeLocked(context.Background(), noteID, s)
		if errs.IsNotFound(err) {
			c.dropSession(noteID)
			return err
		}
		if err != nil {
			return err
		}
	}
	if s.refs <= 0 {
		c.dropSession(noteID)
	}
	return nil
}

// storeLocked encodes and writes the full state, then takes a snapshot when
// the store count hits the cadence. The caller holds the note lock.
func (c *CoordinatorImpl) storeLocked(ctx context.Context, noteID string, s *docSession) error {
	ctx, span := middleware.StartSpan(ctx, "Coordinator.Store", attribute.String("note.id", noteID))
	defer span.End()

	state := s.doc.Encode()
	start := time.Now()

	storeCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	count, err := c.notes.UpdateState(storeCtx, noteID, state, c.now())
	cancel()

	metrics.StoreDuration.Observe(time.Since(start).Seconds())
	metrics.Stores.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}
	s.dirty = false

	if count%c.cfg.SnapshotEvery == 0 {
		if _, err := c.snapshot(ctx, noteID, state, models.SnapshotAuto); err != nil {
			c.log.Warn("auto snapshot failed, next cadence point will retry",
				zap.String("note_id", noteID),
				zap.Int64("store_count", count),
				zap.Error(err),
			)
		}
	}
	return nil
}

// snapshot appends the next version. The caller holds the note lock.
func (c *CoordinatorImpl) snapshot(ctx context.Context, noteID string, state []byte, typ models.SnapshotType) (*models.NoteVersion, error) {
	ctx, span := middleware.StartSpan(ctx, "Coordinator.Snapshot",
		attribute.String("note.id", noteID),
		attribute.String("snapshot.type", string(typ)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	version, err := c.createVersion(ctx, noteID, state, typ)
	metrics.Snapshots.WithLabelValues(string(typ), metrics.Result(err)).Inc()
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	c.log.Info("snapshot written",
		zap.String("note_id", noteID),
		zap.Int("version", version.Version),
		zap.String("type", string(typ)),
	)
	return version, nil
}

func (c *CoordinatorImpl) createVersion(ctx context.Context, noteID string, state []byte, typ models.SnapshotType) (*models.NoteVersion, error) {
	count, err := c.versions.CountVersions(ctx, noteID)
	if err != nil {
		return nil, err
	}
	version := models.NewNoteVersion(noteID, count+1, state, models.SnapshotMeta{
		Type:      typ,
		CreatedAt: c.now().UTC(),
	})
	if err := c.versions.CreateVersion(ctx, version); err != nil {
		return nil, err
	}
	return version, nil
}

// Close detaches one caller. The last caller out flushes pending edits; if
// that store fails the session stays resident and dirty for the sweep.
func (c *CoordinatorImpl) Close(ctx context.Context, noteID string) error {
	if noteID == "" {
		return nil
	}

	unlock := c.locks.Lock(noteID)
	defer unlock()

	s := c.session(noteID)
	if s == nil {
		return nil
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}

	if s.dirty {
		err := c.storeLocked(ctx, noteID, s)
		if errs.IsNotFound(err) {
			c.dropSession(noteID)
			return err
		}
		if err != nil {
			s.refs = 0
			return err
		}
	}
	c.dropSession(noteID)
	return nil
}

// Shutdown stops the pool and makes a final pass over every dirty session.
func (c *CoordinatorImpl) Shutdown(ctx context.Context) error {
	c.log.Info("🛑 Shutting down coordinator...")

	c.cancel()
	c.wg.Wait()

	var firstErr error
	for _, id := range c.dirtyIDs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.flush(id); err != nil {
			c.log.Error("final flush failed", zap.String("note_id", id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	c.log.Info("✓ Coordinator shutdown complete")
	return firstErr
}

// State returns the current replicated state: the live document when open,
// otherwise the stored state or a hydration of the stored content.
func (c *CoordinatorImpl) State(ctx context.Context, noteID string) ([]byte, error) {
	unlock := c.locks.Lock(noteID)
	defer unlock()

	if s := c.session(noteID); s != nil {
		return s.doc.Encode(), nil
	}
	doc, err := c.load(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return doc.Encode(), nil
}

// CreateSnapshot writes a manual snapshot of the current state.
func (c *CoordinatorImpl) CreateSnapshot(ctx context.Context, noteID string) (*models.NoteVersion, error) {
	unlock := c.locks.Lock(noteID)
	defer unlock()

	var state []byte
	if s := c.session(noteID); s != nil {
		state = s.doc.Encode()
	} else {
		doc, err := c.load(ctx, noteID)
		if err != nil {
			return nil, err
		}
		state = doc.Encode()
	}
	return c.snapshot(ctx, noteID, state, models.SnapshotManual)
}

func (c *CoordinatorImpl) ListVersions(ctx context.Context, noteID string) ([]*models.NoteVersion, error) {
	return c.versions.ListVersions(ctx, noteID)
}

func (c *CoordinatorImpl) GetVersion(ctx context.Context, noteID string, version int) (*models.NoteVersion, error) {
	return c.versions.GetVersion(ctx, noteID, version)
}

// CreateNote reconciles the input and persists the record with hydrated state.
func (c *CoordinatorImpl) CreateNote(ctx context.Context, in *models.NoteCreate) (*models.Note, error) {
	if strings.IndexFunc(in.ID, func(r rune) bool { return !unicode.IsPrint(r) || r == '/' }) >= 0 {
		return nil, errs.Invalid("id", "must be printable and contain no slash")
	}

	out, err := c.reconciler.Reconcile(content.Input{
		Title:       in.Title,
		Content:     in.Content,
		HTMLContent: in.HTMLContent,
		Filename:    in.Filename,
	})
	if err != nil {
		return nil, err
	}

	note := &models.Note{
		ID:          in.ID,
		Title:       out.Title,
		Content:     out.Content,
		HTMLContent: out.HTMLContent,
		RenderMode:  out.RenderMode,
		YjsState:    out.State,
		Metadata:    in.Metadata,
	}
	return c.notes.Create(ctx, note)
}

func (c *CoordinatorImpl) GetNote(ctx context.Context, noteID string) (*models.Note, error) {
	return c.getNote(ctx, noteID)
}

// ListNotes pages through notes, newest first. A missing limit gets the
// default page size and an oversized one is capped.
func (c *CoordinatorImpl) ListNotes(ctx context.Context, limit, offset int) (*models.NotePage, error) {
	switch {
	case limit <= 0:
		limit = models.DefaultPageSize
	case limit > models.MaxPageSize:
		limit = models.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	notes, err := c.notes.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	return &models.NotePage{Notes: notes, Limit: limit, Offset: offset}, nil
}

// UpdateNote applies an explicit CRUD update. Content changes re-hydrate the
// replicated state, and a live session adopts it; title or metadata changes
// leave the state alone. Room members hear about title and content changes.
func (c *CoordinatorImpl) UpdateNote(ctx context.Context, noteID string, upd *models.NoteUpdate) (*models.Note, error) {
	unlock := c.locks.Lock(noteID)

	prev, err := c.getNote(ctx, noteID)
	if err != nil {
		unlock()
		return nil, err
	}

	changes, err := c.reconcileUpdate(prev, upd)
	if err != nil {
		unlock()
		return nil, err
	}

	updated, err := c.notes.Update(ctx, noteID, changes)
	if err != nil {
		unlock()
		return nil, err
	}

	if changes.YjsState != nil {
		if s := c.session(noteID); s != nil {
			doc, err := crdt.Load(changes.YjsState)
			if err != nil {
				unlock()
				return nil, err
			}
			s.doc = doc
			s.dirty = false
		}
	}
	unlock()

	if c.notifier != nil {
		if updated.Title != prev.Title {
			c.notifier.NotifyTitleChanged(noteID, updated.Title)
		}
		if upd.TouchesContent() {
			c.notifier.NotifyUpdated(noteID, updateData(updated))
		}
	}
	return updated, nil
}

func (c *CoordinatorImpl) reconcileUpdate(prev *models.Note, upd *models.NoteUpdate) (*models.NoteChanges, error) {
	changes := &models.NoteChanges{Metadata: upd.Metadata}
	body := prev.Content

	if upd.Content != nil {
		cleaned, state, err := c.reconciler.ContentState(*upd.Content)
		if err != nil {
			return nil, err
		}
		changes.Content = &cleaned
		changes.YjsState = state
		body = cleaned
	}

	if upd.HTMLContent != nil {
		safe, err := c.reconciler.SanitizeHTML(*upd.HTMLContent)
		if err != nil {
			return nil, err
		}
		if safe == "" {
			changes.ClearHTML = true
		} else {
			changes.HTMLContent = &safe
		}
	}

	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			title = content.ExtractTitle(body)
		}
		changes.Title = &title
	}
	return changes, nil
}

func updateData(n *models.Note) map[string]any {
	return map[string]any{
		"title":       n.Title,
		"content":     n.Content,
		"htmlContent": n.HTMLContent,
		"renderMode":  n.RenderMode,
		"updatedAt":   models.FormatTimestamp(n.UpdatedAt),
	}
}

// DeleteNote removes the record, drops any live session and tears down the room.
func (c *CoordinatorImpl) DeleteNote(ctx context.Context, noteID string) error {
	unlock := c.locks.Lock(noteID)
	err := c.notes.Delete(ctx, noteID)
	if err == nil {
		c.dropSession(noteID)
	}
	unlock()
	if err != nil {
		return err
	}

	if c.notifier != nil {
		c.notifier.NotifyDeleted(noteID)
	}
	c.log.Info("note deleted", zap.String("note_id", noteID))
	return nil
}

func missingNoteID() error {
	return &errs.ValidationError{Field: "noteId", Reason: "required", Err: errs.ErrMissingNoteID}
}
