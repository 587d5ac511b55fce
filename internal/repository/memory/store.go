package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"notesync/internal/errs"
	"notesync/internal/models"
)

// Store is an in-memory note and snapshot store for STORE_DRIVER=memory and
// tests. Records are copied on the way in and out so callers never share
// memory with the store.
type Store struct {
	mu       sync.RWMutex
	notes    map[string]*models.Note
	versions map[string][]*models.NoteVersion
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		notes:    make(map[string]*models.Note),
		versions: make(map[string][]*models.NoteVersion),
		now:      time.Now,
	}
}

func (s *Store) Get(ctx context.Context, id string) (*models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, errs.NotFound(id)
	}
	return cloneNote(n), nil
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]*models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Note, 0, len(s.notes))
	for _, n := range s.notes {
		c := cloneNote(n)
		c.YjsState = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if offset >= len(out) {
		return []*models.Note{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, note *models.Note) (*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if note.ID == "" {
		note.ID = ksuid.New().String()
	}
	if _, exists := s.notes[note.ID]; exists {
		return nil, errs.Invalid("id", fmt.Sprintf("note %s already exists", note.ID))
	}
	now := s.now()
	note.PublishedAt = now
	note.UpdatedAt = now
	if note.RenderMode == "" {
		note.RenderMode = models.RenderModeFor(note.HTMLContent)
	}
	s.notes[note.ID] = cloneNote(note)
	return cloneNote(note), nil
}

func (s *Store) Update(ctx context.Context, id string, changes *models.NoteChanges) (*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, errs.NotFound(id)
	}
	if changes.Title != nil {
		n.Title = *changes.Title
	}
	if changes.Content != nil {
		n.Content = *changes.Content
	}
	if changes.HTMLContent != nil {
		html := *changes.HTMLContent
		n.HTMLContent = &html
		n.RenderMode = models.RenderHTML
	} else if changes.ClearHTML {
		n.HTMLContent = nil
		n.RenderMode = models.RenderMarkdown
	}
	if changes.YjsState != nil {
		n.YjsState = append([]byte(nil), changes.YjsState...)
	}
	if changes.Metadata != nil {
		n.Metadata = cloneMap(changes.Metadata)
	}
	n.UpdatedAt = s.now()
	return cloneNote(n), nil
}

func (s *Store) UpdateState(ctx context.Context, id string, state []byte, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return 0, errs.NotFound(id)
	}
	n.YjsState = append([]byte(nil), state...)
	n.UpdatedAt = at
	n.StoreCount++
	return n.StoreCount, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return errs.NotFound(id)
	}
	delete(s.notes, id)
	return nil
}

func (s *Store) CountVersions(ctx context.Context, noteID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions[noteID]), nil
}

func (s *Store) CreateVersion(ctx context.Context, version *models.NoteVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions[version.NoteID] {
		if v.Version == version.Version {
			return errs.Storage("create version", fmt.Errorf("version %d of note %s already exists", version.Version, version.NoteID))
		}
	}
	c := *version
	c.Snapshot = append([]byte(nil), version.Snapshot...)
	c.CreatedAt = s.now()
	c.ID = uint(len(s.versions[version.NoteID]) + 1)
	s.versions[version.NoteID] = append(s.versions[version.NoteID], &c)
	version.CreatedAt = c.CreatedAt
	return nil
}

func (s *Store) ListVersions(ctx context.Context, noteID string) ([]*models.NoteVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.NoteVersion, 0, len(s.versions[noteID]))
	for _, v := range s.versions[noteID] {
		c := *v
		c.Snapshot = nil
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *Store) GetVersion(ctx context.Context, noteID string, version int) (*models.NoteVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions[noteID] {
		if v.Version == version {
			c := *v
			c.Snapshot = append([]byte(nil), v.Snapshot...)
			return &c, nil
		}
	}
	return nil, errs.VersionNotFound(noteID, version)
}

func cloneNote(n *models.Note) *models.Note {
	c := *n
	if n.HTMLContent != nil {
		html := *n.HTMLContent
		c.HTMLContent = &html
	}
	if n.YjsState != nil {
		c.YjsState = append([]byte(nil), n.YjsState...)
	}
	c.Metadata = cloneMap(n.Metadata)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
