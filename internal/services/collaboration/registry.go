package collaboration

import (
	"sort"
	"sync"
	"time"

	"notesync/internal/errs"
	"notesync/internal/metrics"
	"notesync/internal/models"

	"go.uber.org/zap"
)

/*
SESSION REGISTRY

Tracks which connections sit in which note room, for this process only. Rooms
exist while they have members (or until the note is deleted) and are never
authoritative for content, only for presence.

Membership changes happen under the lock; the recipient list is copied out and
events are sent after unlocking, so a slow connection never blocks the registry.
*/

type RegistryImpl struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]struct{} // noteID -> connIDs
	memberships map[string]map[string]struct{} // connID -> noteIDs
	members     int

	transport Transport
	log       *zap.Logger
	now       func() time.Time
}

// NewRegistry creates an empty registry. The transport can be attached later
// with SetTransport; until then every send is skipped with a warning.
func NewRegistry(transport Transport, log *zap.Logger) *RegistryImpl {
	return &RegistryImpl{
		rooms:       make(map[string]map[string]struct{}),
		memberships: make(map[string]map[string]struct{}),
		transport:   transport,
		log:         log.Named("registry"),
		now:         time.Now,
	}
}

func (r *RegistryImpl) SetTransport(t Transport) {
	r.mu.Lock()
	r.transport = t
	r.mu.Unlock()
}

// Join adds connID to the room of noteID, acknowledges it with joined_note and
// tells the other members. An empty note id is answered with an error event.
func (r *RegistryImpl) Join(connID, noteID string) error {
	if noteID == "" {
		r.send(connID, models.EventError, models.ErrorPayload{Message: errs.ErrMissingNoteID.Error()})
		return errs.ErrMissingNoteID
	}

	r.mu.Lock()
	room, ok := r.rooms[noteID]
	if !ok {
		room = make(map[string]struct{})
		r.rooms[noteID] = room
	}
	_, already := room[connID]
	if !already {
		room[connID] = struct{}{}
		if r.memberships[connID] == nil {
			r.memberships[connID] = make(map[string]struct{})
		}
		r.memberships[connID][noteID] = struct{}{}
		r.members++
	}
	others := r.othersLocked(noteID, connID)
	r.updateGaugesLocked()
	r.mu.Unlock()

	ts := models.FormatTimestamp(r.now())
	r.send(connID, models.EventJoinedNote, models.JoinedNotePayload{ShareID: noteID, Timestamp: ts})
	if !already {
		r.broadcast(others, models.EventCollaboratorJoined, models.CollaboratorPayload{ClientID: connID, Timestamp: ts})
		r.log.Debug("joined room", zap.String("conn_id", connID), zap.String("note_id", noteID), zap.Int("members", len(others)+1))
	}
	return nil
}

// Leave removes connID from the room. Leaving a room it never joined is a no-op.
func (r *RegistryImpl) Leave(connID, noteID string) {
	r.mu.Lock()
	left, remaining := r.leaveLocked(connID, noteID)
	r.updateGaugesLocked()
	r.mu.Unlock()

	if left {
		r.broadcast(remaining, models.EventCollaboratorLeft, models.CollaboratorPayload{
			ClientID:  connID,
			Timestamp: models.FormatTimestamp(r.now()),
		})
	}
}

// Disconnect removes connID from every room, as if it left each one.
func (r *RegistryImpl) Disconnect(connID string) {
	type departure struct {
		noteID    string
		remaining []string
	}

	r.mu.Lock()
	var departures []departure
	for noteID := range r.memberships[connID] {
		if left, remaining := r.leaveLocked(connID, noteID); left {
			departures = append(departures, departure{noteID, remaining})
		}
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	ts := models.FormatTimestamp(r.now())
	for _, d := range departures {
		r.broadcast(d.remaining, models.EventCollaboratorLeft, models.CollaboratorPayload{ClientID: connID, Timestamp: ts})
	}
}

func (r *RegistryImpl) leaveLocked(connID, noteID string) (bool, []string) {
	room, ok := r.rooms[noteID]
	if !ok {
		return false, nil
	}
	if _, member := room[connID]; !member {
		return false, nil
	}

	delete(room, connID)
	r.members--
	if notes := r.memberships[connID]; notes != nil {
		delete(notes, noteID)
		if len(notes) == 0 {
			delete(r.memberships, connID)
		}
	}
	if len(room) == 0 {
		delete(r.rooms, noteID)
		return true, nil
	}
	return true, r.othersLocked(noteID, connID)
}

// NotifyDeleted tells every member the note is gone and destroys the room.
func (r *RegistryImpl) NotifyDeleted(noteID string) {
	r.mu.Lock()
	recipients := r.othersLocked(noteID, "")
	for _, connID := range recipients {
		if notes := r.memberships[connID]; notes != nil {
			delete(notes, noteID)
			if len(notes) == 0 {
				delete(r.memberships, connID)
			}
		}
	}
	r.members -= len(recipients)
	delete(r.rooms, noteID)
	r.updateGaugesLocked()
	r.mu.Unlock()

	r.broadcast(recipients, models.EventNoteDeleted, models.NoteDeletedPayload{
		ShareID:   noteID,
		Message:   "This note has been deleted",
		Timestamp: models.FormatTimestamp(r.now()),
	})
}

// NotifyTitleChanged broadcasts the new title. Empty titles are sent as is.
func (r *RegistryImpl) NotifyTitleChanged(noteID, title string) {
	r.broadcast(r.Members(noteID), models.EventTitleChanged, models.TitleChangedPayload{
		NoteID:    noteID,
		Title:     title,
		Timestamp: models.FormatTimestamp(r.now()),
	})
}

// NotifyUpdated broadcasts a content change made outside the live session.
func (r *RegistryImpl) NotifyUpdated(noteID string, data map[string]any) {
	r.broadcast(r.Members(noteID), models.EventNoteUpdated, models.NoteUpdatedPayload{
		ShareID:    noteID,
		UpdateData: data,
		Timestamp:  models.FormatTimestamp(r.now()),
	})
}

// Members returns the connection ids in the room of noteID, sorted.
func (r *RegistryImpl) Members(noteID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.othersLocked(noteID, "")
}

// Rooms returns the number of live rooms.
func (r *RegistryImpl) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *RegistryImpl) othersLocked(noteID, exclude string) []string {
	room := r.rooms[noteID]
	out := make([]string, 0, len(room))
	for id := range room {
		if id != exclude {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *RegistryImpl) updateGaugesLocked() {
	metrics.Rooms.Set(float64(len(r.rooms)))
	metrics.RoomMembers.Set(float64(r.members))
}

// broadcast sends to each recipient. A failed send is logged and skipped.
func (r *RegistryImpl) broadcast(recipients []string, event string, payload any) {
	for _, connID := range recipients {
		r.send(connID, event, payload)
	}
}

func (r *RegistryImpl) send(connID, event string, payload any) {
	r.mu.RLock()
	t := r.transport
	r.mu.RUnlock()

	if t == nil {
		r.log.Warn("no transport attached, event dropped",
			zap.String("event", event),
			zap.String("conn_id", connID),
		)
		return
	}
	if err := t.Send(connID, event, payload); err != nil {
		metrics.BroadcastFailures.Inc()
		r.log.Warn("send failed",
			zap.String("event", event),
			zap.String("conn_id", connID),
			zap.Error(err),
		)
	}
}
