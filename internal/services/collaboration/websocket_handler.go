package collaboration

import (
	"context"
	"net/http"
	"net/url"

	"notesync/internal/errs"
	"notesync/internal/middleware"
	"notesync/internal/models"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

/*
REALTIME CHANNEL

  GET /ws/notes/{id}?user_name=...

The connection opens the note before upgrading, so a missing or corrupt note
fails as a plain HTTP error. After the upgrade the client gets joined_note and
the full replicated state as one binary frame.

  binary frame in   -> applied to the live document, relayed to the room
  {"event":"join_note","shareId":...}  -> presence in another room
  {"event":"leave_note","shareId":...} -> leave that room

On disconnect the connection leaves every room and releases the note.
*/

// WebSocketHandler serves the realtime channel for one note per connection.
type WebSocketHandler struct {
	coordinator *CoordinatorImpl
	registry    *RegistryImpl
	hub         *HubImpl
	upgrader    websocket.Upgrader
	log         *zap.Logger
}

func NewWebSocketHandler(coordinator *CoordinatorImpl, registry *RegistryImpl, hub *HubImpl, allowedOrigins []string, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		coordinator: coordinator,
		registry:    registry,
		hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log.Named("websocket"),
	}
}

// originChecker allows every origin when the list is empty or holds "*".
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	if len(set) == 0 || set["*"] {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
			return true
		}
		return set[origin]
	}
}

// HandleNoteConnection upgrades the request and runs the connection until it closes.
func (h *WebSocketHandler) HandleNoteConnection(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]
	userName := r.URL.Query().Get("user_name")
	if userName == "" {
		userName = "Anonymous"
	}

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("note.id", noteID),
		attribute.String("user.name", userName),
	)
	state, err := h.coordinator.Open(ctx, noteID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		span.End()
		status, _ := errs.Status(err)
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade websocket", zap.String("note_id", noteID), zap.Error(err))
		middleware.AddSpanError(ctx, err)
		span.End()
		_ = h.coordinator.Close(context.Background(), noteID)
		return
	}
	span.End()

	client := NewClient(models.NewSession(noteID, userName), conn)
	h.hub.Register(client)
	go client.WritePump()

	// Join before encoding so no relayed update can fall between the two.
	_ = h.registry.Join(client.ID, noteID)
	if current, err := h.coordinator.State(context.Background(), noteID); err == nil {
		state = current
	}
	if err := h.hub.SendBinary(client.ID, state); err != nil {
		h.log.Warn("failed to send initial state", zap.String("conn_id", client.ID), zap.Error(err))
	}

	h.log.Info("✓ WebSocket connection established",
		zap.String("conn_id", client.ID),
		zap.String("note_id", noteID),
		zap.String("user_name", userName),
	)

	err = client.ReadPump(
		func(update []byte) { h.handleUpdate(client, update) },
		func(env models.Envelope, err error) { h.handleControl(client, env, err) },
	)
	if err != nil {
		h.log.Warn("websocket closed unexpectedly", zap.String("conn_id", client.ID), zap.Error(err))
	}

	h.registry.Disconnect(client.ID)
	h.hub.Unregister(client.ID)
	if err := h.coordinator.Close(context.Background(), noteID); err != nil {
		h.log.Error("failed to store note on disconnect", zap.String("note_id", noteID), zap.Error(err))
	}
	h.log.Info("websocket connection closed", zap.String("conn_id", client.ID), zap.String("note_id", noteID))
}

// handleUpdate merges a binary update and relays it to the other sockets
// editing the same note.
func (h *WebSocketHandler) handleUpdate(client *Client, update []byte) {
	if err := h.coordinator.ApplyUpdate(context.Background(), client.NoteID, update); err != nil {
		h.sendError(client.ID, err)
		return
	}

	for _, peer := range h.registry.Members(client.NoteID) {
		if peer == client.ID {
			continue
		}
		if err := h.hub.SendNoteUpdate(peer, client.NoteID, update); err != nil {
			h.log.Warn("relay failed", zap.String("conn_id", peer), zap.Error(err))
		}
	}
}

func (h *WebSocketHandler) handleControl(client *Client, env models.Envelope, err error) {
	if err != nil {
		h.sendError(client.ID, errs.Invalid("frame", "malformed JSON envelope"))
		return
	}

	switch env.Event {
	case models.EventJoinNote:
		// Join answers an empty id with its own error event.
		_ = h.registry.Join(client.ID, env.ShareID)
	case models.EventLeaveNote:
		h.registry.Leave(client.ID, env.ShareID)
	default:
		h.sendError(client.ID, errs.Invalid("event", "unknown event "+env.Event))
	}
}

func (h *WebSocketHandler) sendError(connID string, err error) {
	if sendErr := h.hub.Send(connID, models.EventError, models.ErrorPayload{Message: err.Error()}); sendErr != nil {
		h.log.Debug("failed to report error", zap.String("conn_id", connID), zap.Error(sendErr))
	}
}

// Ensure the hub satisfies the registry's transport.
var _ Transport = (*HubImpl)(nil)
