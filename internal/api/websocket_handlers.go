package api

import (
	"net/http"
)

// HandleNoteWebSocket hands the connection to the realtime handler.
func (h *Handler) HandleNoteWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.realtime == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "realtime channel disabled", Code: "unavailable"})
		return
	}
	h.realtime.HandleNoteConnection(w, r)
}
