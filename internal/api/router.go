package api

import (
	"net/http"

	"notesync/internal/middleware"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SetupRoutes builds the router. metrics may be nil to leave /metrics out.
func SetupRoutes(h *Handler, metrics http.Handler, allowedOrigins []string, log *zap.Logger) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order: tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware(log))
	r.Use(middleware.ErrorRecoveryMiddleware(log))
	r.Use(middleware.CORSMiddleware(allowedOrigins))

	api := r.PathPrefix("/api").Subrouter()

	// Note endpoints
	api.HandleFunc("/notes", h.CreateNote).Methods("POST")
	api.HandleFunc("/notes", h.ListNotes).Methods("GET")
	api.HandleFunc("/notes/{id}", h.GetNote).Methods("GET")
	api.HandleFunc("/notes/{id}", h.UpdateNote).Methods("PUT")
	api.HandleFunc("/notes/{id}", h.DeleteNote).Methods("DELETE")
	api.HandleFunc("/notes/{id}/state", h.GetNoteState).Methods("GET")

	// Version snapshots
	api.HandleFunc("/notes/{id}/versions", h.ListVersions).Methods("GET")
	api.HandleFunc("/notes/{id}/versions", h.CreateVersion).Methods("POST")
	api.HandleFunc("/notes/{id}/versions/{version}", h.GetVersion).Methods("GET")

	api.HandleFunc("/health", h.Health).Methods("GET")

	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	// WebSocket routes
	r.HandleFunc("/ws/notes/{id}", h.HandleNoteWebSocket)

	// Preflight requests need a matching route for the CORS middleware to run.
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}
