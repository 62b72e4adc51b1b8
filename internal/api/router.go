package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"collab-relay/internal/middleware"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	// Health check endpoint. Registered before /{docId} so the path
	// variable never swallows it.
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	if h.history != nil {
		api.HandleFunc("/{docId}/history", h.GetHistory).Methods("GET")
	}
	api.HandleFunc("/{docId}", h.GetSnapshot).Methods("GET")

	// Live relay channel. The websocket upgrade must not pass through the
	// middleware chain: the tracing wrapper's ResponseWriter does not
	// implement http.Hijacker.
	// (registered on the root router, outside r.Use)
	return r
}

// SetupServer builds the full HTTP handler: API routes behind middleware
// plus the raw /ws upgrade route.
func SetupServer(h *Handler) http.Handler {
	root := http.NewServeMux()
	root.HandleFunc("/ws", h.HandleDocumentWebSocket)
	root.Handle("/", SetupRoutes(h))
	return root
}
