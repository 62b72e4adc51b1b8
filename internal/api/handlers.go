package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"collab-relay/internal/middleware"
	"collab-relay/internal/store"
)

const historyDefaultLimit = 20
const historyMaxLimit = 100

// Handler carries the HTTP-facing dependencies, injected at startup.
type Handler struct {
	snapshots SnapshotReader
	history   HistoryReader // nil when the archive is disabled
	ws        http.HandlerFunc
}

func NewHandler(snapshots SnapshotReader, history HistoryReader, ws http.HandlerFunc) *Handler {
	return &Handler{
		snapshots: snapshots,
		history:   history,
		ws:        ws,
	}
}

// GetSnapshot returns the raw persisted snapshot JSON for a document.
// This bypasses the live relay entirely - it reads whatever the store has.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]

	raw, err := h.snapshots.RawSnapshot(r.Context(), docID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	if err != nil {
		middleware.AddSpanError(r.Context(), err)
		log.Printf("⚠️  Failed to read snapshot for doc %s: %v", docID, err)
		respondError(w, http.StatusInternalServerError, "failed to read snapshot")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

// GetHistory returns the most recent accepted updates for a document.
// Only routed when the archive is enabled.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]

	limit := historyDefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > historyMaxLimit {
		limit = historyMaxLimit
	}

	records, err := h.history.RecentByDoc(r.Context(), docID, limit)
	if err != nil {
		middleware.AddSpanError(r.Context(), err)
		log.Printf("⚠️  Failed to read history for doc %s: %v", docID, err)
		respondError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"doc_id":  docID,
		"count":   len(records),
		"records": records,
	})
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
