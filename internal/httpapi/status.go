package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/zk1tty/wf-backend/internal/db"
)

const (
	visualPathPrefix = "/workflows/visual/"
	statusPathSuffix = "/status"
)

// statusResponse merges the in-memory streaming Status (spec.md §4.5) with
// the durable Session row's lifecycle state (spec.md §4.8), so a caller
// sees both "is it live" and "what step is it on" in one response.
type statusResponse struct {
	SessionID        string `json:"session_id"`
	State            string `json:"state"`
	LastError        string `json:"last_error,omitempty"`
	StreamingActive  bool   `json:"streaming_active"`
	StreamingReady   bool   `json:"streaming_ready"`
	EventsProcessed  uint64 `json:"events_processed"`
	EventsBuffered   int    `json:"events_buffered"`
	ConnectedClients int    `json:"connected_clients"`
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, visualPathPrefix), statusPathSuffix)
	sessionID, ok := NormalizeSessionID(raw)
	if !ok {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	row, err := a.DB.GetSession(r.Context(), sessionID)
	if err != nil {
		if err == db.ErrNotFound {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := statusResponse{
		SessionID: sessionID,
		State:     string(row.Status),
		LastError: row.LastError,
	}
	if entry, ok := a.Sessions.Registry().Lookup(sessionID); ok && entry.Stream != nil {
		snap := entry.Stream.Status()
		resp.StreamingActive = snap.StreamingActive
		resp.StreamingReady = snap.StreamingReady
		resp.EventsProcessed = snap.EventsProcessed
		resp.EventsBuffered = snap.EventsBuffered
		resp.ConnectedClients = snap.ConnectedClients
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
