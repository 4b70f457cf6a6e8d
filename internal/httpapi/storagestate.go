package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/zk1tty/wf-backend/internal/storagestate"
)

const storageStatePathPrefix = "/auth/storage-state/"

// handleStorageState dispatches GET .../latest and PUT .../{record_id}
// under the shared /auth/storage-state/ prefix a single ServeMux pattern
// must own.
func (a *App) handleStorageState(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, storageStatePathPrefix)
	if rest == "latest" {
		a.handleStorageStateLatest(w, r)
		return
	}
	a.handleStorageStateReplace(w, r)
}

// latestStorageStateResponse is the decrypted blob plus its record metadata,
// per spec.md §6 ("returns decrypted blob and metadata for the caller").
type latestStorageStateResponse struct {
	RecordID string             `json:"record_id"`
	Status   string             `json:"status"`
	Verified map[string]bool    `json:"verified"`
	Metadata map[string]string  `json:"metadata"`
	Blob     *storagestate.Blob `json:"blob,omitempty"`
}

func (a *App) handleStorageStateLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ownerID := OwnerIDFromContext(r.Context())
	var sites []string
	if raw := r.URL.Query().Get("sites"); raw != "" {
		sites = strings.Split(raw, ",")
	}

	rec, err := a.Store.LatestVerified(r.Context(), ownerID, sites, a.CookieVerifyTTLHours)
	if err != nil {
		if err == storagestate.ErrNotFound {
			http.Error(w, "no verified storage state found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	blob, err := a.Store.LoadPlaintext(rec)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(latestStorageStateResponse{
		RecordID: rec.RecordID,
		Status:   string(rec.Status),
		Verified: rec.Verified,
		Metadata: rec.Metadata,
		Blob:     blob,
	})
}

// replaceStorageStateRequest mirrors spec.md §6's PUT body. This façade
// holds the only keyring in the system (there is no separate browser-
// extension actor that encrypts client-side before upload), so the
// request carries the plaintext blob rather than a pre-sealed envelope;
// internal/storagestate.Store.Replace performs the sealing.
type replaceStorageStateRequest struct {
	Blob     storagestate.Blob `json:"blob"`
	Metadata map[string]string `json:"metadata"`
}

func (a *App) handleStorageStateReplace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recordID := strings.TrimPrefix(r.URL.Path, storageStatePathPrefix)
	if recordID == "" || recordID == "latest" {
		http.Error(w, "missing record id", http.StatusBadRequest)
		return
	}
	ownerID := OwnerIDFromContext(r.Context())

	var req replaceStorageStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := a.Store.Replace(r.Context(), ownerID, recordID, &req.Blob, req.Metadata)
	if err != nil {
		switch err {
		case storagestate.ErrNotFound:
			http.Error(w, "record not found", http.StatusNotFound)
		case storagestate.ErrNotOwner:
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(latestStorageStateResponse{
		RecordID: rec.RecordID,
		Status:   string(rec.Status),
		Verified: rec.Verified,
		Metadata: rec.Metadata,
	})
}
