// Package httpapi implements C11: thin net/http wiring for the endpoints
// spec.md §6 names. Auth policy and the outer router are out of scope —
// this package only mounts the Stream/Control Channel handlers, the status
// and storage-state endpoints, and the Authenticator seam, adapted from the
// teacher's internal/server.App dependency-bag-plus-Handler() shape.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zk1tty/wf-backend/internal/control"
	"github.com/zk1tty/wf-backend/internal/db"
	"github.com/zk1tty/wf-backend/internal/middleware"
	"github.com/zk1tty/wf-backend/internal/sessionmgr"
	"github.com/zk1tty/wf-backend/internal/storagestate"
	"github.com/zk1tty/wf-backend/internal/streamchannel"
)

// App holds every dependency the HTTP façade needs, following the
// teacher's internal/server.App convention of accepting all collaborators
// as fields so main() and tests build the same handler chain.
type App struct {
	DB                    *db.DB
	Store                 *storagestate.Store
	Sessions              *sessionmgr.Manager
	Stream                *streamchannel.Handler
	Control               *control.Handler
	Authenticator         Authenticator
	CookieVerifyTTLHours  int
}

// Handler builds the complete HTTP handler, mounting every C11 route and
// wrapping the whole tree in request-id middleware. Auth middleware wraps
// only the storage-state routes.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc(visualPathPrefix, a.handleVisualDispatch)
	mux.Handle(storageStatePathPrefix, RequireAuth(a.Authenticator, http.HandlerFunc(a.handleStorageState)))

	return middleware.RequestID(mux)
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleVisualDispatch routes the three session-scoped endpoints that
// share the /workflows/visual/{session_id}/ prefix: a single ServeMux
// pattern must own the prefix, so suffix-based dispatch happens here
// rather than via three competing mux.Handle registrations.
func (a *App) handleVisualDispatch(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/stream"):
		a.dispatchSessionScoped(w, r, "/stream", a.Stream.ServeHTTP)
	case strings.HasSuffix(r.URL.Path, "/control"):
		a.dispatchSessionScoped(w, r, "/control", a.Control.ServeHTTP)
	case strings.HasSuffix(r.URL.Path, statusPathSuffix):
		a.handleStatus(w, r)
	default:
		http.NotFound(w, r)
	}
}

// dispatchSessionScoped normalizes the session id embedded in the path
// (spec.md §6: a bare UUID becomes "visual-<uuid>") before handing the
// request to a WebSocket sub-handler. A malformed id still gets upgraded
// so the channel can be closed with code 4400 and invalid_message, per
// spec.md §6, rather than a plain HTTP error the client-side WebSocket API
// cannot distinguish from a network failure.
func (a *App) dispatchSessionScoped(w http.ResponseWriter, r *http.Request, suffix string, next http.HandlerFunc) {
	raw := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, visualPathPrefix), suffix)
	normalized, ok := NormalizeSessionID(raw)
	if !ok {
		closeWithInvalidSessionID(w, r)
		return
	}
	if normalized == raw {
		next(w, r)
		return
	}
	r2 := r.Clone(r.Context())
	r2.URL.Path = visualPathPrefix + normalized + suffix
	next(w, r2)
}

var malformedIDUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const closeCodeInvalidMessage = 4400

func closeWithInvalidSessionID(w http.ResponseWriter, r *http.Request) {
	conn, err := malformedIDUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	msg := websocket.FormatCloseMessage(closeCodeInvalidMessage, "invalid_message")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
