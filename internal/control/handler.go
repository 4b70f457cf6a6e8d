package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/zk1tty/wf-backend/internal/browsersession"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	pathPrefix = "/workflows/visual/"
	pathSuffix = "/control"

	defaultRatePerSec  = 100
	defaultMaxDuration = 5 * time.Minute
)

// SessionLookup resolves a session id to its BrowserSession.
type SessionLookup func(sessionID string) (browsersession.BrowserSession, bool)

// Handler serves GET /workflows/visual/{session_id}/control: mouse,
// keyboard, and wheel input forwarded to the session's BrowserSession,
// rate-limited per spec.md §4.7 and bounded by a hard channel duration.
type Handler struct {
	Lookup      SessionLookup
	RatePerSec  float64
	MaxDuration time.Duration
	Logger      *slog.Logger
}

// NewHandler constructs a Handler. Zero ratePerSec/maxDuration fall back to
// spec.md §4.7's defaults (100 msg/s, 5 minutes); a nil logger defaults to
// slog.Default().
func NewHandler(lookup SessionLookup, ratePerSec float64, maxDuration time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	if maxDuration <= 0 {
		maxDuration = defaultMaxDuration
	}
	return &Handler{Lookup: lookup, RatePerSec: ratePerSec, MaxDuration: maxDuration, Logger: logger}
}

// SessionID extracts the session id from a Control Channel path, or "" if
// the path does not match.
func SessionID(path string) string {
	if !strings.HasPrefix(path, pathPrefix) || !strings.HasSuffix(path, pathSuffix) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(path, pathPrefix), pathSuffix)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(r.URL.Path)
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	session, ok := h.Lookup(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("control channel upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(r.Context(), h.MaxDuration)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = conn.WriteJSON(response{Type: respChannelClosed, Message: "max control channel duration reached"})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "timeout"),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	limiter := rate.NewLimiter(rate.Limit(h.RatePerSec), int(h.RatePerSec))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.WriteJSON(response{Type: respError, Kind: kindInvalidMessage, Message: "malformed control frame"})
			continue
		}

		if !isKnownType(msg.Type) {
			_ = conn.WriteJSON(response{Type: respError, Kind: kindInvalidMessage, Message: "unknown control message type"})
			continue
		}

		if !limiter.Allow() {
			_ = conn.WriteJSON(response{Type: respError, Kind: kindRateLimitExceeded, Message: "rate limit exceeded"})
			continue
		}

		if requiresBoundsCheck(msg) && (!inBounds(msg.X) || !inBounds(msg.Y)) {
			_ = conn.WriteJSON(response{Type: respError, Kind: kindOutOfBounds, Message: "coordinates out of bounds"})
			continue
		}

		if msg.Type == msgKeyDown || msg.Type == msgKeyUp || msg.Type == msgKeyPress {
			h.Logger.Info("control key event",
				"session_id", sessionID,
				"action", msg.Type,
				"key_category", categorizeKey(msg.Key))
		}

		if err := dispatch(ctx, session, msg); err != nil {
			_ = conn.WriteJSON(response{Type: respError, Kind: kindExecutionFailed, Message: err.Error()})
			continue
		}

		_ = conn.WriteJSON(response{Type: respAck, Timestamp: nowSeconds()})
	}
}

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }
