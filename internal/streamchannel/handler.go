package streamchannel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zk1tty/wf-backend/internal/streamer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	pathPrefix = "/workflows/visual/"
	pathSuffix = "/stream"
)

// Handler serves GET /workflows/visual/{session_id}/stream, the viewer side
// of C6. It looks the session's streamer.Session up in Sessions and
// replaces the raw-byte proxy the teacher used for VNC with structured
// WireEvent frames.
type Handler struct {
	Sessions *streamer.Registry
	Logger   *slog.Logger
}

// NewHandler constructs a Handler. logger may be nil (defaults to
// slog.Default()).
func NewHandler(sessions *streamer.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Sessions: sessions, Logger: logger}
}

// SessionID extracts the session id from a Stream Channel path, or "" if
// the path does not match.
func SessionID(path string) string {
	if !strings.HasPrefix(path, pathPrefix) || !strings.HasSuffix(path, pathSuffix) ||
		len(path) <= len(pathPrefix)+len(pathSuffix) {
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

	sess, ok := h.Sessions.Lookup(sessionID)
	if !ok {
		http.Error(w, "session not streaming", http.StatusNotFound)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("stream channel upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer wsConn.Close()

	c := newConnection(sessionID, wsConn, h.Logger)
	clientID := uuid.NewString()
	viewer := sess.RegisterClient(clientID, c)
	defer sess.RemoveClient(clientID)

	if err := c.writeControl(controlFrame{Type: frameConnectionEstablished, SessionID: sessionID}); err != nil {
		return
	}

	c.readLoop(r.Context(), sess, viewer)
}

// readLoop consumes control frames from the viewer until the connection
// closes. Event delivery to the viewer happens on a separate goroutine
// (streamer.Client's drain loop); this loop only ever writes replies.
func (c *connection) readLoop(ctx context.Context, sess *streamer.Session, viewer *streamer.Client) {
	defer viewer.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if writeErr := c.writeError(errorKindInvalidMessage, "malformed control frame"); writeErr != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case clientPing:
			if err := c.writeControl(controlFrame{Type: framePong, Timestamp: nowSeconds()}); err != nil {
				return
			}
		case clientReady:
			events, ok := sess.ClientReady(ctx)
			if !ok {
				if err := c.writeError(errorKindInvalidMessage, "timed out waiting for initial snapshot"); err != nil {
					return
				}
				continue
			}
			if !c.replay(events) {
				return
			}
		case clientSequenceResetRequest:
			if !c.replay(sess.SequenceResetRequest()) {
				return
			}
		default:
			if err := c.writeError(errorKindInvalidMessage, fmt.Sprintf("unknown control type %q", msg.Type)); err != nil {
				return
			}
		}
	}
}

func (c *connection) replay(events []streamer.WireEvent) bool {
	for _, ev := range events {
		if err := c.WriteEvent(ev); err != nil {
			return false
		}
	}
	return true
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
