package streamchannel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zk1tty/wf-backend/internal/streamer"
)

const writeWait = 10 * time.Second

// connection adapts a single gorilla/websocket connection to
// streamer.ClientWriter. Writes are serialized with a mutex, matching the
// teacher's internal/guacamole.Client.writeMu (gorilla/websocket connections
// are not safe for concurrent writers).
type connection struct {
	sessionID string
	conn      *websocket.Conn
	logger    *slog.Logger

	mu sync.Mutex
}

func newConnection(sessionID string, conn *websocket.Conn, logger *slog.Logger) *connection {
	return &connection{sessionID: sessionID, conn: conn, logger: logger}
}

func (c *connection) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// WriteEvent implements streamer.ClientWriter.
func (c *connection) WriteEvent(ev streamer.WireEvent) error {
	return c.writeJSON(ev)
}

// WriteSequenceReset implements streamer.ClientWriter.
func (c *connection) WriteSequenceReset(baseSeq uint64) error {
	return c.writeJSON(controlFrame{
		Type:           frameSequenceReset,
		SessionID:      c.sessionID,
		BaseSequenceID: &baseSeq,
	})
}

// WriteSessionExpired implements streamer.ClientWriter.
func (c *connection) WriteSessionExpired() error {
	err := c.writeJSON(controlFrame{Type: frameSessionExpired, SessionID: c.sessionID})

	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, frameSessionExpired),
		time.Now().Add(writeWait))
	c.mu.Unlock()

	return err
}

func (c *connection) writeControl(f controlFrame) error {
	return c.writeJSON(f)
}

func (c *connection) writeError(kind, message string) error {
	return c.writeJSON(controlFrame{Type: frameError, SessionID: c.sessionID, Kind: kind, Message: message})
}
