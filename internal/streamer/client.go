package streamer

import (
	"sync"
	"time"
)

// ClientWriter is implemented by the Stream Channel connection that owns the
// actual transport (websocket). Session delivers events and control frames
// through it without knowing about websockets at all.
type ClientWriter interface {
	WriteEvent(WireEvent) error
	WriteSequenceReset(baseSeq uint64) error
	WriteSessionExpired() error
}

// Client is a registered viewer connection: a bounded queue drained by a
// dedicated goroutine, so a slow reader never blocks the ingest path.
type Client struct {
	id        string
	writer    ClientWriter
	queue     chan WireEvent
	queueSize int

	closed    chan struct{}
	closeOnce sync.Once
}

func newClient(id string, writer ClientWriter, queueSize int) *Client {
	c := &Client{
		id:        id,
		writer:    writer,
		queue:     make(chan WireEvent, queueSize),
		queueSize: queueSize,
		closed:    make(chan struct{}),
	}
	go c.drain()
	return c
}

func (c *Client) drain() {
	for {
		select {
		case ev, ok := <-c.queue:
			if !ok {
				return
			}
			if err := c.writer.WriteEvent(ev); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Close marks the client closed. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// tryEnqueue performs a non-blocking send and reports whether the event was
// accepted: false only when the queue is full. A closed client accepts and
// discards the event. Never blocks the caller.
func (c *Client) tryEnqueue(ev WireEvent) bool {
	select {
	case c.queue <- ev:
		return true
	case <-c.closed:
		return true
	default:
		return false
	}
}

// resync is invoked when tryEnqueue fails: the client is considered slow.
// Undelivered events are dropped, a sequence_reset frame is sent anchored at
// suffix's first sequence_id, and the suffix is requeued best-effort.
func (c *Client) resync(suffix []WireEvent) {
drainLoop:
	for {
		select {
		case <-c.queue:
		default:
			break drainLoop
		}
	}

	if len(suffix) == 0 {
		return
	}

	if err := c.writer.WriteSequenceReset(suffix[0].SequenceID); err != nil {
		c.Close()
		return
	}

	start := 0
	if len(suffix) > c.queueSize {
		start = len(suffix) - c.queueSize
	}
	for _, ev := range suffix[start:] {
		select {
		case c.queue <- ev:
		default:
		}
	}
}

// drainGrace blocks until the queue empties or timeout elapses, whichever
// comes first. Used during session shutdown to give buffered writes a
// chance to flush before the session_expired frame is sent.
func (c *Client) drainGrace(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for len(c.queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}
