package streamer

import (
	"context"
	"sync"
	"time"

	"github.com/zk1tty/wf-backend/internal/recorder"
)

const (
	DefaultBufferCap          = 1000
	DefaultClientQueueSize    = 256
	DefaultClientReadyMaxWait = 30 * time.Second
)

// Status is the snapshot spec.md's status endpoint reports for a streaming
// session.
type Status struct {
	StreamingActive  bool   `json:"streaming_active"`
	StreamingReady   bool   `json:"streaming_ready"`
	EventsProcessed  uint64 `json:"events_processed"`
	EventsBuffered   int    `json:"events_buffered"`
	ConnectedClients int    `json:"connected_clients"`
}

// Session is the per-visual-session ring buffer, sequencer, and client
// fan-out. One Session exists for as long as a session is in STREAMING (or
// later states); it is created when the Recorder Bridge starts delivering
// events and closed when the session ends.
type Session struct {
	sessionID          string
	bufferCap          int
	clientQueueSize    int
	clientReadyMaxWait time.Duration

	mu              sync.Mutex
	active          bool
	nextSeq         uint64
	buffer          []WireEvent
	lastSnapshotSeq *uint64
	eventsProcessed uint64
	clients         map[string]*Client

	firstSnapshot     chan struct{}
	firstSnapshotOnce sync.Once
}

// NewSession constructs a Session with the given ring-buffer and per-client
// queue capacities. Pass zero values to use the package defaults.
func NewSession(sessionID string, bufferCap, clientQueueSize int, clientReadyMaxWait time.Duration) *Session {
	if bufferCap <= 0 {
		bufferCap = DefaultBufferCap
	}
	if clientQueueSize <= 0 {
		clientQueueSize = DefaultClientQueueSize
	}
	if clientReadyMaxWait <= 0 {
		clientReadyMaxWait = DefaultClientReadyMaxWait
	}
	return &Session{
		sessionID:          sessionID,
		bufferCap:          bufferCap,
		clientQueueSize:    clientQueueSize,
		clientReadyMaxWait: clientReadyMaxWait,
		active:             true,
		clients:            make(map[string]*Client),
		firstSnapshot:      make(chan struct{}),
	}
}

// Ingest is the enqueue path (Invariant I-3: never blocks on a slow client).
// It is called from the Recorder Bridge for every parsed recorder event.
func (s *Session) Ingest(e recorder.Event, originURL string) WireEvent {
	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++

	wire := WireEvent{
		SessionID:  s.sessionID,
		Timestamp:  float64(time.Now().UnixNano()) / 1e9,
		Event:      e.Raw,
		SequenceID: seq,
		Metadata: WireMetadata{
			OriginURL:  originURL,
			IsSnapshot: e.IsFullSnapshot(),
		},
	}

	s.buffer = appendRing(s.buffer, wire, s.bufferCap)
	if e.IsFullSnapshot() {
		snap := seq
		s.lastSnapshotSeq = &snap
		s.firstSnapshotOnce.Do(func() { close(s.firstSnapshot) })
	}
	s.eventsProcessed++

	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if !c.tryEnqueue(wire) {
			c.resync(s.SnapshotSuffix())
		}
	}

	return wire
}

// SnapshotSuffix returns the buffered events from the last FullSnapshot
// onward, or nil if no snapshot has been ingested yet.
func (s *Session) SnapshotSuffix() []WireEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSnapshotSeq == nil {
		return nil
	}
	return suffixFromSeq(s.buffer, *s.lastSnapshotSeq)
}

// RegisterClient adds a viewer connection and starts draining its queue.
func (s *Session) RegisterClient(clientID string, writer ClientWriter) *Client {
	c := newClient(clientID, writer, s.clientQueueSize)
	s.mu.Lock()
	s.clients[clientID] = c
	s.mu.Unlock()
	return c
}

// RemoveClient unregisters and closes a viewer connection.
func (s *Session) RemoveClient(clientID string) {
	s.mu.Lock()
	c, ok := s.clients[clientID]
	if ok {
		delete(s.clients, clientID)
	}
	s.mu.Unlock()
	if ok {
		c.Close()
	}
}

// ClientReady handles a client_ready control message: it replays the
// buffer from the last FullSnapshot if one has landed, or blocks (up to
// clientReadyMaxWait) for the first snapshot to arrive. ok is false on
// timeout or context cancellation, meaning the caller should give up.
func (s *Session) ClientReady(ctx context.Context) (events []WireEvent, ok bool) {
	s.mu.Lock()
	hasSnapshot := s.lastSnapshotSeq != nil
	s.mu.Unlock()

	if !hasSnapshot {
		timer := time.NewTimer(s.clientReadyMaxWait)
		defer timer.Stop()
		select {
		case <-s.firstSnapshot:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}

	return s.SnapshotSuffix(), true
}

// SequenceResetRequest handles a client-initiated resync: it always
// re-sends the snapshot-anchored suffix, without waiting.
func (s *Session) SequenceResetRequest() []WireEvent {
	return s.SnapshotSuffix()
}

// SetActive toggles the streaming_active status field. Ownership of
// session-level state transitions belongs to the Session Manager; this is
// exposed so it can reflect them here.
func (s *Session) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

// Status reports the fields spec.md's status endpoint exposes for this
// session's streaming state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		StreamingActive:  s.active,
		StreamingReady:   s.lastSnapshotSeq != nil,
		EventsProcessed:  s.eventsProcessed,
		EventsBuffered:   len(s.buffer),
		ConnectedClients: len(s.clients),
	}
}

// Close disconnects every registered client, giving buffered writes a 2s
// grace period to flush before sending session_expired.
func (s *Session) Close() {
	s.mu.Lock()
	s.active = false
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.drainGrace(2 * time.Second)
			_ = c.writer.WriteSessionExpired()
			c.Close()
		}(c)
	}
	wg.Wait()
}
