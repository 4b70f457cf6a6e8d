package streamer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/zk1tty/wf-backend/internal/recorder"
)

type fakeWriter struct {
	mu      sync.Mutex
	events  []WireEvent
	resets  []uint64
	expired bool
	// block, if non-nil, is waited on before the first WriteEvent returns,
	// simulating a slow reader so the client's queue backs up.
	block chan struct{}
}

func (w *fakeWriter) WriteEvent(ev WireEvent) error {
	w.mu.Lock()
	block := w.block
	w.block = nil
	w.mu.Unlock()
	if block != nil {
		<-block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
	return nil
}

func (w *fakeWriter) WriteSequenceReset(baseSeq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resets = append(w.resets, baseSeq)
	return nil
}

func (w *fakeWriter) WriteSessionExpired() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expired = true
	return nil
}

func (w *fakeWriter) eventCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func snapshotEvent(t *testing.T, ts int64) recorder.Event {
	t.Helper()
	raw := []byte(`{"type":2,"timestamp":` + itoa(ts) + `}`)
	ev, err := recorder.ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	return ev
}

func incrementalEvent(t *testing.T, ts int64) recorder.Event {
	t.Helper()
	raw := []byte(`{"type":3,"timestamp":` + itoa(ts) + `}`)
	ev, err := recorder.ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	return ev
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestSession_Ingest_SequenceIsMonotone(t *testing.T) {
	s := NewSession("sess-1", 10, 10, time.Second)
	for i := 0; i < 5; i++ {
		wire := s.Ingest(incrementalEvent(t, int64(i)), "https://example.com")
		if wire.SequenceID != uint64(i) {
			t.Fatalf("SequenceID = %d, want %d", wire.SequenceID, i)
		}
	}
}

func TestSession_RingBuffer_Wraparound(t *testing.T) {
	s := NewSession("sess-1", 3, 10, time.Second)
	for i := 0; i < 5; i++ {
		s.Ingest(incrementalEvent(t, int64(i)), "")
	}
	s.mu.Lock()
	buffered := len(s.buffer)
	first := s.buffer[0].SequenceID
	s.mu.Unlock()
	if buffered != 3 {
		t.Fatalf("buffered = %d, want 3", buffered)
	}
	if first != 2 {
		t.Fatalf("oldest retained SequenceID = %d, want 2", first)
	}
}

func TestSession_ClientReady_ReplaysFromLastSnapshot(t *testing.T) {
	s := NewSession("sess-1", 10, 10, time.Second)
	s.Ingest(incrementalEvent(t, 1), "")
	s.Ingest(snapshotEvent(t, 2), "")
	s.Ingest(incrementalEvent(t, 3), "")

	events, ok := s.ClientReady(context.Background())
	if !ok {
		t.Fatal("ClientReady() ok = false, want true")
	}
	if len(events) != 2 {
		t.Fatalf("replayed %d events, want 2 (snapshot + 1 incremental)", len(events))
	}
	if !events[0].Metadata.IsSnapshot {
		t.Error("first replayed event is not the snapshot")
	}
}

func TestSession_ClientReady_TimesOutWithoutSnapshot(t *testing.T) {
	s := NewSession("sess-1", 10, 10, 20*time.Millisecond)
	s.Ingest(incrementalEvent(t, 1), "")

	_, ok := s.ClientReady(context.Background())
	if ok {
		t.Error("ClientReady() ok = true, want false when no snapshot has landed")
	}
}

func TestSession_SlowClient_EvictedAndSequenceReset(t *testing.T) {
	s := NewSession("sess-1", 100, 2, time.Second)
	block := make(chan struct{})
	w := &fakeWriter{block: block}
	s.RegisterClient("viewer-1", w)

	s.Ingest(snapshotEvent(t, 1), "")
	// let the drain goroutine pick up the snapshot and stall in WriteEvent,
	// freeing the queue so the next sends fill it up instead of the
	// snapshot itself.
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 5; i++ {
		s.Ingest(incrementalEvent(t, int64(i+2)), "")
	}
	close(block)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		n := len(w.resets)
		w.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.resets) == 0 {
		t.Fatal("slow client never received a sequence_reset")
	}
}

func TestSession_LateJoin_FirstEventIsSnapshot(t *testing.T) {
	s := NewSession("sess-1", 100, 100, time.Second)
	w := &fakeWriter{}

	s.Ingest(incrementalEvent(t, 1), "")
	s.Ingest(snapshotEvent(t, 2), "")
	s.Ingest(incrementalEvent(t, 3), "")

	c := s.RegisterClient("viewer-1", w)
	defer c.Close()

	suffix := s.SnapshotSuffix()
	if len(suffix) == 0 {
		t.Fatal("SnapshotSuffix() returned nothing")
	}
	if !suffix[0].Metadata.IsSnapshot {
		t.Error("first event of late-join replay is not a FullSnapshot")
	}
}

func TestSession_Status_ReflectsCounts(t *testing.T) {
	s := NewSession("sess-1", 100, 100, time.Second)
	w := &fakeWriter{}
	s.RegisterClient("viewer-1", w)
	s.Ingest(snapshotEvent(t, 1), "")
	s.Ingest(incrementalEvent(t, 2), "")

	time.Sleep(10 * time.Millisecond)
	status := s.Status()
	if !status.StreamingActive {
		t.Error("StreamingActive = false, want true")
	}
	if !status.StreamingReady {
		t.Error("StreamingReady = false, want true after a snapshot")
	}
	if status.EventsProcessed != 2 {
		t.Errorf("EventsProcessed = %d, want 2", status.EventsProcessed)
	}
	if status.ConnectedClients != 1 {
		t.Errorf("ConnectedClients = %d, want 1", status.ConnectedClients)
	}
}

func TestSession_Close_SendsSessionExpired(t *testing.T) {
	s := NewSession("sess-1", 10, 10, time.Second)
	w := &fakeWriter{}
	s.RegisterClient("viewer-1", w)
	s.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.expired {
		t.Error("session_expired was not sent on Close")
	}
}

func TestRegistry_GetOrCreateAndRemove(t *testing.T) {
	r := NewRegistry()
	s1 := r.GetOrCreate("sess-1", 0, 0, 0)
	s2 := r.GetOrCreate("sess-1", 0, 0, 0)
	if s1 != s2 {
		t.Error("GetOrCreate() returned different Sessions for the same id")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
	r.Remove("sess-1")
	if r.Count() != 0 {
		t.Errorf("Count() after Remove = %d, want 0", r.Count())
	}
	if _, ok := r.Lookup("sess-1"); ok {
		t.Error("Lookup() found a removed session")
	}
}
