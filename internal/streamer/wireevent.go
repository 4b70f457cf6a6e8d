// Package streamer implements C5: the per-session event ring buffer,
// sequencer, and broadcast fan-out, adapted from the teacher's
// internal/guacamole.SharedSession (one upstream source fanned out to many
// viewer connections) generalized from raw Guacamole bytes to sequenced
// WireEvent JSON frames.
package streamer

import (
	"encoding/json"

	"github.com/zk1tty/wf-backend/internal/recorder"
)

// WireEvent is the envelope placed on the Stream Channel. The "event" key
// is required and stable; this type MUST NOT serialize as "event_data".
type WireEvent struct {
	SessionID  string          `json:"session_id"`
	Timestamp  float64         `json:"timestamp"`
	Event      json.RawMessage `json:"event"`
	SequenceID uint64          `json:"sequence_id"`
	Metadata   WireMetadata    `json:"metadata,omitempty"`
}

// WireMetadata carries the optional host-assigned fields spec.md §3 names.
type WireMetadata struct {
	OriginURL  string `json:"origin_url,omitempty"`
	IsSnapshot bool   `json:"is_snapshot,omitempty"`
}

func isSnapshot(e recorder.Event) bool { return e.IsFullSnapshot() }
