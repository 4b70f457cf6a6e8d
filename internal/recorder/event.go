package recorder

import "encoding/json"

// fullSnapshotType is the recorder event type value denoting a FullSnapshot.
// All other values are incremental events. The recorder event schema is
// otherwise treated as an opaque black box: the host parses only these two
// fields and passes the rest through untouched.
const fullSnapshotType = 2

// Event is the projection of a RecorderEvent the host needs: everything
// else in the raw JSON object is forwarded verbatim by the caller.
type Event struct {
	Type      int   `json:"type"`
	Timestamp int64 `json:"timestamp"`
	Raw       json.RawMessage
}

// ParseEvent probes a raw recorder payload for the two semantic fields the
// host cares about, keeping the original bytes in Raw for pass-through.
func ParseEvent(raw []byte) (Event, error) {
	var probe struct {
		Type      int   `json:"type"`
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Event{}, err
	}

	rawCopy := make(json.RawMessage, len(raw))
	copy(rawCopy, raw)

	return Event{Type: probe.Type, Timestamp: probe.Timestamp, Raw: rawCopy}, nil
}

// IsFullSnapshot reports whether e is a FullSnapshot (type 2).
func (e Event) IsFullSnapshot() bool {
	return e.Type == fullSnapshotType
}
