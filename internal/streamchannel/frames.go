// Package streamchannel implements C6: the read-only WebSocket endpoint
// viewers connect to for sequenced rrweb-style events, fed by a
// streamer.Session.
package streamchannel

// controlFrame is every non-event frame the host sends down the Stream
// Channel: connection_established, sequence_reset, session_expired, pong,
// and error. It never carries a sequence_id or event field, so a client tells
// it apart from a streamer.WireEvent frame by the presence of "type".
type controlFrame struct {
	Type           string  `json:"type"`
	SessionID      string  `json:"session_id,omitempty"`
	BaseSequenceID *uint64 `json:"base_sequence_id,omitempty"`
	Kind           string  `json:"kind,omitempty"`
	Message        string  `json:"message,omitempty"`
	Timestamp      float64 `json:"timestamp,omitempty"`
}

// clientMessage is every frame a viewer may send: ping, client_ready, or
// sequence_reset_request. Anything else is rejected with a non-fatal
// invalid_message error.
type clientMessage struct {
	Type string `json:"type"`
}

const (
	frameConnectionEstablished = "connection_established"
	frameSequenceReset         = "sequence_reset"
	frameSessionExpired        = "session_expired"
	frameError                 = "error"
	framePong                  = "pong"

	clientPing                 = "ping"
	clientReady                = "client_ready"
	clientSequenceResetRequest = "sequence_reset_request"

	errorKindInvalidMessage = "invalid_message"
)
