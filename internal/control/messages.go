// Package control implements C7: the write-only WebSocket endpoint that
// forwards viewer mouse/keyboard/wheel input to a browsersession.Mouse and
// browsersession.Keyboard, rate-limited and time-bounded.
package control

// message is the wire shape for every inbound control frame. Only the
// fields relevant to Type are populated by the sender.
type message struct {
	Type string `json:"type"`

	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	Button     string  `json:"button,omitempty"`
	ClickCount int     `json:"click_count,omitempty"`

	DeltaX float64 `json:"delta_x,omitempty"`
	DeltaY float64 `json:"delta_y,omitempty"`

	Key  string `json:"key,omitempty"`
	Code string `json:"code,omitempty"`
}

// response is every outbound frame: ack, error, or the final
// channel_closed notice sent when the hard timeout elapses.
type response struct {
	Type      string  `json:"type"`
	Kind      string  `json:"kind,omitempty"`
	Message   string  `json:"message,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

const (
	msgMouseMove     = "mouse_move"
	msgMouseDown     = "mouse_down"
	msgMouseUp       = "mouse_up"
	msgMouseClick    = "mouse_click"
	msgMouseDblClick = "mouse_dblclick"
	msgWheel         = "wheel"
	msgKeyDown       = "key_down"
	msgKeyUp         = "key_up"
	msgKeyPress      = "key_press"

	respAck           = "ack"
	respError         = "error"
	respChannelClosed = "channel_closed"

	kindInvalidMessage    = "invalid_message"
	kindOutOfBounds       = "out_of_bounds"
	kindRateLimitExceeded = "rate_limit_exceeded"
	kindExecutionFailed   = "execution_failed"

	// coordBound is the inclusive bound spec.md §4.7 places on x/y: 0..10000.
	coordBound = 10000
)

func inBounds(v float64) bool { return v >= 0 && v <= coordBound }
