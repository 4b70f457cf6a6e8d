package recorder

import "testing"

func TestParseEvent_FullSnapshot(t *testing.T) {
	raw := []byte(`{"type":2,"timestamp":1700000000000,"data":{"foo":"bar"}}`)
	event, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if !event.IsFullSnapshot() {
		t.Error("IsFullSnapshot() = false, want true for type 2")
	}
	if event.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d, want 1700000000000", event.Timestamp)
	}
	if string(event.Raw) != string(raw) {
		t.Errorf("Raw = %s, want %s", event.Raw, raw)
	}
}

func TestParseEvent_Incremental(t *testing.T) {
	raw := []byte(`{"type":3,"timestamp":1}`)
	event, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if event.IsFullSnapshot() {
		t.Error("IsFullSnapshot() = true, want false for type 3")
	}
}

func TestParseEvent_InvalidJSON(t *testing.T) {
	if _, err := ParseEvent([]byte("not json")); err == nil {
		t.Error("ParseEvent() error = nil, want error for invalid JSON")
	}
}
