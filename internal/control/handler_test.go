package control

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zk1tty/wf-backend/internal/browsersession"
	"github.com/zk1tty/wf-backend/internal/storagestate"
)

type fakeMouse struct {
	moves    [][2]float64
	clicks   [][2]float64
	wheels   [][4]float64
	downs    []browsersession.MouseButton
	ups      []browsersession.MouseButton
	dblClick bool
}

func (m *fakeMouse) Move(ctx context.Context, x, y float64) error {
	m.moves = append(m.moves, [2]float64{x, y})
	return nil
}
func (m *fakeMouse) Down(ctx context.Context, button browsersession.MouseButton) error {
	m.downs = append(m.downs, button)
	return nil
}
func (m *fakeMouse) Up(ctx context.Context, button browsersession.MouseButton) error {
	m.ups = append(m.ups, button)
	return nil
}
func (m *fakeMouse) Click(ctx context.Context, x, y float64, button browsersession.MouseButton) error {
	m.clicks = append(m.clicks, [2]float64{x, y})
	return nil
}
func (m *fakeMouse) DblClick(ctx context.Context, x, y float64) error {
	m.dblClick = true
	return nil
}
func (m *fakeMouse) Wheel(ctx context.Context, x, y, dx, dy float64) error {
	m.wheels = append(m.wheels, [4]float64{x, y, dx, dy})
	return nil
}

type fakeKeyboard struct {
	pressed []string
	downs   []string
	ups     []string
}

func (k *fakeKeyboard) Press(ctx context.Context, key string) error {
	k.pressed = append(k.pressed, key)
	return nil
}
func (k *fakeKeyboard) Down(ctx context.Context, key, code string) error {
	k.downs = append(k.downs, key)
	return nil
}
func (k *fakeKeyboard) Up(ctx context.Context, key string) error {
	k.ups = append(k.ups, key)
	return nil
}

type fakeSession struct {
	mouse    *fakeMouse
	keyboard *fakeKeyboard
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error                 { return nil }
func (f *fakeSession) CurrentURL(ctx context.Context) (string, error)                 { return "", nil }
func (f *fakeSession) OnFrameNavigated(h browsersession.FrameNavigatedHandler)        {}
func (f *fakeSession) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	return nil, nil
}
func (f *fakeSession) ExposeBridge(ctx context.Context, name string, handler browsersession.BindingHandler) error {
	return nil
}
func (f *fakeSession) Cookies(ctx context.Context) ([]storagestate.Cookie, error) { return nil, nil }
func (f *fakeSession) ApplyStorageState(ctx context.Context, blob *storagestate.Blob) error { return nil }
func (f *fakeSession) ExtractLocalStorage(ctx context.Context) ([]storagestate.OriginStorage, error) {
	return nil, nil
}
func (f *fakeSession) EnvMetadata(ctx context.Context) (browsersession.EnvMetadata, error) {
	return browsersession.EnvMetadata{}, nil
}
func (f *fakeSession) Mouse() browsersession.Mouse       { return f.mouse }
func (f *fakeSession) Keyboard() browsersession.Keyboard { return f.keyboard }
func (f *fakeSession) Healthy() bool                     { return true }
func (f *fakeSession) Close(ctx context.Context) error    { return nil }

func newTestHandler(t *testing.T, sessionID string, logger *slog.Logger) (*Handler, *fakeSession) {
	t.Helper()
	fs := &fakeSession{mouse: &fakeMouse{}, keyboard: &fakeKeyboard{}}
	lookup := func(id string) (browsersession.BrowserSession, bool) {
		if id != sessionID {
			return nil, false
		}
		return fs, true
	}
	return NewHandler(lookup, 0, 0, logger), fs
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestSessionID(t *testing.T) {
	if got := SessionID("/workflows/visual/abc/control"); got != "abc" {
		t.Errorf("SessionID() = %q, want abc", got)
	}
	if got := SessionID("/workflows/visual/control"); got != "" {
		t.Errorf("SessionID() = %q, want empty", got)
	}
}

func TestHandler_MouseClick_Dispatches(t *testing.T) {
	h, fs := newTestHandler(t, "sess-1", nil)
	mux := http.NewServeMux()
	mux.Handle("/workflows/visual/sess-1/control", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if err := conn.WriteJSON(message{Type: msgMouseClick, X: 10, Y: 20, Button: "left"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if resp.Type != respAck {
		t.Fatalf("response type = %q, want %q", resp.Type, respAck)
	}
	if len(fs.mouse.clicks) != 1 || fs.mouse.clicks[0] != [2]float64{10, 20} {
		t.Errorf("clicks = %v, want [[10 20]]", fs.mouse.clicks)
	}
}

func TestHandler_OutOfBoundsCoordinates(t *testing.T) {
	h, _ := newTestHandler(t, "sess-1", nil)
	mux := http.NewServeMux()
	mux.Handle("/workflows/visual/sess-1/control", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if err := conn.WriteJSON(message{Type: msgMouseMove, X: 20000, Y: 5}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if resp.Type != respError || resp.Kind != kindOutOfBounds {
		t.Errorf("got %+v, want type=%q kind=%q", resp, respError, kindOutOfBounds)
	}
}

func TestHandler_UnknownMessageType(t *testing.T) {
	h, _ := newTestHandler(t, "sess-1", nil)
	mux := http.NewServeMux()
	mux.Handle("/workflows/visual/sess-1/control", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if err := conn.WriteJSON(message{Type: "teleport"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if resp.Type != respError || resp.Kind != kindInvalidMessage {
		t.Errorf("got %+v, want type=%q kind=%q", resp, respError, kindInvalidMessage)
	}
}

func TestHandler_RateLimitExceeded(t *testing.T) {
	fs := &fakeSession{mouse: &fakeMouse{}, keyboard: &fakeKeyboard{}}
	lookup := func(id string) (browsersession.BrowserSession, bool) { return fs, true }
	h := NewHandler(lookup, 1, 0, nil) // 1 msg/s, burst 1

	mux := http.NewServeMux()
	mux.Handle("/workflows/visual/sess-1/control", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(message{Type: msgMouseMove, X: 1, Y: 1}); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second response
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON(first) error = %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("ReadJSON(second) error = %v", err)
	}
	if first.Type != respAck {
		t.Errorf("first response type = %q, want %q", first.Type, respAck)
	}
	if second.Type != respError || second.Kind != kindRateLimitExceeded {
		t.Errorf("second response = %+v, want type=%q kind=%q", second, respError, kindRateLimitExceeded)
	}
}

func TestHandler_KeyEvent_DoesNotLogCleartextKey(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h, fs := newTestHandler(t, "sess-1", logger)

	mux := http.NewServeMux()
	mux.Handle("/workflows/visual/sess-1/control", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	secret := "hunter2"
	if err := conn.WriteJSON(message{Type: msgKeyDown, Key: secret, Code: "KeyH"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}

	if len(fs.keyboard.downs) != 1 || fs.keyboard.downs[0] != secret {
		t.Fatalf("keyboard did not receive the key: %v", fs.keyboard.downs)
	}
	if strings.Contains(buf.String(), secret) {
		t.Errorf("log output contains cleartext key: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "key_category") {
		t.Errorf("log output missing key_category field: %s", buf.String())
	}
}

func TestCategorizeKey(t *testing.T) {
	tests := map[string]string{
		"a":        "printable",
		"Enter":    "control",
		"Shift":    "modifier",
		"ArrowUp":  "navigation",
		"F5":       "function",
		"Unknown1": "other",
	}
	for key, want := range tests {
		if got := categorizeKey(key); got != want {
			t.Errorf("categorizeKey(%q) = %q, want %q", key, got, want)
		}
	}
}
