package sessionmgr

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zk1tty/wf-backend/internal/browsersession"
	"github.com/zk1tty/wf-backend/internal/crypto"
	"github.com/zk1tty/wf-backend/internal/db"
	"github.com/zk1tty/wf-backend/internal/db/dbtest"
	"github.com/zk1tty/wf-backend/internal/storagestate"
	"github.com/zk1tty/wf-backend/internal/streamer"
	"github.com/zk1tty/wf-backend/internal/workflow"
)

type fakeBrowser struct {
	mu            sync.Mutex
	bridgeHandler browsersession.BindingHandler
	navHandlers   []browsersession.FrameNavigatedHandler
	closed        bool
	cookies       []storagestate.Cookie
	evaluateCalls []string
	evaluateFunc  func(script string) (any, error)
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error { return nil }
func (f *fakeBrowser) CurrentURL(ctx context.Context) (string, error) {
	return "https://example.com", nil
}
func (f *fakeBrowser) OnFrameNavigated(h browsersession.FrameNavigatedHandler) {
	f.mu.Lock()
	f.navHandlers = append(f.navHandlers, h)
	f.mu.Unlock()
}
func (f *fakeBrowser) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	f.mu.Lock()
	f.evaluateCalls = append(f.evaluateCalls, script)
	fn := f.evaluateFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(script)
	}
	return nil, nil
}
func (f *fakeBrowser) ExposeBridge(ctx context.Context, name string, handler browsersession.BindingHandler) error {
	f.mu.Lock()
	f.bridgeHandler = handler
	f.mu.Unlock()
	return nil
}
func (f *fakeBrowser) handler() browsersession.BindingHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bridgeHandler
}
func (f *fakeBrowser) Cookies(ctx context.Context) ([]storagestate.Cookie, error) { return f.cookies, nil }
func (f *fakeBrowser) ApplyStorageState(ctx context.Context, blob *storagestate.Blob) error {
	return nil
}
func (f *fakeBrowser) ExtractLocalStorage(ctx context.Context) ([]storagestate.OriginStorage, error) {
	return nil, nil
}
func (f *fakeBrowser) EnvMetadata(ctx context.Context) (browsersession.EnvMetadata, error) {
	return browsersession.EnvMetadata{}, nil
}
func (f *fakeBrowser) Mouse() browsersession.Mouse       { return nil }
func (f *fakeBrowser) Keyboard() browsersession.Keyboard { return nil }
func (f *fakeBrowser) Healthy() bool                     { return true }
func (f *fakeBrowser) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type fakeRunner struct {
	browser  browsersession.BrowserSession
	startErr error
}

func (r *fakeRunner) Start(ctx context.Context, sessionID string) (browsersession.BrowserSession, error) {
	if r.startErr != nil {
		return nil, r.startErr
	}
	return r.browser, nil
}
func (r *fakeRunner) Healthy(ctx context.Context) error { return nil }
func (r *fakeRunner) Close() error                      { return nil }

func newTestKeyring(t *testing.T) crypto.Keyring {
	t.Helper()
	dir := t.TempDir()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey)})
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	pubPath := filepath.Join(dir, "pub.pem")
	privPath := filepath.Join(dir, "priv.pem")
	if err := os.WriteFile(pubPath, pubPEM, 0o600); err != nil {
		t.Fatalf("write pub: %v", err)
	}
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		t.Fatalf("write priv: %v", err)
	}

	kr, err := crypto.NewFileKeyring("test-kid", pubPath, privPath)
	if err != nil {
		t.Fatalf("NewFileKeyring() error = %v", err)
	}
	return kr
}

func newTestManager(t *testing.T, browser browsersession.BrowserSession, startErr error, autoSave bool) (*Manager, *db.DB, *streamer.Registry) {
	t.Helper()
	database := dbtest.NewTestDB(t)
	kr := newTestKeyring(t)
	store := storagestate.New(database, kr, "test-kid")
	loader := storagestate.NewPriorityLoader(store, storagestate.LoaderConfig{}, nil)
	streams := streamer.NewRegistry()
	runner := &fakeRunner{browser: browser, startErr: startErr}

	cfg := ManagerConfig{
		AutoSaveSessionState: autoSave,
		CookieVerifyTTLHours: 24,
		EventBufferSize:      100,
		ClientWriteQueue:     16,
		ClientReadyMaxWait:   2 * time.Second,
		SessionTimeout:       time.Hour,
		CleanupInterval:      time.Hour,
	}
	m := NewManager(database, loader, store, runner, streams, cfg, nil)
	return m, database, streams
}

func pollUntil(t *testing.T, timeout time.Duration, fn func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fn()
}

func sessionStatus(t *testing.T, database *db.DB, sessionID string) db.SessionStatus {
	t.Helper()
	row, err := database.GetSession(context.Background(), sessionID)
	if err != nil {
		return ""
	}
	return row.Status
}

func fireFullSnapshot(t *testing.T, fb *fakeBrowser) {
	t.Helper()
	if !pollUntil(t, time.Second, func() bool { return fb.handler() != nil }) {
		t.Fatal("recorder bridge never exposed a binding handler")
	}
	fb.handler()(`{"type":2,"timestamp":1}`)
}

func TestManager_StartSession_ReachesStreamingThenEndsGracefully(t *testing.T) {
	fb := &fakeBrowser{}
	m, database, streams := newTestManager(t, fb, nil, false)

	if err := m.StartSession("sess-1", "owner-1", nil, nil); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	fireFullSnapshot(t, fb)

	if !pollUntil(t, 2*time.Second, func() bool { return sessionStatus(t, database, "sess-1") == db.SessionStatusStreaming }) {
		t.Fatalf("session did not reach streaming, status=%s", sessionStatus(t, database, "sess-1"))
	}

	m.EndSession("sess-1")

	if !pollUntil(t, 2*time.Second, func() bool { return sessionStatus(t, database, "sess-1") == db.SessionStatusEnded }) {
		t.Fatalf("session did not reach ended, status=%s", sessionStatus(t, database, "sess-1"))
	}

	if _, ok := m.Registry().Lookup("sess-1"); ok {
		t.Error("session registry entry was not removed after ending")
	}
	if _, ok := streams.Lookup("sess-1"); ok {
		t.Error("streamer session was not removed after ending")
	}
}

func TestManager_StartSession_BrowserStartFailure_TransitionsToFailed(t *testing.T) {
	m, database, _ := newTestManager(t, nil, context.DeadlineExceeded, false)

	if err := m.StartSession("sess-2", "owner-1", nil, nil); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	if !pollUntil(t, 2*time.Second, func() bool { return sessionStatus(t, database, "sess-2") == db.SessionStatusFailed }) {
		t.Fatalf("session did not reach failed, status=%s", sessionStatus(t, database, "sess-2"))
	}

	row, err := database.GetSession(context.Background(), "sess-2")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if row.LastError == "" {
		t.Error("failed session has no LastError recorded")
	}
	if _, ok := m.Registry().Lookup("sess-2"); ok {
		t.Error("registry entry was not removed after failure")
	}
}

func TestManager_StartSession_WithWorkflow_RunsScriptThenFinalizes(t *testing.T) {
	fb := &fakeBrowser{}
	m, database, _ := newTestManager(t, fb, nil, false)

	script := &workflow.Script{Steps: []workflow.Step{
		{Type: workflow.StepClick, Selector: "#go"},
	}}

	if err := m.StartSession("sess-3", "owner-1", nil, script); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	fireFullSnapshot(t, fb)

	if !pollUntil(t, 2*time.Second, func() bool { return sessionStatus(t, database, "sess-3") == db.SessionStatusEnded }) {
		t.Fatalf("session did not reach ended, status=%s", sessionStatus(t, database, "sess-3"))
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	found := false
	for _, s := range fb.evaluateCalls {
		if contains(s, "#go") {
			found = true
		}
	}
	if !found {
		t.Errorf("click step was never evaluated, calls=%v", fb.evaluateCalls)
	}
}

func TestManager_AutoSave_SavesWhenSiteVerifies(t *testing.T) {
	fb := &fakeBrowser{cookies: []storagestate.Cookie{
		{Name: "SID", Domain: ".google.com", Expires: time.Now().Add(time.Hour)},
		{Name: "SIDCC", Domain: ".google.com", Expires: time.Now().Add(time.Hour)},
		{Name: "OSID", Domain: ".google.com", Expires: time.Now().Add(time.Hour)},
	}}
	m, database, _ := newTestManager(t, fb, nil, true)

	if err := m.StartSession("sess-4", "owner-4", nil, nil); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	fireFullSnapshot(t, fb)

	if !pollUntil(t, 2*time.Second, func() bool { return sessionStatus(t, database, "sess-4") == db.SessionStatusStreaming }) {
		t.Fatalf("session did not reach streaming, status=%s", sessionStatus(t, database, "sess-4"))
	}
	m.EndSession("sess-4")

	if !pollUntil(t, 2*time.Second, func() bool { return sessionStatus(t, database, "sess-4") == db.SessionStatusEnded }) {
		t.Fatalf("session did not reach ended, status=%s", sessionStatus(t, database, "sess-4"))
	}

	recs, err := database.ListVerifiedStorageStates(context.Background(), "owner-4")
	if err != nil {
		t.Fatalf("expected a saved storage state record, got error: %v", err)
	}
	if len(recs) == 0 {
		t.Fatalf("expected at least one verified storage state record for owner-4")
	}
	if recs[0].OwnerID != "owner-4" {
		t.Errorf("OwnerID = %q, want owner-4", recs[0].OwnerID)
	}
}

func TestManager_EndSession_UnknownSessionID_NoOp(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeBrowser{}, nil, false)
	m.EndSession("does-not-exist")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
