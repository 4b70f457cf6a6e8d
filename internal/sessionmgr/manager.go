// Package sessionmgr implements C8 (the INIT→...→ENDED session state
// machine) and C10 (the in-memory Session Registry), adapted from the
// teacher's internal/sessions.Manager — state cache, background cleanup
// goroutine, stale-session reaping — generalized from pod lifecycle to
// visual-streaming-session lifecycle.
package sessionmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zk1tty/wf-backend/internal/browsersession"
	"github.com/zk1tty/wf-backend/internal/db"
	"github.com/zk1tty/wf-backend/internal/recorder"
	"github.com/zk1tty/wf-backend/internal/storagestate"
	"github.com/zk1tty/wf-backend/internal/streamer"
	"github.com/zk1tty/wf-backend/internal/workflow"
)

// ManagerConfig carries the subset of internal/config.Config the Session
// Manager needs, kept as its own struct so this package does not import
// internal/config directly (main.go wires the two together).
type ManagerConfig struct {
	AutoSaveSessionState bool
	CookieVerifyTTLHours int
	EventBufferSize      int
	ClientWriteQueue     int
	ClientReadyMaxWait   time.Duration
	SessionTimeout       time.Duration
	CleanupInterval      time.Duration
}

// Manager drives every visual session through the state machine in
// state.go, persisting each transition via internal/db and wiring C2-C9 and
// C10-C11's collaborators together.
type Manager struct {
	db       *db.DB
	loader   *storagestate.PriorityLoader
	store    *storagestate.Store
	runner   browsersession.Runner
	streams  *streamer.Registry
	registry *Registry
	logger   *slog.Logger
	cfg      ManagerConfig

	stopCh chan struct{}
}

// NewManager constructs a Manager. logger may be nil (defaults to
// slog.Default()).
func NewManager(
	database *db.DB,
	loader *storagestate.PriorityLoader,
	store *storagestate.Store,
	runner browsersession.Runner,
	streams *streamer.Registry,
	cfg ManagerConfig,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 2 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	return &Manager{
		db:       database,
		loader:   loader,
		store:    store,
		runner:   runner,
		streams:  streams,
		registry: NewRegistry(),
		logger:   logger,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// Registry exposes the C10 Session Registry so C11 (HTTP Façade) can look
// up a live session's browser/stream handles.
func (m *Manager) Registry() *Registry { return m.registry }

// Start begins the background stale-session reaper.
func (m *Manager) Start() {
	go m.cleanupLoop()
	m.logger.Info("session manager started", "component", "sessionmgr",
		"session_timeout", m.cfg.SessionTimeout, "cleanup_interval", m.cfg.CleanupInterval)
}

// Stop stops the background reaper. It does not terminate live sessions.
func (m *Manager) Stop() {
	close(m.stopCh)
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanupStaleSessions()
		case <-m.stopCh:
			return
		}
	}
}

// cleanupStaleSessions ends sessions that have outlived SessionTimeout.
// A live session (still in the in-memory Registry) is ended gracefully
// through EndSession; a row with no live Entry (e.g. left over from a
// process restart) is marked FAILED directly, since there is nothing left
// in this process to finalize it.
func (m *Manager) cleanupStaleSessions() {
	stale, err := m.db.ListStaleSessions(context.Background(), int(m.cfg.SessionTimeout.Seconds()))
	if err != nil {
		m.logger.Error("list stale sessions failed", "component", "sessionmgr", "error", err)
		return
	}
	for _, s := range stale {
		if _, live := m.registry.Lookup(s.SessionID); live {
			m.logger.Info("ending stale session", "component", "sessionmgr", "session_id", s.SessionID)
			m.EndSession(s.SessionID)
			continue
		}
		m.logger.Warn("marking orphaned stale session failed", "component", "sessionmgr", "session_id", s.SessionID)
		s.Status = db.SessionStatusFailed
		s.LastError = "stale: no live session entry found"
		if err := m.db.UpdateSessionStatus(context.Background(), s); err != nil {
			m.logger.Error("update orphaned session status failed", "component", "sessionmgr", "session_id", s.SessionID, "error", err)
		}
	}
}

// StartSession creates the session's bookkeeping row and launches the
// state-machine goroutine; it returns as soon as the session is registered,
// not when it reaches STREAMING. script may be nil for a pure
// human-driven (Control Channel only) session.
func (m *Manager) StartSession(sessionID, ownerID string, sites []string, script *workflow.Script) error {
	now := time.Now().UTC()
	row := &db.Session{
		SessionID: sessionID,
		OwnerID:   ownerID,
		Status:    db.SessionStatusInit,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.db.CreateSession(context.Background(), row); err != nil {
		return fmt.Errorf("create session row %s: %w", sessionID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.registry.Register(&Entry{SessionID: sessionID, cancel: cancel})

	go m.run(runCtx, cancel, row, sites, script)
	return nil
}

// EndSession signals a live session to move toward FINALIZING. It is a
// no-op if sessionID has no live Entry.
func (m *Manager) EndSession(sessionID string) {
	if e, ok := m.registry.Lookup(sessionID); ok && e.cancel != nil {
		e.cancel()
	}
}

// run drives one session through the state machine. It owns row for the
// lifetime of the session and is the sole writer of its status. cancel is
// the session's own context-cancel func, threaded through so every
// re-registered Entry snapshot keeps it reachable from EndSession.
func (m *Manager) run(ctx context.Context, cancel func(), row *db.Session, sites []string, script *workflow.Script) {
	sessionID := row.SessionID
	defer cancel()

	var browser browsersession.BrowserSession
	var streamSession *streamer.Session
	var bridge *recorder.Bridge
	var runner *workflow.Runner

	register := func() {
		m.registry.Register(&Entry{
			SessionID:      sessionID,
			Browser:        browser,
			Stream:         streamSession,
			Bridge:         bridge,
			WorkflowRunner: runner,
			cancel:         cancel,
		})
	}

	cleanup := func() {
		if streamSession != nil {
			m.streams.Remove(sessionID)
		}
		if browser != nil {
			_ = browser.Close(context.Background())
		}
		m.registry.Remove(sessionID)
	}

	fail := func(from db.SessionStatus, cause error) {
		m.logger.Error("session failed", "component", "sessionmgr", "session_id", sessionID, "from", from, "error", cause)
		row.Status = db.SessionStatusFailed
		row.LastError = cause.Error()
		LogTransition(m.logger, sessionID, from, db.SessionStatusFailed, cause.Error())
		if err := m.db.UpdateSessionStatus(context.Background(), row); err != nil {
			m.logger.Error("persist failed status failed", "component", "sessionmgr", "session_id", sessionID, "error", err)
		}
		cleanup()
	}

	transition := func(to db.SessionStatus, reason string) error {
		from := row.Status
		if err := ValidateAndLogTransition(m.logger, sessionID, from, to, reason); err != nil {
			return err
		}
		row.Status = to
		return m.db.UpdateSessionStatus(context.Background(), row)
	}

	// INIT -> LOADING_STATE
	if err := transition(db.SessionStatusLoadingState, "priority loader lookup"); err != nil {
		fail(db.SessionStatusInit, err)
		return
	}

	blob, source, err := m.loader.Load(ctx, row.OwnerID, sites, m.cfg.CookieVerifyTTLHours)
	if err != nil {
		m.logger.Warn("storage state load error, proceeding unauthenticated", "component", "sessionmgr", "session_id", sessionID, "error", err)
	} else if blob != nil {
		m.logger.Info("storage state loaded", "component", "sessionmgr", "session_id", sessionID, "source", source)
	}

	// LOADING_STATE -> BROWSER_STARTING
	if err := transition(db.SessionStatusBrowserStarting, "starting browser"); err != nil {
		fail(db.SessionStatusLoadingState, err)
		return
	}

	startCtx, startCancel := context.WithTimeout(ctx, browsersession.DefaultStartTimeout)
	browser, err = m.runner.Start(startCtx, sessionID)
	startCancel()
	if err != nil {
		fail(db.SessionStatusBrowserStarting, fmt.Errorf("start browser: %w", err))
		return
	}
	register()

	if blob != nil {
		if err := browser.ApplyStorageState(ctx, blob); err != nil {
			m.logger.Warn("apply storage state failed, continuing unauthenticated", "component", "sessionmgr", "session_id", sessionID, "error", err)
		}
	}

	var mu sync.Mutex
	currentURL, _ := browser.CurrentURL(ctx)
	browser.OnFrameNavigated(func(url string) {
		mu.Lock()
		currentURL = url
		mu.Unlock()
	})

	// BROWSER_STARTING -> RECORDER_ATTACHING
	if err := transition(db.SessionStatusRecorderAttaching, "attaching recorder bridge"); err != nil {
		fail(db.SessionStatusBrowserStarting, err)
		return
	}

	streamSession = m.streams.GetOrCreate(sessionID, m.cfg.EventBufferSize, m.cfg.ClientWriteQueue, m.cfg.ClientReadyMaxWait)
	register()

	bridge = recorder.NewBridge(browser, func(e recorder.Event) {
		mu.Lock()
		url := currentURL
		mu.Unlock()
		streamSession.Ingest(e, url)
	}, m.logger)

	if err := bridge.Attach(ctx); err != nil {
		fail(db.SessionStatusRecorderAttaching, fmt.Errorf("attach recorder bridge: %w", err))
		return
	}
	register()

	if _, ok := streamSession.ClientReady(ctx); !ok {
		fail(db.SessionStatusRecorderAttaching, fmt.Errorf("timed out waiting for first snapshot"))
		return
	}

	// RECORDER_ATTACHING -> STREAMING
	if err := transition(db.SessionStatusStreaming, "first snapshot received"); err != nil {
		fail(db.SessionStatusRecorderAttaching, err)
		return
	}
	streamSession.SetActive(true)

	if script != nil {
		if err := transition(db.SessionStatusWorkflowRunning, "running scripted workflow"); err != nil {
			m.logger.Error("invalid transition to workflow_running", "component", "sessionmgr", "session_id", sessionID, "error", err)
		} else {
			runner = workflow.NewRunner(browser, m.logger)
			register()
			if err := runner.Run(ctx, *script); err != nil {
				m.logger.Warn("workflow run ended with error", "component", "sessionmgr", "session_id", sessionID, "error", err)
			}
		}
	} else {
		// No scripted workflow: remain in STREAMING until EndSession (or
		// the stale-session reaper) cancels the session context.
		<-ctx.Done()
	}

	// STREAMING/WORKFLOW_RUNNING -> FINALIZING. Reached regardless of how
	// the prior step ended (error, completion, or cancellation) — once a
	// session is STREAMING, spec.md §4.8 only ever takes it to ENDED.
	streamSession.SetActive(false)
	if err := transition(db.SessionStatusFinalizing, "session ending"); err != nil {
		m.logger.Error("invalid transition to finalizing", "component", "sessionmgr", "session_id", sessionID, "error", err)
		row.Status = db.SessionStatusFinalizing
	}

	if m.cfg.AutoSaveSessionState {
		m.autoSave(context.Background(), row.OwnerID, browser)
	}

	// FINALIZING -> ENDED
	endedAt := time.Now().UTC()
	row.EndedAt = &endedAt
	if err := transition(db.SessionStatusEnded, "finalize complete"); err != nil {
		m.logger.Error("invalid transition to ended", "component", "sessionmgr", "session_id", sessionID, "error", err)
	}

	cleanup()
}

// autoSave implements the FINALIZING auto-save step: extract cookies and
// local storage, filter expired cookies, require at least one site to
// verify, then encrypt and persist via C1/C2. Failures are logged, never
// fatal to the session's terminal status (spec.md §4.8).
func (m *Manager) autoSave(ctx context.Context, ownerID string, browser browsersession.BrowserSession) {
	cookies, err := browser.Cookies(ctx)
	if err != nil {
		m.logger.Warn("auto-save: extract cookies failed", "component", "sessionmgr", "owner_id", ownerID, "error", err)
		return
	}
	origins, err := browser.ExtractLocalStorage(ctx)
	if err != nil {
		m.logger.Warn("auto-save: extract local storage failed", "component", "sessionmgr", "owner_id", ownerID, "error", err)
		return
	}

	now := time.Now().UTC()
	cookies = storagestate.FilterExpiredCookies(cookies, now)
	verified := storagestate.Verify(cookies, now)
	if !storagestate.AnyVerified(verified) {
		m.logger.Info("auto-save: no site verified, skipping save", "component", "sessionmgr", "owner_id", ownerID)
		return
	}

	blob := &storagestate.Blob{Cookies: cookies, Origins: origins}
	recordID, err := m.store.Save(ctx, ownerID, blob, map[string]string{"source": "auto_save"})
	if err != nil {
		m.logger.Warn("auto-save: save failed", "component", "sessionmgr", "owner_id", ownerID, "error", err)
		return
	}
	m.logger.Info("auto-save: storage state saved", "component", "sessionmgr", "owner_id", ownerID, "record_id", recordID)
}
