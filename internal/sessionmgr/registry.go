package sessionmgr

import (
	"sync"

	"github.com/zk1tty/wf-backend/internal/browsersession"
	"github.com/zk1tty/wf-backend/internal/recorder"
	"github.com/zk1tty/wf-backend/internal/streamer"
	"github.com/zk1tty/wf-backend/internal/workflow"
)

// Entry is everything the core holds in memory for one live visual session:
// the browser handle C9/C7 submit commands through, the streamer session C6
// clients attach to, the recorder bridge feeding it, and the workflow
// runner, if one was started. cancel tears down the session's background
// goroutine.
type Entry struct {
	SessionID      string
	Browser        browsersession.BrowserSession
	Stream         *streamer.Session
	Bridge         *recorder.Bridge
	WorkflowRunner *workflow.Runner
	cancel         func()
}

// Registry is C10: the explicit register/lookup/remove service mapping a
// SessionID to its live Entry, grounded on the teacher's
// internal/guacamole.SessionRegistry mutex-guarded map with GetOrCreate
// semantics, generalized to the plain Register/Lookup/Remove spec.md §9
// names.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds or replaces the Entry for a session.
func (r *Registry) Register(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.SessionID] = e
}

// Lookup returns the Entry for sessionID, if one is live.
func (r *Registry) Lookup(sessionID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	return e, ok
}

// Remove cancels and unregisters the Entry for sessionID, if present.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if ok {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()
	if ok && e.cancel != nil {
		e.cancel()
	}
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
