package sessionmgr

import (
	"fmt"
	"log/slog"

	"github.com/zk1tty/wf-backend/internal/db"
)

// ValidTransitions is the INIT→...→ENDED state machine of spec.md §4.8.
// Every non-terminal state may also transition to FAILED: a browser crash,
// a dead recorder bridge, or a storage-state decrypt error can strike at
// any step, not only the three the spec's diagram draws an arrow from.
//
// STREAMING may go straight to FINALIZING: a session with no scripted
// workflow (pure human-driven Control Channel use) never visits
// WORKFLOW_RUNNING.
var ValidTransitions = map[db.SessionStatus][]db.SessionStatus{
	db.SessionStatusInit: {
		db.SessionStatusLoadingState,
		db.SessionStatusFailed,
	},
	db.SessionStatusLoadingState: {
		db.SessionStatusBrowserStarting,
		db.SessionStatusFailed,
	},
	db.SessionStatusBrowserStarting: {
		db.SessionStatusRecorderAttaching,
		db.SessionStatusFailed,
	},
	db.SessionStatusRecorderAttaching: {
		db.SessionStatusStreaming,
		db.SessionStatusFailed,
	},
	db.SessionStatusStreaming: {
		db.SessionStatusWorkflowRunning,
		db.SessionStatusFinalizing,
		db.SessionStatusFailed,
	},
	db.SessionStatusWorkflowRunning: {
		db.SessionStatusFinalizing,
		db.SessionStatusFailed,
	},
	db.SessionStatusFinalizing: {
		db.SessionStatusEnded,
		db.SessionStatusFailed,
	},
	// Terminal states with no valid transitions.
	db.SessionStatusEnded:  {},
	db.SessionStatusFailed: {},
}

// IsTerminalState reports whether status has no valid outgoing transition.
func IsTerminalState(status db.SessionStatus) bool {
	switch status {
	case db.SessionStatusEnded, db.SessionStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from→to is a valid edge in ValidTransitions.
func CanTransition(from, to db.SessionStatus) bool {
	targets, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}

// TransitionError is returned by ValidateAndLogTransition for an invalid edge.
type TransitionError struct {
	SessionID string
	From      db.SessionStatus
	To        db.SessionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session state transition: %s -> %s (session: %s)", e.From, e.To, e.SessionID)
}

// LogTransition records a state transition at info level.
func LogTransition(logger *slog.Logger, sessionID string, from, to db.SessionStatus, reason string) {
	logger.Info("session state transition",
		"component", "sessionmgr",
		"session_id", sessionID,
		"from", from,
		"to", to,
		"reason", reason,
	)
}

// ValidateAndLogTransition validates from→to and logs it if valid, returning
// a *TransitionError otherwise.
func ValidateAndLogTransition(logger *slog.Logger, sessionID string, from, to db.SessionStatus, reason string) error {
	if !CanTransition(from, to) {
		return &TransitionError{SessionID: sessionID, From: from, To: to}
	}
	LogTransition(logger, sessionID, from, to, reason)
	return nil
}
