package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// StorageStateStatus is the auto-verification outcome of a persisted
// storage-state record (spec.md §3, §4.2).
type StorageStateStatus string

const (
	StorageStatePending  StorageStateStatus = "pending"
	StorageStateVerified StorageStateStatus = "verified"
	StorageStateRejected StorageStateStatus = "rejected"
)

// StorageStateRecord is the encrypted-envelope row backing C2's
// save/latest_verified/replace operations. Ciphertext, Nonce and
// WrappedKey are the AES-GCM envelope produced by internal/crypto;
// the plaintext blob (cookies + localStorage) never touches this table.
type StorageStateRecord struct {
	bun.BaseModel `bun:"table:storage_state_records,alias:ssr"`

	RecordID   string             `bun:"record_id,pk"`
	OwnerID    string             `bun:"owner_id,notnull"`
	Ciphertext []byte             `bun:"ciphertext,notnull"`
	Nonce      []byte             `bun:"nonce,notnull"`
	WrappedKey []byte             `bun:"wrapped_key,notnull"`
	KID        string             `bun:"kid,notnull"`
	Metadata   JSONMap            `bun:"metadata,notnull,default:'{}'"`
	Status     StorageStateStatus `bun:"status,notnull,default:'pending'"`
	Verified   VerifiedMap        `bun:"verified,notnull,default:'{}'"`
	CreatedAt  time.Time          `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time          `bun:"updated_at,notnull,default:current_timestamp"`
}

var _ bun.BeforeAppendModelHook = (*StorageStateRecord)(nil)

// BeforeAppendModel fills in defaults the same way the teacher's
// Application model does: required fields get a zero-value-safe default
// rather than being left to the database.
func (r *StorageStateRecord) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.InsertQuery:
		if r.Status == "" {
			r.Status = StorageStatePending
		}
		if r.Metadata == nil {
			r.Metadata = JSONMap{}
		}
		if r.Verified == nil {
			r.Verified = VerifiedMap{}
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		r.UpdatedAt = time.Now().UTC()
	case *bun.UpdateQuery:
		r.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// SessionStatus mirrors the C8 state machine of spec.md §4.8.
type SessionStatus string

const (
	SessionStatusInit               SessionStatus = "init"
	SessionStatusLoadingState       SessionStatus = "loading_state"
	SessionStatusBrowserStarting    SessionStatus = "browser_starting"
	SessionStatusRecorderAttaching  SessionStatus = "recorder_attaching"
	SessionStatusStreaming          SessionStatus = "streaming"
	SessionStatusWorkflowRunning    SessionStatus = "workflow_running"
	SessionStatusFinalizing         SessionStatus = "finalizing"
	SessionStatusEnded              SessionStatus = "ended"
	SessionStatusFailed             SessionStatus = "failed"
)

// Session is a workflow run's bookkeeping row: one per visual-streaming
// session, independent of the in-memory Registry (C10) that tracks live
// streamer/browser handles. Rows outlive the in-memory entry so that
// /workflows/visual/{id}/status can answer after the process restarts.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	SessionID string        `bun:"session_id,pk"`
	OwnerID   string        `bun:"owner_id,notnull"`
	Status    SessionStatus `bun:"status,notnull,default:'init'"`
	LastError string        `bun:"last_error"`
	Metadata  JSONMap       `bun:"metadata,notnull,default:'{}'"`
	CreatedAt time.Time     `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time     `bun:"updated_at,notnull,default:current_timestamp"`
	EndedAt   *time.Time    `bun:"ended_at"`
}

var _ bun.BeforeAppendModelHook = (*Session)(nil)

func (s *Session) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.InsertQuery:
		if s.Status == "" {
			s.Status = SessionStatusInit
		}
		if s.Metadata == nil {
			s.Metadata = JSONMap{}
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now().UTC()
		}
		s.UpdatedAt = time.Now().UTC()
	case *bun.UpdateQuery:
		s.UpdatedAt = time.Now().UTC()
	}
	return nil
}
