package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by the Get* helpers when no row matches.
var ErrNotFound = errors.New("db: record not found")

// CreateStorageStateRecord inserts a new envelope row.
func (d *DB) CreateStorageStateRecord(ctx context.Context, rec *StorageStateRecord) error {
	_, err := d.bun.NewInsert().Model(rec).Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert storage_state_records: %w", err)
	}
	return nil
}

// ListVerifiedStorageStates returns every verified record for ownerID,
// newest first, so the caller can walk them looking for the most recent one
// that also satisfies a site/TTL filter (spec.md §4.2 latest_verified
// operation: "most recent record satisfying all three filters together",
// not just the single newest verified row).
func (d *DB) ListVerifiedStorageStates(ctx context.Context, ownerID string) ([]*StorageStateRecord, error) {
	var recs []*StorageStateRecord
	err := d.bun.NewSelect().
		Model(&recs).
		Where("owner_id = ?", ownerID).
		Where("status = ?", StorageStateVerified).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select verified storage states: %w", err)
	}
	return recs, nil
}

// ReplaceStorageStateRecord updates an existing record in place (used by
// the replace operation, which overwrites rather than appends a new row).
func (d *DB) ReplaceStorageStateRecord(ctx context.Context, rec *StorageStateRecord) error {
	res, err := d.bun.NewUpdate().
		Model(rec).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update storage_state_records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStorageStateRecord fetches a single record by id.
func (d *DB) GetStorageStateRecord(ctx context.Context, recordID string) (*StorageStateRecord, error) {
	rec := new(StorageStateRecord)
	err := d.bun.NewSelect().Model(rec).Where("record_id = ?", recordID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select storage_state_records: %w", err)
	}
	return rec, nil
}

// CreateSession inserts a new session bookkeeping row.
func (d *DB) CreateSession(ctx context.Context, s *Session) error {
	_, err := d.bun.NewInsert().Model(s).Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert sessions: %w", err)
	}
	return nil
}

// GetSession fetches a session row by id.
func (d *DB) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s := new(Session)
	err := d.bun.NewSelect().Model(s).Where("session_id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	return s, nil
}

// UpdateSessionStatus transitions a session row to a new status, optionally
// recording an error message and end time.
func (d *DB) UpdateSessionStatus(ctx context.Context, s *Session) error {
	_, err := d.bun.NewUpdate().Model(s).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("update sessions: %w", err)
	}
	return nil
}

// ListStaleSessions returns non-terminal sessions whose last update predates
// the cleanup threshold, for the Session Manager's reaper goroutine.
func (d *DB) ListStaleSessions(ctx context.Context, olderThanSeconds int) ([]*Session, error) {
	threshold := time.Now().UTC().Add(-time.Duration(olderThanSeconds) * time.Second)
	var sessions []*Session
	err := d.bun.NewSelect().
		Model(&sessions).
		Where("status NOT IN (?, ?)", SessionStatusEnded, SessionStatusFailed).
		Where("updated_at < ?", threshold).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select stale sessions: %w", err)
	}
	return sessions, nil
}
