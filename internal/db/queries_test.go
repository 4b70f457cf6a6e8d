package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/zk1tty/wf-backend/internal/db"
	"github.com/zk1tty/wf-backend/internal/db/dbtest"
)

func TestCreateAndGetStorageStateRecord(t *testing.T) {
	ctx := context.Background()
	database := dbtest.NewTestDB(t)

	rec := &db.StorageStateRecord{
		RecordID:   "rec-1",
		OwnerID:    "owner-1",
		Ciphertext: []byte("ciphertext"),
		Nonce:      []byte("nonce"),
		WrappedKey: []byte("wrapped"),
		KID:        "kid-1",
	}

	if err := database.CreateStorageStateRecord(ctx, rec); err != nil {
		t.Fatalf("CreateStorageStateRecord() error = %v", err)
	}

	got, err := database.GetStorageStateRecord(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetStorageStateRecord() error = %v", err)
	}
	if got.Status != db.StorageStatePending {
		t.Errorf("Status = %v, want pending default", got.Status)
	}
	if got.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %v, want owner-1", got.OwnerID)
	}
}

func TestListVerifiedStorageStates_Empty(t *testing.T) {
	ctx := context.Background()
	database := dbtest.NewTestDB(t)

	recs, err := database.ListVerifiedStorageStates(ctx, "no-such-owner")
	if err != nil {
		t.Fatalf("ListVerifiedStorageStates() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("len(recs) = %d, want 0", len(recs))
	}
}

func TestListVerifiedStorageStates_OrderedNewestFirstAndExcludesPending(t *testing.T) {
	ctx := context.Background()
	database := dbtest.NewTestDB(t)

	pending := &db.StorageStateRecord{
		RecordID: "rec-pending", OwnerID: "owner-2",
		Ciphertext: []byte("a"), Nonce: []byte("a"), WrappedKey: []byte("a"), KID: "k",
		Status: db.StorageStatePending,
	}
	older := &db.StorageStateRecord{
		RecordID: "rec-older", OwnerID: "owner-2",
		Ciphertext: []byte("b"), Nonce: []byte("b"), WrappedKey: []byte("b"), KID: "k",
		Status: db.StorageStateVerified,
	}
	newer := &db.StorageStateRecord{
		RecordID: "rec-newer", OwnerID: "owner-2",
		Ciphertext: []byte("c"), Nonce: []byte("c"), WrappedKey: []byte("c"), KID: "k",
		Status: db.StorageStateVerified,
	}

	if err := database.CreateStorageStateRecord(ctx, pending); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if err := database.CreateStorageStateRecord(ctx, older); err != nil {
		t.Fatalf("create older: %v", err)
	}
	if err := database.CreateStorageStateRecord(ctx, newer); err != nil {
		t.Fatalf("create newer: %v", err)
	}

	got, err := database.ListVerifiedStorageStates(ctx, "owner-2")
	if err != nil {
		t.Fatalf("ListVerifiedStorageStates() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].RecordID != "rec-newer" || got[1].RecordID != "rec-older" {
		t.Errorf("order = [%s, %s], want [rec-newer, rec-older]", got[0].RecordID, got[1].RecordID)
	}
}

func TestReplaceStorageStateRecord(t *testing.T) {
	ctx := context.Background()
	database := dbtest.NewTestDB(t)

	rec := &db.StorageStateRecord{
		RecordID: "rec-3", OwnerID: "owner-3",
		Ciphertext: []byte("a"), Nonce: []byte("a"), WrappedKey: []byte("a"), KID: "k",
	}
	if err := database.CreateStorageStateRecord(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec.Ciphertext = []byte("new-ciphertext")
	rec.Status = db.StorageStateVerified
	if err := database.ReplaceStorageStateRecord(ctx, rec); err != nil {
		t.Fatalf("ReplaceStorageStateRecord() error = %v", err)
	}

	got, err := database.GetStorageStateRecord(ctx, "rec-3")
	if err != nil {
		t.Fatalf("get after replace: %v", err)
	}
	if string(got.Ciphertext) != "new-ciphertext" {
		t.Errorf("Ciphertext = %s, want new-ciphertext", got.Ciphertext)
	}
	if got.Status != db.StorageStateVerified {
		t.Errorf("Status = %v, want verified", got.Status)
	}
}

func TestReplaceStorageStateRecord_NotFound(t *testing.T) {
	ctx := context.Background()
	database := dbtest.NewTestDB(t)

	rec := &db.StorageStateRecord{
		RecordID: "does-not-exist", OwnerID: "owner-4",
		Ciphertext: []byte("a"), Nonce: []byte("a"), WrappedKey: []byte("a"), KID: "k",
	}
	err := database.ReplaceStorageStateRecord(ctx, rec)
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestSessionLifecycleRows(t *testing.T) {
	ctx := context.Background()
	database := dbtest.NewTestDB(t)

	s := &db.Session{SessionID: "visual-1", OwnerID: "owner-5"}
	if err := database.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := database.GetSession(ctx, "visual-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Status != db.SessionStatusInit {
		t.Errorf("Status = %v, want init default", got.Status)
	}

	got.Status = db.SessionStatusStreaming
	if err := database.UpdateSessionStatus(ctx, got); err != nil {
		t.Fatalf("UpdateSessionStatus() error = %v", err)
	}

	again, err := database.GetSession(ctx, "visual-1")
	if err != nil {
		t.Fatalf("GetSession() after update error = %v", err)
	}
	if again.Status != db.SessionStatusStreaming {
		t.Errorf("Status = %v, want streaming", again.Status)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	ctx := context.Background()
	database := dbtest.NewTestDB(t)

	_, err := database.GetSession(ctx, "missing")
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
