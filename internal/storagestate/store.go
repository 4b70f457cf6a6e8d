package storagestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zk1tty/wf-backend/internal/crypto"
	"github.com/zk1tty/wf-backend/internal/db"
)

// ErrNotOwner is returned by Replace when record_id exists but belongs to a
// different owner_id.
var ErrNotOwner = errors.New("storagestate: record does not belong to owner")

// ErrNotFound wraps db.ErrNotFound for callers that only import this package.
var ErrNotFound = db.ErrNotFound

// Store implements C2's save/latest_verified/replace/load_plaintext
// contract (spec.md §4.2) on top of internal/db and internal/crypto.
type Store struct {
	db      *db.DB
	keyring crypto.Keyring
	kid     string
	now     func() time.Time
}

// New constructs a Store. kid is the active signing identity used for new
// envelopes (COOKIE_KID); keyring resolves it (and any still-decryptable
// historical kids) to RSA keys.
func New(database *db.DB, keyring crypto.Keyring, kid string) *Store {
	return &Store{db: database, keyring: keyring, kid: kid, now: time.Now}
}

// Save encrypts plaintext, persists it, runs auto-verification, and returns
// the new record id.
func (s *Store) Save(ctx context.Context, ownerID string, blob *Blob, metadata map[string]string) (string, error) {
	now := s.now().UTC()
	blob.Cookies = FilterExpiredCookies(blob.Cookies, now)

	plaintext, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("marshal storage state blob: %w", err)
	}

	env, err := crypto.Seal(s.keyring, s.kid, plaintext)
	if err != nil {
		return "", fmt.Errorf("seal storage state envelope: %w", err)
	}

	verified := Verify(blob.Cookies, now)
	status := db.StorageStatePending
	if AnyVerified(verified) {
		status = db.StorageStateVerified
	}

	rec := &db.StorageStateRecord{
		RecordID:   uuid.NewString(),
		OwnerID:    ownerID,
		Ciphertext: env.Ciphertext,
		Nonce:      env.Nonce,
		WrappedKey: env.WrappedKey,
		KID:        env.KID,
		Metadata:   db.JSONMap(metadata),
		Status:     status,
		Verified:   db.VerifiedMap(verified),
		CreatedAt:  now,
	}

	if err := s.db.CreateStorageStateRecord(ctx, rec); err != nil {
		return "", fmt.Errorf("persist storage state record: %w", err)
	}

	return rec.RecordID, nil
}

// LatestVerified returns the most recent verified record for ownerID whose
// age is within ttlHours and that verifies for every requested site (if
// any), walking candidates newest-first until one satisfies all three
// filters together (spec.md §4.2) rather than only ever inspecting the
// single newest verified row. It returns ErrNotFound (wrapping
// db.ErrNotFound) when no record qualifies.
func (s *Store) LatestVerified(ctx context.Context, ownerID string, sites []string, ttlHours int) (*db.StorageStateRecord, error) {
	candidates, err := s.db.ListVerifiedStorageStates(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	maxAge := time.Duration(ttlHours) * time.Hour
	now := s.now().UTC()

	for _, rec := range candidates {
		if now.Sub(rec.CreatedAt) > maxAge {
			// candidates are ordered newest-first, so every remaining
			// record is at least this old.
			break
		}

		satisfied := true
		for _, site := range sites {
			if !rec.Verified[site] {
				satisfied = false
				break
			}
		}
		if satisfied {
			return rec, nil
		}
	}

	return nil, db.ErrNotFound
}

// Replace rewrites an existing record's envelope/metadata and re-runs
// verification against the new plaintext, ownership-checked against
// ownerID.
func (s *Store) Replace(ctx context.Context, ownerID, recordID string, blob *Blob, metadata map[string]string) (*db.StorageStateRecord, error) {
	existing, err := s.db.GetStorageStateRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if existing.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	now := s.now().UTC()
	blob.Cookies = FilterExpiredCookies(blob.Cookies, now)

	plaintext, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("marshal storage state blob: %w", err)
	}

	env, err := crypto.Seal(s.keyring, s.kid, plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal storage state envelope: %w", err)
	}

	verified := Verify(blob.Cookies, now)
	status := db.StorageStatePending
	if AnyVerified(verified) {
		status = db.StorageStateVerified
	}

	existing.Ciphertext = env.Ciphertext
	existing.Nonce = env.Nonce
	existing.WrappedKey = env.WrappedKey
	existing.KID = env.KID
	existing.Metadata = db.JSONMap(metadata)
	existing.Status = status
	existing.Verified = db.VerifiedMap(verified)

	if err := s.db.ReplaceStorageStateRecord(ctx, existing); err != nil {
		return nil, fmt.Errorf("persist replaced storage state record: %w", err)
	}

	return existing, nil
}

// LoadPlaintext decrypts a record's envelope via C1 and returns the blob.
func (s *Store) LoadPlaintext(rec *db.StorageStateRecord) (*Blob, error) {
	env := &crypto.Envelope{
		Ciphertext: rec.Ciphertext,
		Nonce:      rec.Nonce,
		WrappedKey: rec.WrappedKey,
		KID:        rec.KID,
	}

	plaintext, err := crypto.Open(s.keyring, env)
	if err != nil {
		return nil, fmt.Errorf("open storage state envelope: %w", err)
	}

	var blob Blob
	if err := json.Unmarshal(plaintext, &blob); err != nil {
		return nil, fmt.Errorf("unmarshal storage state blob: %w", err)
	}

	return &blob, nil
}
