package storagestate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Source identifies which tier of the priority loader produced a blob, for
// logging ("log which source provided it" — spec.md §4.2).
type Source string

const (
	SourceDatabase    Source = "database"
	SourcePerUserFile Source = "per_user_file"
	SourceEnvBlob     Source = "env_blob"
	SourceSharedFile  Source = "shared_file"
)

// LoaderConfig carries the three filesystem/env fallbacks a PriorityLoader
// consults after the database, grounded on the teacher's secrets.Provider
// multi-backend chain (database → per-user file → env → shared file).
type LoaderConfig struct {
	FileDir    string // per-user plaintext file fallback directory
	SharedFile string // shared root file, last resort
	EnvBlob    string // raw plaintext JSON blob from STORAGE_STATE_ENV_BLOB
}

// PriorityLoader implements the Session Manager's pre-run lookup chain from
// spec.md §4.2: database (latest_verified) → per-user file → environment
// blob → shared file. Any retrieval error at a tier is logged and the chain
// falls through to the next tier; total failure returns (nil, "", nil) so
// the workflow proceeds unauthenticated rather than aborting.
type PriorityLoader struct {
	store  *Store
	config LoaderConfig
	logger *slog.Logger
}

func NewPriorityLoader(store *Store, config LoaderConfig, logger *slog.Logger) *PriorityLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriorityLoader{store: store, config: config, logger: logger}
}

// Load returns the first available storage-state blob for ownerID across
// the priority chain, or (nil, "", nil) if none is available.
func (l *PriorityLoader) Load(ctx context.Context, ownerID string, sites []string, ttlHours int) (*Blob, Source, error) {
	if rec, err := l.store.LatestVerified(ctx, ownerID, sites, ttlHours); err == nil {
		blob, derr := l.store.LoadPlaintext(rec)
		if derr == nil {
			l.logger.Info("storage state loaded", "component", "storagestate", "owner_id", ownerID, "source", SourceDatabase)
			return blob, SourceDatabase, nil
		}
		l.logger.Warn("storage state decrypt failed, falling through", "component", "storagestate", "owner_id", ownerID, "error", derr)
	} else if err != ErrNotFound {
		l.logger.Warn("storage state database lookup failed, falling through", "component", "storagestate", "owner_id", ownerID, "error", err)
	}

	if l.config.FileDir != "" {
		if blob, err := l.loadFile(filepath.Join(l.config.FileDir, ownerID+".json")); err == nil {
			l.logger.Info("storage state loaded", "component", "storagestate", "owner_id", ownerID, "source", SourcePerUserFile)
			return blob, SourcePerUserFile, nil
		} else if !os.IsNotExist(err) {
			l.logger.Warn("storage state per-user file read failed, falling through", "component", "storagestate", "owner_id", ownerID, "error", err)
		}
	}

	if l.config.EnvBlob != "" {
		var blob Blob
		if err := json.Unmarshal([]byte(l.config.EnvBlob), &blob); err == nil {
			l.logger.Info("storage state loaded", "component", "storagestate", "owner_id", ownerID, "source", SourceEnvBlob)
			return &blob, SourceEnvBlob, nil
		} else {
			l.logger.Warn("storage state env blob parse failed, falling through", "component", "storagestate", "owner_id", ownerID, "error", err)
		}
	}

	if l.config.SharedFile != "" {
		if blob, err := l.loadFile(l.config.SharedFile); err == nil {
			l.logger.Info("storage state loaded", "component", "storagestate", "owner_id", ownerID, "source", SourceSharedFile)
			return blob, SourceSharedFile, nil
		} else if !os.IsNotExist(err) {
			l.logger.Warn("storage state shared file read failed", "component", "storagestate", "owner_id", ownerID, "error", err)
		}
	}

	l.logger.Warn("no storage state available from any source, proceeding unauthenticated", "component", "storagestate", "owner_id", ownerID)
	return nil, "", nil
}

func (l *PriorityLoader) loadFile(path string) (*Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &blob, nil
}
