package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/log"
	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

const (
	cacheKeyPrefix   = "cache:"              // Prefix for cache records, keyed by normalized URL
	sessionKeyPrefix = "session:"            // Prefix for snapshots, keyed by session ID
	latestSessionKey = "meta:latest_session" // Points at the most recent session ID
	stateDBDir       = "state_db"            // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements Store using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached number of cache: records
}

// NewBadgerStore opens (or creates) the state database for a project. With
// reset set, any existing database for the project is removed first.
func NewBadgerStore(ctx context.Context, stateDir, project string, reset bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger.WithField("component", "store")}

	dbPath := filepath.Join(stateDir, utils.SanitizeFilename(project)+"_"+stateDBDir)

	if reset {
		store.log.Warnf("Reset requested. REMOVING existing state directory: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			// Badger may still be able to reuse what is left
			store.log.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	store.log.Infof("Initializing state database at: %s (Reset: %v)", dbPath, reset)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	count, err := store.countKeys(cacheKeyPrefix)
	if err != nil {
		store.log.Warnf("Failed to count existing cache records: %v", err)
	} else {
		store.keyCount.Store(int64(count))
		if count > 0 {
			store.log.Infof("Loaded %d cache records from previous runs", count)
		}
	}

	return store, nil
}

// countKeys scans every key under prefix (used only at open)
func (s *BadgerStore) countKeys(prefix string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent fetchers updating overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// getJSON decodes the value at key into out. found is false on a miss.
func (s *BadgerStore) getJSON(key []byte, out any) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			if errJSON := json.Unmarshal(val, out); errJSON != nil {
				return fmt.Errorf("%w: failed to unmarshal value for key '%s': %w", utils.ErrParsing, string(key), errJSON)
			}
			found = true
			return nil
		})
	})
	return found, err
}

func cacheKey(u models.URL) []byte {
	key := u.Normalized
	if key == "" {
		key = u.URL
	}
	return []byte(cacheKeyPrefix + key)
}

// GetCacheEntry implements CacheStore
func (s *BadgerStore) GetCacheEntry(u models.URL) (*models.CacheEntry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: state database not initialized", utils.ErrDatabase)
	}
	var entry models.CacheEntry
	found, err := s.getJSON(cacheKey(u), &entry)
	if err != nil {
		s.log.WithField("url", u.URL).Warnf("Cache read failed: %v", err)
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &entry, nil
}

// GetLastModifiedAndData implements CacheStore. Read errors count as a miss.
func (s *BadgerStore) GetLastModifiedAndData(u models.URL) (time.Time, []byte, bool) {
	entry, err := s.GetCacheEntry(u)
	if err != nil || entry == nil {
		return time.Time{}, nil, false
	}
	return entry.LastModified, entry.Data, true
}

// UpdateCache implements CacheStore
func (s *BadgerStore) UpdateCache(u models.URL, entry *models.CacheEntry) error {
	if s.db == nil {
		return fmt.Errorf("%w: state database not initialized", utils.ErrDatabase)
	}
	key := cacheKey(u)

	entryBytes, errJSON := json.Marshal(entry)
	if errJSON != nil {
		return fmt.Errorf("%w: failed to marshal cache entry for key '%s': %w", utils.ErrParsing, string(key), errJSON)
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		isNew = errors.Is(errGet, badger.ErrKeyNotFound)
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in UpdateCache: %v", err)
		return fmt.Errorf("%w: failed updating cache for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// SaveSnapshot implements SessionStore
func (s *BadgerStore) SaveSnapshot(snap *models.Snapshot) error {
	if s.db == nil {
		return fmt.Errorf("%w: state database not initialized", utils.ErrDatabase)
	}
	if snap == nil || snap.SessionID == "" {
		return fmt.Errorf("%w: snapshot has no session ID", utils.ErrDatabase)
	}
	data, errJSON := json.Marshal(snap)
	if errJSON != nil {
		return fmt.Errorf("%w: failed to marshal snapshot %s: %w", utils.ErrParsing, snap.SessionID, errJSON)
	}

	err := s.dbUpdate(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(sessionKeyPrefix+snap.SessionID), data); err != nil {
			return err
		}
		return txn.Set([]byte(latestSessionKey), []byte(snap.SessionID))
	})
	if err != nil {
		return fmt.Errorf("%w: failed saving snapshot %s: %w", utils.ErrDatabase, snap.SessionID, err)
	}
	s.log.WithFields(logrus.Fields{
		"session_id": snap.SessionID,
		"urls":       len(snap.URLs),
		"bytes":      len(data),
	}).Info("Snapshot saved")
	return nil
}

// LoadSnapshot implements SessionStore
func (s *BadgerStore) LoadSnapshot(sessionID string) (*models.Snapshot, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: state database not initialized", utils.ErrDatabase)
	}
	var snap models.Snapshot
	found, err := s.getJSON([]byte(sessionKeyPrefix+sessionID), &snap)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: session %s", utils.ErrNotFound, sessionID)
	}
	return &snap, nil
}

// LatestSession implements SessionStore
func (s *BadgerStore) LatestSession() (string, bool, error) {
	if s.db == nil {
		return "", false, fmt.Errorf("%w: state database not initialized", utils.ErrDatabase)
	}
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(latestSessionKey))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		val, errVal := item.ValueCopy(nil)
		id = string(val)
		return errVal
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: reading latest session: %w", utils.ErrDatabase, err)
	}
	return id, id != "", nil
}

// CacheCount implements StoreAdmin. Returns the cached count maintained on writes.
func (s *BadgerStore) CacheCount() int {
	return int(s.keyCount.Load())
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Debug("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			var err error
			// Loop until GC reports nothing left to rewrite
			for {
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing state DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing state DB: %v", err)
			return err
		}
		return nil
	}
	s.log.Debug("State DB already closed or was not initialized.")
	return nil
}
