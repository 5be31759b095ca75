package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/harvest/pkg/models"
)

// CacheStore remembers what was fetched in earlier runs so the fetcher can
// issue conditional requests and skip rewriting unchanged files
type CacheStore interface {
	// GetLastModifiedAndData returns the stored Last-Modified time and the
	// cached body (nil for non-parseable types). found is false on a miss.
	GetLastModifiedAndData(u models.URL) (lastModified time.Time, data []byte, found bool)

	// GetCacheEntry returns the full cache record for u, or nil on a miss
	GetCacheEntry(u models.URL) (*models.CacheEntry, error)

	// UpdateCache stores or replaces the record for u
	UpdateCache(u models.URL, entry *models.CacheEntry) error
}

// SessionStore persists crawl snapshots for restart
type SessionStore interface {
	// SaveSnapshot writes snap under its session ID and marks it as the latest
	SaveSnapshot(snap *models.Snapshot) error

	// LoadSnapshot reads the snapshot saved under sessionID
	LoadSnapshot(sessionID string) (*models.Snapshot, error)

	// LatestSession returns the ID of the most recently saved snapshot.
	// found is false when no snapshot has been saved.
	LatestSession() (sessionID string, found bool, err error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// CacheCount returns the number of cache records
	CacheCount() int

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// Store combines all store interfaces for components that need full access
type Store interface {
	CacheStore
	SessionStore
	StoreAdmin
}

// FileStore writes fetched resources to disk. Implemented by FileWriter.
type FileStore interface {
	// WriteFile stores data for u and returns the path it was written to
	WriteFile(u models.URL, data []byte) (string, error)

	// Remove deletes a previously written file
	Remove(localPath string) error

	// Root returns the directory everything is written under
	Root() string

	// LocalPath returns where WriteFile stores u
	LocalPath(u models.URL) (string, error)
}
