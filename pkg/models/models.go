package models

import "time"

// ByteRange is an inclusive byte span used for split (multipart) downloads.
type ByteRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"` // Inclusive; -1 means "to the end"
}

// URL is the registry-owned descriptor of one crawl target. Everything
// outside the registry refers to it by Index and works on copies.
type URL struct {
	Index       int           `json:"index"`
	URL         string        `json:"url"`        // Resolved absolute form
	Normalized  string        `json:"normalized"` // Dedup key
	Type        URLType       `json:"type"`
	Generation  int           `json:"generation"`   // BFS depth; child = parent + 1
	Priority    int           `json:"priority"`     // Lower = more urgent
	ParentIndex int           `json:"parent_index"` // -1 for the seed
	Status      int           `json:"status"`       // 0 = fresh/ok, otherwise last HTTP status or -1
	Fatal       bool          `json:"fatal"`        // Permanently abandoned
	Range       *ByteRange    `json:"range,omitempty"`
	ContentHash string        `json:"content_hash,omitempty"`
	Scheduled   bool          `json:"scheduled"` // Claimed by a crawler for fetching
	Download    DownloadState `json:"download,omitempty"`
	Owner       int           `json:"owner"` // Worker slot holding the download claim
	Parsed      bool          `json:"parsed"`
	LocalPath   string        `json:"local_path,omitempty"`
}

// IsSeed reports whether the URL is the crawl root
func (u URL) IsSeed() bool { return u.ParentIndex < 0 }

// Collection is a Discovery Collection: children found on one source page,
// moved as a unit between queues.
type Collection struct {
	Priority int   `json:"priority"`
	Source   int   `json:"source"`
	Children []int `json:"children"`
}

// Clone returns a deep copy, safe to hand to another worker
func (c *Collection) Clone() *Collection {
	if c == nil {
		return nil
	}
	out := &Collection{Priority: c.Priority, Source: c.Source}
	if c.Children != nil {
		out.Children = append([]int(nil), c.Children...)
	}
	return out
}

// CacheEntry is what the cache remembers about a previously fetched URL.
type CacheEntry struct {
	URL          string    `json:"url"`
	LastModified time.Time `json:"last_modified,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	ContentHash  string    `json:"content_hash,omitempty"`
	Data         []byte    `json:"data,omitempty"` // Kept only for parseable content
	FetchedAt    time.Time `json:"fetched_at"`
}

// SavedFile records one successful write, in save order.
type SavedFile struct {
	Index   int       `json:"index"`
	URL     string    `json:"url"`
	Type    URLType   `json:"type,omitempty"`
	Path    string    `json:"path"`
	Bytes   int       `json:"bytes"`
	SavedAt time.Time `json:"saved_at"`
}

// CrawlMetadata is the end-of-crawl report written next to the saved files.
type CrawlMetadata struct {
	SessionID      string         `yaml:"session_id"`
	ProjectName    string         `yaml:"project_name"`
	SeedURL        string         `yaml:"seed_url"`
	CrawlStartTime time.Time      `yaml:"crawl_start_time"`
	CrawlEndTime   time.Time      `yaml:"crawl_end_time"`
	ExitReason     string         `yaml:"exit_reason"`
	URLsRegistered int            `yaml:"urls_registered"`
	FilesSaved     int            `yaml:"files_saved"`
	FilesFailed    int            `yaml:"files_failed"`
	FilesDeleted   int            `yaml:"files_deleted"`
	BytesSaved     int64          `yaml:"bytes_saved"`
	Regenerations  int            `yaml:"regenerations"`
	Recoveries     int            `yaml:"recoveries"`
	ByType         map[string]int `yaml:"saved_by_type,omitempty"`
}
