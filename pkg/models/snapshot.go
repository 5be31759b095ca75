package models

import "time"

// QueueEntry is one serialized queue element. Crawl queue entries and fetch
// queue entries share the shape: both carry a Discovery Collection.
type QueueEntry struct {
	Priority   int         `json:"priority"`
	Collection *Collection `json:"collection"`
}

// WorkerState captures what a worker was holding when the snapshot was taken.
type WorkerState struct {
	Role     Role              `json:"role"`
	Slot     int               `json:"slot"`
	Status   string            `json:"status"`
	Loops    int64             `json:"loops"`
	InFlight *Collection       `json:"in_flight,omitempty"`
	Pending  map[int][]byte    `json:"pending,omitempty"` // Downloaded but not yet parsed bodies
	Buffer   []*QueueEntry     `json:"buffer,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// Counters mirrors the coordinator's bookkeeping totals.
type Counters struct {
	Regenerations int `json:"regenerations"`
	Recoveries    int `json:"recoveries"`
}

// Snapshot is a resumable image of a crawl: registry, both queues, worker
// in-flight state and the bookkeeping lists.
type Snapshot struct {
	SessionID  string        `json:"session_id"`
	Project    string        `json:"project"`
	SeedIndex  int           `json:"seed_index"`
	TakenAt    time.Time     `json:"taken_at"`
	URLs       []URL         `json:"urls"`
	LinkTree   map[int][]int `json:"link_tree,omitempty"`
	CrawlQueue []*QueueEntry `json:"crawl_queue"`
	FetchQueue []*QueueEntry `json:"fetch_queue"`
	Workers    []WorkerState `json:"workers"`
	Saved      []SavedFile   `json:"saved"`
	Failed     []int         `json:"failed"`
	Deleted    []string      `json:"deleted"`
	Delegated  []int         `json:"delegated,omitempty"` // Background download jobs not yet finished
	Counters   Counters      `json:"counters"`
}
