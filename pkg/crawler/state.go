package crawler

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/queue"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

func toQueueEntries(entries []queue.Entry[*models.Collection]) []*models.QueueEntry {
	out := make([]*models.QueueEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, &models.QueueEntry{Priority: e.Priority, Collection: e.Value.Clone()})
	}
	return out
}

func fromQueueEntries(entries []*models.QueueEntry) []queue.Entry[*models.Collection] {
	out := make([]queue.Entry[*models.Collection], 0, len(entries))
	for _, e := range entries {
		if e == nil || e.Collection == nil {
			continue
		}
		out = append(out, queue.Entry[*models.Collection]{Priority: e.Priority, Value: e.Collection.Clone()})
	}
	return out
}

// GetState captures a resumable snapshot. Workers are paused between
// items while the queues and their in-flight state are copied.
func (c *Coordinator) GetState() *models.Snapshot {
	c.pause.Lock()
	defer c.pause.Unlock()

	urls := c.registry.All()
	snap := &models.Snapshot{
		SessionID:  c.runID,
		Project:    c.cfg.ProjectName,
		SeedIndex:  c.seedIndex,
		TakenAt:    time.Now(),
		URLs:       urls,
		LinkTree:   c.registry.LinkTree(),
		CrawlQueue: toQueueEntries(c.crawlQ.Entries()),
		FetchQueue: toQueueEntries(c.fetchQ.Entries()),
		Saved:      c.ledger.Saved(),
		Failed:     c.ledger.Failed(),
		Deleted:    c.ledger.Deleted(),
		Counters:   c.Counters(),
	}

	c.mu.Lock()
	workers := append([]*Worker(nil), c.workers...)
	restored := c.restored
	c.mu.Unlock()
	for _, w := range workers {
		snap.Workers = append(snap.Workers, w.state())
	}
	if len(workers) == 0 {
		// Restarted but never run: carry the inherited state forward
		snap.Workers = append(snap.Workers, restored...)
	}

	for _, u := range urls {
		if u.Download == models.DownloadDelegated {
			snap.Delegated = append(snap.Delegated, u.Index)
		}
	}
	return snap
}

// SaveState writes the current snapshot to the session store
func (c *Coordinator) SaveState() error {
	if c.sessions == nil {
		return fmt.Errorf("%w: no session store configured", utils.ErrDatabase)
	}
	snap := c.GetState()
	if err := c.sessions.SaveSnapshot(snap); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"session_id":  snap.SessionID,
		"urls":        len(snap.URLs),
		"crawl_queue": len(snap.CrawlQueue),
		"fetch_queue": len(snap.FetchQueue),
		"workers":     len(snap.Workers),
	}).Info("Crawl state saved")
	return nil
}

// Restart loads a snapshot into a coordinator that has not run yet. The
// session keeps its ID; Crawl then continues where the snapshot left off.
func (c *Coordinator) Restart(snap *models.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", utils.ErrNotFound)
	}
	var seed *models.URL
	for i := range snap.URLs {
		if snap.URLs[i].Index == snap.SeedIndex {
			seed = &snap.URLs[i]
			break
		}
	}
	if seed == nil {
		return fmt.Errorf("%w: seed index %d missing from snapshot %s", utils.ErrNotFound, snap.SeedIndex, snap.SessionID)
	}
	if snap.Project != "" && snap.Project != c.cfg.ProjectName {
		c.log.WithFields(logrus.Fields{"snapshot_project": snap.Project, "config_project": c.cfg.ProjectName}).
			Warn("Snapshot was taken for a different project")
	}
	if err := c.setupGate(seed.URL); err != nil {
		return err
	}

	c.registry.Restore(snap.URLs, snap.LinkTree)
	c.crawlQ.Restore(fromQueueEntries(snap.CrawlQueue))
	c.fetchQ.Restore(fromQueueEntries(snap.FetchQueue))
	c.ledger.Restore(snap.Saved, snap.Failed, snap.Deleted)

	c.mu.Lock()
	c.regenerations = snap.Counters.Regenerations
	c.recoveries = snap.Counters.Recoveries
	c.restored = nil
	for _, st := range snap.Workers {
		if st.Role.IsValid() {
			c.restored = append(c.restored, st)
		}
	}
	c.mu.Unlock()

	c.runID = snap.SessionID
	c.seedIndex = snap.SeedIndex
	c.configured = true
	c.resumed = true

	// Workers of a single-threaded run have nowhere to go but the queues
	if c.cfg.SingleThreaded {
		c.requeueRestored()
	}

	c.log.WithFields(logrus.Fields{
		"session_id":  snap.SessionID,
		"urls":        len(snap.URLs),
		"crawl_queue": c.crawlQ.Len(),
		"fetch_queue": c.fetchQ.Len(),
		"workers":     len(c.restored),
		"saved":       len(snap.Saved),
	}).Info("Crawl state restored")
	return nil
}

// requeueRestored moves restored worker state back into the queues. A
// fetch collection whose bodies were already downloaded is fetched again,
// so those downloads are reset first.
func (c *Coordinator) requeueRestored() {
	c.mu.Lock()
	states := c.restored
	c.restored = nil
	c.mu.Unlock()

	for _, st := range states {
		src, dst := c.fetchQ, c.crawlQ
		if st.Role == models.RoleCrawler {
			src, dst = c.crawlQ, c.fetchQ
		}
		for idx := range st.Pending {
			_ = c.registry.Update(idx, func(u *models.URL) {
				u.Download = models.DownloadPending
				u.Parsed = false
			})
		}
		if st.InFlight != nil {
			src.Restore([]queue.Entry[*models.Collection]{{Priority: st.InFlight.Priority, Value: st.InFlight.Clone()}})
		}
		dst.Restore(fromQueueEntries(st.Buffer))
	}
}
