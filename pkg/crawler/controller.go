package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

// Controller enforces the project's time and file-count limits. It only
// samples; stopping the crawl goes through the coordinator.
type Controller struct {
	c   *Coordinator
	log *logrus.Entry
}

// NewController creates the limits watchdog for c
func NewController(c *Coordinator) *Controller {
	return &Controller{c: c, log: c.log.WithField("component", "controller")}
}

// Run checks the limits once per monitor interval until ctx ends or a
// limit is hit.
func (ct *Controller) Run(ctx context.Context) {
	if ct.c.cfg.TimeLimit <= 0 && ct.c.cfg.MaxFiles <= 0 {
		return
	}
	ticker := time.NewTicker(ct.c.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ct.check() {
				return
			}
		}
	}
}

// check applies both limits once. Returns true when the crawl was stopped.
func (ct *Controller) check() bool {
	cfg := ct.c.cfg
	if cfg.TimeLimit > 0 {
		if elapsed := time.Since(ct.c.startTime); elapsed > cfg.TimeLimit {
			ct.log.WithField("time_limit", cfg.TimeLimit).Warn("Time limit reached, terminating crawl")
			ct.c.terminate("time limit", fmt.Errorf("%w: time limit %s", utils.ErrLimitReached, cfg.TimeLimit))
			return true
		}
	}
	if cfg.MaxFiles > 0 {
		if saved := ct.c.ledger.SavedCount(); saved >= cfg.MaxFiles {
			ct.log.WithFields(logrus.Fields{"saved": saved, "max_files": cfg.MaxFiles}).Warn("File limit reached, terminating crawl")
			ct.c.terminate("file limit", fmt.Errorf("%w: %d files", utils.ErrLimitReached, cfg.MaxFiles))
			ct.rollback()
			return true
		}
	}
	return false
}

// rollback deletes files saved beyond the file limit, newest first, and
// returns how many were removed. Fetchers still finishing when the limit
// was hit can overshoot, so this runs again after the workers stop.
func (ct *Controller) rollback() int {
	limit := ct.c.cfg.MaxFiles
	if limit <= 0 {
		return 0
	}
	removed := 0
	for _, f := range ct.c.ledger.TrimSaved(limit) {
		if err := ct.c.writer.Remove(f.Path); err != nil {
			ct.log.WithField("path", f.Path).Errorf("Rollback failed to remove file: %v", err)
			continue
		}
		ct.c.ledger.RecordDeleted(f.Path)
		_ = ct.c.registry.Update(f.Index, func(u *models.URL) { u.LocalPath = "" })
		ct.log.WithFields(logrus.Fields{"url": f.URL, "path": f.Path}).Info("Removed file saved beyond the limit")
		removed++
	}
	return removed
}
