package crawler

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/models"
)

// crawlCollection filters the children discovered on one page and turns the
// survivors into a collection for the fetch queue.
//
// Rules are evaluated first with no side effects. Scheduling marks, the
// output and the in-flight clear are then committed together, so an
// interrupted pass can be redone by a replacement without losing children.
func (w *Worker) crawlCollection(coll *models.Collection) {
	c := w.c
	taskLog := w.log.WithFields(logrus.Fields{"source": coll.Source, "children": len(coll.Children)})

	src, err := c.registry.Lookup(coll.Source)
	if err != nil {
		taskLog.Warnf("Dropping collection: %v", err)
		w.commit(func() { w.inFlight = nil })
		return
	}
	taskLog = taskLog.WithField("url", src.URL)

	if !src.IsSeed() && c.gate.ViolatesRules(w.ctx, src) {
		taskLog.Debug("Source violates rules, dropping its children")
		w.commit(func() { w.inFlight = nil })
		return
	}

	survivors := make([]models.URL, 0, len(coll.Children))
	for _, idx := range coll.Children {
		if w.ctx.Err() != nil {
			return
		}
		child, err := c.registry.Lookup(idx)
		if err != nil {
			taskLog.WithField("child", idx).Debugf("Skipping child: %v", err)
			continue
		}
		if child.Scheduled || c.gate.ViolatesRules(w.ctx, child) {
			continue
		}
		survivors = append(survivors, child)
	}
	if w.ctx.Err() != nil {
		return
	}

	var kept []int
	w.commit(func() {
		minPrio := math.MaxInt
		for _, child := range survivors {
			if !c.registry.MarkScheduled(child.Index) {
				continue
			}
			prio := c.weights.childPriority(src, child)
			_ = c.registry.Update(child.Index, func(u *models.URL) { u.Priority = prio })
			kept = append(kept, child.Index)
			minPrio = min(minPrio, prio)
		}
		if len(kept) > 0 {
			w.bufferLocked(&models.Collection{Priority: minPrio, Source: src.Index, Children: kept})
		}
		w.inFlight = nil
	})

	taskLog.WithFields(logrus.Fields{"surviving": len(survivors), "scheduled": len(kept)}).Debug("Crawled collection")
}
