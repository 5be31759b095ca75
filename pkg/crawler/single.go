package crawler

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/queue"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

// runSingle is the single-threaded crawl: one loop doing both roles in
// turn, fetch work first. Queues are unbounded in this mode so pushes
// always succeed. The loop ends when both queues are empty, after one
// retry pass over the failed list if enabled.
func (c *Coordinator) runSingle() {
	w := newWorker(c, c.runCtx, models.RoleFetcher, 0)
	w.log = c.log.WithField("role", "single")
	retried := false

	for {
		if c.runCtx.Err() != nil {
			return
		}
		if idle := c.sinceProgress(); idle > c.cfg.ProjectTimeout {
			c.log.Error("No progress within project timeout, terminating")
			c.terminate("project timeout", staleError(idle))
			return
		}

		if coll, ok := c.fetchQ.Pop(0); ok {
			c.touch()
			c.runSingleStep(w, models.RoleFetcher, coll)
		} else if coll, ok := c.crawlQ.Pop(0); ok {
			c.touch()
			c.runSingleStep(w, models.RoleCrawler, coll)
		} else if c.downloads.Active() > 0 {
			c.downloads.Wait(c.cfg.MonitorInterval)
			continue
		} else if !retried && c.cfg.EffectiveRetryFailed() {
			retried = true
			if !c.retryFailed() {
				return
			}
			continue
		} else {
			c.log.Info("Queues empty, single-threaded crawl complete")
			return
		}

		w.loops.Add(1)
		if !w.sleep() {
			return
		}
	}
}

// runSingleStep handles one collection in role. A fault is recovered and
// the collection is handled once more, picking up what the first attempt
// left in w; a second fault drops it. Buffered results are kept either way.
func (c *Coordinator) runSingleStep(w *Worker, role models.Role, coll *models.Collection) {
	dst := c.crawlQ
	if role == models.RoleCrawler {
		dst = c.fetchQ
	}
	defer w.drainBufferInto(dst)

	for attempt := 1; ; attempt++ {
		fault := w.handleProtected(role, coll)
		if fault == nil {
			return
		}
		faultLog := w.log.WithFields(logrus.Fields{
			"category":  utils.CategorizeError(fault.Err),
			"signature": fault.Signature,
			"attempt":   attempt,
		})
		if c.runCtx.Err() != nil {
			// Left in flight for the snapshot
			faultLog.Warnf("Fault during shutdown: %v", fault.Err)
			return
		}
		if attempt > 1 {
			faultLog.WithFields(logrus.Fields{"stack_trace": fault.Stack, "source": coll.Source}).Errorf("Fault repeated, dropping collection: %v", fault.Err)
			w.mu.Lock()
			w.inFlight = nil
			delete(w.pending, coll.Source)
			for _, idx := range coll.Children {
				delete(w.pending, idx)
			}
			w.mu.Unlock()
			return
		}
		c.mu.Lock()
		c.recoveries++
		c.mu.Unlock()
		faultLog.Warnf("Recovered from fault, handling collection again: %v", fault.Err)
	}
}

// handleProtected runs the role's handler on coll and turns a panic into
// a Fault. w keeps its in-flight state for the next attempt.
func (w *Worker) handleProtected(role models.Role, coll *models.Collection) (fault *Fault) {
	defer func() {
		if r := recover(); r != nil {
			fault = &Fault{
				Worker:    w,
				Err:       fmt.Errorf("%w: %v", utils.ErrWorkerFault, r),
				Signature: faultSignature(r),
				Stack:     string(debug.Stack()),
			}
		}
	}()

	w.mu.Lock()
	w.inFlight = coll
	w.mu.Unlock()
	if role == models.RoleFetcher {
		w.fetchCollection(coll)
	} else {
		w.crawlCollection(coll)
	}
	return nil
}

// drainBufferInto moves every buffered result into q regardless of its
// capacity.
func (w *Worker) drainBufferInto(q *queue.PriorityQueue[*models.Collection]) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buffer) == 0 {
		return
	}
	entries := make([]queue.Entry[*models.Collection], 0, len(w.buffer))
	for _, e := range w.buffer {
		entries = append(entries, queue.Entry[*models.Collection]{Priority: e.Priority, Value: e.Collection})
	}
	w.buffer = nil
	q.Restore(entries)
	w.c.touch()
}
