package crawler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/queue"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

// Fault is sent to the coordinator when a worker loop panics
type Fault struct {
	Worker    *Worker
	Err       error
	Signature string // Repeated signatures for one slot stop resurrection
	Stack     string
}

// Worker is one crawler or fetcher goroutine. The role selects the queue it
// pops from, the queue it pushes to and the handler it runs.
//
// Everything a replacement worker needs (the in-flight collection,
// downloaded-but-unparsed bodies, unpushed results) lives behind mu.
// Handlers publish changes through commit, which refuses once the worker's
// context is cancelled, so a retired worker cannot touch shared state after
// its state has been handed over.
type Worker struct {
	c    *Coordinator
	role models.Role
	slot int // Stable across resurrection; used as the download owner
	log  *logrus.Entry

	status       atomic.Int32
	loops        atomic.Int64
	fetchStarted atomic.Int64 // Unix nanos of the current download, 0 when not downloading
	recovered    atomic.Bool  // Set on replacements until their first completed item

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	inFlight *models.Collection
	pending  map[int][]byte
	buffer   []*models.QueueEntry
}

func newWorker(c *Coordinator, parent context.Context, role models.Role, slot int) *Worker {
	ctx, cancel := context.WithCancel(parent)
	return &Worker{
		c:       c,
		role:    role,
		slot:    slot,
		log:     c.log.WithFields(logrus.Fields{"role": role, "worker_id": slot}),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[int][]byte),
	}
}

// Role returns the worker's role
func (w *Worker) Role() models.Role { return w.role }

// Slot returns the worker's stable slot number
func (w *Worker) Slot() int { return w.slot }

// Status returns the last sampled status
func (w *Worker) Status() models.WorkerStatus { return models.WorkerStatus(w.status.Load()) }

func (w *Worker) setStatus(s models.WorkerStatus) { w.status.Store(int32(s)) }

// HasWork reports whether the worker is processing something or still
// holds results it could not push.
func (w *Worker) HasWork() bool {
	if w.Status() != models.StatusIdle {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer) > 0
}

// downloadingFor returns how long the current download has been running
func (w *Worker) downloadingFor() time.Duration {
	started := w.fetchStarted.Load()
	if started == 0 {
		return 0
	}
	return time.Since(time.Unix(0, started))
}

func (w *Worker) src() *queue.PriorityQueue[*models.Collection] {
	if w.role == models.RoleCrawler {
		return w.c.crawlQ
	}
	return w.c.fetchQ
}

func (w *Worker) dst() *queue.PriorityQueue[*models.Collection] {
	if w.role == models.RoleCrawler {
		return w.c.fetchQ
	}
	return w.c.crawlQ
}

// commit runs fn under the worker lock unless the worker has been retired.
// Returns false when fn was not run.
func (w *Worker) commit(fn func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// bufferLocked queues a result for the next flush. Caller holds mu.
func (w *Worker) bufferLocked(coll *models.Collection) {
	w.buffer = append(w.buffer, &models.QueueEntry{Priority: coll.Priority, Collection: coll})
}

// flushBuffer pushes buffered results to q until one does not fit
func (w *Worker) flushBuffer(q *queue.PriorityQueue[*models.Collection]) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buffer) == 0 {
		return
	}
	prev := w.Status()
	w.setStatus(models.StatusLocked)
	defer w.setStatus(prev)

	for len(w.buffer) > 0 {
		e := w.buffer[0]
		if !queue.PushWithRetry(w.ctx, q, w.c.policy, e.Priority, e.Collection) {
			w.log.WithField("buffered", len(w.buffer)).Debug("Destination queue full, keeping results buffered")
			return
		}
		w.buffer[0] = nil
		w.buffer = w.buffer[1:]
		w.c.touch()
	}
	w.buffer = nil
}

// next returns the inherited in-flight item if there is one, otherwise pops
func (w *Worker) next() *models.Collection {
	w.mu.Lock()
	if w.inFlight != nil {
		coll := w.inFlight
		w.mu.Unlock()
		w.setStatus(models.StatusBusy)
		return coll
	}
	w.mu.Unlock()

	w.c.pause.RLock()
	defer w.c.pause.RUnlock()
	coll, ok := queue.PopWithRetry(w.ctx, w.src(), w.c.policy)
	if !ok || coll == nil {
		return nil
	}
	w.mu.Lock()
	w.inFlight = coll
	w.setStatus(models.StatusBusy)
	w.mu.Unlock()
	w.c.touch()
	return coll
}

// sleep pauses between iterations. Returns false if the worker is stopping.
func (w *Worker) sleep() bool {
	d := w.c.cfg.Politeness.SleepTime
	if d <= 0 {
		return w.ctx.Err() == nil
	}
	if w.c.cfg.Politeness.RandomSleep {
		d = time.Duration(rand.Int64N(int64(2 * d)))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// faultSignature names the class of a panic value, its dynamic type. The
// message is left out since it often carries an index or a URL.
func faultSignature(r any) string {
	return fmt.Sprintf("%T", r)
}

// run is the worker loop: flush buffered results, take an item, handle it,
// sleep. A panic anywhere in the loop is reported to the coordinator as a
// Fault; the worker's state is left untouched so a replacement can inherit it.
func (w *Worker) run(faults chan<- Fault) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			w.log.WithFields(logrus.Fields{
				"panic_info":  r,
				"stage":       "PanicRecovery",
				"stack_trace": stack,
			}).Error("PANIC recovered in worker loop")
			fault := Fault{
				Worker:    w,
				Err:       fmt.Errorf("%w: %v", utils.ErrWorkerFault, r),
				Signature: faultSignature(r),
				Stack:     stack,
			}
			select {
			case faults <- fault:
			case <-w.ctx.Done():
			}
		}
	}()

	w.log.Debug("Worker starting")
	defer w.log.Debug("Worker finished")

	for {
		if w.ctx.Err() != nil {
			return
		}
		w.flushBuffer(w.dst())

		coll := w.next()
		if coll == nil {
			w.setStatus(models.StatusIdle)
			continue
		}

		if w.role == models.RoleCrawler {
			w.crawlCollection(coll)
		} else {
			w.fetchCollection(coll)
		}
		if w.ctx.Err() != nil {
			return
		}

		w.flushBuffer(w.dst())
		w.loops.Add(1)
		if w.recovered.CompareAndSwap(true, false) {
			w.c.clearFault(w.slot)
		}
		if !w.sleep() {
			return
		}
		w.setStatus(models.StatusIdle)
	}
}

// state copies the worker's inheritable state. Taking mu also waits for any
// commit in progress to finish.
func (w *Worker) state() models.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := models.WorkerState{
		Role:     w.role,
		Slot:     w.slot,
		Status:   w.Status().String(),
		Loops:    w.loops.Load(),
		InFlight: w.inFlight.Clone(),
	}
	if len(w.pending) > 0 {
		st.Pending = make(map[int][]byte, len(w.pending))
		for k, v := range w.pending {
			st.Pending[k] = v
		}
	}
	for _, e := range w.buffer {
		st.Buffer = append(st.Buffer, &models.QueueEntry{Priority: e.Priority, Collection: e.Collection.Clone()})
	}
	return st
}

// inherit loads a predecessor's state into a worker that has not started yet
func (w *Worker) inherit(st models.WorkerState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight = st.InFlight.Clone()
	for k, v := range st.Pending {
		w.pending[k] = v
	}
	for _, e := range st.Buffer {
		if e != nil && e.Collection != nil {
			w.buffer = append(w.buffer, &models.QueueEntry{Priority: e.Priority, Collection: e.Collection.Clone()})
		}
	}
	w.loops.Store(st.Loops)
}
