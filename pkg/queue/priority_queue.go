package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// --- Priority Queue Implementation ---

// entry is one queued payload with its priority
type entry[T any] struct {
	priority int // Lower value means higher priority
	value    T
}

// Entry is an exported view of a queued element, used for snapshots
type Entry[T any] struct {
	Priority int
	Value    T
}

// PriorityQueue is a thread-safe, optionally bounded priority queue. Items are
// kept in a sorted slice using binary insertion, so entries of equal priority
// pop in the order they were pushed.
//
// Push and Pop never block indefinitely: both take a timeout and report
// whether they succeeded, so callers can keep checking their stop flags.
type PriorityQueue[T any] struct {
	mu       sync.Mutex
	items    []entry[T]
	capacity int           // 0 = unbounded
	changed  chan struct{} // Closed and replaced on every state change
	closed   bool
	name     string
	log      *logrus.Entry
}

// NewPriorityQueue creates a queue. capacity <= 0 means unbounded.
func NewPriorityQueue[T any](name string, capacity int, log *logrus.Entry) *PriorityQueue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &PriorityQueue[T]{
		capacity: capacity,
		changed:  make(chan struct{}),
		name:     name,
		log:      log.WithField("queue", name),
	}
}

// broadcastLocked wakes every goroutine waiting on the queue. Caller holds mu.
func (q *PriorityQueue[T]) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// insertLocked places e after every entry with priority <= e.priority
func (q *PriorityQueue[T]) insertLocked(e entry[T]) {
	pos := sort.Search(len(q.items), func(i int) bool { return q.items[i].priority > e.priority })
	q.items = append(q.items, entry[T]{})
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = e
}

// wait blocks until the queue changes or the deadline passes. Returns false
// on timeout.
func wait(ch <-chan struct{}, deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

// Push inserts value with the given priority, waiting up to timeout for room
// when the queue is bounded and full. Returns false if the queue stayed full
// or is closed.
func (q *PriorityQueue[T]) Push(priority int, value T, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			q.log.Debug("Push on closed queue ignored")
			return false
		}
		if q.capacity == 0 || len(q.items) < q.capacity {
			q.insertLocked(entry[T]{priority: priority, value: value})
			q.broadcastLocked()
			q.mu.Unlock()
			return true
		}
		ch := q.changed
		q.mu.Unlock()

		if !wait(ch, deadline) {
			return false
		}
	}
}

// Pop removes and returns the lowest-priority-value entry, waiting up to
// timeout for one to arrive. Returns false on timeout or if the queue is
// closed and empty.
func (q *PriorityQueue[T]) Pop(timeout time.Duration) (T, bool) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = entry[T]{} // Drop the reference for GC
			q.items = q.items[1:]
			q.broadcastLocked()
			q.mu.Unlock()
			return e.value, true
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, false
		}
		ch := q.changed
		q.mu.Unlock()

		if !wait(ch, deadline) {
			var zero T
			return zero, false
		}
	}
}

// Close rejects further pushes and wakes all waiters. Remaining items can
// still be popped.
func (q *PriorityQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.broadcastLocked()
	}
}

// Len returns the current number of queued items
func (q *PriorityQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the bound, 0 if unbounded
func (q *PriorityQueue[T]) Capacity() int {
	return q.capacity
}

// Entries returns the queued items in pop order without removing them
func (q *PriorityQueue[T]) Entries() []Entry[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry[T], len(q.items))
	for i, e := range q.items {
		out[i] = Entry[T]{Priority: e.priority, Value: e.value}
	}
	return out
}

// Drain removes and returns every queued item in pop order
func (q *PriorityQueue[T]) Drain() []Entry[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry[T], len(q.items))
	for i, e := range q.items {
		out[i] = Entry[T]{Priority: e.priority, Value: e.value}
	}
	q.items = nil
	q.broadcastLocked()
	if len(out) > 0 {
		q.log.Debugf("Drained %d item(s)", len(out))
	}
	return out
}

// Restore inserts entries regardless of capacity. Used when rebuilding a
// queue from a snapshot, where refusing items would lose work.
func (q *PriorityQueue[T]) Restore(entries []Entry[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range entries {
		q.insertLocked(entry[T]{priority: e.Priority, value: e.Value})
	}
	q.broadcastLocked()
}
