package queue

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

const shortWait = 20 * time.Millisecond

// --- Basic Operations Tests ---

func TestPriorityQueue_PushAndPop(t *testing.T) {
	q := NewPriorityQueue[string]("test", 0, testLogger())
	if !q.Push(0, "a", shortWait) {
		t.Fatal("Push() on empty unbounded queue failed")
	}
	if q.Len() != 1 {
		t.Errorf("After Push, Len() = %d, want 1", q.Len())
	}
	v, ok := q.Pop(shortWait)
	if !ok || v != "a" {
		t.Errorf("Pop() = (%q, %v), want (\"a\", true)", v, ok)
	}
	if q.Len() != 0 {
		t.Errorf("After Pop, Len() = %d, want 0", q.Len())
	}
}

func TestPriorityQueue_PriorityOrdering(t *testing.T) {
	q := NewPriorityQueue[int]("test", 0, testLogger())
	for _, p := range []int{5, -2, 3, 0, -7, 3, 10} {
		q.Push(p, p, shortWait)
	}
	prev := -1 << 31
	for q.Len() > 0 {
		v, ok := q.Pop(shortWait)
		if !ok {
			t.Fatal("Pop() failed with items queued")
		}
		if v < prev {
			t.Errorf("Pop order not non-decreasing: %d after %d", v, prev)
		}
		prev = v
	}
}

func TestPriorityQueue_PriorityInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	q := NewPriorityQueue[int]("test", 0, testLogger())
	for i := 0; i < 500; i++ {
		p := rng.Intn(50) - 25
		q.Push(p, p, shortWait)
	}
	prev := -1 << 31
	for i := 0; i < 500; i++ {
		v, ok := q.Pop(shortWait)
		if !ok {
			t.Fatalf("Pop() #%d failed", i)
		}
		if v < prev {
			t.Fatalf("priority invariant violated: %d after %d", v, prev)
		}
		prev = v
	}
}

func TestPriorityQueue_StableForEqualPriorities(t *testing.T) {
	q := NewPriorityQueue[string]("test", 0, testLogger())
	q.Push(1, "first", shortWait)
	q.Push(0, "urgent", shortWait)
	q.Push(1, "second", shortWait)
	q.Push(1, "third", shortWait)

	want := []string{"urgent", "first", "second", "third"}
	for i, w := range want {
		got, _ := q.Pop(shortWait)
		if got != w {
			t.Errorf("Pop #%d = %q, want %q", i, got, w)
		}
	}
}

// --- Timeout Tests ---

func TestPriorityQueue_PopTimesOutWhenEmpty(t *testing.T) {
	q := NewPriorityQueue[int]("test", 0, testLogger())
	start := time.Now()
	_, ok := q.Pop(50 * time.Millisecond)
	if ok {
		t.Fatal("Pop() on empty queue returned ok")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Pop() returned after %v, expected to wait ~50ms", elapsed)
	}
}

func TestPriorityQueue_PopWakesOnPush(t *testing.T) {
	q := NewPriorityQueue[int]("test", 0, testLogger())
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(0, 42, shortWait)
	}()
	v, ok := q.Pop(2 * time.Second)
	if !ok || v != 42 {
		t.Errorf("Pop() = (%d, %v), want (42, true)", v, ok)
	}
}

func TestPriorityQueue_BoundedPushTimesOut(t *testing.T) {
	q := NewPriorityQueue[int]("test", 2, testLogger())
	q.Push(0, 1, shortWait)
	q.Push(0, 2, shortWait)

	if q.Push(0, 3, 30*time.Millisecond) {
		t.Fatal("Push() into full bounded queue succeeded")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestPriorityQueue_BoundedPushWakesOnPop(t *testing.T) {
	q := NewPriorityQueue[int]("test", 1, testLogger())
	q.Push(0, 1, shortWait)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Pop(shortWait)
	}()
	if !q.Push(0, 2, 2*time.Second) {
		t.Fatal("Push() did not succeed after room was made")
	}
}

// --- Close Tests ---

func TestPriorityQueue_Close(t *testing.T) {
	q := NewPriorityQueue[int]("test", 0, testLogger())
	q.Push(0, 1, shortWait)
	q.Close()
	q.Close() // Idempotent

	if q.Push(0, 2, shortWait) {
		t.Error("Push() after Close() succeeded")
	}
	if v, ok := q.Pop(shortWait); !ok || v != 1 {
		t.Errorf("remaining item not poppable after Close: (%d, %v)", v, ok)
	}

	start := time.Now()
	if _, ok := q.Pop(time.Second); ok {
		t.Error("Pop() on closed empty queue returned ok")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Pop() on closed empty queue should return immediately")
	}
}

// --- Snapshot Helpers ---

func TestPriorityQueue_EntriesDrainRestore(t *testing.T) {
	q := NewPriorityQueue[string]("test", 2, testLogger())
	q.Push(2, "b", shortWait)
	q.Push(1, "a", shortWait)

	entries := q.Entries()
	if len(entries) != 2 || entries[0].Value != "a" || entries[1].Value != "b" {
		t.Fatalf("Entries() = %+v, want [a b]", entries)
	}
	if q.Len() != 2 {
		t.Error("Entries() must not remove items")
	}

	drained := q.Drain()
	if len(drained) != 2 || q.Len() != 0 {
		t.Fatalf("Drain() = %d items, Len() = %d", len(drained), q.Len())
	}

	// Restore ignores capacity
	q.Restore(append(drained, Entry[string]{Priority: 0, Value: "z"}))
	if q.Len() != 3 {
		t.Errorf("Len() after Restore = %d, want 3", q.Len())
	}
	if v, _ := q.Pop(shortWait); v != "z" {
		t.Errorf("first Pop after Restore = %q, want z", v)
	}
}

// --- Concurrency Tests ---

func TestPriorityQueue_ConcurrentPushPop(t *testing.T) {
	q := NewPriorityQueue[int]("test", 8, testLogger())
	const producers, perProducer = 4, 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.Push(i%5, base*perProducer+i, shortWait) {
				}
			}
		}(p)
	}

	seen := make(map[int]bool)
	var mu sync.Mutex
	var consumers sync.WaitGroup
	for c := 0; c < 3; c++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				v, ok := q.Pop(100 * time.Millisecond)
				if !ok {
					return
				}
				mu.Lock()
				if seen[v] {
					t.Errorf("value %d popped twice", v)
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	consumers.Wait()
	if len(seen) != producers*perProducer {
		t.Errorf("popped %d distinct values, want %d", len(seen), producers*perProducer)
	}
}

// --- Retry Helper Tests ---

func TestPushWithRetry_GivesUpWhenFull(t *testing.T) {
	q := NewPriorityQueue[int]("test", 1, testLogger())
	q.Push(0, 1, shortWait)
	policy := RetryPolicy{RetryTimeout: 10 * time.Millisecond, MaxRetries: 3}

	start := time.Now()
	if PushWithRetry(context.Background(), q, policy, 0, 2) {
		t.Fatal("PushWithRetry() succeeded on a full queue")
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("PushWithRetry() returned after %v, expected ~3 attempts of 10ms", elapsed)
	}
}

func TestPopWithRetry_StopsOnCancel(t *testing.T) {
	q := NewPriorityQueue[int]("test", 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{RetryTimeout: time.Second, MaxRetries: 5}
	start := time.Now()
	if _, ok := PopWithRetry(ctx, q, policy); ok {
		t.Fatal("PopWithRetry() returned ok on empty queue")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("PopWithRetry() should return promptly once ctx is cancelled")
	}
}

func TestPopWithRetry_Succeeds(t *testing.T) {
	q := NewPriorityQueue[int]("test", 0, testLogger())
	go func() {
		time.Sleep(30 * time.Millisecond)
		q.Push(0, 9, shortWait)
	}()
	v, ok := PopWithRetry(context.Background(), q, RetryPolicy{RetryTimeout: 20 * time.Millisecond, MaxRetries: 10})
	if !ok || v != 9 {
		t.Errorf("PopWithRetry() = (%d, %v), want (9, true)", v, ok)
	}
}
