package rules

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// ContentFilter remembers content hashes of saved pages. A bloom filter
// answers the common "never seen" case; positives are confirmed against an
// exact map so false positives never drop a page.
type ContentFilter struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	owners map[string]int // hash -> first registry index seen with it
}

// NewContentFilter sizes the bloom filter for the expected number of pages
func NewContentFilter(expected uint) *ContentFilter {
	if expected == 0 {
		expected = 100_000
	}
	return &ContentFilter{
		filter: bloom.NewWithEstimates(expected, 0.01),
		owners: make(map[string]int),
	}
}

// SeenBefore records hash for index and reports whether a different index
// already produced the same content. The owning index is returned when true.
// Re-checking the same index (a retry or a resumed download) is not a duplicate.
func (f *ContentFilter) SeenBefore(hash string, index int) (bool, int) {
	key := []byte(hash)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.filter.Test(key) {
		if owner, ok := f.owners[hash]; ok && owner != index {
			return true, owner
		}
	}
	f.filter.Add(key)
	if _, ok := f.owners[hash]; !ok {
		f.owners[hash] = index
	}
	return false, index
}

// Len returns the number of distinct hashes recorded
func (f *ContentFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.owners)
}
