// Package registry holds the process-wide table of URL descriptors. The
// registry owns every descriptor; other components refer to URLs by index and
// only ever receive copies.
package registry

import (
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/parse"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

// Registry maps stable integer indices to URL descriptors and normalized URL
// strings to indices. A single coarse mutex guards both maps.
type Registry struct {
	mu       sync.Mutex
	urls     map[int]*models.URL
	byKey    map[string]int
	children map[int][]int // Link tree: parent index -> child indices, in discovery order
	next     int
	log      *logrus.Entry
}

// New creates an empty registry
func New(log *logrus.Entry) *Registry {
	return &Registry{
		urls:     make(map[int]*models.URL),
		byKey:    make(map[string]int),
		children: make(map[int][]int),
		log:      log,
	}
}

// Register assigns the next index to u and stores it. If a descriptor with
// the same normalized form already exists, its index is returned and u is
// discarded. The second return value reports whether u was newly stored.
func (r *Registry) Register(u models.URL) (int, bool) {
	if u.Normalized == "" {
		u.Normalized = u.URL
	}
	if !u.Type.IsValid() {
		u.Type = models.TypeGeneric
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.byKey[u.Normalized]; ok {
		return idx, false
	}
	u.Index = r.next
	r.next++
	stored := u
	r.urls[u.Index] = &stored
	r.byKey[u.Normalized] = u.Index
	return u.Index, true
}

// RegisterLink resolves raw against the parent's URL, normalizes it and
// registers it as a child one generation below the parent. The child is
// recorded in the link tree whether or not it was new.
func (r *Registry) RegisterLink(raw string, typ models.URLType, parentIndex int) (int, bool, error) {
	parent, err := r.Lookup(parentIndex)
	if err != nil {
		return -1, false, err
	}
	base, err := url.Parse(parent.URL)
	if err != nil {
		return -1, false, fmt.Errorf("%w: parent URL %q: %w", utils.ErrParsing, parent.URL, err)
	}
	resolved, err := parse.Resolve(base, raw)
	if err != nil {
		return -1, false, err
	}

	child := models.URL{
		URL:         resolved.String(),
		Normalized:  parse.NormalizeURL(resolved),
		Type:        models.TypeFromPath(resolved.Path, typ),
		Generation:  parent.Generation + 1,
		Priority:    parent.Generation + 1,
		ParentIndex: parentIndex,
	}
	idx, isNew := r.Register(child)

	r.mu.Lock()
	r.children[parentIndex] = append(r.children[parentIndex], idx)
	r.mu.Unlock()

	return idx, isNew, nil
}

// Lookup returns a copy of the descriptor stored at index
func (r *Registry) Lookup(index int) (models.URL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.urls[index]
	if !ok {
		return models.URL{}, fmt.Errorf("%w: url index %d", utils.ErrNotFound, index)
	}
	out := *u
	if u.Range != nil {
		rng := *u.Range
		out.Range = &rng
	}
	return out, nil
}

// LookupKey returns the index registered for a normalized URL string
func (r *Registry) LookupKey(normalized string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byKey[normalized]
	return idx, ok
}

// Update applies fn to the stored descriptor under the registry lock.
// fn must not call back into the registry.
func (r *Registry) Update(index int, fn func(u *models.URL)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.urls[index]
	if !ok {
		return fmt.Errorf("%w: url index %d", utils.ErrNotFound, index)
	}
	fn(u)
	return nil
}

// MarkScheduled claims a URL for fetching. Only the first caller gets true;
// this is the duplicate-URL suppression point for crawlers.
func (r *Registry) MarkScheduled(index int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.urls[index]
	if !ok || u.Scheduled {
		return false
	}
	u.Scheduled = true
	return true
}

// ClaimDownload moves a URL into the downloading state for the given worker
// slot. A URL already downloading under the same slot can be reclaimed, which
// is how a replacement worker resumes its predecessor's interrupted download.
func (r *Registry) ClaimDownload(index, slot int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.urls[index]
	if !ok {
		return false
	}
	switch u.Download {
	case models.DownloadPending:
	case models.DownloadInProgress:
		if u.Owner != slot {
			return false
		}
	default:
		return false
	}
	u.Download = models.DownloadInProgress
	u.Owner = slot
	return true
}

// FinishDownload records the final download state of a URL
func (r *Registry) FinishDownload(index int, state models.DownloadState) {
	_ = r.Update(index, func(u *models.URL) { u.Download = state })
}

// MarkParsed flags a URL whose children have been extracted
func (r *Registry) MarkParsed(index int) {
	_ = r.Update(index, func(u *models.URL) { u.Parsed = true })
}

// IsDownloaded reports whether the URL's download has completed or been
// delegated to the background pool.
func (r *Registry) IsDownloaded(index int) bool {
	u, err := r.Lookup(index)
	if err != nil {
		return false
	}
	return u.Download == models.DownloadDone || u.Download == models.DownloadDelegated
}

// Children returns the link-tree entries discovered on a page
func (r *Registry) Children(parentIndex int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.children[parentIndex]...)
}

// LinkTree returns a copy of the full parent -> children map
func (r *Registry) LinkTree() map[int][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	tree := make(map[int][]int, len(r.children))
	for k, v := range r.children {
		tree[k] = append([]int(nil), v...)
	}
	return tree
}

// Len returns the number of registered URLs
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.urls)
}

// All returns copies of every descriptor ordered by index
func (r *Registry) All() []models.URL {
	r.mu.Lock()
	out := make([]models.URL, 0, len(r.urls))
	for _, u := range r.urls {
		out = append(out, *u)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Restore replaces the registry contents with a snapshot. Indices are kept
// verbatim and the counter continues after the highest restored index.
func (r *Registry) Restore(urls []models.URL, tree map[int][]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.urls = make(map[int]*models.URL, len(urls))
	r.byKey = make(map[string]int, len(urls))
	r.children = make(map[int][]int, len(tree))
	r.next = 0
	for _, u := range urls {
		stored := u
		r.urls[u.Index] = &stored
		r.byKey[u.Normalized] = u.Index
		if u.Index >= r.next {
			r.next = u.Index + 1
		}
	}
	for k, v := range tree {
		r.children[k] = append([]int(nil), v...)
	}
	r.log.WithFields(logrus.Fields{"urls": len(urls), "next_index": r.next}).Info("Registry restored from snapshot")
}
