package crawler

import (
	"sync"
	"time"

	"github.com/Sriram-PR/harvest/pkg/models"
)

// Ledger keeps the crawl's bookkeeping lists. Each list has its own lock;
// they change far less often than the queues.
type Ledger struct {
	savedMu sync.Mutex
	saved   []models.SavedFile
	bytes   int64
	byType  map[string]int

	failedMu sync.Mutex
	failed   []int
	inFailed map[int]bool

	deletedMu sync.Mutex
	deleted   []string
}

// NewLedger creates empty lists
func NewLedger() *Ledger {
	return &Ledger{
		byType:   make(map[string]int),
		inFailed: make(map[int]bool),
	}
}

// RecordSaved appends a successful write and returns the new saved count
func (l *Ledger) RecordSaved(u models.URL, path string, size int) int {
	l.savedMu.Lock()
	defer l.savedMu.Unlock()
	l.saved = append(l.saved, models.SavedFile{
		Index:   u.Index,
		URL:     u.URL,
		Type:    u.Type,
		Path:    path,
		Bytes:   size,
		SavedAt: time.Now(),
	})
	l.bytes += int64(size)
	l.byType[u.Type.String()]++
	return len(l.saved)
}

// SavedCount returns the number of files currently counted as saved
func (l *Ledger) SavedCount() int {
	l.savedMu.Lock()
	defer l.savedMu.Unlock()
	return len(l.saved)
}

// Saved returns a copy of the saved list in save order
func (l *Ledger) Saved() []models.SavedFile {
	l.savedMu.Lock()
	defer l.savedMu.Unlock()
	return append([]models.SavedFile(nil), l.saved...)
}

// TrimSaved removes every record beyond limit and returns them newest
// first, which is the order they should be rolled back in.
func (l *Ledger) TrimSaved(limit int) []models.SavedFile {
	l.savedMu.Lock()
	defer l.savedMu.Unlock()
	if limit < 0 || len(l.saved) <= limit {
		return nil
	}
	surplus := l.saved[limit:]
	out := make([]models.SavedFile, 0, len(surplus))
	for i := len(surplus) - 1; i >= 0; i-- {
		f := surplus[i]
		out = append(out, f)
		l.bytes -= int64(f.Bytes)
		l.byType[f.Type.String()]--
	}
	l.saved = l.saved[:limit:limit]
	return out
}

// Stats returns total bytes and per-type counts of the saved list
func (l *Ledger) Stats() (int64, map[string]int) {
	l.savedMu.Lock()
	defer l.savedMu.Unlock()
	byType := make(map[string]int, len(l.byType))
	for k, v := range l.byType {
		byType[k] = v
	}
	return l.bytes, byType
}

// AddFailed records a URL that could not be fetched. Repeats are ignored.
func (l *Ledger) AddFailed(index int) {
	l.failedMu.Lock()
	defer l.failedMu.Unlock()
	if l.inFailed[index] {
		return
	}
	l.inFailed[index] = true
	l.failed = append(l.failed, index)
}

// Failed returns a copy of the failed list
func (l *Ledger) Failed() []int {
	l.failedMu.Lock()
	defer l.failedMu.Unlock()
	return append([]int(nil), l.failed...)
}

// TakeFailed removes the indices accepted by keep from the failed list and
// returns them. Used by the end-of-crawl retry pass.
func (l *Ledger) TakeFailed(keep func(index int) bool) []int {
	l.failedMu.Lock()
	defer l.failedMu.Unlock()
	var taken, rest []int
	for _, idx := range l.failed {
		if keep(idx) {
			taken = append(taken, idx)
			delete(l.inFailed, idx)
		} else {
			rest = append(rest, idx)
		}
	}
	l.failed = rest
	return taken
}

// RecordDeleted notes a file removed by the file-limit rollback
func (l *Ledger) RecordDeleted(path string) {
	l.deletedMu.Lock()
	defer l.deletedMu.Unlock()
	l.deleted = append(l.deleted, path)
}

// Deleted returns a copy of the deleted list
func (l *Ledger) Deleted() []string {
	l.deletedMu.Lock()
	defer l.deletedMu.Unlock()
	return append([]string(nil), l.deleted...)
}

// Restore replaces all lists with snapshot contents
func (l *Ledger) Restore(saved []models.SavedFile, failed []int, deleted []string) {
	l.savedMu.Lock()
	l.saved = append([]models.SavedFile(nil), saved...)
	l.bytes = 0
	l.byType = make(map[string]int)
	for _, f := range saved {
		l.bytes += int64(f.Bytes)
		l.byType[f.Type.String()]++
	}
	l.savedMu.Unlock()

	l.failedMu.Lock()
	l.failed = nil
	l.inFailed = make(map[int]bool, len(failed))
	for _, idx := range failed {
		if !l.inFailed[idx] {
			l.inFailed[idx] = true
			l.failed = append(l.failed, idx)
		}
	}
	l.failedMu.Unlock()

	l.deletedMu.Lock()
	l.deleted = append([]string(nil), deleted...)
	l.deletedMu.Unlock()
}
