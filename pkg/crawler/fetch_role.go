package crawler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/fetch"
	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

// committer runs fn if its owner is still allowed to change shared state
type committer func(fn func()) bool

// parseable reports whether content of type t is parsed for children
func parseable(t models.URLType) bool {
	return t.IsWebpage() || t == models.TypeStylesheet
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml")
}

// isPermanentStatus reports HTTP statuses never worth retrying
func isPermanentStatus(status int) bool {
	return status >= 400 && status < 500 &&
		status != http.StatusProxyAuthRequired && status != http.StatusTooManyRequests
}

// fetchCollection downloads the source and children of a collection, then
// parses every downloaded page or stylesheet and emits its children for
// the crawl queue.
//
// Bodies waiting to be parsed are kept in w.pending, so a replacement that
// inherits this collection parses them without downloading them again.
func (w *Worker) fetchCollection(coll *models.Collection) {
	c := w.c
	items := make([]int, 0, 1+len(coll.Children))
	items = append(items, coll.Source)
	items = append(items, coll.Children...)

	for _, idx := range items {
		if w.ctx.Err() != nil {
			return
		}
		if w.hasPending(idx) || c.registry.IsDownloaded(idx) {
			continue
		}
		if !c.registry.ClaimDownload(idx, w.slot) {
			continue
		}
		w.download(idx)
	}

	for _, idx := range items {
		if w.ctx.Err() != nil {
			return
		}
		if w.hasPending(idx) {
			w.parseAndEmit(idx)
		}
	}

	w.commit(func() { w.inFlight = nil })
}

func (w *Worker) hasPending(idx int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[idx]
	return ok
}

// download fetches one claimed URL and records the outcome
func (w *Worker) download(idx int) {
	c := w.c
	u, err := c.registry.Lookup(idx)
	if err != nil {
		w.log.WithField("index", idx).Warnf("Cannot download: %v", err)
		return
	}
	dlLog := w.log.WithFields(logrus.Fields{"url": u.URL, "index": idx, "type": u.Type})

	if c.downloads != nil && c.shouldDelegate(w.ctx, u) {
		w.commit(func() {
			c.registry.FinishDownload(idx, models.DownloadDelegated)
			c.downloads.Submit(u)
		})
		dlLog.Debug("Download handed to background pool")
		return
	}

	req := fetch.Request{URL: u.URL}
	var cached *models.CacheEntry
	var cachedPath string
	if c.cfg.UseCache && c.cache != nil {
		if entry, cerr := c.cache.GetCacheEntry(u); cerr == nil && entry != nil {
			if path, ok := c.localCopyIntact(u, entry); ok {
				cached, cachedPath = entry, path
				req.LastModified = entry.LastModified
				req.ETag = entry.ETag
			} else {
				dlLog.Debug("Local copy missing or changed, fetching unconditionally")
			}
		}
	}

	w.fetchStarted.Store(time.Now().UnixNano())
	resp, fetchErr := c.get(w.ctx, u, req)
	w.fetchStarted.Store(0)
	c.touch()

	if resp == nil {
		if w.ctx.Err() != nil {
			// Claim stays with this slot for whoever inherits the collection
			dlLog.Debugf("Download aborted: %v", fetchErr)
			return
		}
		c.recordFailure(w.commit, u, nil, fetchErr, dlLog)
		return
	}

	switch {
	case resp.Category == fetch.CategoryNotModified:
		var body []byte
		if cached != nil {
			body = cached.Data
		}
		w.commit(func() {
			_ = c.registry.Update(idx, func(r *models.URL) { r.LocalPath = cachedPath })
			c.registry.FinishDownload(idx, models.DownloadDone)
			if parseable(u.Type) && body != nil {
				w.pending[idx] = body
			}
		})
		dlLog.Debug("Not modified since last crawl")

	case resp.Category.Success():
		if u.Type == models.TypeGeneric && isHTML(resp.ContentType) {
			u.Type = models.TypeWebpage
		}
		if resp.Category == fetch.CategoryRedirectResolved {
			dlLog = dlLog.WithField("final_url", resp.FinalURL)
		}
		c.saveContent(w.commit, u, resp, dlLog, func(body []byte) { w.pending[idx] = body })

	default:
		c.recordFailure(w.commit, u, resp, fetchErr, dlLog)
	}
}

// get performs one fetch (with retries) through a pooled connector
func (c *Coordinator) get(ctx context.Context, u models.URL, req fetch.Request) (*fetch.Response, error) {
	conn, err := c.factory.Acquire(ctx, u)
	if err != nil {
		return nil, err
	}
	defer c.factory.Release(conn)
	return c.transport.FetchWithRetry(ctx, conn, req)
}

// localCopyIntact reports whether the file an earlier run saved for u is
// still on disk with the cached content
func (c *Coordinator) localCopyIntact(u models.URL, entry *models.CacheEntry) (string, bool) {
	path, err := c.writer.LocalPath(u)
	if err != nil {
		return "", false
	}
	hash, err := utils.HashFile(path)
	if err != nil || hash != entry.ContentHash {
		return "", false
	}
	return path, true
}

// saveContent applies the content filters and writes an accepted body to
// disk. keep runs inside the commit for parseable content.
func (c *Coordinator) saveContent(commit committer, u models.URL, resp *fetch.Response, log *logrus.Entry, keep func(body []byte)) {
	body := resp.Body
	hash := utils.HashBytes(body)

	if u.Type.IsWebpage() {
		reason := ""
		if c.cfg.DuplicateContentCheck {
			if dup, owner := c.contentFilter.SeenBefore(hash, u.Index); dup {
				reason = "duplicate content"
				log = log.WithField("same_as", owner)
			}
		}
		if reason == "" && c.gate.ApplyWordFilter(body) {
			reason = "word filter"
		}
		if reason != "" {
			commit(func() {
				_ = c.registry.Update(u.Index, func(r *models.URL) {
					r.ContentHash = hash
					r.Type = u.Type
				})
				c.registry.FinishDownload(u.Index, models.DownloadDone)
			})
			log.WithField("reason", reason).Info("Content rejected, not saved")
			return
		}
	}

	// The write happens inside the commit so a file is never on disk
	// without a ledger entry the rollback can find.
	var path string
	var writeErr error
	committed := commit(func() {
		path, writeErr = c.writer.WriteFile(u, body)
		if writeErr != nil {
			return
		}
		_ = c.registry.Update(u.Index, func(r *models.URL) {
			r.Type = u.Type
			r.ContentHash = hash
			r.LocalPath = path
			r.Status = 0
			r.Fatal = false
		})
		c.registry.FinishDownload(u.Index, models.DownloadDone)
		c.ledger.RecordSaved(u, path, len(body))
		if keep != nil && parseable(u.Type) {
			keep(body)
		}
	})
	if !committed {
		return
	}
	if writeErr != nil {
		c.recordFailure(commit, u, nil, writeErr, log)
		return
	}
	c.touch()
	log.WithFields(logrus.Fields{"path": path, "bytes": len(body)}).Debug("Saved")

	if c.cfg.UseCache && c.cache != nil {
		entry := &models.CacheEntry{
			URL:          u.URL,
			LastModified: resp.LastModified,
			ETag:         resp.ETag,
			ContentHash:  hash,
			FetchedAt:    time.Now(),
		}
		if parseable(u.Type) {
			entry.Data = body
		}
		if err := c.cache.UpdateCache(u, entry); err != nil {
			log.Warnf("Cache update failed: %v", err)
		}
	}
}

// recordFailure marks u fatal and adds it to the failed list. Permanent
// failures also go into the suppression filter.
func (c *Coordinator) recordFailure(commit committer, u models.URL, resp *fetch.Response, err error, log *logrus.Entry) {
	status := -1
	if resp != nil && resp.StatusCode != 0 {
		status = resp.StatusCode
	}
	committed := commit(func() {
		_ = c.registry.Update(u.Index, func(r *models.URL) {
			r.Status = status
			r.Fatal = true
		})
		c.registry.FinishDownload(u.Index, models.DownloadDone)
		c.ledger.AddFailed(u.Index)
	})
	if !committed {
		return
	}
	if isPermanentStatus(status) {
		c.gate.Suppress(u)
	}

	fields := logrus.Fields{"status": status, "category": utils.CategorizeError(err)}
	if resp != nil {
		fields["outcome"] = resp.Category.String()
	}
	log.WithFields(fields).Warnf("Download failed: %v", err)
}

// parseAndEmit extracts children from a downloaded body and buffers them as
// a collection for the crawl queue.
func (w *Worker) parseAndEmit(idx int) {
	c := w.c
	w.mu.Lock()
	body := w.pending[idx]
	w.mu.Unlock()

	u, err := c.registry.Lookup(idx)
	if err != nil {
		w.commit(func() { delete(w.pending, idx) })
		return
	}
	parseLog := w.log.WithFields(logrus.Fields{"url": u.URL, "index": idx})

	var children []int
	res, err := c.parser.Parse(body, u)
	switch {
	case err != nil:
		parseLog.WithField("category", utils.CategorizeError(err)).Debugf("Parse failed, no children: %v", err)
	case res.NoFollow && c.cfg.Rules.EffectiveRespectRobots():
		parseLog.Debug("Page asks not to be followed")
	default:
		seen := make(map[int]bool, len(res.Links))
		for _, link := range res.Links {
			child, _, err := c.registry.RegisterLink(link.URL, link.Type, idx)
			if err != nil {
				parseLog.WithField("link", link.URL).Tracef("Skipping link: %v", err)
				continue
			}
			if child == idx || seen[child] {
				continue
			}
			seen[child] = true
			children = append(children, child)
		}
	}

	w.commit(func() {
		if len(children) > 0 {
			w.bufferLocked(&models.Collection{Priority: u.Priority, Source: idx, Children: children})
		}
		c.registry.MarkParsed(idx)
		delete(w.pending, idx)
	})
	parseLog.WithField("children", len(children)).Debug("Parsed")
}
