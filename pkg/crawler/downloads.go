package crawler

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/harvest/pkg/fetch"
	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

const progressReportInterval = 2 * time.Second

// MultipartProgress is shared by every part of one multipart job
type MultipartProgress struct {
	URL      string
	Total    int64
	Parts    int
	received atomic.Int64
	done     atomic.Int32
}

func (m *MultipartProgress) partDone(n int) {
	m.received.Add(int64(n))
	m.done.Add(1)
}

// Received returns the bytes received so far across all parts
func (m *MultipartProgress) Received() int64 { return m.received.Load() }

// PartsDone returns how many parts have completed
func (m *MultipartProgress) PartsDone() int { return int(m.done.Load()) }

// Complete reports whether every byte has arrived
func (m *MultipartProgress) Complete() bool { return m.Received() >= m.Total }

// DownloadPool runs background downloads for resources that are saved but
// never parsed. Jobs run under the pool's own context so a graceful stop can
// wait for them while Kill aborts them without touching the workers.
type DownloadPool struct {
	c   *Coordinator
	sem *semaphore.Weighted

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[int]time.Time // Registry index -> submit time
	wg     sync.WaitGroup

	lastReport atomic.Int64
	log        *logrus.Entry
}

func newDownloadPool(c *Coordinator, threads int) *DownloadPool {
	if threads <= 0 {
		threads = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DownloadPool{
		c:      c,
		sem:    semaphore.NewWeighted(int64(threads)),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[int]time.Time),
		log:    c.log.WithField("component", "download_pool"),
	}
}

// Submit starts a background download of u. A URL already being handled
// is ignored.
func (p *DownloadPool) Submit(u models.URL) {
	p.mu.Lock()
	if _, running := p.jobs[u.Index]; running {
		p.mu.Unlock()
		return
	}
	p.jobs[u.Index] = time.Now()
	ctx := p.ctx
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.jobs, u.Index)
			p.mu.Unlock()
		}()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.c.abandonDelegated(u, p.log)
			return
		}
		defer p.sem.Release(1)
		p.c.runDelegated(ctx, u)
	}()
}

// Active returns the number of submitted jobs not yet finished
func (p *DownloadPool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// Jobs returns the indices of unfinished jobs in ascending order
func (p *DownloadPool) Jobs() []int {
	p.mu.Lock()
	out := make([]int, 0, len(p.jobs))
	for idx := range p.jobs {
		out = append(out, idx)
	}
	p.mu.Unlock()
	sort.Ints(out)
	return out
}

// Kill aborts every running job. Jobs submitted afterwards run normally.
func (p *DownloadPool) Kill() {
	p.mu.Lock()
	n := len(p.jobs)
	p.cancel()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()
	if n > 0 {
		p.log.Warnf("Killed %d background download(s)", n)
	}
}

// Wait blocks until all jobs finish or timeout passes. Returns false on timeout.
func (p *DownloadPool) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *DownloadPool) report(m *MultipartProgress) {
	now := time.Now().UnixNano()
	last := p.lastReport.Load()
	if now-last < int64(progressReportInterval) || !p.lastReport.CompareAndSwap(last, now) {
		return
	}
	p.log.WithFields(logrus.Fields{
		"url":        m.URL,
		"received":   m.Received(),
		"total":      m.Total,
		"parts_done": m.PartsDone(),
		"parts":      m.Parts,
	}).Info("Multipart download progress")
}

// shouldDelegate decides whether u goes to the background pool. Only
// content that is never parsed qualifies.
func (c *Coordinator) shouldDelegate(ctx context.Context, u models.URL) bool {
	if parseable(u.Type) || u.Type == models.TypeGeneric {
		return false
	}
	if c.cfg.Download.UseThreads {
		return true
	}
	_, ok := c.rangeSize(ctx, u)
	return ok
}

// rangeSize probes u and returns its size when a multipart download is
// possible and worthwhile.
func (c *Coordinator) rangeSize(ctx context.Context, u models.URL) (int64, bool) {
	d := c.cfg.Download
	if !d.Multipart || d.NumParts < 2 {
		return 0, false
	}
	conn, err := c.factory.Acquire(ctx, u)
	if err != nil {
		return 0, false
	}
	resp, err := c.transport.Probe(ctx, conn, u.URL)
	c.factory.Release(conn)
	if err != nil || resp == nil || !resp.Category.Success() || !resp.AcceptRanges {
		return 0, false
	}
	if resp.ContentLength < d.MultipartThreshold || resp.ContentLength < int64(d.NumParts) {
		return 0, false
	}
	if d.MaxFileSize > 0 && resp.ContentLength > d.MaxFileSize {
		return 0, false
	}
	return resp.ContentLength, true
}

// downloadMultipart fetches u in NumParts ranged requests and assembles
// the body. Any failed part fails the whole job.
func (c *Coordinator) downloadMultipart(ctx context.Context, u models.URL, size int64) ([]byte, error) {
	parts := c.cfg.Download.NumParts
	progress := &MultipartProgress{URL: u.URL, Total: size, Parts: parts}
	buf := make([]byte, size)
	chunk := size / int64(parts)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < parts; i++ {
		start := int64(i) * chunk
		end := start + chunk - 1
		if i == parts-1 {
			end = size - 1
		}
		g.Go(func() error {
			resp, err := c.get(gctx, u, fetch.Request{URL: u.URL, Range: &models.ByteRange{Start: start, End: end}})
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusPartialContent || int64(len(resp.Body)) != end-start+1 {
				return fmt.Errorf("%w: range %d-%d answered with status %d and %d bytes",
					utils.ErrOtherHTTPError, start, end, resp.StatusCode, len(resp.Body))
			}
			copy(buf[start:end+1], resp.Body)
			progress.partDone(len(resp.Body))
			if c.downloads != nil {
				c.downloads.report(progress)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !progress.Complete() {
		return nil, fmt.Errorf("%w: multipart download of %s incomplete (%d/%d bytes)", utils.ErrResponseBodyRead, u.URL, progress.Received(), size)
	}
	return buf, nil
}

// runDelegated is the body of one background download job
func (c *Coordinator) runDelegated(ctx context.Context, u models.URL) {
	jobLog := c.log.WithFields(logrus.Fields{"url": u.URL, "index": u.Index, "component": "download_pool"})
	commit := func(fn func()) bool {
		if ctx.Err() != nil {
			return false
		}
		fn()
		return true
	}

	if size, ok := c.rangeSize(ctx, u); ok {
		body, err := c.downloadMultipart(ctx, u, size)
		if err == nil {
			c.saveContent(commit, u, &fetch.Response{Category: fetch.CategoryOK, StatusCode: http.StatusOK, Body: body}, jobLog, nil)
			return
		}
		if ctx.Err() != nil {
			c.abandonDelegated(u, jobLog)
			return
		}
		jobLog.Warnf("Multipart download failed, falling back to a single request: %v", err)
	}

	resp, err := c.get(ctx, u, fetch.Request{URL: u.URL})
	switch {
	case ctx.Err() != nil || resp == nil:
		c.abandonDelegated(u, jobLog)
	case resp.Category.Success() && resp.Category != fetch.CategoryNotModified:
		c.saveContent(commit, u, resp, jobLog, nil)
	case resp.Category == fetch.CategoryNotModified:
		c.registry.FinishDownload(u.Index, models.DownloadDone)
	default:
		c.recordFailure(commit, u, resp, err, jobLog)
	}
}

// abandonDelegated handles a job that was cut short. During shutdown the
// URL stays delegated so a restart resubmits it; a kill while the crawl is
// still running counts as a failure.
func (c *Coordinator) abandonDelegated(u models.URL, log *logrus.Entry) {
	if c.runCtx.Err() != nil {
		log.WithField("url", u.URL).Debug("Background download interrupted by shutdown")
		return
	}
	c.recordFailure(func(fn func()) bool { fn(); return true }, u, nil, context.Canceled, log.WithField("url", u.URL))
}
