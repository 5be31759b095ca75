package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/harvest/pkg/config"
	"github.com/Sriram-PR/harvest/pkg/fetch"
	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/parse"
	"github.com/Sriram-PR/harvest/pkg/queue"
	"github.com/Sriram-PR/harvest/pkg/registry"
	"github.com/Sriram-PR/harvest/pkg/rules"
	"github.com/Sriram-PR/harvest/pkg/sitemap"
	"github.com/Sriram-PR/harvest/pkg/storage"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

const (
	workerJoinTimeout      = 10 * time.Second
	hostGateEvictInterval  = 5 * time.Minute
	progressReportPeriod   = 30 * time.Second
	defaultExpectedContent = 100_000
)

// Options carries the collaborators a Coordinator can be given. Nil fields
// get defaults built from the config.
type Options struct {
	Registry *registry.Registry
	Client   *http.Client
	Parser   parse.Parser
	Cache    storage.CacheStore   // Nil disables conditional requests
	Sessions storage.SessionStore // Nil makes SaveState fail
	Writer   storage.FileStore
}

// Coordinator owns one crawl: the registry, both work queues, the worker
// pool and the watchdogs that decide when the crawl is over.
type Coordinator struct {
	cfg   *config.AppConfig
	log   *logrus.Entry
	runID string

	registry *registry.Registry
	crawlQ   *queue.PriorityQueue[*models.Collection]
	fetchQ   *queue.PriorityQueue[*models.Collection]
	policy   queue.RetryPolicy
	weights  *priorityWeights

	factory       *fetch.ConnectionFactory
	transport     *fetch.Transport
	hostGate      *fetch.HostGate
	robots        *fetch.RobotsHandler
	gate          *rules.Gate
	contentFilter *rules.ContentFilter
	parser        parse.Parser
	sitemaps      *sitemap.Discoverer

	cache      storage.CacheStore
	sessions   storage.SessionStore
	writer     storage.FileStore
	ledger     *Ledger
	downloads  *DownloadPool
	controller *Controller

	seedIndex  int
	seedURL    string
	configured bool
	resumed    bool
	restored   []models.WorkerState

	mu            sync.Mutex
	workers       []*Worker
	retired       []*Worker
	lastFault     map[int]string // Slot -> signature of its last fault
	regenerations int
	recoveries    int
	blockedSince  time.Time

	faults       chan Fault
	lastProgress atomic.Int64
	pause        sync.RWMutex

	runCtx    context.Context
	cancelRun context.CancelFunc
	forced    atomic.Bool
	stopOnce  sync.Once
	watchdogs *errgroup.Group

	exitMu     sync.Mutex
	exitReason string
	exitErr    error

	startTime time.Time
	endTime   time.Time
}

// New builds a coordinator from a validated config
func New(cfg *config.AppConfig, opts Options, log *logrus.Entry) *Coordinator {
	coordLog := log.WithField("project", cfg.ProjectName)

	reg := opts.Registry
	if reg == nil {
		reg = registry.New(coordLog.WithField("component", "registry"))
	}
	client := opts.Client
	if client == nil {
		client = fetch.NewClient(cfg.HTTPClientSettings, coordLog)
	}
	parser := opts.Parser
	if parser == nil {
		parser = parse.NewContentParser(coordLog.WithField("component", "parser"))
	}
	writer := opts.Writer
	if writer == nil {
		writer = storage.NewFileWriter(filepath.Join(cfg.OutputBaseDir, utils.SanitizeFilename(cfg.ProjectName)), coordLog)
	}

	capacity := cfg.QueueCapacity()
	factory := fetch.NewConnectionFactory(cfg.MaxConnections, client, coordLog)
	hostGate := fetch.NewHostGate(cfg.Politeness.MaxRequestsPerHost, coordLog)
	pacer := fetch.NewHostPacer(cfg.Politeness.DelayPerHost, cfg.Politeness.RequestsPerWindow, cfg.Politeness.Window, coordLog)
	transport := fetch.NewTransport(cfg, hostGate, pacer, coordLog)

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:      cfg,
		log:      coordLog,
		runID:    uuid.NewString(),
		registry: reg,
		crawlQ:   queue.NewPriorityQueue[*models.Collection]("crawl", capacity, coordLog),
		fetchQ:   queue.NewPriorityQueue[*models.Collection]("fetch", capacity, coordLog),
		policy: queue.RetryPolicy{
			RetryTimeout: cfg.Queue.RetryTimeout,
			MaxRetries:   cfg.Queue.MaxRetries,
			PollInterval: cfg.Queue.PollInterval,
		},
		weights:       newPriorityWeights(cfg.ExtensionPriorities, cfg.ServerPriorities),
		factory:       factory,
		transport:     transport,
		hostGate:      hostGate,
		robots:        fetch.NewRobotsHandler(factory, transport, cfg.UserAgent, coordLog),
		contentFilter: rules.NewContentFilter(defaultExpectedContent),
		parser:        parser,
		cache:         opts.Cache,
		sessions:      opts.Sessions,
		writer:        writer,
		ledger:        NewLedger(),
		seedIndex:     -1,
		lastFault:     make(map[int]string),
		faults:        make(chan Fault, cfg.NumWorkers()+1),
		runCtx:        runCtx,
		cancelRun:     cancel,
	}
	c.sitemaps = sitemap.NewDiscoverer(factory, transport, c.robots, cfg.MaxSitemaps, coordLog)
	c.downloads = newDownloadPool(c, cfg.Download.Threads)
	c.controller = NewController(c)
	return c
}

// Registry exposes the URL registry, mainly for reporting and tests
func (c *Coordinator) Registry() *registry.Registry { return c.registry }

// Ledger exposes the saved/failed/deleted bookkeeping
func (c *Coordinator) Ledger() *Ledger { return c.ledger }

// SessionID identifies this crawl in the session store
func (c *Coordinator) SessionID() string { return c.runID }

// Counters returns regeneration and recovery totals
func (c *Coordinator) Counters() models.Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.Counters{Regenerations: c.regenerations, Recoveries: c.recoveries}
}

// ExitReason describes why the crawl ended. Empty while running.
func (c *Coordinator) ExitReason() string {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()
	return c.exitReason
}

func (c *Coordinator) exitError() error {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()
	return c.exitErr
}

func (c *Coordinator) touch() { c.lastProgress.Store(time.Now().UnixNano()) }

func (c *Coordinator) sinceProgress() time.Duration {
	return time.Since(time.Unix(0, c.lastProgress.Load()))
}

// setupGate builds the rules gate for a crawl rooted at seed
func (c *Coordinator) setupGate(seedURL string) error {
	_, parsed, err := parse.ParseAndNormalize(seedURL)
	if err != nil {
		return err
	}
	gate, err := rules.NewGate(c.cfg.Rules, parsed, c.robots, c.log)
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrConfigValidation, err)
	}
	c.gate = gate
	c.seedURL = parsed.String()
	return nil
}

// Configure registers the seed URL and prepares the rules gate. Returns
// false when the seed cannot be used.
func (c *Coordinator) Configure(seedURL string) bool {
	norm, parsed, err := parse.ParseAndNormalize(seedURL)
	if err != nil {
		c.log.WithField("seed_url", seedURL).Errorf("Invalid seed URL: %v", err)
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		c.log.WithField("seed_url", seedURL).Errorf("Unsupported seed URL scheme %q", parsed.Scheme)
		return false
	}
	if err := c.setupGate(seedURL); err != nil {
		c.log.Errorf("Failed to build rules gate: %v", err)
		return false
	}

	idx, _ := c.registry.Register(models.URL{
		URL:         parsed.String(),
		Normalized:  norm,
		Type:        models.TypeFromPath(parsed.Path, models.TypeWebpage),
		ParentIndex: -1,
	})
	c.registry.MarkScheduled(idx)
	c.seedIndex = idx
	c.configured = true
	c.log.WithFields(logrus.Fields{"seed_url": c.seedURL, "index": idx, "session_id": c.runID}).Info("Coordinator configured")
	return true
}

// Crawl runs the crawl to completion or termination and writes the report.
// Returns ErrStale or ErrLimitReached (wrapped) when the crawl was cut
// short, nil on natural completion or an external TerminateThreads.
func (c *Coordinator) Crawl() error {
	if !c.configured {
		return fmt.Errorf("%w: Configure or Restart must be called before Crawl", utils.ErrConfigValidation)
	}
	c.startTime = time.Now()
	c.touch()
	runLog := c.log.WithFields(logrus.Fields{"session_id": c.runID, "resume": c.resumed})

	if c.resumed {
		for _, u := range c.registry.All() {
			if u.Download == models.DownloadDelegated {
				c.downloads.Submit(u)
			}
		}
	} else {
		c.fetchQ.Restore([]queue.Entry[*models.Collection]{{Priority: 0, Value: &models.Collection{Source: c.seedIndex}}})
		if c.cfg.UseSitemap {
			c.seedFromSitemaps()
		}
	}

	c.startWatchdogs()
	if c.cfg.SingleThreaded {
		runLog.Info("Crawl starting in single-threaded mode")
		c.runSingle()
	} else {
		runLog.Infof("Crawl starting with %d crawler(s) and %d fetcher(s)", c.cfg.NumCrawlers, c.cfg.NumFetchers)
		c.startWorkers()
		c.mainloop()
		if c.runCtx.Err() == nil && c.cfg.EffectiveRetryFailed() && c.retryFailed() {
			c.mainloop()
		}
	}

	c.exitMu.Lock()
	if c.exitReason == "" {
		c.exitReason = "completed"
	}
	c.exitMu.Unlock()

	c.StopThreads(c.forced.Load())
	if n := c.controller.rollback(); n > 0 {
		runLog.Warnf("Removed %d file(s) saved beyond the file limit", n)
	}
	c.endTime = time.Now()

	if err := c.WriteReport(); err != nil {
		runLog.Errorf("Failed to write crawl report: %v", err)
	}

	bytes, _ := c.ledger.Stats()
	summaryLog := runLog.WithField("reason", c.ExitReason())
	summaryLog.Info("========================================================================")
	summaryLog.Info("CRAWL FINISHED")
	summaryLog.Infof("Duration:         %v", c.endTime.Sub(c.startTime))
	summaryLog.Infof("Final Stats: URLs: %d, Saved: %d (%d bytes), Failed: %d, Deleted: %d",
		c.registry.Len(), c.ledger.SavedCount(), bytes, len(c.ledger.Failed()), len(c.ledger.Deleted()))
	summaryLog.Info("========================================================================")

	return c.exitError()
}

// seedFromSitemaps registers the pages listed in the seed host's sitemaps
// as children of the seed and queues them for the crawlers, which apply the
// usual rules.
func (c *Coordinator) seedFromSitemaps() {
	seed, err := c.registry.Lookup(c.seedIndex)
	if err != nil {
		return
	}
	parsed, err := url.Parse(seed.URL)
	if err != nil {
		return
	}

	var children []int
	seen := make(map[int]bool)
	for _, page := range c.sitemaps.Discover(c.runCtx, parsed) {
		idx, _, err := c.registry.RegisterLink(page, models.TypeAnchor, c.seedIndex)
		if err != nil || idx == c.seedIndex || seen[idx] {
			continue
		}
		seen[idx] = true
		children = append(children, idx)
	}
	if len(children) == 0 {
		return
	}
	c.crawlQ.Restore([]queue.Entry[*models.Collection]{{
		Priority: seed.Generation,
		Value:    &models.Collection{Priority: seed.Generation, Source: c.seedIndex, Children: children},
	}})
	c.log.WithField("children", len(children)).Info("Seeded crawl queue from sitemaps")
}

// startWorkers recreates the workers of a restored session, then spawns
// fresh ones with alternating roles up to the configured counts.
func (c *Coordinator) startWorkers() {
	c.mu.Lock()
	defer c.mu.Unlock()

	crawlers, fetchers := c.cfg.NumCrawlers, c.cfg.NumFetchers
	used := make(map[int]bool)
	for _, st := range c.restored {
		w := newWorker(c, c.runCtx, st.Role, st.Slot)
		w.inherit(st)
		c.workers = append(c.workers, w)
		used[st.Slot] = true
		if st.Role == models.RoleCrawler {
			crawlers--
		} else {
			fetchers--
		}
	}
	c.restored = nil

	// Fill up to the configured pool size, skipping slots already restored
	for slot := 1; crawlers > 0 || fetchers > 0; slot++ {
		if used[slot] {
			continue
		}
		role := models.RoleFetcher
		if (slot%2 == 1 && crawlers > 0) || fetchers <= 0 {
			role = models.RoleCrawler
			crawlers--
		} else {
			fetchers--
		}
		c.workers = append(c.workers, newWorker(c, c.runCtx, role, slot))
	}
	for _, w := range c.workers {
		go w.run(c.faults)
	}
}

func (c *Coordinator) startWatchdogs() {
	g, gctx := errgroup.WithContext(c.runCtx)
	g.Go(func() error {
		c.controller.Run(gctx)
		return nil
	})
	g.Go(func() error {
		c.hostGate.RunEviction(gctx, hostGateEvictInterval)
		return nil
	})
	c.watchdogs = g
}

// mainloop polls for quiescence and staleness and handles worker faults.
// Returns once the exit condition held on enough consecutive polls or the
// crawl was terminated.
func (c *Coordinator) mainloop() {
	ticker := time.NewTicker(c.cfg.MonitorInterval)
	defer ticker.Stop()
	lastReport := time.Now()
	confirmations := 0

	for {
		select {
		case <-c.runCtx.Done():
			return
		case f := <-c.faults:
			c.handleFault(f)
			confirmations = 0
		case <-ticker.C:
			if c.isExitCondition() {
				confirmations++
				if confirmations >= c.cfg.ExitConfirmations {
					c.log.Info("All workers idle and queues empty, crawl complete")
					return
				}
			} else {
				confirmations = 0
			}
			if time.Since(lastReport) >= progressReportPeriod {
				c.reportProgress()
				lastReport = time.Now()
			}
		}
	}
}

func (c *Coordinator) reportProgress() {
	c.log.WithFields(logrus.Fields{
		"urls":           c.registry.Len(),
		"crawl_queue":    c.crawlQ.Len(),
		"fetch_queue":    c.fetchQ.Len(),
		"saved":          c.ledger.SavedCount(),
		"failed":         len(c.ledger.Failed()),
		"connections":    c.factory.Active(),
		"downloads":      c.downloads.Active(),
		"since_progress": c.sinceProgress().Round(time.Millisecond).String(),
	}).Info("Crawl Progress")
}

// blockedRoles reports, per role, whether every worker of that role is
// without work.
func (c *Coordinator) blockedRoles() (crawlersBlocked, fetchersBlocked bool) {
	c.mu.Lock()
	workers := append([]*Worker(nil), c.workers...)
	c.mu.Unlock()

	crawlersBlocked, fetchersBlocked = true, true
	for _, w := range workers {
		if !w.HasWork() {
			continue
		}
		if w.role == models.RoleCrawler {
			crawlersBlocked = false
		} else {
			fetchersBlocked = false
		}
	}
	return crawlersBlocked, fetchersBlocked
}

// isExitCondition samples the pool once. Besides answering whether the
// crawl is quiescent it applies the staleness, download-kill and
// stuck-fetcher policies.
func (c *Coordinator) isExitCondition() bool {
	if idle := c.sinceProgress(); idle > c.cfg.ProjectTimeout {
		c.log.WithField("idle", idle.Round(time.Millisecond).String()).Error("No progress within project timeout, terminating")
		c.terminate("project timeout", staleError(idle))
		return false
	}

	crawlersBlocked, fetchersBlocked := c.blockedRoles()
	queuesEmpty := c.crawlQ.Len() == 0 && c.fetchQ.Len() == 0

	if crawlersBlocked && fetchersBlocked && queuesEmpty {
		active := c.downloads.Active()
		if active == 0 {
			c.blockedSince = time.Time{}
			return true
		}
		if c.blockedSince.IsZero() {
			c.blockedSince = time.Now()
		} else if time.Since(c.blockedSince) > c.cfg.FetcherTimeout {
			c.log.WithField("downloads", active).Warn("Workers idle but background downloads still running, killing them")
			c.downloads.Kill()
			c.blockedSince = time.Time{}
		}
		return false
	}
	c.blockedSince = time.Time{}

	if crawlersBlocked && !fetchersBlocked {
		c.manageBlockingFetchers()
	}
	return false
}

func staleError(idle time.Duration) error {
	return fmt.Errorf("%w: no progress for %s", utils.ErrStale, idle.Round(time.Millisecond))
}

// manageBlockingFetchers evicts the fetcher that has been downloading the
// longest, if that exceeds the fetcher timeout.
func (c *Coordinator) manageBlockingFetchers() {
	c.mu.Lock()
	var stuck *Worker
	var longest time.Duration
	for _, w := range c.workers {
		if w.role != models.RoleFetcher {
			continue
		}
		if d := w.downloadingFor(); d > c.cfg.FetcherTimeout && d > longest {
			stuck, longest = w, d
		}
	}
	c.mu.Unlock()

	if stuck != nil {
		c.evict(stuck, longest)
	}
}

// evict retires a hung fetcher and starts a replacement that inherits its
// collection. Past the regeneration budget the crawl is terminated instead.
func (c *Coordinator) evict(w *Worker, downloading time.Duration) {
	evictLog := w.log.WithField("downloading_for", downloading.Round(time.Millisecond).String())

	c.mu.Lock()
	if c.regenerations >= c.cfg.MaxRegenerations {
		c.mu.Unlock()
		evictLog.WithField("max_regenerations", c.cfg.MaxRegenerations).Error("Fetcher stuck and regeneration budget spent, terminating")
		c.terminate("stuck fetcher", fmt.Errorf("%w: fetcher %d stuck for %s", utils.ErrStale, w.slot, downloading.Round(time.Millisecond)))
		return
	}
	c.regenerations++
	n := c.regenerations
	c.mu.Unlock()

	w.cancel()
	st := w.state()
	c.replace(w, st)
	evictLog.WithField("regenerations", n).Warn("Fetcher stuck, regenerated")
}

// replace swaps old for a fresh worker of the same role and slot that
// starts from st.
func (c *Coordinator) replace(old *Worker, st models.WorkerState) *Worker {
	nw := newWorker(c, c.runCtx, old.role, old.slot)
	nw.inherit(st)

	c.mu.Lock()
	for i, w := range c.workers {
		if w == old {
			c.workers[i] = nw
			break
		}
	}
	c.retired = append(c.retired, old)
	c.mu.Unlock()

	go nw.run(c.faults)
	return nw
}

// handleFault resurrects a worker whose loop panicked. A slot that fails
// again with the same signature before completing an item is dropped.
func (c *Coordinator) handleFault(f Fault) {
	w := f.Worker
	w.cancel()
	faultLog := w.log.WithFields(logrus.Fields{"category": utils.CategorizeError(f.Err), "signature": f.Signature})

	c.mu.Lock()
	repeated := c.lastFault[w.slot] == f.Signature
	c.lastFault[w.slot] = f.Signature
	c.mu.Unlock()

	if repeated {
		faultLog.Error("Same fault repeated, not resurrecting worker")
		st := w.state()
		c.mu.Lock()
		remaining := 0
		for i := 0; i < len(c.workers); i++ {
			if c.workers[i] == w {
				c.workers = append(c.workers[:i], c.workers[i+1:]...)
				i--
				continue
			}
			if c.workers[i].role == w.role {
				remaining++
			}
		}
		c.retired = append(c.retired, w)
		c.mu.Unlock()

		// Results already produced are still valid
		var salvage []queue.Entry[*models.Collection]
		for _, e := range st.Buffer {
			salvage = append(salvage, queue.Entry[*models.Collection]{Priority: e.Priority, Value: e.Collection})
		}
		if len(salvage) > 0 {
			w.dst().Restore(salvage)
		}

		if remaining == 0 {
			c.terminate(fmt.Sprintf("no %s workers left", w.role), f.Err)
		}
		return
	}

	nw := c.replace(w, w.state())
	nw.recovered.Store(true)
	c.mu.Lock()
	c.recoveries++
	c.mu.Unlock()
	faultLog.Warnf("Worker recovered from fault: %v", f.Err)
}

// clearFault forgets a slot's last fault once its replacement made progress
func (c *Coordinator) clearFault(slot int) {
	c.mu.Lock()
	delete(c.lastFault, slot)
	c.mu.Unlock()
}

// retryFailed requeues every non-permanent failure once, grouped by the
// page that linked to it. Returns false when there was nothing to retry.
func (c *Coordinator) retryFailed() bool {
	taken := c.ledger.TakeFailed(func(idx int) bool {
		u, err := c.registry.Lookup(idx)
		return err == nil && !isPermanentStatus(u.Status)
	})
	if len(taken) == 0 {
		return false
	}

	byParent := make(map[int][]int)
	prio := make(map[int]int)
	var parents []int
	var entries []queue.Entry[*models.Collection]
	for _, idx := range taken {
		var u models.URL
		_ = c.registry.Update(idx, func(r *models.URL) {
			r.Fatal = false
			r.Status = 0
			r.Download = models.DownloadPending
			r.Owner = 0
			u = *r
		})
		if u.IsSeed() {
			entries = append(entries, queue.Entry[*models.Collection]{Priority: u.Priority, Value: &models.Collection{Priority: u.Priority, Source: idx}})
			continue
		}
		if _, ok := byParent[u.ParentIndex]; !ok {
			parents = append(parents, u.ParentIndex)
		}
		byParent[u.ParentIndex] = append(byParent[u.ParentIndex], idx)
		if p, ok := prio[u.ParentIndex]; !ok || u.Priority < p {
			prio[u.ParentIndex] = u.Priority
		}
	}
	for _, parent := range parents {
		coll := &models.Collection{Priority: prio[parent], Source: parent, Children: byParent[parent]}
		entries = append(entries, queue.Entry[*models.Collection]{Priority: coll.Priority, Value: coll})
	}

	c.fetchQ.Restore(entries)
	c.touch()
	c.log.WithFields(logrus.Fields{"urls": len(taken), "collections": len(entries)}).Info("Retrying failed downloads")
	return true
}

// terminate records why the crawl is stopping and raises the stop flag.
// The first reason wins. It never blocks, so watchdogs can call it.
func (c *Coordinator) terminate(reason string, err error) {
	c.exitMu.Lock()
	if c.exitReason == "" {
		c.exitReason = reason
		c.exitErr = err
	}
	c.exitMu.Unlock()
	c.forced.Store(true)
	c.cancelRun()
}

// TerminateThreads forcibly stops the crawl. Safe to call from a signal
// handler and more than once.
func (c *Coordinator) TerminateThreads() {
	c.log.Warn("Termination requested")
	c.terminate("terminated", nil)
	c.StopThreads(true)
}

// StopThreads stops background downloads, workers and watchdogs. A
// forceful stop kills downloads first and leaves the queues intact for a
// snapshot; a graceful stop waits for downloads and drains the queues.
// Only the first call does anything; later calls wait for it to finish.
func (c *Coordinator) StopThreads(forceful bool) {
	c.stopOnce.Do(func() {
		stopLog := c.log.WithField("forceful", forceful)
		stopLog.Info("Stopping threads...")

		if forceful {
			c.downloads.Kill()
		} else if !c.downloads.Wait(c.cfg.FetcherTimeout) {
			stopLog.Warn("Background downloads still running after fetcher timeout, killing them")
			c.downloads.Kill()
		}

		c.cancelRun()
		// Wakes workers blocked on a queue; queued items stay for the snapshot
		c.crawlQ.Close()
		c.fetchQ.Close()
		c.mu.Lock()
		workers := append(append([]*Worker(nil), c.workers...), c.retired...)
		c.mu.Unlock()

		deadline := time.Now().Add(workerJoinTimeout)
		for _, w := range workers {
			select {
			case <-w.done:
			case <-time.After(time.Until(deadline)):
				stopLog.WithFields(logrus.Fields{"role": w.role, "worker_id": w.slot}).Warn("Worker did not stop in time")
			}
		}

		if c.watchdogs != nil {
			if err := c.watchdogs.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				stopLog.Warnf("Watchdog error: %v", err)
			}
		}
		c.downloads.Wait(workerJoinTimeout)

		if !forceful {
			crawlLeft := c.crawlQ.Drain()
			fetchLeft := c.fetchQ.Drain()
			if len(crawlLeft)+len(fetchLeft) > 0 {
				stopLog.Warnf("Drained %d crawl and %d fetch collection(s) left in queues", len(crawlLeft), len(fetchLeft))
			}
		}
		stopLog.Info("All threads stopped")
	})
}
