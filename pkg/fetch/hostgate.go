package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// gateEntry tracks a single host's semaphore and its usage state.
type gateEntry struct {
	sem         *semaphore.Weighted
	inFlight    int64     // held + waiting permits
	held        int64     // held permits only
	lastRelease time.Time // zero if never released
}

// HostGate caps concurrent requests per host, underneath the global cap of
// the ConnectionFactory. One gate is shared by all fetchers and the
// background download pool.
type HostGate struct {
	entries map[string]*gateEntry
	mu      sync.Mutex
	limit   int64
	log     *logrus.Entry
}

// NewHostGate creates a gate with the given per-host concurrency limit.
func NewHostGate(maxPerHost int, log *logrus.Entry) *HostGate {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 2
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", limit)
	}
	return &HostGate{
		entries: make(map[string]*gateEntry),
		limit:   limit,
		log:     log.WithField("component", "host_gate"),
	}
}

// Acquire blocks until a permit for host is available or ctx is cancelled.
func (g *HostGate) Acquire(ctx context.Context, host string) error {
	host = strings.ToLower(host)
	g.mu.Lock()
	entry, exists := g.entries[host]
	if !exists {
		entry = &gateEntry{sem: semaphore.NewWeighted(g.limit)}
		g.entries[host] = entry
		g.log.WithFields(logrus.Fields{"host": host, "limit": g.limit}).Debug("Opened host gate")
	}
	entry.inFlight++
	g.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		g.mu.Lock()
		entry.inFlight--
		g.mu.Unlock()
		return err
	}

	g.mu.Lock()
	entry.held++
	g.mu.Unlock()
	return nil
}

// Release returns one permit for host.
func (g *HostGate) Release(host string) {
	host = strings.ToLower(host)
	g.mu.Lock()
	entry, exists := g.entries[host]
	if !exists {
		g.mu.Unlock()
		g.log.Errorf("Release called for unknown host: %s", host)
		return
	}
	entry.inFlight--
	entry.held--
	entry.lastRelease = time.Now()
	g.mu.Unlock()

	entry.sem.Release(1)
}

// Held returns how many permits are currently held for host
func (g *HostGate) Held(host string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[strings.ToLower(host)]; ok {
		return e.held
	}
	return 0
}

// RunEviction periodically drops idle host entries until ctx ends.
func (g *HostGate) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.evictIdle(interval)
		case <-ctx.Done():
			g.log.Debugf("Stopping host gate eviction: %v", ctx.Err())
			return
		}
	}
}

// evictIdle removes entries with no permits in flight for at least maxIdle.
func (g *HostGate) evictIdle(maxIdle time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	evicted := 0
	for host, entry := range g.entries {
		if entry.inFlight == 0 && !entry.lastRelease.IsZero() && now.Sub(entry.lastRelease) >= maxIdle {
			delete(g.entries, host)
			evicted++
		}
	}
	if evicted > 0 {
		g.log.Debugf("Evicted %d idle host gates, %d remain", evicted, len(g.entries))
	}
}

// Len returns the current number of tracked hosts.
func (g *HostGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
