package fetch

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/Sriram-PR/harvest/pkg/models"
)

// RobotsHandler fetches, parses and caches robots.txt per host. Fetches go
// through the ConnectionFactory so they count against the global cap.
type RobotsHandler struct {
	factory   *ConnectionFactory
	transport *Transport
	userAgent string

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData // host -> parsed data (nil = allow all)
	log   *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler
func NewRobotsHandler(factory *ConnectionFactory, transport *Transport, userAgent string, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		factory:   factory,
		transport: transport,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log.WithField("component", "robots"),
	}
}

// GetRobotsData returns the parsed robots.txt for target's host, fetching it
// on first use. Returns nil when the file is missing or unusable, which
// callers treat as "everything allowed".
func (rh *RobotsHandler) GetRobotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := strings.ToLower(target.Host)

	rh.mu.Lock()
	data, found := rh.cache[host]
	rh.mu.Unlock()
	if found {
		return data
	}

	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := (&url.URL{Scheme: scheme, Host: target.Host, Path: "/robots.txt"}).String()
	robotsLog := rh.log.WithFields(logrus.Fields{"host": host, "robots_url": robotsURL})
	robotsLog.Debug("Fetching robots.txt...")

	data = rh.fetch(ctx, robotsURL, robotsLog)

	// A cancelled fetch is not cached so a later caller can try again
	if ctx.Err() != nil {
		return data
	}
	rh.mu.Lock()
	rh.cache[host] = data
	rh.mu.Unlock()
	return data
}

func (rh *RobotsHandler) fetch(ctx context.Context, robotsURL string, robotsLog *logrus.Entry) *robotstxt.RobotsData {
	conn, err := rh.factory.Acquire(ctx, models.URL{URL: robotsURL})
	if err != nil {
		robotsLog.Debugf("Connector not acquired: %v", err)
		return nil
	}
	defer rh.factory.Release(conn)

	resp, err := rh.transport.FetchWithRetry(ctx, conn, Request{URL: robotsURL})
	if err != nil {
		robotsLog.Debugf("Fetching robots.txt failed: %v", err)
		return nil
	}

	data, err := robotstxt.FromBytes(resp.Body)
	if err != nil {
		robotsLog.Warnf("Error parsing robots.txt: %v", err)
		return nil
	}
	robotsLog.Info("Fetched and parsed robots.txt")
	return data
}

// Allowed reports whether the configured user agent may fetch target.
// Returns true when robots.txt could not be obtained.
func (rh *RobotsHandler) Allowed(ctx context.Context, target *url.URL) bool {
	data := rh.GetRobotsData(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), rh.userAgent)
}
