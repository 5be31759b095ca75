package fetch

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/harvest/pkg/models"
)

// Connector is a reusable handle representing one admitted concurrent
// connection. It carries the HTTP client used for the request.
type Connector struct {
	ID     int
	client *http.Client
}

// Do sends req through the connector's client
func (c *Connector) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// ConnectionFactory bounds the number of simultaneous connections across the
// whole crawl. Released handles are kept on a stack and reused most recently
// released first.
type ConnectionFactory struct {
	sem    *semaphore.Weighted
	max    int64
	client *http.Client

	mu    sync.Mutex
	stack []*Connector

	active  atomic.Int64
	peak    atomic.Int64
	created atomic.Int64

	log *logrus.Entry
}

// NewConnectionFactory creates a factory admitting at most maxConnections
// handles at once.
func NewConnectionFactory(maxConnections int, client *http.Client, log *logrus.Entry) *ConnectionFactory {
	if maxConnections <= 0 {
		maxConnections = 5
		log.Warnf("max_connections invalid or zero, defaulting to %d", maxConnections)
	}
	return &ConnectionFactory{
		sem:    semaphore.NewWeighted(int64(maxConnections)),
		max:    int64(maxConnections),
		client: client,
		log:    log.WithField("component", "connection_factory"),
	}
}

// Acquire blocks until one more connection is admitted. The only failure is
// ctx ending first, which happens when the crawl is being torn down.
func (f *ConnectionFactory) Acquire(ctx context.Context, u models.URL) (*Connector, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	n := f.active.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	var c *Connector
	if last := len(f.stack) - 1; last >= 0 {
		c = f.stack[last]
		f.stack[last] = nil
		f.stack = f.stack[:last]
	}
	f.mu.Unlock()

	if c == nil {
		id := int(f.created.Add(1))
		c = &Connector{ID: id, client: f.client}
		f.log.WithFields(logrus.Fields{"connector": id, "url": u.URL}).Debug("Created connector")
	}
	return c, nil
}

// Release returns the handle to the reuse stack and frees its slot
func (f *ConnectionFactory) Release(c *Connector) {
	if c == nil {
		return
	}
	f.mu.Lock()
	f.stack = append(f.stack, c)
	f.mu.Unlock()

	f.active.Add(-1)
	f.sem.Release(1)
}

// Active returns the number of handles currently held
func (f *ConnectionFactory) Active() int64 { return f.active.Load() }

// Peak returns the highest number of handles ever held at once
func (f *ConnectionFactory) Peak() int64 { return f.peak.Load() }

// Created returns how many distinct handles were constructed
func (f *ConnectionFactory) Created() int64 { return f.created.Load() }

// Max returns the configured cap
func (f *ConnectionFactory) Max() int64 { return f.max }
