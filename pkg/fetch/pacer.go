package fetch

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// HostPacer enforces per-host politeness: a minimum gap between requests to
// the same host plus an optional token-bucket rate (requests per window).
type HostPacer struct {
	delay    time.Duration
	requests int
	window   time.Duration

	mu       sync.Mutex
	last     map[string]time.Time
	limiters map[string]*rate.Limiter

	log *logrus.Entry
}

// NewHostPacer creates a pacer. A zero delay and zero requests disable it.
func NewHostPacer(delay time.Duration, requests int, window time.Duration, log *logrus.Entry) *HostPacer {
	return &HostPacer{
		delay:    delay,
		requests: requests,
		window:   window,
		last:     make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
		log:      log.WithField("component", "host_pacer"),
	}
}

func (p *HostPacer) rateEnabled() bool {
	return p.requests > 0 && p.window > 0
}

// Wait blocks until the host may be contacted again, then records the
// request time. Returns ctx.Err() if cancelled while waiting.
func (p *HostPacer) Wait(ctx context.Context, host string) error {
	if p == nil || host == "" {
		return nil
	}
	if p.delay <= 0 && !p.rateEnabled() {
		return nil
	}
	host = strings.ToLower(host)

	var sleep time.Duration
	var limiter *rate.Limiter

	p.mu.Lock()
	if p.delay > 0 {
		if last, ok := p.last[host]; ok {
			if rest := time.Until(last.Add(p.delay)); rest > 0 {
				sleep = rest
			}
		}
	}
	if p.rateEnabled() {
		limiter = p.limiterLocked(host)
	}
	p.mu.Unlock()

	if sleep > 0 {
		// +/- 10% jitter keeps fetchers from waking in lockstep
		if jitterRange := int64(sleep) / 5; jitterRange > 0 {
			sleep += time.Duration(rand.Int63n(jitterRange)) - sleep/10
		}
		p.log.WithFields(logrus.Fields{"host": host, "sleep": sleep}).Debug("Pacing request")
		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.last[host] = time.Now()
	p.mu.Unlock()
	return nil
}

func (p *HostPacer) limiterLocked(host string) *rate.Limiter {
	if l, ok := p.limiters[host]; ok {
		return l
	}
	interval := p.window / time.Duration(p.requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	l := rate.NewLimiter(rate.Every(interval), p.requests)
	p.limiters[host] = l
	return l
}
