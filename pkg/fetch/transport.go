package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/config"
	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

// Category is the coarse outcome of one fetch, consumed by the fetcher
// worker to decide between saving, parsing, suppressing and retrying.
type Category int

const (
	CategoryOK               Category = iota // 2xx at the requested URL
	CategoryNotModified                      // 304 against a conditional request
	CategoryRedirectResolved                 // 2xx after following redirects
	CategoryClientPermanent                  // 4xx other than the retryable ones; never retried
	CategoryServerRetryable                  // 5xx, 407, 429, network resets
	CategoryFatalAuth                        // 401
)

// String implements fmt.Stringer for logging
func (c Category) String() string {
	switch c {
	case CategoryOK:
		return "ok"
	case CategoryNotModified:
		return "not-modified"
	case CategoryRedirectResolved:
		return "redirect-resolved"
	case CategoryClientPermanent:
		return "client-error-permanent"
	case CategoryServerRetryable:
		return "server-error-retryable"
	case CategoryFatalAuth:
		return "fatal-auth-required"
	}
	return "unknown"
}

// Success reports whether the category carries usable content (or a
// confirmation that cached content is still current).
func (c Category) Success() bool {
	return c == CategoryOK || c == CategoryNotModified || c == CategoryRedirectResolved
}

// Request describes one fetch. Zero values mean "not set".
type Request struct {
	URL          string
	Method       string            // Defaults to GET
	LastModified time.Time         // Sent as If-Modified-Since
	ETag         string            // Sent as If-None-Match
	Range        *models.ByteRange // Sent as Range for multipart parts
}

// Response is the classified result of a fetch. Body is fully read.
type Response struct {
	Category      Category
	StatusCode    int
	FinalURL      string
	Header        http.Header
	Body          []byte
	ContentType   string
	ContentLength int64 // From headers; -1 if unknown
	LastModified  time.Time
	ETag          string
	AcceptRanges  bool
}

// Transport performs fetches through connectors handed out by the
// ConnectionFactory, applying per-host gating and pacing, conditional
// headers, a body size limit and fixed-delay retries.
type Transport struct {
	userAgent  string
	maxBody    int64
	maxRetries int
	retryDelay time.Duration
	gate       *HostGate
	pacer      *HostPacer
	log        *logrus.Entry
}

// NewTransport builds a transport from the application config. gate and
// pacer may be nil.
func NewTransport(cfg *config.AppConfig, gate *HostGate, pacer *HostPacer, log *logrus.Entry) *Transport {
	return &Transport{
		userAgent:  cfg.UserAgent,
		maxBody:    cfg.Download.MaxFileSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		gate:       gate,
		pacer:      pacer,
		log:        log.WithField("component", "transport"),
	}
}

// Fetch performs a single attempt. A non-nil Response is returned whenever
// the server answered (and for network failures, with CategoryServerRetryable),
// so callers can inspect the category even when err is set. Only context
// cancellation returns a nil Response.
func (t *Transport) Fetch(ctx context.Context, conn *Connector, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := url.Parse(req.URL)
	if err != nil {
		return &Response{Category: CategoryClientPermanent}, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	host := target.Hostname()
	reqLog := t.log.WithField("url", req.URL)

	if t.gate != nil {
		if err := t.gate.Acquire(ctx, host); err != nil {
			return nil, err
		}
		defer t.gate.Release(host)
	}
	if err := t.pacer.Wait(ctx, host); err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return &Response{Category: CategoryClientPermanent}, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	if !req.LastModified.IsZero() {
		httpReq.Header.Set("If-Modified-Since", req.LastModified.UTC().Format(http.TimeFormat))
	}
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}
	if req.Range != nil {
		if req.Range.End >= 0 {
			httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", req.Range.Start, req.Range.End))
		} else {
			httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", req.Range.Start))
		}
	}

	httpResp, err := conn.Do(httpReq)
	if err != nil {
		// A client timeout also reports DeadlineExceeded; only the
		// caller's context ending means the request was cancelled.
		if ctx.Err() != nil {
			return nil, err
		}
		reqLog.WithField("connector", conn.ID).Debugf("Network error: %v", err)
		return &Response{Category: CategoryServerRetryable}, err
	}
	defer httpResp.Body.Close()

	resp := &Response{
		StatusCode:    httpResp.StatusCode,
		FinalURL:      httpResp.Request.URL.String(),
		Header:        httpResp.Header,
		ContentType:   httpResp.Header.Get("Content-Type"),
		ContentLength: httpResp.ContentLength,
		ETag:          httpResp.Header.Get("ETag"),
		AcceptRanges:  httpResp.Header.Get("Accept-Ranges") == "bytes",
	}
	if lm := httpResp.Header.Get("Last-Modified"); lm != "" {
		if ts, perr := http.ParseTime(lm); perr == nil {
			resp.LastModified = ts
		}
	}
	if resp.ContentLength < 0 {
		if cl, perr := strconv.ParseInt(httpResp.Header.Get("Content-Length"), 10, 64); perr == nil {
			resp.ContentLength = cl
		}
	}

	status := httpResp.StatusCode
	statusErr := func(sentinel error) error {
		return fmt.Errorf("%w: status %d %s", sentinel, status, http.StatusText(status))
	}

	switch {
	case status >= 200 && status < 300:
		body, err := t.readBody(httpResp.Body)
		if err != nil {
			if errors.Is(err, utils.ErrBodyTooLarge) {
				resp.Category = CategoryClientPermanent
			} else {
				resp.Category = CategoryServerRetryable
			}
			return resp, err
		}
		resp.Body = body
		resp.Category = CategoryOK
		if resp.FinalURL != req.URL {
			resp.Category = CategoryRedirectResolved
		}
		return resp, nil

	case status == http.StatusNotModified:
		_, _ = io.Copy(io.Discard, httpResp.Body)
		resp.Category = CategoryNotModified
		return resp, nil

	case status == http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, httpResp.Body)
		resp.Category = CategoryFatalAuth
		return resp, statusErr(utils.ErrAuthRequired)

	case status == http.StatusProxyAuthRequired || status == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, httpResp.Body)
		resp.Category = CategoryServerRetryable
		return resp, statusErr(utils.ErrServerHTTPError)

	case status >= 500:
		_, _ = io.Copy(io.Discard, httpResp.Body)
		resp.Category = CategoryServerRetryable
		return resp, statusErr(utils.ErrServerHTTPError)

	case status >= 400:
		_, _ = io.Copy(io.Discard, httpResp.Body)
		resp.Category = CategoryClientPermanent
		return resp, statusErr(utils.ErrClientHTTPError)

	default:
		// 1xx or an unfollowed 3xx
		_, _ = io.Copy(io.Discard, httpResp.Body)
		resp.Category = CategoryClientPermanent
		return resp, statusErr(utils.ErrOtherHTTPError)
	}
}

// readBody reads the whole body, failing with ErrBodyTooLarge beyond maxBody
func (t *Transport) readBody(r io.Reader) ([]byte, error) {
	if t.maxBody <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
		}
		return body, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, t.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	if int64(len(body)) > t.maxBody {
		return nil, fmt.Errorf("%w: more than %d bytes", utils.ErrBodyTooLarge, t.maxBody)
	}
	return body, nil
}

// FetchWithRetry calls Fetch, retrying retryable outcomes up to the configured
// retry count with a fixed delay between attempts. When every attempt fails
// the returned error wraps ErrRetryFailed.
func (t *Transport) FetchWithRetry(ctx context.Context, conn *Connector, req Request) (*Response, error) {
	reqLog := t.log.WithField("url", req.URL)

	var lastResp *Response
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": t.maxRetries, "delay": t.retryDelay}).Warn("Retrying request...")
			timer := time.NewTimer(t.retryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		resp, err := t.Fetch(ctx, conn, req)
		if err == nil {
			return resp, nil
		}
		if resp == nil {
			return nil, err
		}
		if resp.Category != CategoryServerRetryable {
			return resp, err
		}
		lastResp, lastErr = resp, err
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", t.maxRetries+1, lastErr)
	return lastResp, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// Probe issues a HEAD request and reports the resource's size and whether
// the server accepts byte ranges. Used to decide on multipart downloads.
func (t *Transport) Probe(ctx context.Context, conn *Connector, rawURL string) (*Response, error) {
	return t.Fetch(ctx, conn, Request{URL: rawURL, Method: http.MethodHead})
}
