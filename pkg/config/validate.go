package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sriram-PR/harvest/pkg/parse"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// SeedURL is the only hard requirement
	if c.SeedURL == "" {
		return nil, fmt.Errorf("%w: seed_url is required", utils.ErrConfigValidation)
	}
	_, parsed, perr := parse.ParseAndNormalize(c.SeedURL)
	if perr != nil {
		return nil, fmt.Errorf("%w: seed_url: %w", utils.ErrConfigValidation, perr)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: seed_url scheme %q is not http(s)", utils.ErrConfigValidation, parsed.Scheme)
	}

	if c.ProjectName == "" {
		c.ProjectName = utils.SanitizeFilename(parsed.Hostname())
		warnings = append(warnings, fmt.Sprintf("project_name is empty, defaulting to '%s'", c.ProjectName))
	}

	if c.UserAgent == "" {
		c.UserAgent = "harvest/1.0"
	}
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './harvested'")
		c.OutputBaseDir = "./harvested"
	}
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './harvest_state'")
		c.StateDir = "./harvest_state"
	}
	if c.DBGCInterval <= 0 {
		c.DBGCInterval = 10 * time.Minute
	}

	// Worker pools
	if c.NumCrawlers <= 0 {
		warnings = append(warnings, "num_crawlers should be > 0, defaulting to 2")
		c.NumCrawlers = 2
	}
	if c.NumFetchers <= 0 {
		warnings = append(warnings, "num_fetchers should be > 0, defaulting to 3")
		c.NumFetchers = 3
	}
	if c.MaxConnections <= 0 {
		warnings = append(warnings, "max_connections should be > 0, defaulting to 5")
		c.MaxConnections = 5
	}

	// Coordinator timing
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = time.Second
	}
	if c.ExitConfirmations <= 0 {
		c.ExitConfirmations = 3
	}
	if c.ProjectTimeout <= 0 {
		c.ProjectTimeout = 30 * time.Minute
	}
	if c.FetcherTimeout <= 0 {
		c.FetcherTimeout = 5 * time.Minute
	}
	if c.MaxRegenerations < 0 {
		warnings = append(warnings, "max_regenerations cannot be negative, setting to 0 (abort on first stuck fetcher)")
		c.MaxRegenerations = 0
	} else if c.MaxRegenerations == 0 {
		c.MaxRegenerations = c.NumFetchers
	}

	// Limits
	if c.TimeLimit < 0 {
		warnings = append(warnings, "time_limit cannot be negative, disabling")
		c.TimeLimit = 0
	}
	if c.MaxFiles < 0 {
		warnings = append(warnings, "max_files cannot be negative, disabling")
		c.MaxFiles = 0
	}

	// Retries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries > 0 && c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}

	warnings = append(warnings, c.validateQueue()...)
	warnings = append(warnings, c.validateDownload()...)
	c.validatePoliteness()
	c.validateHTTPClientSettings()

	ruleWarnings, err := c.validateRules()
	if err != nil {
		return warnings, err
	}
	warnings = append(warnings, ruleWarnings...)

	return warnings, nil
}

func (c *AppConfig) validateQueue() (warnings []string) {
	q := &c.Queue
	if q.RetryTimeout <= 0 {
		q.RetryTimeout = 200 * time.Millisecond
	}
	if q.MaxRetries <= 0 {
		q.MaxRetries = 5
	}
	if q.PollInterval < 0 {
		warnings = append(warnings, "queue.poll_interval cannot be negative, setting to 0")
		q.PollInterval = 0
	}
	if q.CapacityFactor <= 0 {
		q.CapacityFactor = 4
	}
	return warnings
}

func (c *AppConfig) validateDownload() (warnings []string) {
	d := &c.Download
	if d.Threads <= 0 {
		d.Threads = 5
	}
	if d.MaxFileSize < 0 {
		warnings = append(warnings, "download.max_file_size cannot be negative, setting to 0 (unlimited)")
		d.MaxFileSize = 0
	}
	if d.Multipart {
		if d.NumParts < 2 {
			d.NumParts = 4
		}
		if d.MultipartThreshold <= 0 {
			d.MultipartThreshold = 1 << 20
		}
	}
	return warnings
}

func (c *AppConfig) validatePoliteness() {
	p := &c.Politeness
	if p.SleepTime < 0 {
		p.SleepTime = 0
	}
	if p.DelayPerHost < 0 {
		p.DelayPerHost = 0
	}
	if p.RequestsPerWindow > 0 && p.Window <= 0 {
		p.Window = time.Second
	}
	if p.MaxRequestsPerHost <= 0 {
		p.MaxRequestsPerHost = c.MaxConnections
	}
}

func (c *AppConfig) validateRules() (warnings []string, err error) {
	r := &c.Rules
	if r.MaxDepth < 0 {
		warnings = append(warnings, "rules.max_depth cannot be negative, setting to 0 (unlimited)")
		r.MaxDepth = 0
	}
	if _, err := utils.CompileRegexPatterns(r.DisallowedPathPatterns); err != nil {
		return warnings, fmt.Errorf("rules.disallowed_path_patterns: %w", err)
	}
	if _, err := utils.CompileRegexPatterns(r.WordFilter); err != nil {
		return warnings, fmt.Errorf("rules.word_filter: %w", err)
	}
	for i, ext := range r.ExcludedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.ExcludedExtensions[i] = ext
	}
	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = c.MaxConnections
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = 10
	}
}
