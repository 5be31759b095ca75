package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueConfig controls the two work queues and the non-blocking push/pop discipline
type QueueConfig struct {
	RetryTimeout   time.Duration `yaml:"retry_timeout,omitempty"`   // Per-attempt wait on push/pop
	MaxRetries     int           `yaml:"max_retries,omitempty"`     // Attempts before falling back
	PollInterval   time.Duration `yaml:"poll_interval,omitempty"`   // Pause between attempts
	Bounded        *bool         `yaml:"bounded,omitempty"`         // nil = bounded in multithreaded mode
	CapacityFactor int           `yaml:"capacity_factor,omitempty"` // Capacity = factor * number of workers
}

// RulesConfig holds the URL inclusion policy consulted by the rules gate
type RulesConfig struct {
	MaxDepth               int      `yaml:"max_depth"`                          // 0 = unlimited
	AllowedDomains         []string `yaml:"allowed_domains,omitempty"`          // Empty = seed host only
	IncludeSubdomains      bool     `yaml:"include_subdomains,omitempty"`       // Accept *.allowed-domain
	FetchExternal          bool     `yaml:"fetch_external,omitempty"`           // Ignore domain scope entirely
	DisallowedPathPatterns []string `yaml:"disallowed_path_patterns,omitempty"` // Regex on URL path
	ExcludedExtensions     []string `yaml:"excluded_extensions,omitempty"`      // e.g. [".zip", ".exe"]
	WordFilter             []string `yaml:"word_filter,omitempty"`              // Regex on page content; match = reject
	RespectRobots          *bool    `yaml:"respect_robots,omitempty"`           // nil = true
	FetchImages            *bool    `yaml:"fetch_images,omitempty"`             // nil = true
	FetchStylesheets       *bool    `yaml:"fetch_stylesheets,omitempty"`        // nil = true
	FetchJavascript        bool     `yaml:"fetch_javascript,omitempty"`
	FetchApplets           bool     `yaml:"fetch_applets,omitempty"`
}

// DownloadConfig controls background download sub-threads and multipart splitting
type DownloadConfig struct {
	UseThreads         bool  `yaml:"use_threads,omitempty"`         // Hand non-webpage files to the download pool
	Threads            int   `yaml:"threads,omitempty"`             // Pool size
	MaxFileSize        int64 `yaml:"max_file_size,omitempty"`       // Bytes; 0 = unlimited
	Multipart          bool  `yaml:"multipart,omitempty"`           // Split large files into ranged parts
	NumParts           int   `yaml:"num_parts,omitempty"`           // Parts per multipart job
	MultipartThreshold int64 `yaml:"multipart_threshold,omitempty"` // Minimum size to split
}

// PolitenessConfig controls per-host pacing and the pause between worker iterations
type PolitenessConfig struct {
	SleepTime          time.Duration `yaml:"sleep_time,omitempty"`       // Pause between worker iterations
	RandomSleep        bool          `yaml:"random_sleep,omitempty"`     // Randomize the pause in [0, 2*sleep_time)
	DelayPerHost       time.Duration `yaml:"delay_per_host,omitempty"`   // Minimum gap between requests to one host
	RequestsPerWindow  int           `yaml:"requests_per_window,omitempty"`
	Window             time.Duration `yaml:"window,omitempty"`
	MaxRequestsPerHost int           `yaml:"max_requests_per_host,omitempty"` // Concurrent requests per host
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Per-request socket timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
	MaxRedirects          int           `yaml:"max_redirects,omitempty"`
}

// AppConfig holds the configuration for one crawl project
type AppConfig struct {
	ProjectName   string `yaml:"project_name"`
	SeedURL       string `yaml:"seed_url"`
	UserAgent     string `yaml:"user_agent"`
	OutputBaseDir string `yaml:"output_base_dir"`
	StateDir      string `yaml:"state_dir"`

	DBGCInterval time.Duration `yaml:"db_gc_interval,omitempty"` // Badger value log GC period

	SingleThreaded bool `yaml:"single_threaded,omitempty"` // Combined one-worker loop
	NumCrawlers    int  `yaml:"num_crawlers"`
	NumFetchers    int  `yaml:"num_fetchers"`
	MaxConnections int  `yaml:"max_connections"` // Global connector cap

	MonitorInterval   time.Duration `yaml:"monitor_interval,omitempty"`   // Coordinator and controller poll period
	ExitConfirmations int           `yaml:"exit_confirmations,omitempty"` // Consecutive quiescent polls before exit
	ProjectTimeout    time.Duration `yaml:"project_timeout,omitempty"`    // Staleness limit
	FetcherTimeout    time.Duration `yaml:"fetcher_timeout,omitempty"`    // Stuck-fetcher limit
	MaxRegenerations  int           `yaml:"max_regenerations,omitempty"`  // Stuck-fetcher regenerations before abort
	TimeLimit         time.Duration `yaml:"time_limit,omitempty"`         // Wall-clock limit; 0 = none
	MaxFiles          int           `yaml:"max_files,omitempty"`          // Saved-file ceiling; 0 = none

	MaxRetries  int           `yaml:"max_retries,omitempty"`  // Transient fetch error retries
	RetryDelay  time.Duration `yaml:"retry_delay,omitempty"`  // Fixed backoff between retries
	RetryFailed *bool         `yaml:"retry_failed,omitempty"` // End-of-crawl pass over the failed list; nil = true

	UseCache              bool `yaml:"use_cache,omitempty"`               // Conditional GET against the cache store
	DuplicateContentCheck bool `yaml:"duplicate_content_check,omitempty"` // Drop pages whose bytes were seen before

	UseSitemap  bool `yaml:"use_sitemap,omitempty"`  // Seed the crawl queue from the host's sitemaps
	MaxSitemaps int  `yaml:"max_sitemaps,omitempty"` // Sitemap files read per crawl; 0 = package default

	ExtensionPriorities map[string]int `yaml:"extension_priorities,omitempty"` // ".pdf": 2 (subtracted)
	ServerPriorities    map[string]int `yaml:"server_priorities,omitempty"`    // "docs.example.com": 1 (subtracted)

	Queue              QueueConfig      `yaml:"queue,omitempty"`
	Rules              RulesConfig      `yaml:"rules,omitempty"`
	Download           DownloadConfig   `yaml:"download,omitempty"`
	Politeness         PolitenessConfig `yaml:"politeness,omitempty"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// Load reads and parses a YAML config file. Defaults are not applied; call
// Validate afterwards.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// NumWorkers is the total worker count across both roles
func (c *AppConfig) NumWorkers() int {
	return c.NumCrawlers + c.NumFetchers
}

// QueueCapacity returns the capacity for each work queue, 0 meaning unbounded.
// Queues are bounded only in multithreaded mode unless configured otherwise.
func (c *AppConfig) QueueCapacity() int {
	bounded := !c.SingleThreaded
	if c.Queue.Bounded != nil {
		bounded = *c.Queue.Bounded
	}
	if !bounded {
		return 0
	}
	return c.Queue.CapacityFactor * c.NumWorkers()
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// EffectiveRespectRobots reports whether robots.txt is consulted
func (r RulesConfig) EffectiveRespectRobots() bool { return boolOr(r.RespectRobots, true) }

// EffectiveFetchImages reports whether image children are followed
func (r RulesConfig) EffectiveFetchImages() bool { return boolOr(r.FetchImages, true) }

// EffectiveFetchStylesheets reports whether stylesheet children are followed
func (r RulesConfig) EffectiveFetchStylesheets() bool { return boolOr(r.FetchStylesheets, true) }

// EffectiveRetryFailed reports whether the end-of-crawl retry pass runs
func (c *AppConfig) EffectiveRetryFailed() bool { return boolOr(c.RetryFailed, true) }
