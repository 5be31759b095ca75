// Package rules decides which discovered URLs are worth fetching and which
// fetched contents are worth keeping.
package rules

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/config"
	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

// RobotsChecker answers robots.txt questions. Implemented by fetch.RobotsHandler.
type RobotsChecker interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// Gate is the URL inclusion policy. Verdicts are memoized per registry index
// so each URL is evaluated once; the suppression filter is consulted before
// the memo since it grows during the crawl.
type Gate struct {
	cfg            config.RulesConfig
	allowedDomains []string
	disallowed     []*regexp.Regexp
	words          []*regexp.Regexp
	excluded       map[string]bool
	robots         RobotsChecker // nil = robots.txt ignored

	mu         sync.Mutex
	verdicts   map[int]error
	suppressed map[string]bool // Normalized URL keys

	log *logrus.Entry
}

// NewGate builds a gate for a crawl rooted at seed. robots may be nil.
func NewGate(cfg config.RulesConfig, seed *url.URL, robots RobotsChecker, log *logrus.Entry) (*Gate, error) {
	disallowed, err := utils.CompileRegexPatterns(cfg.DisallowedPathPatterns)
	if err != nil {
		return nil, fmt.Errorf("disallowed_path_patterns: %w", err)
	}
	words, err := utils.CompileRegexPatterns(cfg.WordFilter)
	if err != nil {
		return nil, fmt.Errorf("word_filter: %w", err)
	}

	domains := make([]string, 0, len(cfg.AllowedDomains)+1)
	for _, d := range cfg.AllowedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	if len(domains) == 0 && seed != nil {
		domains = append(domains, strings.ToLower(seed.Hostname()))
	}

	excluded := make(map[string]bool, len(cfg.ExcludedExtensions))
	for _, ext := range cfg.ExcludedExtensions {
		excluded[strings.ToLower(ext)] = true
	}

	if !cfg.EffectiveRespectRobots() {
		robots = nil
	}

	return &Gate{
		cfg:            cfg,
		allowedDomains: domains,
		disallowed:     disallowed,
		words:          words,
		excluded:       excluded,
		robots:         robots,
		verdicts:       make(map[int]error),
		suppressed:     make(map[string]bool),
		log:            log.WithField("component", "rules"),
	}, nil
}

// ViolatesRules reports whether u must not be fetched
func (g *Gate) ViolatesRules(ctx context.Context, u models.URL) bool {
	return g.Check(ctx, u) != nil
}

// Check returns the reason u must not be fetched, or nil
func (g *Gate) Check(ctx context.Context, u models.URL) error {
	g.mu.Lock()
	if g.suppressed[u.Normalized] {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s suppressed after permanent failure", utils.ErrScopeViolation, u.URL)
	}
	verdict, known := g.verdicts[u.Index]
	g.mu.Unlock()
	if known {
		return verdict
	}

	verdict = g.evaluate(ctx, u)

	// Robots checks that were cut short by shutdown are not remembered
	if ctx.Err() == nil {
		g.mu.Lock()
		g.verdicts[u.Index] = verdict
		g.mu.Unlock()
	}
	if verdict != nil {
		g.log.WithFields(logrus.Fields{"url": u.URL, "reason": utils.CategorizeError(verdict)}).Debug("Rules gate rejected URL")
	}
	return verdict
}

func (g *Gate) evaluate(ctx context.Context, u models.URL) error {
	parsed, err := url.Parse(u.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrParsing, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: %s", utils.ErrUnsupportedURL, u.URL)
	}
	if g.cfg.MaxDepth > 0 && u.Generation > g.cfg.MaxDepth {
		return fmt.Errorf("%w: generation %d > %d", utils.ErrMaxDepthExceeded, u.Generation, g.cfg.MaxDepth)
	}
	if !g.inScope(parsed.Hostname()) {
		return fmt.Errorf("%w: host %s", utils.ErrScopeViolation, parsed.Hostname())
	}
	if ext := strings.ToLower(path.Ext(parsed.Path)); ext != "" && g.excluded[ext] {
		return fmt.Errorf("%w: extension %s", utils.ErrScopeViolation, ext)
	}
	if utils.MatchAny(g.disallowed, parsed.Path) {
		return fmt.Errorf("%w: path %s", utils.ErrScopeViolation, parsed.Path)
	}
	if !g.FeatureAllowed(u.Type) {
		return fmt.Errorf("%w: %s resources disabled", utils.ErrScopeViolation, u.Type)
	}
	if g.robots != nil && !g.robots.Allowed(ctx, parsed) {
		return fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, u.URL)
	}
	return nil
}

func (g *Gate) inScope(host string) bool {
	if g.cfg.FetchExternal {
		return true
	}
	host = strings.ToLower(host)
	for _, d := range g.allowedDomains {
		if host == d {
			return true
		}
		if g.cfg.IncludeSubdomains && strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// FeatureAllowed applies the per-type feature switches
func (g *Gate) FeatureAllowed(t models.URLType) bool {
	switch t {
	case models.TypeImage:
		return g.cfg.EffectiveFetchImages()
	case models.TypeStylesheet:
		return g.cfg.EffectiveFetchStylesheets()
	case models.TypeJavascript:
		return g.cfg.FetchJavascript
	case models.TypeApplet:
		return g.cfg.FetchApplets
	}
	return true
}

// Suppress adds u to the suppression filter so neither it nor any later
// duplicate is fetched again.
func (g *Gate) Suppress(u models.URL) {
	g.mu.Lock()
	g.suppressed[u.Normalized] = true
	g.mu.Unlock()
}

// IsSuppressed reports whether a normalized URL key is in the suppression filter
func (g *Gate) IsSuppressed(normalized string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppressed[normalized]
}

// ApplyWordFilter returns true when content matches a word-filter pattern and
// must be rejected.
func (g *Gate) ApplyWordFilter(content []byte) bool {
	for _, re := range g.words {
		if re.Match(content) {
			return true
		}
	}
	return false
}
