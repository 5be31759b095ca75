package sitemap

import (
	"context"
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/fetch"
	"github.com/Sriram-PR/harvest/pkg/models"
)

// DefaultMaxSitemaps caps how many sitemap files one discovery reads
const DefaultMaxSitemaps = 50

// XMLURL represents a <url> element within a <urlset>
type XMLURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLURLSet represents a <urlset> element
type XMLURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []XMLURL `xml:"url"`
}

// XMLSitemap represents a <sitemap> element within a <sitemapindex>
type XMLSitemap struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLSitemapIndex represents a <sitemapindex> element
type XMLSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []XMLSitemap `xml:"sitemap"`
}

// Discoverer reads the sitemaps of a host and lists the page URLs they
// name. Fetches go through the ConnectionFactory like any other request.
type Discoverer struct {
	factory     *fetch.ConnectionFactory
	transport   *fetch.Transport
	robots      *fetch.RobotsHandler // Nil skips robots.txt Sitemap: lines
	maxSitemaps int
	log         *logrus.Entry
}

// NewDiscoverer creates a Discoverer. maxSitemaps <= 0 uses DefaultMaxSitemaps.
func NewDiscoverer(factory *fetch.ConnectionFactory, transport *fetch.Transport, robots *fetch.RobotsHandler, maxSitemaps int, log *logrus.Entry) *Discoverer {
	if maxSitemaps <= 0 {
		maxSitemaps = DefaultMaxSitemaps
	}
	return &Discoverer{
		factory:     factory,
		transport:   transport,
		robots:      robots,
		maxSitemaps: maxSitemaps,
		log:         log.WithField("component", "sitemap"),
	}
}

// roots lists the sitemaps to start from: those named in robots.txt, or
// /sitemap.xml on the seed's host when robots.txt names none
func (d *Discoverer) roots(ctx context.Context, seed *url.URL) []string {
	if d.robots != nil {
		if data := d.robots.GetRobotsData(ctx, seed); data != nil && len(data.Sitemaps) > 0 {
			return data.Sitemaps
		}
	}
	return []string{(&url.URL{Scheme: seed.Scheme, Host: seed.Host, Path: "/sitemap.xml"}).String()}
}

// Discover returns the page URLs listed in seed's sitemaps, following
// sitemap indexes. Order follows the files; duplicates are dropped. Only
// http(s) URLs are returned, and scope is left to the caller.
func (d *Discoverer) Discover(ctx context.Context, seed *url.URL) []string {
	pending := d.roots(ctx, seed)
	visited := make(map[string]bool)
	seenPage := make(map[string]bool)
	var pages []string

	for len(pending) > 0 && len(visited) < d.maxSitemaps {
		if ctx.Err() != nil {
			break
		}
		smURL := strings.TrimSpace(pending[0])
		pending = pending[1:]
		if smURL == "" || visited[smURL] {
			continue
		}
		visited[smURL] = true

		sitemapLog := d.log.WithField("sitemap_url", smURL)
		body, ok := d.fetch(ctx, smURL, sitemapLog)
		if !ok {
			continue
		}

		// --- Try Parsing as Sitemap Index ---
		var index XMLSitemapIndex
		errIndex := xml.Unmarshal(body, &index)
		if errIndex == nil && len(index.Sitemaps) > 0 {
			sitemapLog.Infof("Parsed as Sitemap Index, found %d references.", len(index.Sitemaps))
			for _, entry := range index.Sitemaps {
				if _, err := url.ParseRequestURI(entry.Loc); err != nil {
					sitemapLog.WithField("nested_sitemap", entry.Loc).Warnf("Invalid nested sitemap URL: %v", err)
					continue
				}
				pending = append(pending, entry.Loc)
			}
			continue
		}

		// --- Try Parsing as URL Set ---
		var urlSet XMLURLSet
		if errURLSet := xml.Unmarshal(body, &urlSet); errURLSet != nil {
			sitemapLog.Warnf("Content was not a valid Sitemap Index or URL Set (Index err=%v; URLSet err=%v)", errIndex, errURLSet)
			continue
		}

		added := 0
		for _, entry := range urlSet.URLs {
			loc := strings.TrimSpace(entry.Loc)
			parsed, err := url.Parse(loc)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
				sitemapLog.Debugf("Skipping sitemap entry %q", loc)
				continue
			}
			if seenPage[loc] {
				continue
			}
			seenPage[loc] = true
			pages = append(pages, loc)
			added++
		}
		sitemapLog.Infof("Parsed as URL Set, found %d URLs (%d new).", len(urlSet.URLs), added)
	}

	if len(pending) > 0 && len(visited) >= d.maxSitemaps {
		d.log.Warnf("Sitemap limit (%d) reached, %d sitemap(s) not read", d.maxSitemaps, len(pending))
	}
	return pages
}

func (d *Discoverer) fetch(ctx context.Context, smURL string, sitemapLog *logrus.Entry) ([]byte, bool) {
	conn, err := d.factory.Acquire(ctx, models.URL{URL: smURL})
	if err != nil {
		sitemapLog.Debugf("Connector not acquired: %v", err)
		return nil, false
	}
	defer d.factory.Release(conn)

	resp, err := d.transport.FetchWithRetry(ctx, conn, fetch.Request{URL: smURL})
	if err != nil {
		sitemapLog.Debugf("Fetch failed: %v", err)
		return nil, false
	}
	return resp.Body, true
}
