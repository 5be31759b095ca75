package parse

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

// tagRule maps a CSS selector and attribute to the type of link it yields.
type tagRule struct {
	selector string
	attr     string
	typ      models.URLType
}

var htmlRules = []tagRule{
	{"a[href]", "href", models.TypeAnchor},
	{"area[href]", "href", models.TypeAnchor},
	{"frame[src]", "src", models.TypeFrame},
	{"iframe[src]", "src", models.TypeFrame},
	{"img[src]", "src", models.TypeImage},
	{"input[type=image][src]", "src", models.TypeImage},
	{"link[rel~=stylesheet][href]", "href", models.TypeStylesheet},
	{"link[rel~=icon][href]", "href", models.TypeImage},
	{"script[src]", "src", models.TypeJavascript},
	{"applet[code]", "code", models.TypeApplet},
	{"object[data]", "data", models.TypeApplet},
	{"form[action]", "action", models.TypeForm},
}

// HTMLParser extracts typed links from HTML using goquery selectors.
type HTMLParser struct {
	css *CSSParser
}

// NewHTMLParser creates an HTMLParser. Inline <style> blocks and style
// attributes are scanned with a CSSParser.
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{css: NewCSSParser()}
}

// Parse implements Parser
func (p *HTMLParser) Parse(raw []byte, source models.URL) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML document %s: %w", utils.ErrParsing, source.URL, err)
	}

	base, err := url.Parse(source.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: source URL %q: %w", utils.ErrParsing, source.URL, err)
	}

	res := &Result{}

	// <base href> changes how every relative link on the page resolves
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := Resolve(base, href); err == nil {
			base = resolved
			res.BaseHref = resolved.String()
		}
	}

	doc.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if !strings.EqualFold(name, "robots") {
			return
		}
		content, _ := s.Attr("content")
		if strings.Contains(strings.ToLower(content), "nofollow") {
			res.NoFollow = true
		}
	})

	seen := make(map[string]bool)
	add := func(typ models.URLType, ref string) {
		abs := resolveAgainst(base, ref)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		res.Links = append(res.Links, Link{Type: typ, URL: abs})
	}

	for _, rule := range htmlRules {
		doc.Find(rule.selector).Each(func(_ int, s *goquery.Selection) {
			if val, ok := s.Attr(rule.attr); ok {
				add(rule.typ, val)
			}
		})
	}

	// Inline CSS: <style> blocks and style="" attributes
	var inline strings.Builder
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		inline.WriteString(s.Text())
		inline.WriteByte('\n')
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("style")
		inline.WriteString(v)
		inline.WriteByte('\n')
	})
	if inline.Len() > 0 {
		for _, l := range p.css.extract(inline.String(), base) {
			add(l.Type, l.URL)
		}
	}

	return res, nil
}
