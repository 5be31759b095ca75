package parse

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

var (
	cssURLRe    = regexp.MustCompile(`url\(\s*(?:"([^"]*)"|'([^']*)'|([^)'"\s]*))\s*\)`)
	cssImportRe = regexp.MustCompile(`@import\s+(?:"([^"]*)"|'([^']*)')`)
)

// CSSParser pulls url(...) references and @import targets out of stylesheets.
// Targets ending in .css are typed stylesheet, images are typed image and
// everything else is generic.
type CSSParser struct{}

// NewCSSParser creates a CSSParser
func NewCSSParser() *CSSParser { return &CSSParser{} }

// Parse implements Parser
func (p *CSSParser) Parse(raw []byte, source models.URL) (*Result, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: CSS %s is not valid UTF-8", utils.ErrParsing, source.URL)
	}
	base, err := url.Parse(source.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: source URL %q: %w", utils.ErrParsing, source.URL, err)
	}
	return &Result{Links: p.extract(string(raw), base)}, nil
}

func (p *CSSParser) extract(css string, base *url.URL) []Link {
	var links []Link
	seen := make(map[string]bool)
	collect := func(ref string) {
		if ref == "" || strings.HasPrefix(ref, "data:") {
			return
		}
		abs := resolveAgainst(base, ref)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, Link{Type: cssLinkType(abs), URL: abs})
	}

	for _, m := range cssImportRe.FindAllStringSubmatch(css, -1) {
		collect(firstNonEmpty(m[1:]...))
	}
	for _, m := range cssURLRe.FindAllStringSubmatch(css, -1) {
		collect(firstNonEmpty(m[1:]...))
	}
	return links
}

func cssLinkType(abs string) models.URLType {
	p := abs
	if u, err := url.Parse(abs); err == nil {
		p = u.Path
	}
	if strings.EqualFold(path.Ext(p), ".css") {
		return models.TypeStylesheet
	}
	if t := models.TypeFromPath(p, models.TypeGeneric); t == models.TypeImage {
		return t
	}
	return models.TypeGeneric
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
