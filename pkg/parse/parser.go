package parse

import (
	"net/url"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/models"
)

// Link is one typed child reference found in a document. URL is absolute
// when the parser could resolve it, otherwise as written in the source.
type Link struct {
	Type models.URLType
	URL  string
}

// Result is everything a parser extracts from one document.
type Result struct {
	Links    []Link
	NoFollow bool   // <meta name="robots" content="nofollow">: children must not be followed
	BaseHref string // Effective <base href>, if any
}

// Parser turns raw bytes into typed child links. Malformed input yields an
// error wrapping utils.ErrParsing; callers treat that as "no children".
type Parser interface {
	Parse(raw []byte, source models.URL) (*Result, error)
}

// ContentParser picks the right parser for a document by its type and path.
type ContentParser struct {
	html     *HTMLParser
	css      *CSSParser
	markdown *MarkdownParser
	log      *logrus.Entry
}

// NewContentParser creates the default dispatcher
func NewContentParser(log *logrus.Entry) *ContentParser {
	return &ContentParser{
		html:     NewHTMLParser(),
		css:      NewCSSParser(),
		markdown: NewMarkdownParser(),
		log:      log,
	}
}

// Parse implements Parser
func (p *ContentParser) Parse(raw []byte, source models.URL) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch kindOf(source) {
	case "css":
		res, err = p.css.Parse(raw, source)
	case "markdown":
		res, err = p.markdown.Parse(raw, source)
	default:
		res, err = p.html.Parse(raw, source)
	}
	if err != nil {
		p.log.WithFields(logrus.Fields{"url": source.URL, "index": source.Index}).Debugf("Parse failed: %v", err)
		return nil, err
	}
	return res, nil
}

func kindOf(source models.URL) string {
	if source.Type == models.TypeStylesheet {
		return "css"
	}
	urlPath := source.URL
	if u, err := url.Parse(source.URL); err == nil {
		urlPath = u.Path
	}
	switch strings.ToLower(path.Ext(urlPath)) {
	case ".css":
		return "css"
	case ".md", ".markdown":
		return "markdown"
	}
	return "html"
}

// resolveAgainst resolves ref against base, returning "" when it cannot be
// turned into a crawlable absolute URL.
func resolveAgainst(base *url.URL, ref string) string {
	resolved, err := Resolve(base, ref)
	if err != nil {
		return ""
	}
	return resolved.String()
}
