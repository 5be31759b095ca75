package parse

import (
	"fmt"
	"net/url"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

// MarkdownParser extracts links, images and autolinks from Markdown sources
// by walking the goldmark AST.
type MarkdownParser struct {
	md goldmark.Markdown
}

// NewMarkdownParser creates a MarkdownParser with the CommonMark defaults
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{md: goldmark.New()}
}

// Parse implements Parser
func (p *MarkdownParser) Parse(raw []byte, source models.URL) (*Result, error) {
	base, err := url.Parse(source.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: source URL %q: %w", utils.ErrParsing, source.URL, err)
	}

	doc := p.md.Parser().Parse(text.NewReader(raw))
	res := &Result{}
	seen := make(map[string]bool)
	add := func(typ models.URLType, ref string) {
		abs := resolveAgainst(base, ref)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		res.Links = append(res.Links, Link{Type: typ, URL: abs})
	}

	walkErr := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Link:
			add(models.TypeAnchor, string(node.Destination))
		case *ast.Image:
			add(models.TypeImage, string(node.Destination))
		case *ast.AutoLink:
			if node.AutoLinkType == ast.AutoLinkURL {
				add(models.TypeAnchor, string(node.URL(raw)))
			}
		}
		return ast.WalkContinue, nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("%w: markdown %s: %w", utils.ErrParsing, source.URL, walkErr)
	}
	return res, nil
}
