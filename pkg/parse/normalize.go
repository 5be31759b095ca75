package parse

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/Sriram-PR/harvest/pkg/utils"
)

// NormalizeURL produces the comparison key used for duplicate-URL suppression.
// It lowercases scheme and host, drops default ports and the fragment, turns
// an empty path into "/", trims a trailing slash and sorts query parameters.
// The query itself is kept: two pages differing only in query are distinct.
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	if host, port, err := net.SplitHostPort(normalized.Host); err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = strings.TrimRight(normalized.Path, "/")
		if normalized.Path == "" {
			normalized.Path = "/"
		}
	}
	normalized.RawPath = ""
	normalized.Fragment = ""
	normalized.RawFragment = ""

	if normalized.RawQuery != "" {
		normalized.RawQuery = sortedQuery(normalized.RawQuery)
	}

	return normalized.String()
}

// sortedQuery orders query pairs so that ?b=1&a=2 and ?a=2&b=1 compare equal.
// Pair order within a repeated key is preserved.
func sortedQuery(raw string) string {
	pairs := strings.Split(raw, "&")
	sort.SliceStable(pairs, func(i, j int) bool {
		ki, _, _ := strings.Cut(pairs[i], "=")
		kj, _, _ := strings.Cut(pairs[j], "=")
		return ki < kj
	})
	return strings.Join(pairs, "&")
}

// Resolve resolves ref against base and rejects anything that is not an
// absolute http(s) URL afterwards (mailto:, javascript:, data: ...).
func Resolve(base *url.URL, ref string) (*url.URL, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty URL reference", utils.ErrParsing)
	}
	parsedRef, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: URL reference %q: %w", utils.ErrParsing, ref, err)
	}
	var resolved *url.URL
	if base != nil {
		resolved = base.ResolveReference(parsedRef)
	} else {
		resolved = parsedRef
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", utils.ErrUnsupportedURL, resolved.String())
	}
	if resolved.Host == "" {
		return nil, fmt.Errorf("%w: URL %q has no host", utils.ErrParsing, resolved.String())
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved, nil
}

// ParseAndNormalize parses an absolute URL string (scheme required) and returns
// its normalized key together with the parsed URL.
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, fmt.Errorf("%w: URL %q: %w", utils.ErrParsing, urlStr, err)
	}
	if parsed.Host == "" {
		return "", nil, fmt.Errorf("%w: URL %q has no host", utils.ErrParsing, urlStr)
	}
	return NormalizeURL(parsed), parsed, nil
}
