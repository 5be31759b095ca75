package parse

import (
	"errors"
	"net/url"
	"testing"

	"github.com/Sriram-PR/harvest/pkg/utils"
)

func TestNormalizeURL_NilInput(t *testing.T) {
	if result := NormalizeURL(nil); result != "" {
		t.Errorf("NormalizeURL(nil) = %q, want empty string", result)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"LowercaseSchemeHost", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"DefaultHTTPPort", "http://example.com:80/a", "http://example.com/a"},
		{"DefaultHTTPSPort", "https://example.com:443/a", "https://example.com/a"},
		{"NonDefaultPortKept", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"EmptyPath", "http://example.com", "http://example.com/"},
		{"TrailingSlash", "http://example.com/docs/", "http://example.com/docs"},
		{"FragmentDropped", "http://example.com/a#section", "http://example.com/a"},
		{"QueryKept", "http://example.com/a?page=2", "http://example.com/a?page=2"},
		{"QuerySorted", "http://example.com/a?b=1&a=2", "http://example.com/a?a=2&b=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := url.Parse(tt.input)
			if err != nil {
				t.Fatalf("url.Parse(%q): %v", tt.input, err)
			}
			if result := NormalizeURL(parsed); result != tt.expected {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizeURL_DoesNotMutateInput(t *testing.T) {
	parsed, _ := url.Parse("HTTP://EXAMPLE.com/x/#frag")
	_ = NormalizeURL(parsed)
	if parsed.Host != "EXAMPLE.com" || parsed.Fragment != "frag" {
		t.Errorf("input mutated: %+v", parsed)
	}
}

func TestResolve(t *testing.T) {
	base, _ := url.Parse("http://example.com/docs/index.html")

	tests := []struct {
		ref     string
		want    string
		wantErr error
	}{
		{"page.html", "http://example.com/docs/page.html", nil},
		{"../img/a.png", "http://example.com/img/a.png", nil},
		{"/abs", "http://example.com/abs", nil},
		{"https://other.org/x#top", "https://other.org/x", nil},
		{"mailto:someone@example.com", "", utils.ErrUnsupportedURL},
		{"javascript:void(0)", "", utils.ErrUnsupportedURL},
		{"   ", "", utils.ErrParsing},
	}
	for _, tt := range tests {
		got, err := Resolve(base, tt.ref)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve(%q) err = %v, want %v", tt.ref, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("Resolve(%q) unexpected error: %v", tt.ref, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got.String(), tt.want)
		}
	}
}

func TestParseAndNormalize(t *testing.T) {
	norm, parsed, err := ParseAndNormalize("http://Example.com/a/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if norm != "http://example.com/a" {
		t.Errorf("normalized = %q", norm)
	}
	if parsed.Host != "Example.com" {
		t.Errorf("parsed host = %q, want original casing", parsed.Host)
	}

	if _, _, err := ParseAndNormalize("not a url"); !errors.Is(err, utils.ErrParsing) {
		t.Errorf("err = %v, want ErrParsing", err)
	}
}
