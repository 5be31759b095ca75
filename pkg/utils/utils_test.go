package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	if result := CategorizeError(nil); result != "None" {
		t.Errorf("CategorizeError(nil) = %q, want %q", result, "None")
	}
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"RobotsDisallowed", ErrRobotsDisallowed, "Policy_Robots"},
		{"ScopeViolation", ErrScopeViolation, "Policy_Scope"},
		{"MaxDepthExceeded", ErrMaxDepthExceeded, "Policy_MaxDepth"},
		{"UnsupportedURL", ErrUnsupportedURL, "Policy_UnsupportedScheme"},
		{"AuthRequired", ErrAuthRequired, "HTTP_AuthRequired"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"BodyTooLarge", ErrBodyTooLarge, "Resource_BodyTooLarge"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"ServerHTTPError", ErrServerHTTPError, "HTTP_5xx"},
		{"OtherHTTPError", ErrOtherHTTPError, "HTTP_OtherStatus"},
		{"Database", ErrDatabase, "Database_Other"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
		{"NotFound", ErrNotFound, "Lookup_NotFound"},
		{"WorkerFault", ErrWorkerFault, "Internal_WorkerFault"},
		{"LimitReached", ErrLimitReached, "Limit_Reached"},
		{"Stale", ErrStale, "Limit_Stale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := CategorizeError(tt.err); result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_RetryFailed(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"server", fmt.Errorf("%w: %w", ErrRetryFailed, fmt.Errorf("%w: status 503", ErrServerHTTPError)), "RetryFailed_HTTPServer"},
		{"timeout", fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("i/o timeout")), "RetryFailed_NetworkTimeout"},
		{"refused", fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("dial tcp: connection refused")), "RetryFailed_ConnectionRefused"},
		{"reset", fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("read: connection reset by peer")), "RetryFailed_ConnectionReset"},
		{"other", fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("weird")), "RetryFailed_NetworkOther"},
		{"bare", ErrRetryFailed, "RetryFailed_Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := CategorizeError(tt.err); result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ClientHTTPCodes(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{404, "HTTP_404"},
		{403, "HTTP_403"},
		{410, "HTTP_410"},
		{418, "HTTP_4xx"},
	}
	for _, tt := range tests {
		err := fmt.Errorf("%w: status %d", ErrClientHTTPError, tt.code)
		if result := CategorizeError(err); result != tt.expected {
			t.Errorf("CategorizeError(%d) = %q, want %q", tt.code, result, tt.expected)
		}
	}
}

func TestCategorizeError_Fallbacks(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Canceled", context.Canceled, "System_ContextCanceled"},
		{"Deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), "System_ContextDeadlineExceeded"},
		{"Refused", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), "Network_ConnectionRefused"},
		{"DNS", errors.New("lookup nope.invalid: no such host"), "Network_DNSLookup"},
		{"Reset", errors.New("read: connection reset by peer"), "Network_ConnectionReset"},
		{"Unknown", errors.New("something odd"), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := CategorizeError(tt.err); result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

// --- Sanitize Tests ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"index.html", "index.html"},
		{"a:b*c?d", "a_b_c_d"},
		{"__x__", "x"},
		{"", "untitled"},
		{"..", "untitled"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizePath(t *testing.T) {
	got := SanitizePath("/docs/../a b/./c:d/")
	want := []string{"docs", "a b", "c_d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SanitizePath() = %v, want %v", got, want)
	}
}

// --- Regex Tests ---

func TestCompileRegexPatterns(t *testing.T) {
	compiled, err := CompileRegexPatterns([]string{`\.pdf$`, "", `/private/`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(compiled) != 2 {
		t.Fatalf("len = %d, want 2", len(compiled))
	}
	if !MatchAny(compiled, "/files/a.pdf") {
		t.Error("expected match for pdf path")
	}
	if MatchAny(compiled, "/public/a.html") {
		t.Error("unexpected match for public html path")
	}
}

func TestCompileRegexPatterns_InvalidPattern(t *testing.T) {
	_, err := CompileRegexPatterns([]string{"("})
	if !errors.Is(err, ErrConfigValidation) {
		t.Errorf("err = %v, want ErrConfigValidation", err)
	}
}

// --- Hash Tests ---

func TestHashBytes(t *testing.T) {
	const emptySHA = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := HashBytes(nil); got != emptySHA {
		t.Errorf("HashBytes(nil) = %q, want %q", got, emptySHA)
	}
	if HashBytes([]byte("a")) == HashBytes([]byte("b")) {
		t.Error("different content produced identical hashes")
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error: %v", err)
	}
	if got != HashBytes([]byte("hello")) {
		t.Errorf("HashFile() = %q, want digest of file content", got)
	}

	_, err = HashFile(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrFilesystem) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("HashFile(missing) err = %v, want ErrFilesystem wrapping ErrNotExist", err)
	}
}

// --- WrapErrorf Tests ---

func TestWrapErrorf_NilError(t *testing.T) {
	if result := WrapErrorf(nil, "some context"); result != nil {
		t.Errorf("WrapErrorf(nil, ...) = %v, want nil", result)
	}
}

func TestWrapErrorf_WrapsError(t *testing.T) {
	original := errors.New("original error")
	wrapped := WrapErrorf(original, "context %s", "value")
	if !errors.Is(wrapped, original) {
		t.Error("WrapErrorf() result should wrap original error")
	}
	if expected := "context value: original error"; wrapped.Error() != expected {
		t.Errorf("WrapErrorf() message = %q, want %q", wrapped.Error(), expected)
	}
}
