package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Sriram-PR/harvest/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := AppConfig{SeedURL: "https://docs.example.com/start"}
	warnings, err := cfg.Validate()

	require.NoError(t, err)

	// Check defaults applied
	assert.Equal(t, "docs.example.com", cfg.ProjectName)
	assert.Equal(t, 2, cfg.NumCrawlers)
	assert.Equal(t, 3, cfg.NumFetchers)
	assert.Equal(t, 5, cfg.MaxConnections)
	assert.Equal(t, "./harvested", cfg.OutputBaseDir)
	assert.Equal(t, "./harvest_state", cfg.StateDir)
	assert.Equal(t, 10*time.Minute, cfg.DBGCInterval)
	assert.Equal(t, time.Second, cfg.MonitorInterval)
	assert.Equal(t, 3, cfg.ExitConfirmations)
	assert.Equal(t, 30*time.Minute, cfg.ProjectTimeout)
	assert.Equal(t, 5*time.Minute, cfg.FetcherTimeout)
	assert.Equal(t, 3, cfg.MaxRegenerations, "max_regenerations defaults to the fetcher count")

	// Queue discipline
	assert.Equal(t, 200*time.Millisecond, cfg.Queue.RetryTimeout)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, 4, cfg.Queue.CapacityFactor)
	assert.Equal(t, 20, cfg.QueueCapacity())

	// HTTP client defaults
	assert.Equal(t, 45*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, 100, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 5, cfg.HTTPClientSettings.MaxIdleConnsPerHost)
	assert.Equal(t, 10, cfg.HTTPClientSettings.MaxRedirects)

	// Tri-state rules
	assert.True(t, cfg.Rules.EffectiveRespectRobots())
	assert.True(t, cfg.Rules.EffectiveFetchImages())
	assert.True(t, cfg.Rules.EffectiveFetchStylesheets())
	assert.True(t, cfg.EffectiveRetryFailed())

	assert.True(t, containsWarning(warnings, "project_name is empty"))
	assert.True(t, containsWarning(warnings, "num_crawlers should be > 0"))
	assert.True(t, containsWarning(warnings, "num_fetchers should be > 0"))
	assert.True(t, containsWarning(warnings, "output_base_dir is empty"))
	assert.True(t, containsWarning(warnings, "state_dir is empty"))
}

func TestAppConfig_Validate_SeedRequired(t *testing.T) {
	tests := []struct {
		name string
		seed string
	}{
		{"empty", ""},
		{"unsupported scheme", "ftp://example.com/"},
		{"no host", "https:///path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{SeedURL: tt.seed}
			_, err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrConfigValidation))
		})
	}
}

func TestAppConfig_Validate_ValidConfig(t *testing.T) {
	cfg := AppConfig{
		ProjectName:      "docs",
		SeedURL:          "https://example.com/",
		OutputBaseDir:    "/output",
		StateDir:         "/state",
		NumCrawlers:      4,
		NumFetchers:      6,
		MaxConnections:   8,
		MaxRegenerations: 2,
		MaxRetries:       3,
		RetryDelay:       2 * time.Second,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 4, cfg.NumCrawlers)
	assert.Equal(t, 6, cfg.NumFetchers)
	assert.Equal(t, 2, cfg.MaxRegenerations)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 40, cfg.QueueCapacity())
}

func TestAppConfig_Validate_NegativeValues(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*AppConfig)
		wantWarning string
		check       func(*testing.T, *AppConfig)
	}{
		{
			name:        "negative max_retries",
			setup:       func(c *AppConfig) { c.MaxRetries = -1 },
			wantWarning: "max_retries cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 0, c.MaxRetries)
			},
		},
		{
			name:        "negative time_limit",
			setup:       func(c *AppConfig) { c.TimeLimit = -time.Second },
			wantWarning: "time_limit cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, time.Duration(0), c.TimeLimit)
			},
		},
		{
			name:        "negative max_files",
			setup:       func(c *AppConfig) { c.MaxFiles = -5 },
			wantWarning: "max_files cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 0, c.MaxFiles)
			},
		},
		{
			name:        "negative max_regenerations",
			setup:       func(c *AppConfig) { c.MaxRegenerations = -1 },
			wantWarning: "max_regenerations cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 0, c.MaxRegenerations)
			},
		},
		{
			name:        "negative max_depth",
			setup:       func(c *AppConfig) { c.Rules.MaxDepth = -2 },
			wantWarning: "rules.max_depth cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 0, c.Rules.MaxDepth)
			},
		},
		{
			name:        "negative max_file_size",
			setup:       func(c *AppConfig) { c.Download.MaxFileSize = -1 },
			wantWarning: "download.max_file_size cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, int64(0), c.Download.MaxFileSize)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{
				SeedURL:        "https://example.com/",
				ProjectName:    "p",
				NumCrawlers:    1,
				NumFetchers:    1,
				MaxConnections: 1,
				OutputBaseDir:  "/out",
				StateDir:       "/state",
			}
			tt.setup(&cfg)

			warnings, err := cfg.Validate()

			require.NoError(t, err)
			assert.True(t, containsWarning(warnings, tt.wantWarning),
				"expected warning containing %q, got %v", tt.wantWarning, warnings)
			tt.check(t, &cfg)
		})
	}
}

func TestAppConfig_Validate_InvalidRegex(t *testing.T) {
	cfg := AppConfig{SeedURL: "https://example.com/"}
	cfg.Rules.DisallowedPathPatterns = []string{"[unclosed"}

	_, err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disallowed_path_patterns")

	cfg = AppConfig{SeedURL: "https://example.com/"}
	cfg.Rules.WordFilter = []string{"(bad"}
	_, err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "word_filter")
}

func TestAppConfig_Validate_ExtensionNormalization(t *testing.T) {
	cfg := AppConfig{SeedURL: "https://example.com/"}
	cfg.Rules.ExcludedExtensions = []string{"ZIP", " .Exe ", ".iso"}

	_, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, []string{".zip", ".exe", ".iso"}, cfg.Rules.ExcludedExtensions)
}

func TestAppConfig_Validate_MultipartDefaults(t *testing.T) {
	cfg := AppConfig{SeedURL: "https://example.com/"}
	cfg.Download.Multipart = true

	_, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Download.NumParts)
	assert.Equal(t, int64(1<<20), cfg.Download.MultipartThreshold)
	assert.Equal(t, 5, cfg.Download.Threads)
}

// containsWarning checks if any warning contains the given substring
func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
