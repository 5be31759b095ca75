package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	for _, cmd := range []string{"crawl", "resume", "validate", "version"} {
		assert.Contains(t, buf.String(), cmd)
	}
}

func TestDoValidate_Valid(t *testing.T) {
	cfgPath := writeConfig(t, `
project_name: docs
seed_url: https://example.com/docs/
num_crawlers: 2
num_fetchers: 4
`)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "OK: project 'docs'")
	assert.Contains(t, stdout.String(), "2 crawlers, 4 fetchers")
	assert.Contains(t, stdout.String(), "Configuration valid")
	assert.Empty(t, stderr.String())
}

func TestDoValidate_WarningsForDefaults(t *testing.T) {
	cfgPath := writeConfig(t, "seed_url: https://example.com/\n")

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "WARN: project_name is empty")
	assert.Contains(t, stdout.String(), "WARN: output_base_dir is empty")
}

func TestDoValidate_MissingSeed(t *testing.T) {
	cfgPath := writeConfig(t, "project_name: docs\n")

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "seed_url is required")
	assert.NotContains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_FileNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent/path/config.yaml", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "read config")
}

func TestDoValidate_InvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "{{invalid yaml")

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "parse config")
}

func TestSetupLogger_InvalidLevelFallsBack(t *testing.T) {
	log := setupLogger("verbose")
	assert.Equal(t, "info", log.GetLevel().String())

	log = setupLogger("debug")
	assert.Equal(t, "debug", log.GetLevel().String())
}

// crawlConfig returns a config that crawls seed with short polling intervals
func crawlConfig(t *testing.T, seed string) (cfgPath, outDir string) {
	t.Helper()
	dir := t.TempDir()
	outDir = filepath.Join(dir, "out")
	cfgPath = writeConfig(t, fmt.Sprintf(`
project_name: site
seed_url: %s
output_base_dir: %s
state_dir: %s
num_crawlers: 1
num_fetchers: 2
monitor_interval: 20ms
exit_confirmations: 3
project_timeout: 10s
queue:
  retry_timeout: 20ms
  max_retries: 2
`, seed, outDir, filepath.Join(dir, "state")))
	return cfgPath, outDir
}

func TestExecuteCrawl_Completes(t *testing.T) {
	pages := map[string]string{
		"/":       `<html><body><a href="/a.html">A</a><a href="/b.html">B</a></body></html>`,
		"/a.html": `<html><body><a href="/">home</a></body></html>`,
		"/b.html": `<html><body>b</body></html>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	cfgPath, outDir := crawlConfig(t, srv.URL+"/")
	exitCode := executeCrawl(crawlOptions{configFile: cfgPath, logLevel: "error"})
	require.Equal(t, 0, exitCode)

	mapping, err := os.ReadFile(filepath.Join(outDir, "site", "url_to_file_map.tsv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(mapping)), "\n")
	assert.Len(t, lines, 3)
	assert.FileExists(t, filepath.Join(outDir, "site", "crawl_metadata.yaml"))
}

func TestExecuteCrawl_ResumeWithoutSession(t *testing.T) {
	cfgPath, _ := crawlConfig(t, "http://127.0.0.1:1/")
	exitCode := executeCrawl(crawlOptions{configFile: cfgPath, logLevel: "error", resume: true})
	assert.Equal(t, 1, exitCode)
}

func TestExecuteCrawl_BadConfig(t *testing.T) {
	cfgPath := writeConfig(t, "project_name: nothing-to-crawl\n")
	exitCode := executeCrawl(crawlOptions{configFile: cfgPath, logLevel: "error"})
	assert.Equal(t, 1, exitCode)
}
