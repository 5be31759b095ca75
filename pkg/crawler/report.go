package crawler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/harvest/pkg/models"
)

const (
	mappingFilename  = "url_to_file_map.tsv"
	metadataFilename = "crawl_metadata.yaml"
)

// Metadata assembles the end-of-crawl statistics
func (c *Coordinator) Metadata() models.CrawlMetadata {
	bytes, byType := c.ledger.Stats()
	counters := c.Counters()
	return models.CrawlMetadata{
		SessionID:      c.runID,
		ProjectName:    c.cfg.ProjectName,
		SeedURL:        c.seedURL,
		CrawlStartTime: c.startTime,
		CrawlEndTime:   c.endTime,
		ExitReason:     c.ExitReason(),
		URLsRegistered: c.registry.Len(),
		FilesSaved:     c.ledger.SavedCount(),
		FilesFailed:    len(c.ledger.Failed()),
		FilesDeleted:   len(c.ledger.Deleted()),
		BytesSaved:     bytes,
		Regenerations:  counters.Regenerations,
		Recoveries:     counters.Recoveries,
		ByType:         byType,
	}
}

// WriteReport writes the URL-to-file mapping and the crawl metadata into
// the output root.
func (c *Coordinator) WriteReport() error {
	root := c.writer.Root()
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create output directory '%s': %w", root, err)
	}

	var sb strings.Builder
	for _, f := range c.ledger.Saved() {
		rel, err := filepath.Rel(root, f.Path)
		if err != nil {
			rel = f.Path
		}
		fmt.Fprintf(&sb, "%s\t%s\n", f.URL, filepath.ToSlash(rel))
	}
	mappingPath := filepath.Join(root, mappingFilename)
	if err := os.WriteFile(mappingPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("write TSV mapping file '%s': %w", mappingPath, err)
	}

	meta := c.Metadata()
	yamlData, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("marshal crawl metadata to YAML: %w", err)
	}
	metaPath := filepath.Join(root, metadataFilename)
	if err := os.WriteFile(metaPath, yamlData, 0644); err != nil {
		return fmt.Errorf("write metadata YAML file '%s': %w", metaPath, err)
	}

	c.log.Infof("Wrote crawl report (%d files) to %s", meta.FilesSaved, root)
	return nil
}
