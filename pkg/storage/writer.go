package storage

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/harvest/pkg/models"
	"github.com/Sriram-PR/harvest/pkg/utils"
)

const indexFileName = "index.html"

// FileWriter mirrors fetched resources under a root directory, one
// subdirectory per host, following the URL path.
type FileWriter struct {
	root string
	log  *logrus.Entry
}

// NewFileWriter creates a writer rooted at root
func NewFileWriter(root string, log *logrus.Entry) *FileWriter {
	return &FileWriter{root: root, log: log.WithField("component", "writer")}
}

// Root returns the output directory
func (w *FileWriter) Root() string { return w.root }

// LocalPath maps a URL to its file path under the root. Directory-like
// URLs of webpage type get an index.html. A query string is folded into
// the file name as a short hash so distinct queries do not collide.
func (w *FileWriter) LocalPath(u models.URL) (string, error) {
	parsed, err := url.Parse(u.URL)
	if err != nil {
		return "", fmt.Errorf("%w: URL %q: %w", utils.ErrParsing, u.URL, err)
	}

	segments := utils.SanitizePath(parsed.Path)
	isDir := parsed.Path == "" || strings.HasSuffix(parsed.Path, "/")
	if !isDir && u.Type.IsWebpage() && path.Ext(parsed.Path) == "" {
		// "/docs/intro" served as a page becomes docs/intro/index.html
		isDir = true
	}
	if isDir || len(segments) == 0 {
		segments = append(segments, indexFileName)
	}

	if parsed.RawQuery != "" {
		last := segments[len(segments)-1]
		ext := path.Ext(last)
		base := strings.TrimSuffix(last, ext)
		segments[len(segments)-1] = base + "_" + utils.HashBytes([]byte(parsed.RawQuery))[:8] + ext
	}

	parts := append([]string{w.root, utils.SanitizeFilename(parsed.Host)}, segments...)
	return filepath.Join(parts...), nil
}

// CreateDirectory ensures dir exists
func (w *FileWriter) CreateDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating directory '%s': %w", utils.ErrFilesystem, dir, err)
	}
	return nil
}

// WriteFile stores data at the URL's local path and returns that path. The
// data goes to a temp file first and is renamed into place, so a reader
// never sees a partial file.
func (w *FileWriter) WriteFile(u models.URL, data []byte) (string, error) {
	localPath, err := w.LocalPath(u)
	if err != nil {
		return "", err
	}
	if err := w.CreateDirectory(filepath.Dir(localPath)); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".harvest-*")
	if err != nil {
		return "", fmt.Errorf("%w: creating temp file for '%s': %w", utils.ErrFilesystem, localPath, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, localPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: closing '%s' after write: %w", utils.ErrFilesystem, localPath, err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: moving file into place at '%s': %w", utils.ErrFilesystem, localPath, err)
	}

	w.log.WithFields(logrus.Fields{"url": u.URL, "path": localPath, "bytes": len(data)}).Debug("File saved")
	return localPath, nil
}

// Remove deletes a previously written file. A missing file is not an error.
func (w *FileWriter) Remove(localPath string) error {
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing '%s': %w", utils.ErrFilesystem, localPath, err)
	}
	return nil
}
