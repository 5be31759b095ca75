package models

import (
	"path"
	"strings"
)

// URLType tags what kind of resource a URL points to. It drives routing:
// webpage-like types are parsed for children, the rest are only saved.
type URLType string

const (
	TypeGeneric    URLType = "generic"
	TypeWebpage    URLType = "webpage"
	TypeBase       URLType = "base"
	TypeAnchor     URLType = "anchor"
	TypeFrame      URLType = "frame"
	TypeImage      URLType = "image"
	TypeStylesheet URLType = "stylesheet"
	TypeJavascript URLType = "javascript"
	TypeApplet     URLType = "applet"
	TypeForm       URLType = "form"
	TypeFile       URLType = "file"
)

// String implements fmt.Stringer for logging
func (t URLType) String() string {
	if t == "" {
		return string(TypeGeneric)
	}
	return string(t)
}

// IsValid returns true for members of the closed tag set
func (t URLType) IsValid() bool {
	switch t {
	case TypeGeneric, TypeWebpage, TypeBase, TypeAnchor, TypeFrame, TypeImage,
		TypeStylesheet, TypeJavascript, TypeApplet, TypeForm, TypeFile:
		return true
	}
	return false
}

// IsWebpage reports whether content of this type is parsed for child links.
func (t URLType) IsWebpage() bool {
	switch t {
	case TypeWebpage, TypeBase, TypeAnchor, TypeFrame, TypeForm:
		return true
	}
	return false
}

var (
	webpageExtensions = map[string]bool{
		"": true, ".html": true, ".htm": true, ".shtml": true, ".xhtml": true,
		".php": true, ".asp": true, ".aspx": true, ".jsp": true, ".cgi": true,
	}
	imageExtensions = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
		".svg": true, ".webp": true, ".ico": true, ".tif": true, ".tiff": true,
	}
)

// TypeFromPath guesses a type from the extension of a URL path. Declared
// types coming from markup take precedence; this is the fallback for links
// whose tag carries no type information (anchors, CSS url()s).
func TypeFromPath(urlPath string, declared URLType) URLType {
	ext := strings.ToLower(path.Ext(urlPath))
	switch {
	case ext == ".css":
		return TypeStylesheet
	case ext == ".js":
		return TypeJavascript
	case imageExtensions[ext]:
		return TypeImage
	case ext == ".md" || ext == ".markdown":
		return TypeWebpage
	case webpageExtensions[ext]:
		if declared == "" || declared == TypeGeneric {
			return TypeWebpage
		}
		return declared
	}
	// Non-web extension under an anchor: a downloadable file, not a page
	if declared.IsWebpage() {
		return TypeFile
	}
	if declared == "" {
		return TypeGeneric
	}
	return declared
}

// DownloadState tracks a URL's fetch progress in the registry.
type DownloadState string

const (
	DownloadPending    DownloadState = ""            // Zero value = not yet attempted
	DownloadInProgress DownloadState = "downloading" // Claimed by a fetcher slot
	DownloadDone       DownloadState = "done"        // Completed (successfully or fatally)
	DownloadDelegated  DownloadState = "delegated"   // Handed to the background download pool
)

// String implements fmt.Stringer for logging
func (s DownloadState) String() string {
	if s == "" {
		return "pending"
	}
	return string(s)
}

// Role selects which queue a worker pops from, which it pushes to, and
// which per-item handler it runs.
type Role string

const (
	RoleCrawler Role = "crawler"
	RoleFetcher Role = "fetcher"
)

// String implements fmt.Stringer for logging
func (r Role) String() string { return string(r) }

// IsValid returns true if the role is known
func (r Role) IsValid() bool {
	return r == RoleCrawler || r == RoleFetcher
}

// WorkerStatus is the coarse liveness state the coordinator samples.
type WorkerStatus int32

const (
	StatusIdle   WorkerStatus = iota // Waiting for work
	StatusBusy                       // Processing an item
	StatusLocked                     // Pushing results to a queue
)

// String implements fmt.Stringer for logging
func (s WorkerStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusLocked:
		return "locked"
	}
	return "unknown"
}
