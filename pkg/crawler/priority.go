package crawler

import (
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/Sriram-PR/harvest/pkg/models"
)

// priorityWeights turns the configured extension and server tables into the
// child priority used by crawlers. Lower values are fetched first.
type priorityWeights struct {
	extensions map[string]int
	servers    []serverWeight // Sorted by key so the first match is stable
}

type serverWeight struct {
	key    string
	weight int
}

func newPriorityWeights(extensions, servers map[string]int) *priorityWeights {
	w := &priorityWeights{extensions: make(map[string]int, len(extensions))}
	for ext, v := range extensions {
		w.extensions[strings.ToLower(strings.TrimSpace(ext))] = v
	}
	for key, v := range servers {
		if key = strings.ToLower(strings.TrimSpace(key)); key != "" {
			w.servers = append(w.servers, serverWeight{key: key, weight: v})
		}
	}
	sort.Slice(w.servers, func(i, j int) bool { return w.servers[i].key < w.servers[j].key })
	return w
}

// childPriority computes a child's priority from its parent's generation.
// Webpages get a bonus of one and the weight tables subtract further.
func (w *priorityWeights) childPriority(parent, child models.URL) int {
	prio := parent.Generation
	if child.Type.IsWebpage() {
		prio--
	}

	parsed, err := url.Parse(child.URL)
	if err != nil {
		return prio
	}

	if ext := strings.ToLower(path.Ext(parsed.Path)); ext != "" {
		if v, ok := w.extensions[ext]; ok {
			prio -= v
		} else if v, ok := w.extensions[strings.TrimPrefix(ext, ".")]; ok {
			prio -= v
		}
	}

	host := strings.ToLower(parsed.Hostname())
	for _, s := range w.servers {
		if strings.Contains(host, s.key) {
			prio -= s.weight
			break
		}
	}
	return prio
}
