package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sriram-PR/harvest/pkg/models"
)

func TestChildPriority(t *testing.T) {
	weights := newPriorityWeights(
		map[string]int{".pdf": 2, "PNG": 1},
		map[string]int{"docs.example.com": 3, "example.com": 1},
	)
	parent := models.URL{URL: "https://example.com/", Generation: 2}

	tests := []struct {
		name  string
		child models.URL
		want  int
	}{
		{
			name:  "webpage gets a bonus",
			child: models.URL{URL: "https://other.org/page.html", Type: models.TypeWebpage},
			want:  1,
		},
		{
			name:  "non-webpage keeps parent generation",
			child: models.URL{URL: "https://other.org/app.js", Type: models.TypeJavascript},
			want:  2,
		},
		{
			name:  "extension weight with dot",
			child: models.URL{URL: "https://other.org/manual.PDF", Type: models.TypeFile},
			want:  0,
		},
		{
			name:  "extension weight without dot, case folded",
			child: models.URL{URL: "https://other.org/logo.png", Type: models.TypeImage},
			want:  1,
		},
		{
			name:  "first sorted server key wins",
			child: models.URL{URL: "https://docs.example.com/guide", Type: models.TypeAnchor},
			want:  -2,
		},
		{
			name:  "server and extension stack",
			child: models.URL{URL: "https://www.example.com/manual.pdf", Type: models.TypeFile},
			want:  -1,
		},
		{
			name:  "unparseable URL gets only the type bonus",
			child: models.URL{URL: "http://[::1", Type: models.TypeWebpage},
			want:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, weights.childPriority(parent, tt.child))
		})
	}
}

func TestChildPriority_NoTables(t *testing.T) {
	weights := newPriorityWeights(nil, nil)
	parent := models.URL{Generation: 0}
	assert.Equal(t, -1, weights.childPriority(parent, models.URL{URL: "https://a.com/", Type: models.TypeWebpage}))
	assert.Equal(t, 0, weights.childPriority(parent, models.URL{URL: "https://a.com/x.css", Type: models.TypeStylesheet}))
}
