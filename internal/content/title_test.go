package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		fallback []string
		want     string
	}{
		{"bold heading", "# **Bold** Title", nil, "Bold Title"},
		{"filename fallback", "no heading here", []string{"my_file-name.md"}, "my file name"},
		{"empty", "", nil, UntitledNote},
		{"leading blank lines", "\n\n  # Trip Plan  \nbody", nil, "Trip Plan"},
		{"second level heading is not a title", "## Section\nbody", nil, UntitledNote},
		{"heading must be first line", "intro\n# Late", nil, UntitledNote},
		{"closing hashes", "# Weekly Sync ##", nil, "Weekly Sync"},
		{"inline html and link", "# <em>Road</em> [map](https://x.example)", nil, "Road map"},
		{"html heading", "<h1>Release <strong>Notes</strong></h1>", nil, "Release Notes"},
		{"heading empty after stripping", "# ** **", []string{"draft_notes.txt"}, "draft notes"},
		{"heading empty no fallback", "# __", nil, UntitledNote},
		{"fallback with directories", "text", []string{"vault/sub/daily-log_2024.md"}, "daily log 2024"},
		{"blank fallback", "text", []string{"  "}, UntitledNote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTitle(tt.content, tt.fallback...))
		})
	}
}
